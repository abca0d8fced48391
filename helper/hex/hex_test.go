package hex

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDecodeUint64 verifies that uint64 values
// are properly decoded from hex
func TestDecodeUint64(t *testing.T) {
	t.Parallel()

	uint64Array := []uint64{
		0,
		1,
		11,
		67312,
		0x400000,
		^uint64(0), // max uint64
	}

	for _, value := range uint64Array {
		encoded := EncodeUint64(value)
		assert.Equal(t, fmt.Sprintf("0x%x", value), encoded)

		decodedValue, err := DecodeUint64(encoded)
		require.NoError(t, err)
		assert.Equal(t, value, decodedValue)

		decodedValue, err = DecodeUint64(fmt.Sprintf("%X", value))
		require.NoError(t, err)
		assert.Equal(t, value, decodedValue)
	}

	_, err := DecodeUint64("0xnothex")
	assert.Error(t, err)
}
