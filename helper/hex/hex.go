package hex

import (
	"strconv"
	"strings"
)

// EncodeUint64 encodes a number as a hex string with 0x prefix.
func EncodeUint64(i uint64) string {
	enc := make([]byte, 2, 18)
	copy(enc, "0x")

	return string(strconv.AppendUint(enc, i, 16))
}

// DecodeUint64 decodes a hex string, with or without the 0x prefix, to uint64
func DecodeUint64(hexStr string) (uint64, error) {
	cleaned := strings.TrimPrefix(strings.TrimPrefix(hexStr, "0x"), "0X")

	return strconv.ParseUint(cleaned, 16, 64)
}
