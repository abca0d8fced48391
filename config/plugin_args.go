package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/mapstructure"

	"github.com/tracertl/tracertl/tracer"
)

var (
	ErrInvalidOption = errors.New("invalid option")
)

// ParsePluginArgs applies emulator plugin options of the form key=value to
// config. Options are applied one at a time: an unknown key or a value that
// does not decode is reported and skipped, keeping the previous value.
// A budget that is not positive is reported and replaced by the default.
//
// The returned error lists every rejected option; config is usable either way.
func ParsePluginArgs(args []string, config *Config, logger hclog.Logger) error {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	var result error

	reject := func(err error) {
		logger.Warn("ignoring plugin option", "err", err)
		result = multierror.Append(result, err)
	}

	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			reject(fmt.Errorf("%w: %q", ErrInvalidOption, arg))

			continue
		}

		if err := decodeOption(key, value, config); err != nil {
			reject(fmt.Errorf("%w: %s: %v", ErrInvalidOption, arg, err))
		}
	}

	if config.MaxInstructions <= 0 {
		reject(fmt.Errorf("%w: traceinst must be positive, using %d", ErrInvalidOption, tracer.DefaultMaxInstructions))

		config.MaxInstructions = tracer.DefaultMaxInstructions
	}

	return result
}

func decodeOption(key, value string, config *Config) error {
	// decode into a copy so a failed option leaves config untouched
	decoded := *config

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       switchHook,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           &decoded,
	})
	if err != nil {
		return err
	}

	if err := decoder.Decode(map[string]interface{}{key: value}); err != nil {
		return err
	}

	*config = decoded

	return nil
}

// switchHook accepts on/off and yes/no for boolean options
func switchHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Bool {
		return data, nil
	}

	switch strings.ToLower(data.(string)) {
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	default:
		return data, nil
	}
}
