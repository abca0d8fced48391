package config

import (
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// NewLogger builds the process logger from the log_level, log_to and
// json_log_format settings. With no log file the logger writes to stderr,
// keeping stdout for command output.
func (c *Config) NewLogger(name string) (hclog.Logger, io.Closer, error) {
	level := hclog.LevelFromString(c.LogLevel)
	if level == hclog.NoLevel {
		return nil, nil, fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	var (
		output io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)

	if c.LogFilePath != "" {
		f, err := os.OpenFile(c.LogFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, nil, fmt.Errorf("could not create log file, %w", err)
		}

		output, closer = f, f
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      level,
		Output:     output,
		JSONFormat: c.JSONLogFormat,
	}), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
