// Package logging builds the charmbracelet logger shared by every component.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// Options selects the level and output format of a logger.
type Options struct {
	Level  string
	Format string
	Output io.Writer
}

// New creates a logger writing to stderr unless opts.Output is set.
// Level defaults to info and Format to text.
func New(opts Options) (*log.Logger, error) {
	level := log.InfoLevel
	if opts.Level != "" {
		parsed, err := log.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	formatter, err := ParseFormat(opts.Format)
	if err != nil {
		return nil, err
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	return log.NewWithOptions(out, log.Options{
		ReportTimestamp: true,
		Level:           level,
		Formatter:       formatter,
	}), nil
}

// ParseFormat maps a format name to a formatter.
func ParseFormat(format string) (log.Formatter, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return log.TextFormatter, nil
	case "json":
		return log.JSONFormatter, nil
	case "logfmt":
		return log.LogfmtFormatter, nil
	default:
		return log.TextFormatter, fmt.Errorf("invalid log format %q", format)
	}
}

// Discard returns a logger that drops everything. Used when no logger is injected.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
}

// Component derives a child logger tagged with the component name.
func Component(logger *log.Logger, name string) *log.Logger {
	if logger == nil {
		logger = Discard()
	}
	return logger.With("component", name)
}
