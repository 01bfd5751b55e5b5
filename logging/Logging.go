// Package logging builds the structured loggers used throughout
// training. Loggers write to stderr by default, since the stdout of a
// subprocess worker carries IPC frames.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Level is the minimum severity of logged records
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// UnmarshalText implements the encoding.TextUnmarshaler interface
func (l *Level) UnmarshalText(text []byte) error {
	level, err := ParseLevel(string(text))
	if err != nil {
		return fmt.Errorf("unmarshalText: %v", err)
	}
	*l = level
	return nil
}

// MarshalText implements the encoding.TextMarshaler interface
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// ParseLevel parses a level name, ignoring case
func ParseLevel(name string) (Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return 0, fmt.Errorf("parseLevel: unknown level %q", name)
	}
}

func (l Level) slog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config describes a logger. The zero Config logs info records as text
// to stderr.
type Config struct {
	Level Level `yaml:"level"`
	JSON  bool  `yaml:"json"`

	// Service is attached to every record when not empty
	Service string `yaml:"service"`

	// Output defaults to stderr
	Output io.Writer `yaml:"-"`
}

// New returns the logger described by c
func New(c Config) *slog.Logger {
	out := c.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: c.Level.slog()}

	var handler slog.Handler
	if c.JSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler)
	if c.Service != "" {
		logger = logger.With(slog.String("service", c.Service))
	}
	return logger
}
