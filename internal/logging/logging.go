package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jrick/logrotate/rotator"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
)

const (
	// rotateKB is the size at which the log file is rolled.
	rotateKB = 1024

	diodeSize     = 1000
	diodeInterval = 10 * time.Millisecond
)

// Options control where and how much the logger writes.
type Options struct {
	Level       string // zerolog level name, defaults to info
	File        string // empty disables the file sink
	MaxLogFiles int
	Console     io.Writer // defaults to stdout
}

// writerOnly hides any Close method so the sinks are closed once, by Logger.
type writerOnly struct {
	io.Writer
}

// Logger is a zerolog logger bundled with the sinks it owns.
type Logger struct {
	zerolog.Logger
	closers []io.Closer
}

// Close flushes pending entries and closes the log file.
func (l *Logger) Close() error {
	var first error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.closers = nil
	return first
}

// New creates a new zerolog logger with console and file output. Entries
// pass through a bounded non-blocking buffer so capture callbacks never wait
// on log I/O.
func New(opts Options) (*Logger, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		l, err := zerolog.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = l
	}

	console := opts.Console
	if console == nil {
		console = os.Stdout
	}
	writers := []io.Writer{zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339}}

	var closers []io.Closer
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		r, err := rotator.New(opts.File, rotateKB, false, opts.MaxLogFiles)
		if err != nil {
			return nil, fmt.Errorf("failed to create file rotator: %w", err)
		}
		writers = append(writers, r)
		closers = append(closers, r)
	}

	sinks := writerOnly{zerolog.MultiLevelWriter(writers...)}
	d := diode.NewWriter(sinks, diodeSize, diodeInterval, func(missed int) {
		fmt.Fprintf(os.Stderr, "logger dropped %d messages\n", missed)
	})
	// The diode must flush before the rotator closes.
	closers = append([]io.Closer{d}, closers...)

	zl := zerolog.New(d).Level(level).With().Timestamp().Logger()
	return &Logger{Logger: zl, closers: closers}, nil
}
