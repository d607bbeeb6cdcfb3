// Package logging sets up process-wide log output: stderr, plus an optional
// size-rotated log file.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the log file. An empty File logs to stderr only.
type Options struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Quiet drops stderr output; the file, if any, still receives everything.
	Quiet bool
}

// Output is the configured log destination.
type Output struct {
	io.Writer
	file *lumberjack.Logger
}

// Setup builds the output for opts and installs it as the standard logger's
// writer. Call Close on exit to release the log file.
func Setup(opts Options) *Output {
	var writers []io.Writer
	if !opts.Quiet {
		writers = append(writers, os.Stderr)
	}

	out := &Output{}
	if opts.File != "" {
		out.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		writers = append(writers, out.file)
	}

	switch len(writers) {
	case 0:
		out.Writer = io.Discard
	case 1:
		out.Writer = writers[0]
	default:
		out.Writer = io.MultiWriter(writers...)
	}

	log.SetOutput(out.Writer)
	return out
}

// Logger returns a logger with the given bracketed prefix, e.g. "sync"
// becomes "[sync] ".
func (o *Output) Logger(component string) *log.Logger {
	return log.New(o.Writer, "["+component+"] ", log.LstdFlags)
}

// Close closes the log file, if any.
func (o *Output) Close() error {
	if o.file == nil {
		return nil
	}
	return o.file.Close()
}
