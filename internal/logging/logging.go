// Package logging builds the component loggers.
//
// Every component logs through a *log.Logger with a "[component] " prefix.
// Output goes to stderr and, when a log file is configured, to a rotating
// file as well.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures log output.
type Options struct {
	File       string // rotating log file (empty = stderr only)
	MaxSizeMB  int    // rotate after this many megabytes
	MaxBackups int    // rotated files to keep
	MaxAgeDays int    // days to keep rotated files
	Quiet      bool   // drop stderr output, keep the file
}

// Logs owns the shared output of every component logger.
type Logs struct {
	out    io.Writer
	rotate *lumberjack.Logger
}

// New opens the log output described by opts.
func New(opts Options) *Logs {
	var writers []io.Writer
	if !opts.Quiet {
		writers = append(writers, os.Stderr)
	}

	l := &Logs{}
	if opts.File != "" {
		l.rotate = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		writers = append(writers, l.rotate)
	}

	switch len(writers) {
	case 0:
		l.out = io.Discard
	case 1:
		l.out = writers[0]
	default:
		l.out = io.MultiWriter(writers...)
	}
	return l
}

// Writer returns the shared output.
func (l *Logs) Writer() io.Writer {
	return l.out
}

// For returns a logger for one component, e.g. For("sync") logs with a
// "[sync] " prefix.
func (l *Logs) For(component string) *log.Logger {
	return log.New(l.out, "["+component+"] ", log.LstdFlags)
}

// Close flushes and closes the log file, if any.
func (l *Logs) Close() error {
	if l.rotate == nil {
		return nil
	}
	return l.rotate.Close()
}
