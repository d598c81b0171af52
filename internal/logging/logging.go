// Package logging builds the process logger: stderr by default, a
// size-rotated file when one is configured.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the log destination and rotation policy.
type Options struct {
	File       string // empty means stderr
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New returns the logger and a closer for its sink. The closer is a no-op
// for stderr.
func New(opts Options) (*log.Logger, io.Closer) {
	flags := log.LstdFlags | log.Lmicroseconds

	if opts.File == "" {
		return log.New(os.Stderr, "", flags), nopCloser{}
	}

	sink := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	return log.New(sink, "", flags), sink
}
