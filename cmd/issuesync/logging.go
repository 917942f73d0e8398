package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mschirtzinger/issuesync/internal/config"
)

var (
	// logWriter receives component logs: stderr, teed into logFile when set.
	logWriter io.Writer = os.Stderr
	logFile   *lumberjack.Logger
	verbose   = true
)

// setupLogging points component loggers at stderr and the optional rotating
// log file. Levels above info silence progress logs; command output and
// errors are still printed.
func setupLogging(c *config.Config) error {
	verbose = c.Verbose()

	if c.Log.File == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.Log.File), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	logFile = &lumberjack.Logger{
		Filename:   c.Log.File,
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
	logWriter = io.MultiWriter(os.Stderr, logFile)
	return nil
}

// newLogger returns a logger with the bracketed component prefix.
func newLogger(component string) *log.Logger {
	out := logWriter
	if !verbose {
		out = io.Discard
	}
	return log.New(out, "["+component+"] ", log.LstdFlags)
}

func closeLogs() {
	if logFile != nil {
		_ = logFile.Close()
	}
}
