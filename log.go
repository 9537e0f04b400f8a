package cfa

import (
	"io"
	"log"
	"os"
	"sync"
)

var (
	logMu sync.RWMutex
	// Logger receives warnings about uneven chunking, active reduction
	// fallbacks and failed location candidates
	Logger = log.New(os.Stderr, "cfa: ", log.LstdFlags)
)

// SetLogger replaces the package logger. A nil logger discards output.
func SetLogger(l *log.Logger) {
	if l == nil {
		l = log.New(io.Discard, "", 0)
	}
	logMu.Lock()
	Logger = l
	logMu.Unlock()
}

func logf(format string, args ...interface{}) {
	logMu.RLock()
	l := Logger
	logMu.RUnlock()
	l.Printf(format, args...)
}
