package gateway

import (
	"io"
	"log"
	"os"
)

// Package loggers. debugLog is discarded unless debug logging is enabled;
// errorLog always writes.
var (
	debugLog = log.New(io.Discard, "DEBUG: ", log.Ldate|log.Ltime|log.Lmicroseconds)
	errorLog = log.New(os.Stderr, "ERROR: ", log.Ldate|log.Ltime|log.Lmicroseconds)
)

// EnableDebugLogging turns on verbose per-frame logging.
func (g *Gateway) EnableDebugLogging() {
	debugLog = log.New(os.Stderr, "DEBUG: ", log.Ldate|log.Ltime|log.Lmicroseconds)
}
