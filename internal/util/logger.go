// Package util provides helper functions for logging events
package util

import (
	"fmt"
	"log"
	"time"
)

// Debug controls whether Debugf output is emitted. Set once at startup from config.
var Debug bool

// SetupLogger configures the standard logger used across the broker.
func SetupLogger() {
	log.SetFlags(0)
}

// Info prints general system information messages with timestamp.
func Info(msg string, args ...any) {
	log.Printf("[INFO] %s | %s", time.Now().Format(time.RFC3339), fmt.Sprintf(msg, args...))
}

// Warn prints warning messages with timestamp.
func Warn(msg string, args ...any) {
	log.Printf("[WARN] %s | %s", time.Now().Format(time.RFC3339), fmt.Sprintf(msg, args...))
}

// Error prints error messages with timestamp.
func Error(msg string, args ...any) {
	log.Printf("[ERROR] %s | %s", time.Now().Format(time.RFC3339), fmt.Sprintf(msg, args...))
}

// Debugf prints verbose diagnostics when debug logging is enabled.
func Debugf(msg string, args ...any) {
	if !Debug {
		return
	}
	log.Printf("[DEBUG] %s | %s", time.Now().Format(time.RFC3339), fmt.Sprintf(msg, args...))
}
