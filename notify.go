package main

import "log"

// Notifier surfaces progress to a human operator. Implementations are
// fire-and-forget: they must never block and never fail the pipeline.
type Notifier interface {
	Notify(message, title string, seconds int)
}

// LogNotifier prints notifications to the process log.
type LogNotifier struct{}

func (LogNotifier) Notify(message, title string, seconds int) {
	log.Printf("[%s] %s", title, message)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(string, string, int) {}

var debugEnabled bool

// SetDebugMode enables or disables debug logging
func SetDebugMode(enabled bool) {
	debugEnabled = enabled
}

func debugLog(format string, args ...interface{}) {
	if debugEnabled {
		log.Printf("[DEBUG] "+format, args...)
	}
}
