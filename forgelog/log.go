// Package forgelog provides the module's structured loggers.
//
// Every package in this module obtains its logger through Get, the same
// way the teacher library centralizes logger construction behind
// logging.GetLogger(name) - a single place to set the global level, sink,
// and field set for every component.
package forgelog

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu      sync.RWMutex
	base    = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	loggers = make(map[string]zerolog.Logger)
)

// Get returns the logger for component, creating and caching it on first use.
func Get(component string) zerolog.Logger {
	mu.RLock()
	if l, ok := loggers[component]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[component]; ok {
		return l
	}
	l := base.With().Str("component", component).Logger()
	loggers[component] = l
	return l
}

// SetLevel adjusts the verbosity of every logger returned by Get, including
// ones already handed out, since zerolog.Logger carries the global level.
func SetLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

// SetOutput clears the logger cache so every later Get writes to w. Loggers
// already returned by Get keep writing to their previous output. Intended
// for tests that want to assert on emitted log lines.
func SetOutput(w zerolog.ConsoleWriter) {
	mu.Lock()
	defer mu.Unlock()
	base = zerolog.New(w).With().Timestamp().Logger()
	loggers = make(map[string]zerolog.Logger)
}
