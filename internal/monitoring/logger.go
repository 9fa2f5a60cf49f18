// Package monitoring holds the process-wide diagnostic log hooks used by the
// simulation packages. Library code logs through Logf/Debugf; the command
// decides where those lines end up.
package monitoring

import (
	"log"

	"go.uber.org/zap"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// Debugf receives per-tick chatter. It is a no-op until a debug sink is
// installed with SetDebugLogger or UseZap.
var Debugf func(format string, v ...interface{}) = func(string, ...interface{}) {}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetDebugLogger replaces the debug logger. Passing nil mutes it.
func SetDebugLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Debugf = func(string, ...interface{}) {}
		return
	}
	Debugf = f
}

// UseZap routes both hooks through a zap logger: Logf at info level and
// Debugf at debug level. The returned func restores the previous hooks.
func UseZap(l *zap.Logger) (restore func()) {
	prevLog, prevDebug := Logf, Debugf
	sugar := l.Sugar()
	Logf = sugar.Infof
	Debugf = sugar.Debugf
	return func() {
		Logf, Debugf = prevLog, prevDebug
	}
}
