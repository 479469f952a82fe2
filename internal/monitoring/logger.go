// Package monitoring holds the process-wide diagnostic logger.
//
// Every package logs through Logf so that tests and the daemon can redirect or
// mute output in one place. The level helpers prefix a severity tag; severity
// is informational only and does not filter anything.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Debugf logs verbose frame-level detail.
func Debugf(format string, v ...interface{}) { Logf("[debug] "+format, v...) }

// Infof logs normal lifecycle events.
func Infof(format string, v ...interface{}) { Logf("[info] "+format, v...) }

// Warnf logs recoverable faults such as dropped connections.
func Warnf(format string, v ...interface{}) { Logf("[warn] "+format, v...) }

// Errorf logs failures that were handled but lost data, e.g. a dropped frame.
func Errorf(format string, v ...interface{}) { Logf("[error] "+format, v...) }

// Criticalf logs faults that stopped a component and need an operator.
func Criticalf(format string, v ...interface{}) { Logf("[critical] "+format, v...) }
