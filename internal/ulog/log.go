// Package ulog provides a component-gated debug logger plus thin
// Infof/Warnf/Errorf helpers over the standard log package.
package ulog

import "log"

var (
	debugEnabledFor_ = make(map[string]bool)
)

// Debug manages debug-output state for one named component (e.g.
// "usftp.conn", "usftp.xfer").
type Debug struct {
	Enabled   bool
	component string
	prefix    string
}

// NewDebug constructs a Debug gate for component, picking up whatever
// enablement was set via SetDebugEnabledFor before this call.
func NewDebug(component string) *Debug {
	return &Debug{
		Enabled:   debugEnabledFor_[component],
		component: component,
		prefix:    "DEBUG: " + component + ": ",
	}
}

// Debugf writes a debug line if this component is enabled.
func (d *Debug) Debugf(format string, args ...interface{}) {
	if !d.Enabled {
		return
	}
	if len(args) == 0 {
		log.Print(d.prefix + format)
	} else {
		log.Printf(d.prefix+format, args...)
	}
}

// SetDebugEnabledFor turns on debug output for component. Meant to be
// called during program setup, before any Debug gates are constructed.
func SetDebugEnabledFor(component string) {
	debugEnabledFor_[component] = true
}

// SetDebugDisabledFor turns off debug output for component.
func SetDebugDisabledFor(component string) {
	debugEnabledFor_[component] = false
}

// Logger is the minimal logging surface usftp depends on. *log.Logger
// satisfies it; so does any adapter a caller wants to supply.
type Logger interface {
	Printf(format string, args ...interface{})
}

// discard is the default Logger: silent.
type discard struct{}

func (discard) Printf(string, ...interface{}) {}

// Discard is a Logger that drops everything.
var Discard Logger = discard{}

// Infof writes an informational line to l, tolerating a nil Logger.
func Infof(l Logger, format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.Printf("INFO: "+format, args...)
}

// Warnf writes a warning line to l, tolerating a nil Logger.
func Warnf(l Logger, format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.Printf("WARN: "+format, args...)
}

// Errorf writes an error line to l, tolerating a nil Logger.
func Errorf(l Logger, format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.Printf("ERROR: "+format, args...)
}
