// Package log defines the logging surface used across flowgrid and its
// default implementation on top of kataras/golog.
package log

import (
	"fmt"

	"github.com/kataras/golog"
)

// Logger is the leveled logging interface the engine writes through.
// Fields come in key/value pairs appended to the message.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)

	// With returns a logger that prefixes every line with the given
	// key/value context.
	With(kv ...any) Logger
}

// golodLogger adapts a golog instance.
type gologLogger struct {
	l      *golog.Logger
	prefix string
}

// New returns a Logger over the default golog instance at the given level
// ("debug", "info", "warn", "error").
func New(level string) Logger {
	l := golog.New()
	l.SetLevel(level)
	return &gologLogger{l: l}
}

// Wrap adapts an existing golog logger.
func Wrap(l *golog.Logger) Logger {
	return &gologLogger{l: l}
}

func (g *gologLogger) Debugf(format string, args ...any) {
	g.l.Debugf(g.prefix+format, args...)
}

func (g *gologLogger) Infof(format string, args ...any) {
	g.l.Infof(g.prefix+format, args...)
}

func (g *gologLogger) Warnf(format string, args ...any) {
	g.l.Warnf(g.prefix+format, args...)
}

func (g *gologLogger) Errorf(format string, args ...any) {
	g.l.Errorf(g.prefix+format, args...)
}

func (g *gologLogger) With(kv ...any) Logger {
	prefix := g.prefix
	for i := 0; i+1 < len(kv); i += 2 {
		prefix += fmt.Sprintf("%v=%v ", kv[i], kv[i+1])
	}
	return &gologLogger{l: g.l, prefix: prefix}
}

// nopLogger discards everything.
type nopLogger struct{}

// Nop returns a logger that discards all output.
func Nop() Logger { return nopLogger{} }

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}
func (n nopLogger) With(...any) Logger  { return n }
