// Package logging provides the structured logger used across the store
// adapter, registration engine, and watch packages.
package logging

import (
	"go.uber.org/zap"
)

// Logger is the minimal structured-logging surface this library depends on.
// It is satisfied by *Zap and by NoOp, so tests can run without a real zap
// core attached.
type Logger interface {
	Debugw(msg string, keysAndValues ...any)
	Infow(msg string, keysAndValues ...any)
	Warnw(msg string, keysAndValues ...any)
	Errorw(msg string, keysAndValues ...any)
	With(keysAndValues ...any) Logger
}

// Zap wraps a *zap.SugaredLogger to satisfy Logger.
type Zap struct {
	sugar *zap.SugaredLogger
}

// NewZap builds a production zap logger (JSON encoding, info level).
func NewZap() (*Zap, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return &Zap{sugar: l.Sugar()}, nil
}

// NewZapFrom wraps an already-constructed zap logger, e.g. one built by the
// embedding application with its own encoder/level configuration.
func NewZapFrom(l *zap.Logger) *Zap {
	return &Zap{sugar: l.Sugar()}
}

func (z *Zap) Debugw(msg string, kv ...any) { z.sugar.Debugw(msg, kv...) }
func (z *Zap) Infow(msg string, kv ...any)  { z.sugar.Infow(msg, kv...) }
func (z *Zap) Warnw(msg string, kv ...any)  { z.sugar.Warnw(msg, kv...) }
func (z *Zap) Errorw(msg string, kv ...any) { z.sugar.Errorw(msg, kv...) }
func (z *Zap) With(kv ...any) Logger        { return &Zap{sugar: z.sugar.With(kv...)} }

// NoOp discards every log call. Used as the default when a caller does not
// supply a Logger, and in tests that don't want log noise.
type NoOp struct{}

func (NoOp) Debugw(string, ...any) {}
func (NoOp) Infow(string, ...any)  {}
func (NoOp) Warnw(string, ...any)  {}
func (NoOp) Errorw(string, ...any) {}
func (NoOp) With(...any) Logger    { return NoOp{} }
