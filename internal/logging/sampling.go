package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newSampledCore samples entries below Error; errors always pass through
// unsampled.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}
	errs := &levelGateCore{Core: core, allow: func(l zapcore.Level) bool { return l >= zapcore.ErrorLevel }}
	rest := &levelGateCore{Core: core, allow: func(l zapcore.Level) bool { return l < zapcore.ErrorLevel }}
	return zapcore.NewTee(errs, zapcore.NewSamplerWithOptions(rest, cfg.Tick.Duration(), cfg.Initial, cfg.Thereafter))
}

// levelGateCore passes only the levels allow accepts to the wrapped core.
type levelGateCore struct {
	zapcore.Core
	allow zap.LevelEnablerFunc
}

func (c *levelGateCore) Enabled(l zapcore.Level) bool {
	return c.allow(l) && c.Core.Enabled(l)
}

func (c *levelGateCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *levelGateCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelGateCore{Core: c.Core.With(fields), allow: c.allow}
}
