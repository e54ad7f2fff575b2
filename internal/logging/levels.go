package logging

import "go.uber.org/zap/zapcore"

// TraceLevel is one step below Debug. Rendered stage instructions are
// logged here.
const TraceLevel = zapcore.DebugLevel - 1

// LevelFromString parses a zap level name. "trace" maps to TraceLevel.
func LevelFromString(name string) (zapcore.Level, error) {
	if name == "trace" {
		return TraceLevel, nil
	}
	return zapcore.ParseLevel(name)
}
