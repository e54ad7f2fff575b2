// Package logging provides structured logging for uniguide.
//
// Logger wraps Zap with:
//   - a Trace level below Debug
//   - stdout and optional OpenTelemetry output
//   - correlation fields pulled from the context (trace, session, run, stage)
//   - redaction of credential-like fields and values
//   - level-aware sampling where errors are never dropped
//
// # Usage
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithSessionID(ctx, "sess_123")
//	ctx = logging.WithRunID(ctx, runID)
//	logger.Info(ctx, "stage finished", zap.String("status", "succeeded"))
//
// Tests use NewTestLogger and its assertion helpers.
package logging
