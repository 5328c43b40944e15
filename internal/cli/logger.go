package cli

import "go.uber.org/zap"

// newDebugLogger wraps zap for verbose diagnostics. Without --verbose it
// returns nil and Debug calls are no-ops.
func newDebugLogger(globals *Globals) func(string, ...interface{}) {
	if globals == nil || !globals.Verbose {
		return nil
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	cfg.Encoding = "json"
	logger, err := cfg.Build()
	if err != nil {
		return nil
	}
	sugared := logger.Sugar()
	return func(format string, args ...interface{}) {
		sugared.Debugf(format, args...)
	}
}

// newZapLogger builds the structured logger handed to the engine packages.
// Verbose mode lowers the level to debug; quiet mode drops it to error.
func newZapLogger(globals *Globals) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if globals != nil && globals.Verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	if globals != nil && globals.Quiet {
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
