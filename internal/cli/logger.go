package cli

import "go.uber.org/zap"

// agentLogger wraps zap for verbose debug output on stderr.
type agentLogger struct {
	sugared *zap.SugaredLogger
	globals *Globals
}

func newAgentLogger(globals *Globals) *agentLogger {
	if globals == nil || !globals.Verbose {
		return &agentLogger{}
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	cfg.Encoding = "json"
	logger, _ := cfg.Build()
	return &agentLogger{
		sugared: logger.Sugar(),
		globals: globals,
	}
}

func (l *agentLogger) Debug(format string, args ...interface{}) {
	if l == nil || l.sugared == nil {
		return
	}
	l.sugared.Debugf(format, args...)
}

// Sugared exposes the underlying logger for components that take one; nil
// when verbose logging is off.
func (l *agentLogger) Sugared() *zap.SugaredLogger {
	if l == nil {
		return nil
	}
	return l.sugared
}
