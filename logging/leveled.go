package logging

import "go.uber.org/zap"

// LeveledLogger satisfies retryablehttp.LeveledLogger on top of zap.
type LeveledLogger struct {
	sugar *zap.SugaredLogger
}

func Leveled(logger *zap.Logger) *LeveledLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LeveledLogger{sugar: logger.Named("http").Sugar()}
}

func (l *LeveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, keysAndValues...)
}

func (l *LeveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, keysAndValues...)
}

func (l *LeveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l *LeveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, keysAndValues...)
}
