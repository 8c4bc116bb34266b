// Package logger provides the leveled, named loggers used throughout
// the engine. Every long-lived object (session, torrent, peer,
// tracker, disk cache) gets its own named logger so log lines can be
// attributed without passing around a component identifier string.
package logger

import (
	"sync"

	"go.uber.org/zap"
)

// Logger is the interface every component logs through. It mirrors
// the small, line-oriented surface the rest of the engine expects:
// no structured fields, just named severity levels, so call sites
// read the same whether they log a static string or an interpolated
// one.
type Logger interface {
	Debug(args ...interface{})
	Debugln(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infoln(args ...interface{})
	Infof(format string, args ...interface{})
	Warning(args ...interface{})
	Warningln(args ...interface{})
	Warningf(format string, args ...interface{})
	Error(args ...interface{})
	Errorln(args ...interface{})
	Errorf(format string, args ...interface{})
}

var (
	baseOnce sync.Once
	base     *zap.SugaredLogger
)

func sugared() *zap.SugaredLogger {
	baseOnce.Do(func() {
		l, err := zap.NewProduction()
		if err != nil {
			l = zap.NewNop()
		}
		base = l.Sugar()
	})
	return base
}

// SetLevel reconfigures the process-wide base logger: debug selects
// zap's development config, otherwise its production config.
func SetLevel(debug bool) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	l, err := cfg.Build()
	if err != nil {
		return
	}
	base = l.Sugar()
}

type zapLogger struct {
	named *zap.SugaredLogger
}

// New returns a Logger named after the owning component, e.g.
// logger.New("session") or logger.New("peer <- " + addr.String()).
func New(name string) Logger {
	return &zapLogger{named: sugared().Named(name)}
}

func (z *zapLogger) Debug(args ...interface{})                 { z.named.Debug(args...) }
func (z *zapLogger) Debugln(args ...interface{})                { z.named.Debug(args...) }
func (z *zapLogger) Debugf(format string, args ...interface{})  { z.named.Debugf(format, args...) }
func (z *zapLogger) Info(args ...interface{})                   { z.named.Info(args...) }
func (z *zapLogger) Infoln(args ...interface{})                 { z.named.Info(args...) }
func (z *zapLogger) Infof(format string, args ...interface{})   { z.named.Infof(format, args...) }
func (z *zapLogger) Warning(args ...interface{})                { z.named.Warn(args...) }
func (z *zapLogger) Warningln(args ...interface{})              { z.named.Warn(args...) }
func (z *zapLogger) Warningf(format string, args ...interface{}) { z.named.Warnf(format, args...) }
func (z *zapLogger) Error(args ...interface{})                  { z.named.Error(args...) }
func (z *zapLogger) Errorln(args ...interface{})                { z.named.Error(args...) }
func (z *zapLogger) Errorf(format string, args ...interface{})  { z.named.Errorf(format, args...) }
