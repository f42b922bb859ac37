package util

import (
	"fmt"
	"log/syslog"
	"os"
	"runtime/debug"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogOptions struct {
	// Level is one of debug, info, warn, error.
	Level string
	// Tag is the syslog tag and the service_name field.
	Tag string
	// Echo mirrors every entry to stdout with a console encoder.
	Echo bool
	// Syslog sends entries to the local system log.
	Syslog bool
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewLogger builds the process logger. When the system log is unavailable
// the entries go to stderr instead.
func NewLogger(opts LogOptions) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(parseLevel(opts.Level))

	cores := make([]zapcore.Core, 0, 2)
	var syslogErr error
	if opts.Syslog {
		w, err := syslog.New(syslog.LOG_NOTICE|syslog.LOG_DAEMON, opts.Tag)
		if err == nil {
			encCfg := zap.NewProductionEncoderConfig()
			encCfg.TimeKey = ""
			cores = append(cores, &syslogCore{
				LevelEnabler: level,
				enc:          zapcore.NewConsoleEncoder(encCfg),
				w:            w,
			})
		} else {
			syslogErr = err
		}
	}

	if opts.Echo || len(cores) == 0 {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		out := zapcore.Lock(os.Stdout)
		if !opts.Echo {
			out = zapcore.Lock(os.Stderr)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), out, level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	if opts.Tag != "" {
		logger = logger.With(zap.String("service_name", opts.Tag))
	}
	if syslogErr != nil {
		logger.Warn("syslog unavailable; logging to stderr", zap.Error(syslogErr))
	}

	return logger, nil
}

// syslogCore maps zap levels onto syslog priorities.
type syslogCore struct {
	zapcore.LevelEnabler
	enc zapcore.Encoder
	w   *syslog.Writer
}

func (c *syslogCore) With(fields []zapcore.Field) zapcore.Core {
	clone := c.enc.Clone()
	for i := range fields {
		fields[i].AddTo(clone)
	}
	return &syslogCore{LevelEnabler: c.LevelEnabler, enc: clone, w: c.w}
}

func (c *syslogCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(e.Level) {
		return ce.AddCore(e, c)
	}
	return ce
}

func (c *syslogCore) Write(e zapcore.Entry, fields []zapcore.Field) error {
	buf, err := c.enc.EncodeEntry(e, fields)
	if err != nil {
		return err
	}
	msg := strings.TrimSuffix(buf.String(), "\n")
	buf.Free()

	switch e.Level {
	case zapcore.DebugLevel:
		return c.w.Debug(msg)
	case zapcore.InfoLevel:
		return c.w.Info(msg)
	case zapcore.WarnLevel:
		return c.w.Warning(msg)
	default:
		return c.w.Err(msg)
	}
}

func (c *syslogCore) Sync() error { return nil }

func LogPanic(logger *zap.Logger, err any) {
	logger.Error("panicked",
		zap.String("panic", fmt.Sprint(err)),
		zap.ByteString("stack", debug.Stack()),
	)
	_ = logger.Sync()
}
