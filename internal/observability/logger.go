// File: internal/observability/logger.go
package observability

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/xkilldash9x/scalpel-e2e/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// logger holds the process wide instance.
	logger atomic.Pointer[zap.Logger]
	once   sync.Once
)

const ansiReset = "\x1b[0m"

var ansiColors = map[string]string{
	"black":   "\x1b[30m",
	"red":     "\x1b[31m",
	"green":   "\x1b[32m",
	"yellow":  "\x1b[33m",
	"blue":    "\x1b[34m",
	"magenta": "\x1b[35m",
	"cyan":    "\x1b[36m",
	"white":   "\x1b[37m",
}

// Initialize builds the global logger once. Console output goes to sink, and
// when cfg.LogFile is set a rotating JSON file core is teed alongside it.
func Initialize(cfg config.LoggerConfig, sink zapcore.WriteSyncer) {
	once.Do(func() {
		level := zap.NewAtomicLevel()
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			level.SetLevel(zap.InfoLevel)
		}

		cores := []zapcore.Core{zapcore.NewCore(encoderFor(cfg), sink, level)}
		if cfg.LogFile != "" {
			rotating := &lumberjack.Logger{
				Filename:   cfg.LogFile,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   cfg.Compress,
			}
			cores = append(cores, zapcore.NewCore(encoderFor(config.LoggerConfig{Format: "json"}), zapcore.AddSync(rotating), level))
		}

		opts := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}
		if cfg.AddSource {
			opts = append(opts, zap.AddCaller())
		}

		name := cfg.ServiceName
		if name == "" {
			name = "scalpel-e2e"
		}
		l := zap.New(zapcore.NewTee(cores...), opts...).Named(name)
		logger.Store(l)

		zap.ReplaceGlobals(l)
		zap.RedirectStdLog(l)
	})
}

// InitializeLogger initializes the global logger writing to a locked stderr.
// Stdout is left to the report writer.
func InitializeLogger(cfg config.LoggerConfig) {
	Initialize(cfg, zapcore.Lock(os.Stderr))
}

// ResetForTest clears the global logger so a test can initialize its own.
func ResetForTest() {
	logger.Store(nil)
	once = sync.Once{}
}

func levelEncoder(colors config.ColorConfig) zapcore.LevelEncoder {
	byLevel := map[zapcore.Level]string{
		zapcore.DebugLevel:  colors.Debug,
		zapcore.InfoLevel:   colors.Info,
		zapcore.WarnLevel:   colors.Warn,
		zapcore.ErrorLevel:  colors.Error,
		zapcore.DPanicLevel: colors.DPanic,
		zapcore.PanicLevel:  colors.Panic,
		zapcore.FatalLevel:  colors.Fatal,
	}
	return func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		label := strings.ToUpper(level.String())
		code, ok := ansiColors[byLevel[level]]
		if !ok {
			enc.AppendString(label)
			return
		}
		enc.AppendString(code + label + ansiReset)
	}
}

// encoderFor returns a colorized single line console encoder for the
// "console" format and a JSON encoder for everything else.
func encoderFor(cfg config.LoggerConfig) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")

	if cfg.Format == "console" {
		ec.EncodeLevel = levelEncoder(cfg.Colors)
		ec.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(name + ".")
		}
		return zapcore.NewConsoleEncoder(ec)
	}

	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(ec)
}

// GetLogger returns the global logger, or a development fallback if
// Initialize has not run yet.
func GetLogger() *zap.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	l.Warn("Global logger requested before initialization; using fallback.")
	return l.Named("fallback")
}

// ForScenario returns a child logger tagged with the scenario name.
func ForScenario(base *zap.Logger, scenario string) *zap.Logger {
	if base == nil {
		base = GetLogger()
	}
	return base.Named("scenario").With(zap.String("scenario", scenario))
}

// Sync flushes buffered entries. Errors from syncing terminals are ignored.
func Sync() {
	l := logger.Load()
	if l == nil {
		return
	}
	if err := l.Sync(); err != nil {
		msg := err.Error()
		if strings.Contains(msg, "/dev/stdout") || strings.Contains(msg, "/dev/stderr") ||
			strings.Contains(msg, "invalid argument") || strings.Contains(msg, "operation not supported") ||
			strings.Contains(msg, "inappropriate ioctl") {
			return
		}
		fmt.Fprintln(os.Stderr, "Error: failed to sync logger:", err)
	}
}
