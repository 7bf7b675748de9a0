package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu    sync.RWMutex
	log   *zap.Logger
	sugar *zap.SugaredLogger
)

// Options configures the process-wide logger.
type Options struct {
	Level       string // debug, info, warn, error
	Development bool
	// File, when set, receives JSON logs through a rotating writer in
	// addition to the console output.
	File       string
	MaxSizeMB  int
	MaxBackups int
	// Quiet drops the console core; only File (if any) is written.
	Quiet bool
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Init builds the global logger.
func Init(opts Options) error {
	lvl := zap.NewAtomicLevelAt(parseLevel(opts.Level))

	consoleEnc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		NameKey:        "N",
		CallerKey:      "C",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "M",
		StacktraceKey:  "S",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("15:04:05.000"),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	})

	var cores []zapcore.Core
	if !opts.Quiet {
		cores = append(cores, zapcore.NewCore(consoleEnc, zapcore.Lock(os.Stdout), lvl))
	}
	if opts.File != "" {
		maxSize := opts.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 32
		}
		w := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    maxSize, // MB
			MaxBackups: opts.MaxBackups,
		}
		jsonEnc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		cores = append(cores, zapcore.NewCore(jsonEnc, zapcore.AddSync(w), lvl))
	}

	var zopts []zap.Option
	if opts.Development {
		zopts = append(zopts, zap.Development(), zap.AddCaller())
	}

	l := zap.New(zapcore.NewTee(cores...), zopts...)

	mu.Lock()
	log = l
	sugar = l.Sugar()
	mu.Unlock()
	return nil
}

// SetLogger replaces the global logger, e.g. with zap.NewNop() in tests.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	log = l
	sugar = l.Sugar()
	mu.Unlock()
}

// L returns the global logger, initializing it with defaults on first use.
func L() *zap.Logger {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l == nil {
		_ = Init(Options{Level: "info"})
		mu.RLock()
		l = log
		mu.RUnlock()
	}
	return l
}

// S returns the sugared global logger.
func S() *zap.SugaredLogger {
	mu.RLock()
	s := sugar
	mu.RUnlock()
	if s == nil {
		_ = Init(Options{Level: "info"})
		mu.RLock()
		s = sugar
		mu.RUnlock()
	}
	return s
}

func Sync() error {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l != nil {
		return l.Sync()
	}
	return nil
}

// With returns a child logger carrying fields.
func With(fields ...zap.Field) *zap.Logger {
	return L().With(fields...)
}

// Component returns a child logger tagged with the component name.
func Component(name string) *zap.Logger {
	return L().With(zap.String("component", name))
}

// wrapped skips the package-level helpers below so the caller is reported
// as the code that called them. Loggers from L, With and Component are used
// directly and need no skip.
func wrapped() *zap.Logger {
	return L().WithOptions(zap.AddCallerSkip(1))
}

func Debug(msg string, fields ...zap.Field) {
	wrapped().Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	wrapped().Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	wrapped().Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	wrapped().Error(msg, fields...)
}
