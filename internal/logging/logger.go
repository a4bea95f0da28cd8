// Package logging builds the zap loggers used by the binaries.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures Init. Zero sizes fall back to 10 MB, 3 backups, 7 days.
type Options struct {
	// Name is the log file base name, e.g. "interview" for interview.log.
	Name       string
	Directory  string
	Level      string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool

	// Console also writes human-readable logs to stderr. The TUI leaves it
	// off because it owns the terminal.
	Console bool
}

// Init builds a logger writing JSON to a rotating file. The returned level
// can be changed at runtime.
func Init(opts Options) (*zap.Logger, zap.AtomicLevel, error) {
	level := zap.NewAtomicLevel()
	if err := SetLevel(level, opts.Level); err != nil {
		return nil, level, err
	}

	fileCore, err := newFileCore(opts, level)
	if err != nil {
		return nil, level, err
	}

	cores := []zapcore.Core{fileCore}
	if opts.Console {
		cores = append(cores, newConsoleCore(level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	return logger, level, nil
}

// SetLevel parses name ("debug", "info", ...) into level. Empty means info.
func SetLevel(level zap.AtomicLevel, name string) error {
	if name == "" {
		level.SetLevel(zapcore.InfoLevel)
		return nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", name, err)
	}
	level.SetLevel(l)
	return nil
}

func newFileCore(opts Options, level zapcore.LevelEnabler) (zapcore.Core, error) {
	dir := opts.Directory
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create log directory: %w", err)
	}
	name := opts.Name
	if name == "" {
		name = "interview"
	}

	writer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(dir, name+".log"),
		MaxSize:    orDefault(opts.MaxSize, 10), // megabytes
		MaxBackups: orDefault(opts.MaxBackups, 3),
		MaxAge:     orDefault(opts.MaxAge, 7), // days
		Compress:   opts.Compress,
	})

	encoderConfig := zapcore.EncoderConfig{
		MessageKey:   "message",
		LevelKey:     "level",
		TimeKey:      "time",
		CallerKey:    "caller",
		EncodeLevel:  zapcore.CapitalLevelEncoder,
		EncodeTime:   zapcore.ISO8601TimeEncoder,
		EncodeCaller: zapcore.ShortCallerEncoder,
	}
	return zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), writer, level), nil
}

func newConsoleCore(level zapcore.LevelEnabler) zapcore.Core {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.AddSync(os.Stderr), level)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
