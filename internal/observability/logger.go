// Package observability builds the run logger.
package observability

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/v0xg/storyrun/internal/config"
)

// LogFile is the log name inside a run directory.
const LogFile = "storyrun.log"

// Options selects where logs go.
type Options struct {
	Level string
	// Verbose forces debug on the console.
	Verbose bool
	// Dir, when set, receives a rotated JSON log file.
	Dir        string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	// Console defaults to stderr.
	Console zapcore.WriteSyncer
}

// FromConfig maps log settings and the run directory to Options.
func FromConfig(cfg config.LogConfig, runDir string, verbose bool) Options {
	opts := Options{
		Level:      cfg.Level,
		Verbose:    verbose,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
	}
	if cfg.File {
		opts.Dir = runDir
	}
	return opts
}

// NewLogger tees a console core with an optional JSON file core.
func NewLogger(opts Options) *zap.Logger {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
		level.SetLevel(zap.InfoLevel)
	}
	if opts.Verbose {
		level.SetLevel(zap.DebugLevel)
	}

	console := opts.Console
	if console == nil {
		console = zapcore.Lock(os.Stderr)
	}

	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	consoleCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cores := []zapcore.Core{zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), console, level)}

	if opts.Dir != "" {
		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		fileWriter := zapcore.AddSync(&lumberjack.Logger{
			Filename:   filepath.Join(opts.Dir, LogFile),
			MaxSize:    opts.MaxSize,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAge,
		})
		// the file keeps debug detail regardless of the console level
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), fileWriter, zap.DebugLevel))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zap.ErrorLevel)).Named("storyrun")
}
