package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"diginetra/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log file names, one per level.
const (
	InfoFile    = "info.log"
	WarningFile = "warning.log"
	ErrorFile   = "error.log"
)

// Logger provides leveled logging (info/warning/error) to per-level files and stdout/stderr.
// It is a thin printf-style facade over a zap core; Zap() exposes the structured logger.
type Logger struct {
	zl     *zap.Logger
	sugar  *zap.SugaredLogger
	logDir string
}

// NewLogger creates a Logger and ensures the log directory exists.
func NewLogger(cfg *config.Config) (*Logger, error) {
	if err := os.MkdirAll(cfg.LogDirectory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	core, err := buildCore(cfg.LogDirectory)
	if err != nil {
		return nil, err
	}

	zl := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return &Logger{zl: zl, sugar: zl.Sugar(), logDir: cfg.LogDirectory}, nil
}

// NewNop returns a Logger that discards everything.
func NewNop() *Logger {
	zl := zap.NewNop()
	return &Logger{zl: zl, sugar: zl.Sugar()}
}

// buildCore tees console output with one JSON file per level.
func buildCore(logDir string) (zapcore.Core, error) {
	infoFile, err := openLogFile(filepath.Join(logDir, InfoFile))
	if err != nil {
		return nil, err
	}
	warningFile, err := openLogFile(filepath.Join(logDir, WarningFile))
	if err != nil {
		return nil, err
	}
	errorFile, err := openLogFile(filepath.Join(logDir, ErrorFile))
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	fileEncoder := zapcore.NewJSONEncoder(encCfg)

	consoleCfg := encCfg
	consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(consoleCfg)

	only := func(level zapcore.Level) zap.LevelEnablerFunc {
		return func(l zapcore.Level) bool { return l == level }
	}
	belowError := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= zapcore.InfoLevel && l < zapcore.ErrorLevel
	})
	atLeastError := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= zapcore.ErrorLevel })

	return zapcore.NewTee(
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout), belowError),
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), atLeastError),
		zapcore.NewCore(fileEncoder, zapcore.AddSync(infoFile), only(zapcore.InfoLevel)),
		zapcore.NewCore(fileEncoder, zapcore.AddSync(warningFile), only(zapcore.WarnLevel)),
		zapcore.NewCore(fileEncoder, zapcore.AddSync(errorFile), atLeastError),
	), nil
}

// openLogFile opens or creates a log file for appending.
func openLogFile(filename string) (*os.File, error) {
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", filename, err)
	}
	return file, nil
}

// Named returns a child logger tagged with a component name.
func (l *Logger) Named(name string) *Logger {
	zl := l.zl.Named(name)
	return &Logger{zl: zl, sugar: zl.Sugar(), logDir: l.logDir}
}

// Zap exposes the structured logger.
func (l *Logger) Zap() *zap.Logger {
	return l.zl.WithOptions(zap.AddCallerSkip(-1))
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.sugar.Infof(format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.sugar.Warnf(format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.sugar.Errorf(format, v...)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() {
	_ = l.zl.Sync()
}

// CleanLogs truncates the specified log file.
func (l *Logger) CleanLogs(fileName string) error {
	if l.logDir == "" {
		return nil
	}
	switch fileName {
	case InfoFile, WarningFile, ErrorFile:
	default:
		return fmt.Errorf("unknown log file: %s", fileName)
	}

	if err := os.Truncate(filepath.Join(l.logDir, fileName), 0); err != nil {
		l.Error("Error truncating %s: %v", fileName, err)
		return err
	}

	l.Info("Log file %s has been cleared.", fileName)
	return nil
}
