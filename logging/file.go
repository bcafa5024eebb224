package logging

import (
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions control rotation of a file appender.
type FileOptions struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// FileAppender writes console-encoded entries to a size-rotated file.
type FileAppender struct {
	zapcore.Core
	out *lumberjack.Logger
}

// NewFileAppender returns an appender for path. Rotation defaults to 10 MB and 5 backups.
func NewFileAppender(path string, opts FileOptions) *FileAppender {
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 10
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 5
	}
	out := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(NewEncoderConfig()), zapcore.AddSync(out), zapcore.DebugLevel)
	return &FileAppender{Core: core, out: out}
}

// Close closes the underlying file.
func (fa *FileAppender) Close() error {
	return fa.out.Close()
}
