package logging

import (
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig describes a size-rotated JSON log file.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func DefaultFileConfig(path string) FileConfig {
	return FileConfig{
		Path:       path,
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 28,
		Compress:   true,
	}
}

// AttachFile tees the process logger into cfg.Path as JSON and returns the
// updated logger. The returned closer flushes and closes the file. An empty
// path is a no-op.
func AttachFile(cfg FileConfig) (zerolog.Logger, io.Closer) {
	if strings.TrimSpace(cfg.Path) == "" {
		return log.Logger, nopCloser{}
	}
	rot := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	output = zerolog.MultiLevelWriter(output, rot)
	log.Logger = log.Logger.Output(output)
	return log.Logger, rot
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
