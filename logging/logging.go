// Package logging - Structured loggers for the decoding pipeline and its tools.
package logging

import (
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strings"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Fields is an alias so callers do not need to import logrus for structured fields.
type Fields = logrus.Fields

// Config configures a logger.
type Config struct {
	// Level is a logrus level name such as "debug" or "warn".
	Level string `json:"level" yaml:"level"`
	// File is an optional path to a rotated log file, written in addition to Output.
	File string `json:"file" yaml:"file"`
	// MaxSizeMB is the size at which the log file is rotated.
	MaxSizeMB int `json:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of rotated files kept.
	MaxBackups int `json:"max_backups" yaml:"max_backups"`
	// MaxAgeDays is the number of days rotated files are kept.
	MaxAgeDays int `json:"max_age_days" yaml:"max_age_days"`
	// NoColors disables ANSI colors in the console output.
	NoColors bool `json:"no_colors" yaml:"no_colors"`
	// ReportCaller prefixes each entry with the calling file, line and function.
	ReportCaller bool `json:"report_caller" yaml:"report_caller"`
	// Output is the console writer. Defaults to os.Stderr.
	Output io.Writer `json:"-" yaml:"-"`
}

// DefaultConfig logs info and above to stderr.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		MaxSizeMB:  100,
		MaxBackups: 3,
		MaxAgeDays: 7,
	}
}

// New builds a logrus logger with the nested formatter.
//
// Arguments:
//   - cfg: The logger configuration.
//
// Returns:
//   - *logrus.Logger: The configured logger.
//   - error: An error if the level name is not recognized.
func New(cfg Config) (*logrus.Logger, error) {
	level := logrus.InfoLevel
	if cfg.Level != "" {
		parsed, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, errors.Wrapf(err, "parse log level %q", cfg.Level)
		}
		level = parsed
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&formatter.Formatter{
		NoColors:        cfg.NoColors,
		TimestampFormat: "2006-01-02 15:04:05.000",
		CallerFirst:     true,
		FieldsOrder:     []string{"batch_id", "batch", "shape"},
		CustomCallerFormatter: func(f *runtime.Frame) string {
			s := strings.Split(f.Function, ".")
			return fmt.Sprintf(" [%s:%d][%s()]", path.Base(f.File), f.Line, s[len(s)-1])
		},
	})

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	writers := []io.Writer{out}
	if cfg.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			LocalTime:  true,
			Compress:   true,
		})
	}
	logger.SetOutput(io.MultiWriter(writers...))
	logger.SetReportCaller(cfg.ReportCaller)

	return logger, nil
}

// Discard returns a logger that drops every entry.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// OrDiscard returns logger, or a discarding logger when it is nil.
func OrDiscard(logger *logrus.Logger) *logrus.Logger {
	if logger == nil {
		return Discard()
	}
	return logger
}
