// Package logging builds the process logrus logger from config.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects level, format and an optional rotating log file.
type Options struct {
	Level  string
	Format string // "text" or "json"; empty picks json when Env is "production"
	Env    string
	File   string
	Stdout io.Writer // defaults to os.Stdout
}

// New returns a configured logger and a close func that releases the log file, if any.
func New(opts Options) (*logrus.Logger, func() error, error) {
	log := logrus.New()

	level := logrus.InfoLevel
	if s := strings.TrimSpace(opts.Level); s != "" {
		l, err := logrus.ParseLevel(s)
		if err != nil {
			return nil, nil, fmt.Errorf("logging: %w", err)
		}
		level = l
	}
	log.SetLevel(level)

	format := opts.Format
	if format == "" {
		format = "text"
		if opts.Env == "production" {
			format = "json"
		}
	}
	switch format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, nil, fmt.Errorf("logging: unknown format %q", format)
	}

	var out io.Writer = os.Stdout
	if opts.Stdout != nil {
		out = opts.Stdout
	}
	closeFn := func() error { return nil }
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("logging: failed to create log directory: %w", err)
		}
		rotating := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     28,
		}
		out = io.MultiWriter(out, rotating)
		closeFn = rotating.Close
	}
	log.SetOutput(out)
	return log, closeFn, nil
}
