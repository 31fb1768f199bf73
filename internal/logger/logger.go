package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// FileConfig describes rotated log files. It is used both for the supervisor's
// own log file and for the stdout/stderr of launched services.
// If StdoutPath/StderrPath are empty and Dir is set, service files will be
// Dir/<name>.stdout.log and Dir/<name>.stderr.log. Explicit paths must
// contain {name}. Rotation parameters follow lumberjack semantics; service
// files are rotated when a service is launched, not while it writes.
type FileConfig struct {
	Dir        string `mapstructure:"service_dir"` // base directory for service output
	StdoutPath string `mapstructure:"stdout"`      // e.g. /var/log/{name}.out, overrides Dir
	StderrPath string `mapstructure:"stderr"`      // e.g. /var/log/{name}.err, overrides Dir
	MaxSizeMB  int    `mapstructure:"max_size_mb"` // megabytes before rotation (default 10)
	MaxBackups int    `mapstructure:"max_backups"` // number of backups to keep (default 3)
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"` // Gzip rotated files
}

// Config configures the supervisor's structured logger.
type Config struct {
	Level  string     `mapstructure:"level"`  // debug|info|warn|error
	Format string     `mapstructure:"format"` // text|json
	Color  bool       `mapstructure:"color"`  // colored level prefix for text output
	Path   string     `mapstructure:"file"`   // supervisor log file; empty logs to stderr
	File   FileConfig `mapstructure:",squash"`
}

// New builds a *slog.Logger from c. When c.Path is set, output goes to a
// lumberjack-rotated file; otherwise to w (stderr when nil). The returned
// closer releases the file and is a no-op for plain writers.
func New(c Config, w io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(c.Level)
	if err != nil {
		return nil, nil, err
	}
	var closer io.Closer = nopCloser{}
	if w == nil {
		w = os.Stderr
	}
	if c.Path != "" {
		if dir := filepath.Dir(c.Path); dir != "" {
			_ = os.MkdirAll(dir, 0o750)
		}
		f := c.File.rotating(c.Path)
		w, closer = f, f
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(c.Format)) {
	case "", "text":
		if c.Color && c.Path == "" {
			h = NewColorTextHandler(w, opts, true)
		} else {
			h = slog.NewTextHandler(w, opts)
		}
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", c.Format)
	}
	return slog.New(h), closer, nil
}

// ParseLevel maps a level name to slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// NamePlaceholder is replaced by the service name in explicit stdout/stderr
// paths, so that every service writes its own files.
const NamePlaceholder = "{name}"

const megabyte = 1024 * 1024

// Validate rejects explicit stdout/stderr paths shared by every service.
func (c FileConfig) Validate() error {
	if c.StdoutPath != "" && !strings.Contains(c.StdoutPath, NamePlaceholder) {
		return fmt.Errorf("log.stdout must contain %s, got %q", NamePlaceholder, c.StdoutPath)
	}
	if c.StderrPath != "" && !strings.Contains(c.StderrPath, NamePlaceholder) {
		return fmt.Errorf("log.stderr must contain %s, got %q", NamePlaceholder, c.StderrPath)
	}
	return nil
}

// Paths returns the stdout and stderr files of the named service. Either is
// empty when no destination is configured for it.
func (c FileConfig) Paths(name string) (stdout, stderr string) {
	stdout = strings.ReplaceAll(c.StdoutPath, NamePlaceholder, name)
	stderr = strings.ReplaceAll(c.StderrPath, NamePlaceholder, name)
	if stdout == "" && c.Dir != "" {
		stdout = filepath.Join(c.Dir, fmt.Sprintf("%s.stdout.log", name))
	}
	if stderr == "" && c.Dir != "" {
		stderr = filepath.Join(c.Dir, fmt.Sprintf("%s.stderr.log", name))
	}
	return stdout, stderr
}

// ServiceFiles opens the named service's output files for appending. The
// files are handed to the child as is: no pipe runs through this process,
// so the service keeps writing after the supervisor exits. A file already
// over MaxSizeMB is rotated before it is opened. When stdout and stderr
// resolve to the same path both results are the same *os.File.
func (c FileConfig) ServiceFiles(name string) (stdout, stderr *os.File, err error) {
	outPath, errPath := c.Paths(name)
	if outPath != "" {
		if stdout, err = c.openAppend(outPath); err != nil {
			return nil, nil, err
		}
	}
	switch {
	case errPath == "":
	case errPath == outPath:
		stderr = stdout
	default:
		if stderr, err = c.openAppend(errPath); err != nil {
			if stdout != nil {
				_ = stdout.Close()
			}
			return nil, nil, err
		}
	}
	return stdout, stderr, nil
}

func (c FileConfig) openAppend(path string) (*os.File, error) {
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	if fi, err := os.Stat(path); err == nil && fi.Size() >= int64(valOr(c.MaxSizeMB, DefaultMaxSizeMB))*megabyte {
		l := c.rotating(path)
		if err := l.Rotate(); err != nil {
			return nil, fmt.Errorf("rotate %s: %w", path, err)
		}
		_ = l.Close()
	}
	// #nosec G304 path comes from the operator's configuration
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
}

func (c FileConfig) rotating(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
