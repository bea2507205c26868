// Package logging provides the prefixed, level-gated logger shared by the
// daemon and its packages.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rexliu/topics/pkg/config"
)

// maxBackups is how many rotated files are kept next to the live log.
const maxBackups = 3

// Logger wraps the standard log.Logger with a level gate for debug output.
type Logger struct {
	*log.Logger
	debug bool
}

// New returns a logger writing to stdout until Configure adds a file.
func New(prefix string) *Logger {
	return &Logger{Logger: log.New(os.Stdout, prefix+" ", log.LstdFlags|log.Lshortfile)}
}

// Configure applies logging settings. A relative file path is anchored at
// profileDir.
func (l *Logger) Configure(profileDir string, cfg config.LoggingConfig) error {
	if l == nil || l.Logger == nil {
		return nil
	}
	if cfg.Level != "" {
		l.debug = strings.EqualFold(cfg.Level, "debug")
		l.SetPrefix(strings.ToUpper(cfg.Level) + " " + l.Prefix())
	}
	if cfg.FilePath == "" {
		return nil
	}
	path := config.ResolvePath(profileDir, cfg.FilePath)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	writer, err := newRollingFile(path, int64(cfg.FileMaxSize)*1024*1024)
	if err != nil {
		return err
	}
	l.SetOutput(io.MultiWriter(os.Stdout, writer))
	return nil
}

// Debugf logs only when the configured level is debug.
func (l *Logger) Debugf(format string, v ...any) {
	if l == nil || !l.debug {
		return
	}
	l.Output(2, "debug: "+fmt.Sprintf(format, v...))
}

// rollingFile rotates path to path.1 .. path.N once it would exceed limit
// bytes. A zero limit never rotates.
type rollingFile struct {
	mu    sync.Mutex
	path  string
	limit int64
	size  int64
	file  *os.File
}

func newRollingFile(path string, limit int64) (*rollingFile, error) {
	r := &rollingFile{path: path, limit: limit}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *rollingFile) open() error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	r.file, r.size = f, info.Size()
	return nil
}

func (r *rollingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.limit > 0 && r.size > 0 && r.size+int64(len(p)) > r.limit {
		if err := r.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *rollingFile) rotate() error {
	r.file.Close()
	for i := maxBackups - 1; i >= 1; i-- {
		os.Rename(fmt.Sprintf("%s.%d", r.path, i), fmt.Sprintf("%s.%d", r.path, i+1))
	}
	if err := os.Rename(r.path, r.path+".1"); err != nil {
		return err
	}
	return r.open()
}
