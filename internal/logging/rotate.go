package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// RotatingFile is a size-rotated, append-only log file. Before a write
// that would push the file past its limit, the file is shifted to
// <path>.1 (existing backups move up one number) and a fresh file is
// opened. At most backups old files are kept. A single record is never
// split across files.
type RotatingFile struct {
	mu      sync.Mutex
	path    string
	limit   int64
	backups int
	size    int64
	file    *os.File
}

var _ io.WriteCloser = (*RotatingFile)(nil)

// OpenRotatingFile opens (or creates) path for appending. maxSizeMB below
// 1 is raised to 1; backups below 0 is treated as 0 (truncate on rotate).
func OpenRotatingFile(path string, maxSizeMB, backups int) (*RotatingFile, error) {
	return openRotatingFile(path, int64(max(maxSizeMB, 1))<<20, max(backups, 0))
}

func openRotatingFile(path string, limit int64, backups int) (*RotatingFile, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("logging: create log dir: %w", err)
		}
	}
	w := &RotatingFile{path: path, limit: limit, backups: backups}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingFile) open() error {
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("logging: open %s: %w", w.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("logging: stat %s: %w", w.path, err)
	}
	w.file, w.size = f, info.Size()
	return nil
}

// Write implements io.Writer.
func (w *RotatingFile) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return 0, os.ErrClosed
	}
	if w.size > 0 && w.size+int64(len(p)) > w.limit {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("logging: rotate: %w", err)
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close implements io.Closer. Further writes fail with os.ErrClosed.
func (w *RotatingFile) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// rotate requires w.mu.
func (w *RotatingFile) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}
	w.file = nil
	if w.backups == 0 {
		_ = os.Remove(w.path)
	} else {
		_ = os.Remove(w.backupPath(w.backups))
		for n := w.backups - 1; n >= 1; n-- {
			_ = os.Rename(w.backupPath(n), w.backupPath(n+1))
		}
		_ = os.Rename(w.path, w.backupPath(1))
	}
	return w.open()
}

func (w *RotatingFile) backupPath(n int) string {
	return w.path + "." + strconv.Itoa(n)
}
