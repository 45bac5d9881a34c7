package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const defaultMaxSizeMB = 100

// RotatingFile is an append-only log file that is renamed to path.1 once it
// would grow past its size limit. Older backups shift up by one and anything
// beyond the backup count is removed. It is safe for concurrent writers.
type RotatingFile struct {
	mu         sync.Mutex
	path       string
	limit      int64
	maxBackups int
	file       *os.File
	written    int64
}

// OpenRotatingFile opens path for appending, creating parent directories as
// needed. A non-positive maxSizeMB selects 100 MB; maxBackups of zero keeps no
// history.
func OpenRotatingFile(path string, maxSizeMB, maxBackups int) (*RotatingFile, error) {
	if path == "" {
		return nil, errors.New("log file path is required")
	}
	if maxSizeMB <= 0 {
		maxSizeMB = defaultMaxSizeMB
	}
	rf := &RotatingFile{
		path:       path,
		limit:      int64(maxSizeMB) << 20,
		maxBackups: max(maxBackups, 0),
	}
	if err := rf.open(os.O_APPEND); err != nil {
		return nil, err
	}
	return rf, nil
}

func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.file == nil {
		if err := rf.open(os.O_APPEND); err != nil {
			return 0, err
		}
	}
	// An oversized record still lands in a fresh file rather than looping.
	if rf.written > 0 && rf.written+int64(len(p)) > rf.limit {
		if err := rf.rotate(); err != nil {
			return 0, fmt.Errorf("rotate %s: %w", rf.path, err)
		}
	}
	n, err := rf.file.Write(p)
	rf.written += int64(n)
	return n, err
}

func (rf *RotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.file == nil {
		return nil
	}
	err := rf.file.Close()
	rf.file = nil
	rf.written = 0
	return err
}

func (rf *RotatingFile) open(mode int) error {
	if err := os.MkdirAll(filepath.Dir(rf.path), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(rf.path, os.O_CREATE|os.O_WRONLY|mode, 0o644)
	if err != nil {
		return err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return err
	}
	rf.file = file
	rf.written = info.Size()
	return nil
}

func (rf *RotatingFile) rotate() error {
	if err := rf.file.Close(); err != nil {
		return err
	}
	rf.file = nil

	if rf.maxBackups == 0 {
		if err := os.Remove(rf.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return rf.open(os.O_TRUNC)
	}
	if err := os.Remove(rf.backupName(rf.maxBackups)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	for i := rf.maxBackups - 1; i >= 1; i-- {
		if err := os.Rename(rf.backupName(i), rf.backupName(i+1)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	if err := os.Rename(rf.path, rf.backupName(1)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return rf.open(os.O_TRUNC)
}

func (rf *RotatingFile) backupName(generation int) string {
	return fmt.Sprintf("%s.%d", rf.path, generation)
}
