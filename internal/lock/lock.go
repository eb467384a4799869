// Package lock guards a session directory against concurrent engine
// processes. Two writers sharing one message log would interleave seq
// assignment and window reconciliation unpredictably.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const lockFileName = "LOCK"

// HeldError is returned when another process holds the session lock.
type HeldError struct {
	PID  int
	Path string
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("session lock held by PID %d (%s)", e.PID, e.Path)
}

// Lock is an acquired session lock file.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes an exclusive flock on the session directory's lock file.
// Returns HeldError when another process already holds it.
func Acquire(sessionDir string) (*Lock, error) {
	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	path := filepath.Join(sessionDir, lockFileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		holder := readHolderPID(path)
		_ = f.Close()
		return nil, &HeldError{PID: holder, Path: path}
	}

	if err := stampHolder(f); err != nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		return nil, fmt.Errorf("stamp lock file: %w", err)
	}

	return &Lock{file: f, path: path}, nil
}

// Release drops the lock. Safe to call on a nil receiver.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove before closing so a crashed reader never sees a stale file.
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

// stampHolder records the holder PID and acquisition time for diagnostics.
func stampHolder(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f, "pid=%d\ntime=%s\n",
		os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	return err
}

func readHolderPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if after, ok := strings.CutPrefix(line, "pid="); ok {
			pid, _ := strconv.Atoi(after)
			return pid
		}
	}
	return 0
}
