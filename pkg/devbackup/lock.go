package devbackup

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
)

// DefaultLockPath returns $XDG_CACHE_HOME/devbackup/devbackup.pid, falling
// back to ~/.cache/devbackup/devbackup.pid. The pidfile deliberately lives
// outside the backup root: a run must be able to take the lock, discover
// the destination is unavailable, and queue itself, even while the
// removable volume is unmounted.
func DefaultLockPath() (string, error) {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, "devbackup", "devbackup.pid"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".cache", "devbackup", "devbackup.pid"), nil
}

// Lock is a single process-scoped exclusive lock backed by a pidfile. Only
// one live holder can exist for a given path at a time; a pidfile left
// behind by a dead process is taken over rather than treated as conflict.
type Lock struct {
	path string

	mu   sync.Mutex
	held bool
}

// NewLock binds a Lock to the pidfile at path. Acquire must be called
// before the lock protects anything.
func NewLock(path string) *Lock {
	return &Lock{path: path}
}

// Acquire creates the pidfile exclusively, writing the current process's
// pid as a plain decimal integer. If a pidfile already exists, its pid is
// probed for liveness with a signal-0 check: a live holder is a conflict
// (*LockError); a dead holder's pidfile is removed and acquisition retried
// once.
func (l *Lock) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pid := os.Getpid()
	if err := l.tryCreate(pid); err == nil {
		l.held = true
		return nil
	} else if !os.IsExist(err) {
		return &LockError{Err: fmt.Errorf("create pidfile: %w", err)}
	}

	holderPID, readErr := readPID(l.path)
	if readErr != nil {
		return &LockError{Err: fmt.Errorf("read existing pidfile: %w", readErr)}
	}
	if pidIsAlive(holderPID) {
		return &LockError{Err: fmt.Errorf("lock held by live process %d", holderPID)}
	}

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return &LockError{Err: fmt.Errorf("remove stale pidfile: %w", err)}
	}
	if err := l.tryCreate(pid); err != nil {
		return &LockError{Err: fmt.Errorf("create pidfile after takeover: %w", err)}
	}
	l.held = true
	return nil
}

func (l *Lock) tryCreate(pid int) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%d", pid)
	return err
}

// Release removes the pidfile. Idempotent: safe to call more than once,
// including from both a signal handler and the orchestrator's normal exit
// path, without error.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return nil
	}
	l.held = false
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release pidfile: %w", err)
	}
	return nil
}

// IsLocked reports whether the pidfile currently names a live holder, and
// that holder's pid.
func (l *Lock) IsLocked() (bool, int, error) {
	pid, err := readPID(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	return pidIsAlive(pid), pid, nil
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed pidfile content: %w", err)
	}
	return pid, nil
}

// pidIsAlive probes process existence with a signal-0 send, which delivers
// no signal but fails with ESRCH if the process does not exist.
func pidIsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err != syscall.ESRCH
}
