// Package namedlock provides a mutual exclusion lock identified by name.
//
// Locks with the same name share state across the whole process, and a
// lock file in the system temp directory extends the exclusion to any
// other process using the same name. Holding the lock is a global
// critical section, not a per-object one.
package namedlock

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

type state struct {
	mu   sync.Mutex
	path string
	file *os.File
}

var (
	registryMu sync.Mutex
	registry   = make(map[string]*state)
)

// Lock is a handle to a named lock. Handles are cheap; every handle for the
// same name refers to the same lock.
type Lock struct {
	name string
	s    *state
}

func New(name string) *Lock {
	registryMu.Lock()
	defer registryMu.Unlock()

	s, ok := registry[name]
	if !ok {
		s = &state{path: filepath.Join(os.TempDir(), name+".lock")}
		registry[name] = s
	}
	return &Lock{name: name, s: s}
}

func (l *Lock) Name() string {
	return l.name
}

// TryLock acquires the lock without blocking and reports whether it did.
func (l *Lock) TryLock() bool {
	if !l.s.mu.TryLock() {
		return false
	}

	f, err := openLockFile(l.s.path)
	if err != nil {
		l.s.mu.Unlock()
		return false
	}

	ok, err := tryLockFile(f)
	if err != nil || !ok {
		f.Close()
		l.s.mu.Unlock()
		return false
	}

	l.s.file = f
	return true
}

// Lock blocks until the lock is held.
func (l *Lock) Lock() error {
	l.s.mu.Lock()

	f, err := openLockFile(l.s.path)
	if err != nil {
		l.s.mu.Unlock()
		return errors.Wrapf(err, "opening lock file for %s", l.name)
	}

	if err := lockFile(f); err != nil {
		f.Close()
		l.s.mu.Unlock()
		return errors.Wrapf(err, "locking %s", l.name)
	}

	l.s.file = f
	return nil
}

// Unlock releases the lock. It must only be called by the holder.
func (l *Lock) Unlock() error {
	f := l.s.file
	l.s.file = nil

	var err error
	if f != nil {
		err = unlockFile(f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}

	l.s.mu.Unlock()
	return errors.Wrapf(err, "unlocking %s", l.name)
}

// openLockFile opens the lock file, creating it if needed. A file left by
// another user may not be writable; locking only needs a read handle.
func openLockFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0666)
	if err == nil || !os.IsPermission(err) {
		return f, err
	}
	return os.OpenFile(path, os.O_RDONLY, 0)
}
