package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// LockFileName is created inside every storage root.
const LockFileName = "LOCK"

// ErrLocked is returned when a root is already held, by this process or another.
var ErrLocked = errors.New("store: root is locked by another instance")

// held tracks roots locked by this process. flock alone would also reject a
// second in-process open on Linux, but not on every platform.
var held = struct {
	sync.Mutex
	roots map[string]struct{}
}{roots: make(map[string]struct{})}

// RootLock is an exclusive claim on a storage root.
type RootLock struct {
	root string
	file *os.File
}

// LockRoot claims dir exclusively. dir must already exist.
func LockRoot(dir string) (*RootLock, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	held.Lock()
	defer held.Unlock()

	if _, ok := held.roots[abs]; ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, abs)
	}

	f, err := os.OpenFile(filepath.Join(abs, LockFileName), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		if errors.Is(err, ErrLocked) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, abs)
		}
		return nil, fmt.Errorf("lock root: %w", err)
	}

	held.roots[abs] = struct{}{}
	return &RootLock{root: abs, file: f}, nil
}

// Root returns the resolved absolute root path.
func (l *RootLock) Root() string {
	return l.root
}

// Release drops the claim. Safe to call more than once.
func (l *RootLock) Release() error {
	held.Lock()
	defer held.Unlock()

	if l.file == nil {
		return nil
	}
	delete(held.roots, l.root)

	err := unlockFile(l.file)
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	return err
}
