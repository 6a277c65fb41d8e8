package os

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// SocketLock guards exclusive ownership of a unix socket path.
// The lock file lives next to the socket so a second host can tell a
// crashed predecessor (stale socket, free lock) from a live one
// (held lock) before unlinking anything.
type SocketLock struct {
	f *flock.Flock
}

func NewSocketLock(socketPath string) (*SocketLock, error) {
	path := socketPath + ".lock"
	if err := os.MkdirAll(filepath.Dir(path), 0770); err != nil {
		return nil, err
	}
	return &SocketLock{f: flock.New(path)}, nil
}

// TryLock attempts to take the lock without blocking.
func (l *SocketLock) TryLock() (bool, error) { return l.f.TryLock() }

func (l *SocketLock) Unlock() error {
	err := l.f.Unlock()
	_ = os.Remove(l.f.Path())
	return err
}

func (l *SocketLock) Path() string { return l.f.Path() }
