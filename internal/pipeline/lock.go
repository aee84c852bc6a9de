package pipeline

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// runLock is an advisory flock guarding the working directory. Two builds
// must never share a working tree.
type runLock struct {
	file *os.File
}

func acquireLock(path string) (*runLock, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		return nil, fmt.Errorf("another build owns %s: %w", path, err)
	}
	return &runLock{file: file}, nil
}

func (l *runLock) release() {
	if l.file == nil {
		return
	}
	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	_ = l.file.Close()
	l.file = nil
}
