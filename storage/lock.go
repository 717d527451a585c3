package storage

// DirLock guards a directory against being opened by a second process at the
// same time. It wraps the platform-specific flock/LockFileEx implementation.
type DirLock struct {
	lock *fileLock
}

// LockDirectory acquires an exclusive lock on path (a directory's header
// file, conventionally). Returns an error if another process already holds
// it.
func LockDirectory(path string) (*DirLock, error) {
	fl, err := lockFile(path)
	if err != nil {
		return nil, err
	}
	return &DirLock{lock: fl}, nil
}

// Unlock releases the lock.
func (d *DirLock) Unlock() error {
	if d == nil || d.lock == nil {
		return nil
	}
	return d.lock.unlock()
}
