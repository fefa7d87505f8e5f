//go:build unix

package quota

import (
	"os"
	"syscall"
)

// lockFile takes an flock on path, shared for reads and exclusive for
// writes. A missing lock file on a read means nothing has been written yet.
func lockFile(path string, exclusive bool) (func(), error) {
	flag, how := os.O_RDONLY, syscall.LOCK_SH
	if exclusive {
		flag, how = os.O_CREATE|os.O_RDWR, syscall.LOCK_EX
	}
	f, err := os.OpenFile(path, flag, 0o600)
	if err != nil {
		if !exclusive && os.IsNotExist(err) {
			return func() {}, nil
		}
		return nil, err
	}
	if err := syscall.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		return nil, err
	}
	return func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
	}, nil
}
