//go:build unix

package bond

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// lockFile takes an exclusive advisory lock next to path.
func lockFile(path string) (func(), error) {
	f, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if os.IsNotExist(err) {
		// directory does not exist yet; nothing to protect
		return func() {}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to open bond lock")
	}

	fd := int(f.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "failed to lock bond file")
	}
	return func() {
		_ = unix.Flock(fd, unix.LOCK_UN)
		f.Close()
	}, nil
}
