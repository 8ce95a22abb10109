package shell

import (
	"os"

	"golang.org/x/sys/unix"
)

func currentUmask() os.FileMode {
	old := unix.Umask(0)
	unix.Umask(old)
	return os.FileMode(old)
}
