//go:build !windows

package sessionproto

import "golang.org/x/sys/unix"

func setReuseAddrAndNoLinger(fd uintptr) error {
	if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return err
	}
	return unix.SetsockoptLinger(int(fd), unix.SOL_SOCKET, &unix.Linger{Onoff: 1, Linger: 0})
}
