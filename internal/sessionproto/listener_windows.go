//go:build windows

package sessionproto

import "golang.org/x/sys/windows"

func setReuseAddrAndNoLinger(fd uintptr) error {
	h := windows.Handle(fd)
	if err := windows.SetsockoptInt(h, windows.SOL_SOCKET, windows.SO_REUSEADDR, 1); err != nil {
		return err
	}
	return windows.SetsockoptLinger(h, windows.SOL_SOCKET, &windows.Linger{Onoff: 1, Linger: 0})
}
