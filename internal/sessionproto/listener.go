package sessionproto

import (
	"context"
	"net"
	"syscall"
)

// Listen binds a TCP listener with REUSEADDR and linger disabled, so a
// restart after a crash does not wait out TIME_WAIT and a forced close does
// not leave the port half-shut. NODELAY is set per-connection in Serve,
// since it is a property of the accepted socket, not the listening one.
func Listen(ctx context.Context, address string) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = setReuseAddrAndNoLinger(fd)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	return lc.Listen(ctx, "tcp", address)
}
