// Package portprobe allocates local TCP ports suitable for a subsequent
// connection toward a specific remote host.
//
// Instead of binding a listener on a wildcard address and hoping for the
// best, the probe asks the operating system to set up a real outbound
// connection to the remote endpoint with address reuse enabled, records
// the local address the kernel picked for it and closes the connection.
// The port comes from the ephemeral range routed toward that particular
// host, which avoids surprises on multi-homed machines, and address
// reuse keeps the kernel from refusing the port while the previous
// socket lingers in TIME_WAIT.
//
// The returned port is free at the moment of return. There is an
// inherent race before whoever asked binds it, typical ephemeral port
// selection policies will not re-issue it that quickly and no retry is
// attempted here.
package portprobe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

var (
	// ErrUnreachable is returned when the remote endpoint cannot be connected to.
	ErrUnreachable = errors.New("remote endpoint unreachable")

	// ErrAddressFamily is returned when the probe socket's local address is not a TCP address.
	ErrAddressFamily = errors.New("unexpected local address family")
)

// DefaultTimeout bounds a probe when the passed in context carries no deadline.
const DefaultTimeout = 10 * time.Second

// Local is the observed local endpoint of a probe.
type Local struct {
	Host string
	Port int
}

// Probe connects to host:port and returns the local endpoint the kernel
// assigned for the connection.
func Probe(ctx context.Context, host string, port int) (Local, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	dialer := &net.Dialer{
		Control: func(_, _ string, c syscall.RawConn) error {
			var soErr error
			if err := c.Control(func(fd uintptr) {
				soErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			}); err != nil {
				return fmt.Errorf("socket control: %w", err)
			}
			if soErr != nil {
				return fmt.Errorf("set SO_REUSEADDR: %w", soErr)
			}
			return nil
		},
	}

	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	if err != nil {
		return Local{}, fmt.Errorf("%w: probe %s:%d: %w", ErrUnreachable, host, port, err)
	}
	defer conn.Close()

	tcpAddr, ok := conn.LocalAddr().(*net.TCPAddr)
	if !ok || tcpAddr.IP == nil {
		return Local{}, fmt.Errorf("%w: %s", ErrAddressFamily, conn.LocalAddr())
	}

	return Local{Host: tcpAddr.IP.String(), Port: tcpAddr.Port}, nil
}
