//go:build !windows

package pipe

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"os"
)

const defaultNetwork = "unix"

func dialLocal(ctx context.Context, ep Endpoint) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", ep.Address)
}

func listenLocal(ep Endpoint) (net.Listener, error) {
	if ep.Network == "pipe" {
		return nil, &net.OpError{Op: "listen", Net: "pipe", Err: errors.ErrUnsupported}
	}
	// A socket file left by a crashed server blocks bind.
	if info, err := os.Stat(ep.Address); err == nil && info.Mode()&fs.ModeSocket != 0 {
		if conn, dialErr := net.Dial("unix", ep.Address); dialErr == nil {
			conn.Close()
		} else {
			_ = os.Remove(ep.Address)
		}
	}
	return net.Listen("unix", ep.Address)
}
