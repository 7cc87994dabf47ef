//go:build windows

package pipe

import (
	"context"
	"net"
	"strings"

	"github.com/Microsoft/go-winio"
)

const (
	defaultNetwork = "pipe"
	pipePrefix     = `\\.\pipe\`
)

func pipePath(name string) string {
	if strings.HasPrefix(name, `\\`) {
		return name
	}
	return pipePrefix + name
}

func dialLocal(ctx context.Context, ep Endpoint) (net.Conn, error) {
	if ep.Network == "unix" {
		var d net.Dialer
		return d.DialContext(ctx, "unix", ep.Address)
	}
	return winio.DialPipeContext(ctx, pipePath(ep.Address))
}

func listenLocal(ep Endpoint) (net.Listener, error) {
	if ep.Network == "unix" {
		return net.Listen("unix", ep.Address)
	}
	return winio.ListenPipe(pipePath(ep.Address), &winio.PipeConfig{
		InputBufferSize:  64 * 1024,
		OutputBufferSize: 64 * 1024,
	})
}
