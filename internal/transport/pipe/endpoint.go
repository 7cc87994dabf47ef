package pipe

import (
	"context"
	"net"
	"strings"

	transportErrors "dmsdk/internal/errors"
)

const (
	unixScheme = "unix://"
	tcpScheme  = "tcp://"
)

// Endpoint is a parsed launcher address.
type Endpoint struct {
	Network string // "unix", "tcp" or "pipe"
	Address string
}

// ParseEndpoint interprets a launcher endpoint. Bare values are platform
// defaults: a socket path on unix, a pipe name on Windows.
func ParseEndpoint(raw string) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return Endpoint{}, transportErrors.ErrEndpointMissing
	case strings.HasPrefix(raw, tcpScheme):
		addr := strings.TrimPrefix(raw, tcpScheme)
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return Endpoint{}, transportErrors.Configuration("pipe.endpoint", "invalid tcp endpoint %q", raw)
		}
		return Endpoint{Network: "tcp", Address: addr}, nil
	case strings.HasPrefix(raw, unixScheme):
		path := strings.TrimPrefix(raw, unixScheme)
		if path == "" {
			return Endpoint{}, transportErrors.Configuration("pipe.endpoint", "empty unix socket path")
		}
		return Endpoint{Network: "unix", Address: path}, nil
	default:
		return Endpoint{Network: defaultNetwork, Address: raw}, nil
	}
}

func (e Endpoint) String() string {
	switch e.Network {
	case "tcp":
		return tcpScheme + e.Address
	case "unix":
		return unixScheme + e.Address
	default:
		return e.Address
	}
}

// Dial opens a connection to a launcher endpoint.
func Dial(ctx context.Context, endpoint string) (net.Conn, error) {
	ep, err := ParseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	if ep.Network == "tcp" {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", ep.Address)
	}
	return dialLocal(ctx, ep)
}

// Listen opens a listener for a launcher endpoint. The launcher simulator
// and tests are the only servers in this module.
func Listen(endpoint string) (net.Listener, error) {
	ep, err := ParseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	if ep.Network == "tcp" {
		return net.Listen("tcp", ep.Address)
	}
	return listenLocal(ep)
}
