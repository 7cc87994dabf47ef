package pipe

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"

	transportErrors "dmsdk/internal/errors"
	"dmsdk/internal/infrastructure"
	"dmsdk/pkg/contracts/launcher"
)

// DefaultConnectTimeout applies when Connect is given a non-positive timeout.
const DefaultConnectTimeout = 5 * time.Second

// DialFunc opens a raw connection to an endpoint.
type DialFunc func(ctx context.Context, endpoint string) (net.Conn, error)

// Client is a launcher session over a single connection.
type Client struct {
	// mu serialises exchanges. It is held for a whole request/response.
	mu sync.Mutex

	connMu sync.Mutex
	conn   net.Conn
	reader *bufio.Reader

	connected *atomic.Bool
	nextID    *atomic.Uint64
	endpoint  *atomic.String

	// requestTimeout bounds a Call whose ctx has no deadline. Guarded by mu.
	requestTimeout    time.Duration
	requestTimeoutSet bool

	dial   DialFunc
	logger *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithDialer replaces the platform dialer.
func WithDialer(dial DialFunc) ClientOption {
	return func(c *Client) {
		if dial != nil {
			c.dial = dial
		}
	}
}

// WithRequestTimeout bounds every call made without a ctx deadline. By
// default the timeout given to Connect is used.
func WithRequestTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.requestTimeout = timeout
			c.requestTimeoutSet = true
		}
	}
}

// WithClientLogger sets the client logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a disconnected client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		connected: atomic.NewBool(false),
		nextID:    atomic.NewUint64(0),
		endpoint:  atomic.NewString(""),
		dial:      Dial,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = infrastructure.ComponentLogger(c.logger, "pipe_client")
	return c
}

// Connect opens the connection, replacing any previous one.
func (c *Client) Connect(ctx context.Context, endpoint string, timeout time.Duration) error {
	if _, err := ParseEndpoint(endpoint); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeConn()
	if !c.requestTimeoutSet {
		c.requestTimeout = timeout
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := c.dial(dialCtx, endpoint)
	if err != nil {
		c.logger.Warn("Launcher connection failed",
			slog.String("endpoint", endpoint),
			slog.Duration("timeout", timeout),
			slog.String("error", err.Error()),
		)
		return transportErrors.Connectivity("pipe.connect", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.reader = bufio.NewReaderSize(conn, 64*1024)
	c.connMu.Unlock()

	c.endpoint.Store(endpoint)
	c.connected.Store(true)
	c.logger.Debug("Connected to launcher", slog.String("endpoint", endpoint))
	return nil
}

// IsConnected reports whether the last Connect succeeded and the connection
// has not failed since.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Endpoint returns the endpoint of the current or last connection.
func (c *Client) Endpoint() string {
	return c.endpoint.Load()
}

// Close closes the connection. It interrupts an exchange in progress.
func (c *Client) Close() error {
	return c.closeConn()
}

func (c *Client) closeConn() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.connected.Store(false)
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	return err
}

// Call sends method with params and returns the raw result of the matching
// response. A nil params sends an empty object. A non-zero response code is
// returned as *errors.CodeError. Transport failures close the connection
// and return a connectivity error; cancellation returns ctx.Err().
//
// When ctx has no deadline the exchange is bounded by the request timeout,
// and a launcher that does not answer in time is a connectivity error.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	body, err := encodeParams(params)
	if err != nil {
		return nil, transportErrors.Wrap(transportErrors.KindEncoding, "pipe.call", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.connMu.Lock()
	conn, reader := c.conn, c.reader
	c.connMu.Unlock()
	if conn == nil {
		return nil, transportErrors.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	callCtx := ctx
	if _, ok := ctx.Deadline(); !ok && c.requestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	// The socket is only ever interrupted from here, after callCtx is done,
	// so an i/o timeout always has a ctx error to report.
	if err := conn.SetDeadline(time.Time{}); err != nil {
		c.fail(conn)
		return nil, transportErrors.Connectivity("pipe.call", err)
	}
	interrupted := make(chan struct{})
	stop := context.AfterFunc(callCtx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
		close(interrupted)
	})
	defer func() {
		if !stop() {
			<-interrupted
		}
	}()

	id := c.nextID.Inc()
	req := launcher.Request{ID: id, Method: method, Params: body}
	if err := writeFrame(conn, req); err != nil {
		return nil, c.ioError(ctx, callCtx, conn, method, err)
	}

	frame, err := readFrame(reader)
	if err != nil {
		return nil, c.ioError(ctx, callCtx, conn, method, err)
	}

	var resp launcher.Response
	if err := json.Unmarshal(frame, &resp); err != nil {
		c.fail(conn)
		return nil, transportErrors.Wrap(transportErrors.KindProtocol, "pipe.call", transportErrors.ErrMalformedEnvelope)
	}
	if resp.ID != id {
		// The stream is out of step; nothing read from it can be trusted.
		c.fail(conn)
		return nil, transportErrors.Protocol("pipe.call", "response id %d does not match request id %d", resp.ID, id)
	}
	if resp.Code != 0 {
		return nil, transportErrors.NewCodeError(method, resp.Code, resp.Message)
	}
	return resp.Result, nil
}

func (c *Client) ioError(ctx, callCtx context.Context, conn net.Conn, method string, err error) error {
	c.fail(conn)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if callCtx.Err() != nil {
		return transportErrors.Connectivity("pipe.call",
			fmt.Errorf("launcher did not answer %s within %s", method, c.requestTimeout))
	}
	if errors.Is(err, errFrameTooLarge) {
		return transportErrors.Protocol("pipe.call", "%v", err)
	}
	return transportErrors.Connectivity("pipe.call", err)
}

// fail drops conn after a broken exchange, unless Connect already replaced it.
func (c *Client) fail(conn net.Conn) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != conn {
		return
	}
	c.connected.Store(false)
	_ = c.conn.Close()
	c.conn = nil
	c.reader = nil
	c.logger.Warn("Launcher connection dropped", slog.String("endpoint", c.endpoint.Load()))
}

func encodeParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if len(p) == 0 {
			return json.RawMessage("{}"), nil
		}
		if !json.Valid(p) {
			return nil, errors.New("params are not valid JSON")
		}
		return p, nil
	default:
		return json.Marshal(p)
	}
}
