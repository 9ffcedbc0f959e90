// Package natsclient provides a managed NATS connection for the gateway.
package natsclient

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/patseev/caliban/errors"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Client manages a NATS connection with reconnect handling and structured
// logging of connection lifecycle events.
type Client struct {
	url    string
	logger *slog.Logger

	conn *nats.Conn

	// Connection options
	clientName    string
	maxReconnects int
	reconnectWait time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	// Callbacks
	onDisconnect func(error)
	onReconnect  func()

	mu     sync.RWMutex
	status ConnectionStatus
}

// NewClient creates a new NATS client with optional configuration
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:    url,
		logger: slog.Default().With("component", "natsclient"),
		// Sensible defaults
		clientName:    "caliban-gateway",
		maxReconnects: -1, // infinite by default
		reconnectWait: 2 * time.Second,
		timeout:       5 * time.Second,
		drainTimeout:  30 * time.Second,
		status:        StatusDisconnected,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	return c, nil
}

// URL returns the NATS server URL
func (c *Client) URL() string {
	return c.url
}

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// GetConnection returns the current NATS connection, or nil before Connect.
func (c *Client) GetConnection() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// SetConnection sets the NATS connection (for testing)
func (c *Client) SetConnection(conn *nats.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	if conn != nil && conn.IsConnected() {
		c.status = StatusConnected
	}
}

// IsConnected reports whether the underlying connection is established.
func (c *Client) IsConnected() bool {
	conn := c.GetConnection()
	return conn != nil && conn.IsConnected()
}

// Connect establishes the NATS connection. It blocks until the connection
// is established, the connect timeout elapses, or ctx is done.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Client", "Connect", "already connected")
	}
	c.status = StatusConnecting
	c.mu.Unlock()

	opts := []nats.Option{
		nats.Name(c.clientName),
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.setStatus(StatusReconnecting)
			c.logger.Warn("NATS disconnected", "error", err)
			if c.onDisconnect != nil {
				c.onDisconnect(err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.setStatus(StatusConnected)
			c.logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
			if c.onReconnect != nil {
				c.onReconnect()
			}
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.setStatus(StatusDisconnected)
			c.logger.Info("NATS connection closed")
		}),
	}

	connCh := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(c.url, opts...)
		if err != nil {
			connCh <- err
			return
		}
		c.mu.Lock()
		c.conn = conn
		c.status = StatusConnected
		c.mu.Unlock()
		connCh <- nil
	}()

	select {
	case err := <-connCh:
		if err != nil {
			c.setStatus(StatusDisconnected)
			return errors.WrapTransient(err, "Client", "Connect", "establish connection")
		}
		c.logger.Info("NATS connected", "url", c.url)
		return nil
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "establish connection")
	}
}

// Close drains and closes the connection. Safe to call multiple times.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.status = StatusDisconnected
	c.mu.Unlock()

	if conn == nil {
		return
	}

	if err := conn.Drain(); err != nil {
		c.logger.Warn("NATS drain failed, closing immediately", "error", err)
		conn.Close()
	}
}

func (c *Client) setStatus(status ConnectionStatus) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
}
