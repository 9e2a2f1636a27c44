// Package natsclient manages the NATS connection shared by the JetStream
// source, the KV checkpoint store and the object-store storage backend.
package natsclient

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/citystreams/errors"
	"github.com/c360/citystreams/metric"
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

// ErrNotConnected is returned by operations issued before Connect succeeds
// or after Close.
var ErrNotConnected = stderrors.New("not connected to NATS")

// Client owns one NATS connection and its JetStream context.
type Client struct {
	url     string
	status  atomic.Value // ConnectionStatus
	logger  *slog.Logger
	metrics *metric.Metrics

	conn *nats.Conn
	js   jetstream.JetStream

	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	username string
	password string
	token    string

	tlsConfig *tls.Config

	clientName string

	mu     sync.RWMutex
	closed atomic.Bool
}

// NewClient creates a client for url. Nothing is dialled until Connect.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:           url,
		logger:        slog.Default(),
		maxReconnects: -1,
		reconnectWait: 2 * time.Second,
		pingInterval:  30 * time.Second,
		timeout:       5 * time.Second,
		drainTimeout:  30 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.logger = c.logger.With("component", "natsclient")
	c.status.Store(StatusDisconnected)
	return c, nil
}

// URL returns the NATS server URL
func (c *Client) URL() string {
	return c.url
}

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	return c.status.Load().(ConnectionStatus)
}

func (c *Client) setStatus(status ConnectionStatus) {
	c.status.Store(status)
	c.metrics.RecordNATSStatus(status == StatusConnected)
}

// IsHealthy returns true if the connection is up
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// Conn returns the underlying connection, or nil before Connect.
func (c *Client) Conn() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *Client) connectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.PingInterval(c.pingInterval),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleError),
	}

	if c.username != "" && c.password != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	if c.tlsConfig != nil {
		opts = append(opts, nats.Secure(c.tlsConfig))
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}
	return opts
}

// Connect dials the server and initialises JetStream. Failures are transient.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return errors.WrapFatal(ErrNotConnected, "Client", "Connect", "client closed")
	}

	c.setStatus(StatusConnecting)
	c.logger.Info("Connecting to NATS", "url", c.url)

	type result struct {
		conn *nats.Conn
		js   jetstream.JetStream
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(c.url, c.connectionOptions()...)
		if err != nil {
			done <- result{err: err}
			return
		}
		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
			done <- result{err: err}
			return
		}
		done <- result{conn: conn, js: js}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			c.setStatus(StatusDisconnected)
			return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrNoConnection, r.err),
				"Client", "Connect", "establish connection")
		}
		c.mu.Lock()
		c.conn, c.js = r.conn, r.js
		c.mu.Unlock()
	case <-ctx.Done():
		c.setStatus(StatusDisconnected)
		// A late successful dial must not leak.
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}

	c.setStatus(StatusConnected)
	c.logger.Info("Connected to NATS", "url", c.url)
	return nil
}

// WaitForConnection blocks until the client reports connected or ctx ends.
func (c *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if c.IsHealthy() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("connection timeout: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Close drains the connection, bounded by the drain timeout and ctx.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	conn := c.conn
	c.conn, c.js = nil, nil
	c.username, c.password, c.token = "", "", ""
	c.mu.Unlock()

	if conn == nil {
		c.setStatus(StatusDisconnected)
		return nil
	}

	drainTimeout := c.drainTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
			drainTimeout = remaining
		}
	}

	drained := make(chan error, 1)
	go func() { drained <- conn.Drain() }()

	var err error
	select {
	case derr := <-drained:
		if derr != nil {
			err = errors.Wrap(derr, "Client", "Close", "drain connection")
		}
	case <-time.After(drainTimeout):
		err = errors.WrapTransient(fmt.Errorf("drain timeout after %v", drainTimeout),
			"Client", "Close", "drain timeout")
	case <-ctx.Done():
		err = errors.Wrap(ctx.Err(), "Client", "Close", "context cancelled during drain")
	}
	if err != nil {
		c.logger.Warn("NATS drain incomplete, closing", "error", err)
	}

	conn.Close()
	c.setStatus(StatusDisconnected)
	return err
}

// JetStream returns the JetStream context
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.js == nil {
		return nil, errors.WrapTransient(ErrNotConnected, "Client", "JetStream", "get JetStream context")
	}
	return c.js, nil
}

// EnsureStream returns the stream called name, creating it over subjects
// when it does not exist yet. An existing stream is left as configured.
func (c *Client) EnsureStream(ctx context.Context, name string, subjects []string) (jetstream.Stream, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	stream, err := js.Stream(ctx, name)
	if err == nil {
		return stream, nil
	}
	if !stderrors.Is(err, jetstream.ErrStreamNotFound) {
		return nil, errors.WrapTransient(err, "Client", "EnsureStream", fmt.Sprintf("look up stream %s", name))
	}

	stream, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:     name,
		Subjects: subjects,
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		if isAlreadyExistsError(err) {
			return js.Stream(ctx, name)
		}
		return nil, errors.WrapTransient(err, "Client", "EnsureStream", fmt.Sprintf("create stream %s", name))
	}
	c.logger.Info("Created JetStream stream", "stream", name, "subjects", subjects)
	return stream, nil
}

// KeyValueBucket returns the KV bucket named in cfg, creating it on first use.
func (c *Client) KeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	bucket, err := js.KeyValue(ctx, cfg.Bucket)
	if err == nil {
		return bucket, nil
	}

	bucket, err = js.CreateKeyValue(ctx, cfg)
	if err != nil {
		if isAlreadyExistsError(err) {
			// Lost a creation race with another process.
			bucket, err = js.KeyValue(ctx, cfg.Bucket)
			if err == nil {
				return bucket, nil
			}
		}
		return nil, errors.WrapTransient(err, "Client", "KeyValueBucket",
			fmt.Sprintf("create bucket %s", cfg.Bucket))
	}

	c.logger.Info("Created KV bucket", "bucket", cfg.Bucket)
	return bucket, nil
}

// ObjectStoreBucket returns the object store named in cfg, creating it on
// first use.
func (c *Client) ObjectStoreBucket(ctx context.Context, cfg jetstream.ObjectStoreConfig) (jetstream.ObjectStore, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	store, err := js.ObjectStore(ctx, cfg.Bucket)
	if err == nil {
		return store, nil
	}

	store, err = js.CreateObjectStore(ctx, cfg)
	if err != nil {
		if isAlreadyExistsError(err) {
			store, err = js.ObjectStore(ctx, cfg.Bucket)
			if err == nil {
				return store, nil
			}
		}
		return nil, errors.WrapTransient(err, "Client", "ObjectStoreBucket",
			fmt.Sprintf("create object store %s", cfg.Bucket))
	}

	c.logger.Info("Created object store", "bucket", cfg.Bucket)
	return store, nil
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	if c.closed.Load() {
		return
	}
	c.setStatus(StatusReconnecting)
	c.logger.Warn("NATS disconnected", "error", err)
}

func (c *Client) handleReconnect(_ *nats.Conn) {
	c.setStatus(StatusConnected)
	c.metrics.RecordNATSReconnect()
	c.logger.Info("NATS reconnected", "url", c.url)
}

func (c *Client) handleClosed(_ *nats.Conn) {
	c.setStatus(StatusDisconnected)
}

func (c *Client) handleError(_ *nats.Conn, _ *nats.Subscription, err error) {
	c.logger.Error("NATS error", "error", err)
}

func isAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "already in use") || strings.Contains(msg, "already exists")
}
