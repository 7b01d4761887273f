// Package wsclient receives telemetry frames from the upstream relay.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/mpapenbr/iracelog-gap-engine/log"
)

// Handler is called for every received text/binary message
type Handler func(ctx context.Context, data []byte) error

type Client struct {
	url            string
	handler        Handler
	dialer         *websocket.Dialer
	initialBackoff time.Duration
	maxBackoff     time.Duration
	maxRetries     uint
	l              *log.Logger
}

type Option func(*Client)

func WithBackoff(initial, maxInterval time.Duration) Option {
	return func(c *Client) {
		c.initialBackoff = initial
		c.maxBackoff = maxInterval
	}
}

// WithMaxRetries limits the number of consecutive failed connection attempts.
// The count starts over after each established connection.
// 0 means retry until the context is done.
func WithMaxRetries(n uint) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

func New(url string, handler Handler, opts ...Option) *Client {
	ret := &Client{
		url:            url,
		handler:        handler,
		dialer:         websocket.DefaultDialer,
		initialBackoff: 500 * time.Millisecond,
		maxBackoff:     10 * time.Second,
		l:              log.Default().Named("ingest.ws"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

var errConnectionLost = errors.New("connection lost")

// Run connects to the upstream server and processes messages until ctx is done.
// Lost connections are re-established with exponential backoff.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.connect(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.initialBackoff):
		}
	}
}

// connect retries until a session could be established.
// It returns nil once an established session has ended.
func (c *Client) connect(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialBackoff
	b.MaxInterval = c.maxBackoff

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, d time.Duration) {
			c.l.Warn("upstream connection failed, retrying",
				log.String("url", c.url),
				log.Duration("in", d),
				log.ErrorField(err))
		}),
	}
	if c.maxRetries > 0 {
		opts = append(opts, backoff.WithMaxTries(c.maxRetries))
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(ctx.Err())
		}
		if connected {
			c.l.Info("upstream connection closed", log.ErrorField(err))
			return struct{}{}, nil
		}
		return struct{}{}, err
	}, opts...)
	return err
}

// session handles one connection. connected reports if the dial succeeded.
func (c *Client) session(ctx context.Context) (connected bool, err error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", c.url, err)
	}
	c.l.Info("connected to upstream", log.String("url", c.url))

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			//nolint:errcheck // best effort
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
			conn.Close()
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			return true, fmt.Errorf("%w: %w", errConnectionLost, err)
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		if err := c.handler(ctx, data); err != nil {
			c.l.Debug("could not handle message", log.ErrorField(err))
		}
	}
}
