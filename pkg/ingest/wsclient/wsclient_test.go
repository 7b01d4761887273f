//nolint:thelper,whitespace,lll,funlen // ok for tests
package wsclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// relay sends msgs on every connection and closes the connection afterwards
func relay(t *testing.T, msgs ...string) (srv *httptest.Server, conns *atomic.Int32) {
	conns = &atomic.Int32{}
	upgrader := websocket.Upgrader{}
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		conns.Add(1)
		for _, m := range msgs {
			if err := c.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		//nolint:errcheck // test
		c.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	}))
	t.Cleanup(srv.Close)
	return srv, conns
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClient_receivesAndReconnects(t *testing.T) {
	srv, conns := relay(t, "a", "b")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []string
	c := New(wsURL(srv), func(_ context.Context, data []byte) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(data))
		if len(got) == 4 {
			cancel()
		}
		return nil
	}, WithBackoff(10*time.Millisecond, 50*time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("client did not stop")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "a", "b"}, got[:4])
	assert.GreaterOrEqual(t, conns.Load(), int32(2))
}

func TestClient_retriesCountFailuresOnly(t *testing.T) {
	srv, conns := relay(t, "a")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var received atomic.Int32
	c := New(wsURL(srv), func(_ context.Context, data []byte) error {
		if received.Add(1) == 5 {
			cancel()
		}
		return nil
	}, WithBackoff(time.Millisecond, 5*time.Millisecond), WithMaxRetries(2))

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("client did not stop")
	}
	assert.Equal(t, int32(5), received.Load())
	assert.GreaterOrEqual(t, conns.Load(), int32(5))
}

func TestClient_giveUp(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	c := New(url, func(context.Context, []byte) error { return nil },
		WithBackoff(time.Millisecond, 5*time.Millisecond),
		WithMaxRetries(3))
	err := c.Run(context.Background())
	assert.Error(t, err)
}

func TestClient_stopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	c := New("ws://127.0.0.1:1", func(context.Context, []byte) error { return nil },
		WithBackoff(10*time.Millisecond, 20*time.Millisecond))
	assert.NoError(t, c.Run(ctx))
}
