package utils

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/mpapenbr/iracelog-gap-engine/log"
)

// WaitForTCP tries to connect to addr until it succeeds, the timeout is reached
// or ctx is done.
func WaitForTCP(ctx context.Context, addr string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	log.Debug("wait for tcp connection",
		log.String("addr", addr),
		log.Duration("timeout", timeout))
	var d net.Dialer
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			log.Debug("tcp connection successful",
				log.String("addr", addr),
				log.Duration("duration", time.Since(start)))
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s could not be reached after %v", addr, timeout)
		case <-ticker.C:
		}
	}
}

// ExtractFromWebsocketURL returns host:port of a ws/wss url.
// Missing ports are derived from the scheme.
func ExtractFromWebsocketURL(wsURL string) (addr, proto string) {
	u, err := url.Parse(wsURL)
	if err != nil || u.Host == "" {
		return "", ""
	}
	switch u.Scheme {
	case "ws":
		return hostPort(u, "80"), u.Scheme
	case "wss":
		return hostPort(u, "443"), u.Scheme
	default:
		return "", ""
	}
}

// ExtractFromDBURL returns host:port of a postgres connection url
func ExtractFromDBURL(dbURL string) string {
	u, err := url.Parse(dbURL)
	if err != nil || u.Host == "" {
		return ""
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return ""
	}
	return hostPort(u, "5432")
}

// ExtractFromNatsURL returns host:port of a nats url
func ExtractFromNatsURL(natsURL string) string {
	u, err := url.Parse(natsURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return hostPort(u, "4222")
}

func hostPort(u *url.URL, defaultPort string) string {
	if port := u.Port(); port != "" {
		return net.JoinHostPort(u.Hostname(), port)
	}
	return net.JoinHostPort(u.Hostname(), defaultPort)
}
