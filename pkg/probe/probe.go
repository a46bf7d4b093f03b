// Package probe checks whether a hub node still answers on its port.
package probe

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds a single reachability check.
const DefaultTimeout = 3 * time.Second

// Prober reports whether host:port accepts connections. It never returns an
// error: refused, timed out and malformed addresses are all "unreachable".
type Prober interface {
	Reachable(ctx context.Context, host string, port int) bool
}

// TCPProber dials the node's port and closes the connection immediately.
type TCPProber struct {
	Timeout time.Duration
}

// New returns a TCPProber; a non-positive timeout uses DefaultTimeout.
func New(timeout time.Duration) *TCPProber {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &TCPProber{Timeout: timeout}
}

func (p *TCPProber) Reachable(ctx context.Context, host string, port int) bool {
	if host == "" || port <= 0 || port > 65535 {
		return false
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if ctx == nil {
		ctx = context.Background()
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		log.Debug().Err(err).Str("addr", addr).Msg("probe failed")
		return false
	}
	_ = conn.Close()
	return true
}

// Func adapts a plain function to Prober.
type Func func(ctx context.Context, host string, port int) bool

func (f Func) Reachable(ctx context.Context, host string, port int) bool {
	return f(ctx, host, port)
}
