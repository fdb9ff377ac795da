package pool

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/rekurlabs/rekur/internal/errors"
)

// DialFunc opens a new connection to addr.
type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

type idleConn struct {
	conn     net.Conn
	returned time.Time
}

// Pool caches live connections keyed by remote address. Checkout and return
// are safe for concurrent use; idle connections past their TTL are closed.
type Pool struct {
	mu      sync.Mutex
	idle    map[string][]idleConn
	dial    DialFunc
	idleTTL time.Duration
	maxIdle int
	closed  bool
}

func New(dial DialFunc, idleTTL time.Duration, maxIdle int) *Pool {
	if dial == nil {
		dial = func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		}
	}
	if idleTTL <= 0 {
		idleTTL = time.Minute
	}
	if maxIdle <= 0 {
		maxIdle = 8
	}
	return &Pool{
		idle:    make(map[string][]idleConn),
		dial:    dial,
		idleTTL: idleTTL,
		maxIdle: maxIdle,
	}
}

// Get returns a cached connection for addr or dials a new one.
func (p *Pool) Get(ctx context.Context, addr string) (net.Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.Internal("pool closed")
	}

	conns := p.idle[addr]
	for len(conns) > 0 {
		// Take the most recently returned one first
		entry := conns[len(conns)-1]
		conns = conns[:len(conns)-1]
		p.idle[addr] = conns

		if time.Since(entry.returned) > p.idleTTL {
			entry.conn.Close()
			continue
		}
		p.mu.Unlock()
		return entry.conn, nil
	}
	p.mu.Unlock()

	conn, err := p.dial(ctx, addr)
	if err != nil {
		return nil, errors.WrapWithCategory(err, "dial "+addr, errors.ErrTransient)
	}
	return conn, nil
}

// Put returns a connection for reuse. Connections beyond the idle cap are
// closed instead of cached.
func (p *Pool) Put(addr string, conn net.Conn) {
	if conn == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || len(p.idle[addr]) >= p.maxIdle {
		conn.Close()
		return
	}
	p.idle[addr] = append(p.idle[addr], idleConn{conn: conn, returned: time.Now()})
}

// Discard closes a connection that failed mid-use instead of returning it.
func (p *Pool) Discard(conn net.Conn) {
	if conn != nil {
		conn.Close()
	}
}

// EvictIdle closes every cached connection idle past the TTL and returns
// how many were evicted.
func (p *Pool) EvictIdle() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	evicted := 0
	for addr, conns := range p.idle {
		kept := conns[:0]
		for _, entry := range conns {
			if time.Since(entry.returned) > p.idleTTL {
				entry.conn.Close()
				evicted++
				continue
			}
			kept = append(kept, entry)
		}
		if len(kept) == 0 {
			delete(p.idle, addr)
		} else {
			p.idle[addr] = kept
		}
	}

	if evicted > 0 {
		slog.Debug("Evicted idle connections", "count", evicted)
	}
	return evicted
}

// IdleCount reports cached connections for addr.
func (p *Pool) IdleCount(addr string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle[addr])
}

// Close shuts the pool and every cached connection.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	for _, conns := range p.idle {
		for _, entry := range conns {
			entry.conn.Close()
		}
	}
	p.idle = make(map[string][]idleConn)
}
