package pool

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	net.Conn
	closed bool
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func dialCounter(count *int) DialFunc {
	return func(ctx context.Context, addr string) (net.Conn, error) {
		*count++
		return &fakeConn{}, nil
	}
}

func TestGetDialsWhenEmpty(t *testing.T) {
	dials := 0
	p := New(dialCounter(&dials), time.Minute, 4)
	defer p.Close()

	conn, err := p.Get(context.Background(), "127.0.0.1:7000")
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Equal(t, 1, dials)
}

func TestPutThenGetReuses(t *testing.T) {
	dials := 0
	p := New(dialCounter(&dials), time.Minute, 4)
	defer p.Close()

	conn, err := p.Get(context.Background(), "127.0.0.1:7000")
	require.NoError(t, err)
	p.Put("127.0.0.1:7000", conn)
	assert.Equal(t, 1, p.IdleCount("127.0.0.1:7000"))

	again, err := p.Get(context.Background(), "127.0.0.1:7000")
	require.NoError(t, err)
	assert.Same(t, conn, again)
	assert.Equal(t, 1, dials)
}

func TestPoolIsKeyedByAddress(t *testing.T) {
	dials := 0
	p := New(dialCounter(&dials), time.Minute, 4)
	defer p.Close()

	conn, err := p.Get(context.Background(), "127.0.0.1:7000")
	require.NoError(t, err)
	p.Put("127.0.0.1:7000", conn)

	other, err := p.Get(context.Background(), "127.0.0.1:7001")
	require.NoError(t, err)
	assert.NotSame(t, conn, other)
	assert.Equal(t, 2, dials)
}

func TestIdleEviction(t *testing.T) {
	dials := 0
	p := New(dialCounter(&dials), 10*time.Millisecond, 4)
	defer p.Close()

	conn, err := p.Get(context.Background(), "127.0.0.1:7000")
	require.NoError(t, err)
	fake := conn.(*fakeConn)
	p.Put("127.0.0.1:7000", conn)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, p.EvictIdle())
	assert.True(t, fake.closed)
	assert.Equal(t, 0, p.IdleCount("127.0.0.1:7000"))
}

func TestStaleConnSkippedOnGet(t *testing.T) {
	dials := 0
	p := New(dialCounter(&dials), 10*time.Millisecond, 4)
	defer p.Close()

	conn, err := p.Get(context.Background(), "127.0.0.1:7000")
	require.NoError(t, err)
	p.Put("127.0.0.1:7000", conn)

	time.Sleep(20 * time.Millisecond)

	fresh, err := p.Get(context.Background(), "127.0.0.1:7000")
	require.NoError(t, err)
	assert.NotSame(t, conn, fresh)
	assert.True(t, conn.(*fakeConn).closed)
	assert.Equal(t, 2, dials)
}

func TestMaxIdleCap(t *testing.T) {
	dials := 0
	p := New(dialCounter(&dials), time.Minute, 1)
	defer p.Close()

	a, _ := p.Get(context.Background(), "addr")
	b, _ := p.Get(context.Background(), "addr")
	p.Put("addr", a)
	p.Put("addr", b)

	assert.Equal(t, 1, p.IdleCount("addr"))
	assert.True(t, b.(*fakeConn).closed)
}

func TestCloseRejectsCheckout(t *testing.T) {
	dials := 0
	p := New(dialCounter(&dials), time.Minute, 4)

	conn, _ := p.Get(context.Background(), "addr")
	p.Put("addr", conn)
	p.Close()

	assert.True(t, conn.(*fakeConn).closed)
	_, err := p.Get(context.Background(), "addr")
	assert.Error(t, err)
}
