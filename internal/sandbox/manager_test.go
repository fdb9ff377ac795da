package sandbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerReusesOwnerEnvironment(t *testing.T) {
	mgr := NewManager(Options{ExecTimeout: 5 * time.Second})
	t.Cleanup(mgr.Close)

	env := mgr.Acquire("alice")
	_, err := env.Execute(context.Background(), "x = 1")
	require.NoError(t, err)
	mgr.Release("alice")

	// Same owner gets the same namespace back.
	env = mgr.Acquire("alice")
	rendered, ok := env.Lookup("x")
	mgr.Release("alice")
	require.True(t, ok)
	assert.Equal(t, "1", rendered)

	// A different owner starts clean.
	other := mgr.Acquire("bob")
	_, ok = other.Lookup("x")
	mgr.Release("bob")
	assert.False(t, ok)
}

func TestManagerSerializesSameOwner(t *testing.T) {
	mgr := NewManager(Options{ExecTimeout: 5 * time.Second})
	t.Cleanup(mgr.Close)

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	first := mgr.Acquire("carol")
	_ = first

	wg.Add(1)
	go func() {
		defer wg.Done()
		mgr.Acquire("carol")
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
		mgr.Release("carol")
	}()

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	order = append(order, 1)
	mu.Unlock()
	mgr.Release("carol")

	wg.Wait()
	assert.Equal(t, []int{1, 2}, order)
}

func TestManagerRemove(t *testing.T) {
	mgr := NewManager(Options{ExecTimeout: 5 * time.Second})
	t.Cleanup(mgr.Close)

	env := mgr.Acquire("dave")
	_, err := env.Execute(context.Background(), "x = 1")
	require.NoError(t, err)
	mgr.Remove("dave")
	mgr.Release("dave")

	env = mgr.Acquire("dave")
	_, ok := env.Lookup("x")
	mgr.Release("dave")
	assert.False(t, ok)
}
