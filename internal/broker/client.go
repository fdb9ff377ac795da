package broker

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rekurlabs/rekur/internal/errors"
	"github.com/rekurlabs/rekur/internal/pool"
	"github.com/rekurlabs/rekur/internal/protocol"
	"github.com/rekurlabs/rekur/internal/retry"
	"github.com/rekurlabs/rekur/internal/wire"
)

// Client dials the broker's listening socket and performs one
// request/response roundtrip per call. Connections are reused through the
// shared pool, so many short-lived sub-process requests ride the same path.
type Client struct {
	addr        string
	pool        *pool.Pool
	retryPolicy retry.Policy
}

func NewClient(addr string, connPool *pool.Pool, policy retry.Policy) *Client {
	if connPool == nil {
		connPool = pool.New(nil, 0, 0)
	}
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}
	return &Client{addr: addr, pool: connPool, retryPolicy: policy}
}

// Addr returns the broker address this client dials.
func (c *Client) Addr() string {
	return c.addr
}

// Complete sends one request record and waits for the response record.
// Transient transport failures are retried with backoff; a stale pooled
// connection is discarded and redialed once.
func (c *Client) Complete(ctx context.Context, req *protocol.CompletionRequest) (*protocol.CompletionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var resp *protocol.CompletionResponse
	err := retry.Do(ctx, c.retryPolicy, "broker roundtrip", func() error {
		var callErr error
		resp, callErr = c.roundtrip(ctx, req)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) roundtrip(ctx context.Context, req *protocol.CompletionRequest) (*protocol.CompletionResponse, error) {
	resp, err := c.exchange(ctx, req)
	if err != nil && errors.IsCategory(err, errors.ErrPeerDisconnect) {
		// Pooled connection went stale between checkout and use
		resp, err = c.exchange(ctx, req)
	}
	if err != nil {
		if errors.IsCategory(err, errors.ErrPeerDisconnect) {
			return nil, errors.WrapWithCategory(err, "broker connection lost", errors.ErrTransient)
		}
		return nil, err
	}
	if err := resp.Validate(); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) exchange(ctx context.Context, req *protocol.CompletionRequest) (*protocol.CompletionResponse, error) {
	conn, err := c.pool.Get(ctx, c.addr)
	if err != nil {
		return nil, err
	}

	if err := c.applyDeadline(ctx, conn); err != nil {
		c.pool.Discard(conn)
		return nil, err
	}

	if err := wire.Send(conn, req); err != nil {
		c.pool.Discard(conn)
		return nil, err
	}

	var resp protocol.CompletionResponse
	if err := wire.Receive(conn, &resp); err != nil {
		c.pool.Discard(conn)
		return nil, errors.WrapWithCategory(err, "read broker response", errors.ErrPeerDisconnect)
	}

	conn.SetDeadline(time.Time{})
	c.pool.Put(c.addr, conn)
	return &resp, nil
}

func (c *Client) applyDeadline(ctx context.Context, conn net.Conn) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		return nil
	}
	return conn.SetDeadline(deadline)
}

// Ask is the high-level form: one prompt in, one completion out. A failure
// response becomes a categorized error.
func (c *Client) Ask(ctx context.Context, prompt *protocol.Prompt, modelName string, depth int) (*protocol.ChatCompletion, error) {
	resp, err := c.Complete(ctx, &protocol.CompletionRequest{
		Prompt: prompt,
		Model:  modelName,
		Depth:  depth,
	})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, errors.MapError(fmt.Errorf("%s", resp.Error))
	}
	if resp.Completion == nil {
		return nil, errors.Internal("broker returned batched response for single prompt")
	}
	return resp.Completion, nil
}

// AskBatch fans a batch of prompts out through the broker against one
// resolved backend.
func (c *Client) AskBatch(ctx context.Context, prompts []protocol.Prompt, modelName string, depth int) ([]protocol.ChatCompletion, error) {
	resp, err := c.Complete(ctx, &protocol.CompletionRequest{
		Prompts: prompts,
		Model:   modelName,
		Depth:   depth,
	})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, errors.MapError(fmt.Errorf("%s", resp.Error))
	}
	if resp.Completions == nil {
		return nil, errors.Internal("broker returned single response for batched prompts")
	}
	return resp.Completions, nil
}
