package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/rekurlabs/rekur/internal/concurrency"
	"github.com/rekurlabs/rekur/internal/errors"
	"github.com/rekurlabs/rekur/internal/model"
	"github.com/rekurlabs/rekur/internal/observability"
	"github.com/rekurlabs/rekur/internal/protocol"
	"github.com/rekurlabs/rekur/internal/retry"
	"github.com/rekurlabs/rekur/internal/wire"
)

type RuntimeConfig struct {
	ShutdownTimeout time.Duration
	RetryPolicy     retry.Policy
}

// Server accepts completion requests over the length-prefixed wire
// protocol, one goroutine per connection, and replies exactly once per
// request.
type Server struct {
	mu      sync.RWMutex
	started bool
	quit    chan struct{}
	wg      sync.WaitGroup

	registry *Registry
	guard    *BudgetGuard
	bindAddr string
	listener net.Listener

	shutdownTimeout time.Duration
	retryPolicy     retry.Policy
}

func NewServer(registry *Registry, guard *BudgetGuard, bindAddr string, runtimeCfg RuntimeConfig) *Server {
	if runtimeCfg.ShutdownTimeout <= 0 {
		runtimeCfg.ShutdownTimeout = 5 * time.Second
	}
	if runtimeCfg.RetryPolicy.MaxAttempts == 0 {
		runtimeCfg.RetryPolicy = retry.DefaultPolicy()
	}

	return &Server{
		registry: registry,
		guard:    guard,
		bindAddr: bindAddr,

		shutdownTimeout: runtimeCfg.ShutdownTimeout,
		retryPolicy:     runtimeCfg.RetryPolicy,
	}
}

// Start binds the listener and begins accepting connections. It returns
// the bound address, which differs from the configured one when port 0
// was requested.
func (s *Server) Start(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return "", errors.InvalidInput("broker already started")
	}

	listener, err := net.Listen("tcp", s.bindAddr)
	if err != nil {
		return "", errors.Wrap(err, "bind broker listener")
	}

	s.started = true
	s.quit = make(chan struct{})
	s.listener = listener

	serverCtx, cancel := context.WithCancel(ctx)

	s.wg.Add(1)
	concurrency.SafeGo(func() {
		defer s.wg.Done()
		defer cancel()

		slog.Info("Broker started", "addr", listener.Addr().String())
		s.acceptLoop(serverCtx)
		slog.Info("Broker stopped", "addr", listener.Addr().String())
	}, nil)

	return listener.Addr().String(), nil
}

// Addr returns the bound listener address, or empty before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			case <-ctx.Done():
				return
			default:
			}
			slog.Warn("Accept failed", "error", err)
			continue
		}

		// Connection handlers are not tracked by the waitgroup, so a
		// stalled peer never blocks shutdown.
		concurrency.SafeGo(func() {
			s.handleConn(ctx, conn)
		}, nil)
	}
}

// handleConn serves requests until the peer closes. Each decoded request
// gets exactly one reply.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	for {
		select {
		case <-s.quit:
			return
		case <-ctx.Done():
			return
		default:
		}

		var req protocol.CompletionRequest
		if err := wire.Receive(conn, &req); err != nil {
			if errors.IsCategory(err, errors.ErrPeerDisconnect) {
				// Expected during concurrent teardown
				slog.Debug("Peer disconnected mid-request", "remote", conn.RemoteAddr())
				return
			}
			if errors.IsCategory(err, errors.ErrInvalidInput) {
				s.reply(conn, protocol.ErrorResponse(err))
				continue
			}
			// Clean zero-length close
			return
		}

		resp := s.serveRequest(ctx, &req)
		s.reply(conn, resp)
	}
}

// reply is best-effort: a send failure here means the peer went away, which
// is not worth more than a debug line.
func (s *Server) reply(conn net.Conn, resp *protocol.CompletionResponse) {
	if err := wire.Send(conn, resp); err != nil {
		slog.Debug("Failed to send response", "remote", conn.RemoteAddr(), "error", err)
	}
}

func (s *Server) serveRequest(ctx context.Context, req *protocol.CompletionRequest) *protocol.CompletionResponse {
	scope := "root"
	if req.Depth >= 1 {
		scope = "sub"
	}

	resp, err := s.process(ctx, req)
	if err != nil {
		observability.BrokerRequests.WithLabelValues(scope, "error").Inc()
		observability.Errors.WithLabelValues(errors.Category(err)).Inc()
		slog.Warn("Broker request failed", "depth", req.Depth, "error", err)
		return protocol.ErrorResponse(err)
	}

	observability.BrokerRequests.WithLabelValues(scope, "ok").Inc()
	return resp
}

func (s *Server) process(ctx context.Context, req *protocol.CompletionRequest) (*protocol.CompletionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	client, err := s.registry.Resolve(req)
	if err != nil {
		return nil, err
	}

	if err := s.guard.Check(client, req.Depth); err != nil {
		return nil, err
	}

	var resp *protocol.CompletionResponse
	if req.Batched() {
		resp, err = s.processBatch(ctx, client, req)
	} else {
		resp, err = s.processSingle(ctx, client, req)
	}
	if err != nil {
		return nil, err
	}

	// Post-call checkpoint: never hand back a completion that blew
	// through budget, even at the cost of discarding a paid-for call.
	if err := s.guard.Check(client, req.Depth); err != nil {
		return nil, err
	}

	return resp, nil
}

func (s *Server) processSingle(ctx context.Context, client model.BackendClient, req *protocol.CompletionRequest) (*protocol.CompletionResponse, error) {
	start := time.Now()

	var text string
	err := retry.Do(ctx, s.retryPolicy, "backend complete", func() error {
		var callErr error
		text, callErr = client.Complete(ctx, req.Prompt)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	s.recordTokens(client)

	return &protocol.CompletionResponse{
		Success: true,
		Completion: &protocol.ChatCompletion{
			Model:          client.ModelName(),
			Prompt:         req.Prompt,
			Response:       text,
			Usage:          client.UsageSummary(),
			ElapsedSeconds: time.Since(start).Seconds(),
		},
	}, nil
}

// processBatch fans all prompts out concurrently against the one resolved
// client and waits for every item. Elapsed time is reported as the total
// divided evenly per item.
func (s *Server) processBatch(ctx context.Context, client model.BackendClient, req *protocol.CompletionRequest) (*protocol.CompletionResponse, error) {
	start := time.Now()

	texts := make([]string, len(req.Prompts))
	errs := make([]error, len(req.Prompts))

	var wg sync.WaitGroup
	for i := range req.Prompts {
		wg.Add(1)
		i := i
		concurrency.SafeGo(func() {
			defer wg.Done()
			errs[i] = retry.Do(ctx, s.retryPolicy, "backend complete", func() error {
				var callErr error
				texts[i], callErr = client.Complete(ctx, &req.Prompts[i])
				return callErr
			})
		}, func(interface{}) {
			errs[i] = errors.Internal("panic during batched completion")
		})
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("batch item %d", i))
		}
	}

	s.recordTokens(client)

	perItem := time.Since(start).Seconds()
	if len(req.Prompts) > 0 {
		perItem /= float64(len(req.Prompts))
	}

	completions := make([]protocol.ChatCompletion, len(req.Prompts))
	for i := range req.Prompts {
		completions[i] = protocol.ChatCompletion{
			Model:          client.ModelName(),
			Prompt:         &req.Prompts[i],
			Response:       texts[i],
			Usage:          client.UsageSummary(),
			ElapsedSeconds: perItem,
		}
	}

	return &protocol.CompletionResponse{Success: true, Completions: completions}, nil
}

func (s *Server) recordTokens(client model.BackendClient) {
	last := client.LastUsage()
	observability.TokenUsage.WithLabelValues(client.ModelName(), "input").Add(float64(last.InputTokens))
	observability.TokenUsage.WithLabelValues(client.ModelName(), "output").Add(float64(last.OutputTokens))
}

// Stop closes the listener and waits for the accept loop, bounded by the
// shutdown timeout. In-flight connection handlers are abandoned.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	close(s.quit)
	s.listener.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.started = false
		return nil
	case <-time.After(s.shutdownTimeout):
		slog.Warn("Broker shutdown timeout, abandoning handlers")
		s.started = false
		return errors.Internal("shutdown timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Health reports whether the broker is accepting connections.
func (s *Server) Health() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started {
		return errors.Internal("broker not started")
	}
	if s.listener == nil {
		return errors.Internal("listener not initialized")
	}
	return nil
}
