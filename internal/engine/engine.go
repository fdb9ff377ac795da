package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rekurlabs/rekur/internal/broker"
	"github.com/rekurlabs/rekur/internal/errors"
	"github.com/rekurlabs/rekur/internal/logger"
	"github.com/rekurlabs/rekur/internal/model"
	"github.com/rekurlabs/rekur/internal/observability"
	"github.com/rekurlabs/rekur/internal/pool"
	"github.com/rekurlabs/rekur/internal/protocol"
	"github.com/rekurlabs/rekur/internal/retry"
	"github.com/rekurlabs/rekur/internal/sandbox"
)

// Config tunes the iteration loop.
type Config struct {
	MaxIterations      int
	MaxDepth           int
	CompactionEnabled  bool
	CompactionFraction float64
	// ContextLimit overrides the per-model window lookup when nonzero.
	ContextLimit   int
	MaxOutputBytes int

	BrokerBindAddr  string
	ShutdownTimeout time.Duration
	RetryPolicy     retry.Policy
	Sandbox         sandbox.Options
}

// Request is one top-level completion to drive.
type Request struct {
	Prompt  string
	Context any
	Depth   int

	// Env, when set, is a caller-owned environment reused across
	// completions. When nil the engine creates an ephemeral one.
	Env sandbox.Environment
}

// Engine drives the think-execute-observe loop for one registry of
// backends. Each Completion call owns its own broker instance and, in
// ephemeral mode, its own environment; only the registry and budget
// guard are shared.
type Engine struct {
	registry *broker.Registry
	guard    *broker.BudgetGuard
	cfg      Config
}

func New(registry *broker.Registry, guard *broker.BudgetGuard, cfg Config) *Engine {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 10
	}
	if cfg.CompactionFraction <= 0 {
		cfg.CompactionFraction = 0.8
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = 2000
	}
	if cfg.BrokerBindAddr == "" {
		cfg.BrokerBindAddr = "127.0.0.1:0"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	return &Engine{registry: registry, guard: guard, cfg: cfg}
}

// Completion answers one prompt by iterating until a terminal marker,
// exhaustion, or an unrecoverable failure.
func (e *Engine) Completion(ctx context.Context, req Request) (*protocol.ChatCompletion, error) {
	start := time.Now()
	id := ulid.Make().String()
	ctx = logger.WithCompletionID(ctx, id)
	log := slog.With("completion_id", id, "depth", req.Depth)

	completion, err := e.run(ctx, log, req, start)
	observability.CompletionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		observability.Errors.WithLabelValues(errors.Category(err)).Inc()
		log.Error("completion failed", "error", err)
		return nil, err
	}
	return completion, nil
}

func (e *Engine) run(ctx context.Context, log *slog.Logger, req Request, start time.Time) (*protocol.ChatCompletion, error) {
	rootClient, err := e.registry.Resolve(&protocol.CompletionRequest{Depth: req.Depth})
	if err != nil {
		return nil, err
	}
	rootModel := rootClient.ModelName()

	contextJSON, err := json.Marshal(req.Context)
	if err != nil {
		return nil, errors.InvalidInput(fmt.Sprintf("context payload: %v", err))
	}

	// At maximum depth, recursion stops: one plain backend call.
	if e.cfg.MaxDepth > 0 && req.Depth >= e.cfg.MaxDepth {
		return e.leafCompletion(ctx, log, rootClient, req, start)
	}

	srv := broker.NewServer(e.registry, e.guard, e.cfg.BrokerBindAddr, broker.RuntimeConfig{
		ShutdownTimeout: e.cfg.ShutdownTimeout,
		RetryPolicy:     e.cfg.RetryPolicy,
	})
	addr, err := srv.Start(ctx)
	if err != nil {
		return nil, err
	}
	defer srv.Stop(context.Background())

	env, persistent, cleanup, err := e.prepareEnv(req, addr)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	connPool := pool.New(nil, time.Minute, 4)
	defer connPool.Close()
	client := broker.NewClient(addr, connPool, e.cfg.RetryPolicy)

	transcript := []protocol.Message{
		{Role: "system", Content: systemPreamble},
		{Role: "user", Content: metadataMessage(req.Prompt, fmt.Sprintf("%T", req.Context), len(contextJSON))},
	}
	usage := protocol.UsageSummary{}
	compactions := 0
	limit := e.contextLimit(rootModel)
	threshold := int(e.cfg.CompactionFraction * float64(limit))

	for i := 0; i < e.cfg.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Compaction is checked before the turn's prompt is built so it
		// never fires mid-turn.
		if e.cfg.CompactionEnabled && EstimateTokens(transcript) > threshold {
			transcript, err = e.compact(ctx, client, req.Depth, transcript, persistent, &compactions, usage)
			if err != nil {
				return nil, err
			}
			log.Info("transcript compacted", "count", compactions, "iteration", i)
		}

		turn := append(transcript, protocol.Message{Role: "user", Content: e.turnContent(persistent)})
		completion, err := client.Ask(ctx, protocol.NewChatPrompt(turn), "", req.Depth)
		if err != nil {
			return nil, err
		}
		adoptUsage(usage, completion.Usage)

		response := completion.Response
		transcript = append(transcript, protocol.Message{Role: "assistant", Content: response})

		blocks := CodeBlocks(response)
		for _, code := range blocks {
			feedback := e.executeBlock(ctx, log, env, code, usage)
			transcript = append(transcript, protocol.Message{Role: "user", Content: feedback})
		}

		kind, payload := FindTerminal(response)
		switch kind {
		case TerminalInline:
			return e.finish(log, rootModel, req, payload, usage, persistent, i+1, start), nil
		case TerminalVariable:
			answer, ok := env.Lookup(payload)
			if !ok {
				return nil, errors.NotFound(fmt.Sprintf("final answer variable %q is not bound", payload))
			}
			return e.finish(log, rootModel, req, answer, usage, persistent, i+1, start), nil
		}

		if len(blocks) == 0 {
			transcript = append(transcript, protocol.Message{Role: "user", Content: nudgeMessage()})
		}
	}

	// Out of iterations: one forced-final turn so the caller always
	// gets an answer.
	turn := append(transcript, protocol.Message{Role: "user", Content: forcedFinalMessage()})
	completion, err := client.Ask(ctx, protocol.NewChatPrompt(turn), "", req.Depth)
	if err != nil {
		return nil, err
	}
	adoptUsage(usage, completion.Usage)
	log.Warn("iteration budget exhausted, forced final answer", "max_iterations", e.cfg.MaxIterations)
	return e.finish(log, rootModel, req, completion.Response, usage, persistent, e.cfg.MaxIterations, start), nil
}

// leafCompletion answers with a single non-recursive backend call.
func (e *Engine) leafCompletion(ctx context.Context, log *slog.Logger, client model.BackendClient, req Request, start time.Time) (*protocol.ChatCompletion, error) {
	prompt := protocol.NewPrompt(req.Prompt)
	response, err := client.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	log.Info("leaf completion", "model", client.ModelName())
	observability.CompletionIterations.Observe(1)
	return &protocol.ChatCompletion{
		Model:          client.ModelName(),
		Prompt:         prompt,
		Response:       response,
		Usage:          client.UsageSummary(),
		ElapsedSeconds: time.Since(start).Seconds(),
	}, nil
}

func (e *Engine) prepareEnv(req Request, brokerAddr string) (sandbox.Environment, sandbox.PersistentOps, func(), error) {
	if req.Env != nil {
		persistent, _ := req.Env.(sandbox.PersistentOps)
		if persistent != nil {
			persistent.UpdateBrokerAddress(brokerAddr)
			if req.Context != nil {
				if err := persistent.AddContext(req.Context); err != nil {
					return nil, nil, nil, err
				}
			}
		} else if req.Context != nil {
			if err := req.Env.LoadContext(req.Context); err != nil {
				return nil, nil, nil, err
			}
		}
		// Caller owns the environment's lifecycle.
		return req.Env, persistent, func() {}, nil
	}

	opts := e.cfg.Sandbox
	opts.BrokerAddr = brokerAddr
	opts.Depth = req.Depth
	env := sandbox.NewLocalEnv(opts)
	if req.Context != nil {
		if err := env.LoadContext(req.Context); err != nil {
			env.Cleanup()
			return nil, nil, nil, err
		}
	}
	return env, nil, env.Cleanup, nil
}

// executeBlock runs one snippet and renders its outcome as transcript
// feedback. Snippet-local failures are fed back, never propagated.
func (e *Engine) executeBlock(ctx context.Context, log *slog.Logger, env sandbox.Environment, code string, usage protocol.UsageSummary) string {
	execStart := time.Now()
	result, err := env.Execute(ctx, code)
	observability.ExecutionDuration.Observe(time.Since(execStart).Seconds())
	if err != nil {
		log.Warn("snippet did not run", "error", err)
		observability.Errors.WithLabelValues(errors.Category(err)).Inc()
		return feedbackMessage("", err.Error())
	}

	for _, sub := range result.SubCalls {
		adoptUsage(usage, sub.Usage)
	}
	stdout := truncate(result.Stdout, e.cfg.MaxOutputBytes)
	stderr := truncate(result.Stderr, e.cfg.MaxOutputBytes)
	return feedbackMessage(stdout, stderr)
}

// compact replaces the transcript with a model-written summary plus a
// continuation instruction, keeping the system preamble and the
// initial metadata record.
func (e *Engine) compact(ctx context.Context, client *broker.Client, depth int, transcript []protocol.Message, persistent sandbox.PersistentOps, compactions *int, usage protocol.UsageSummary) ([]protocol.Message, error) {
	request := append(transcript, protocol.Message{Role: "user", Content: compactionRequest()})
	completion, err := client.Ask(ctx, protocol.NewChatPrompt(request), "", depth)
	if err != nil {
		return nil, err
	}
	adoptUsage(usage, completion.Usage)
	*compactions++

	if persistent != nil {
		for _, m := range transcript[2:] {
			persistent.AppendHistory(fmt.Sprintf("%s: %s", m.Role, m.Content))
		}
	}

	return []protocol.Message{
		transcript[0],
		transcript[1],
		{Role: "assistant", Content: completion.Response},
		{Role: "user", Content: continuationMessage(*compactions)},
	}, nil
}

func (e *Engine) finish(log *slog.Logger, rootModel string, req Request, answer string, usage protocol.UsageSummary, persistent sandbox.PersistentOps, iterations int, start time.Time) *protocol.ChatCompletion {
	observability.CompletionIterations.Observe(float64(iterations))
	for name, u := range usage {
		observability.TokenUsage.WithLabelValues(name, "input").Add(float64(u.InputTokens))
		observability.TokenUsage.WithLabelValues(name, "output").Add(float64(u.OutputTokens))
	}
	if persistent != nil {
		persistent.AppendHistory(fmt.Sprintf("query: %s\nanswer: %s", req.Prompt, answer))
	}
	log.Info("completion finished", "iterations", iterations, "tokens", usage.TotalTokens())
	return &protocol.ChatCompletion{
		Model:          rootModel,
		Prompt:         protocol.NewPrompt(req.Prompt),
		Response:       answer,
		Usage:          usage,
		ElapsedSeconds: time.Since(start).Seconds(),
	}
}

func (e *Engine) contextLimit(model string) int {
	if e.cfg.ContextLimit > 0 {
		return e.cfg.ContextLimit
	}
	return ContextLimit(model)
}

func (e *Engine) turnContent(persistent sandbox.PersistentOps) string {
	if persistent == nil {
		return turnMessage(0, 0)
	}
	return turnMessage(persistent.ContextCount(), persistent.HistoryCount())
}

// adoptUsage folds per-model cumulative counters into the running
// summary. Backend counters only grow, so the latest value wins.
func adoptUsage(dst, src protocol.UsageSummary) {
	for name, u := range src {
		dst[name] = u
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n...[output truncated]..."
}
