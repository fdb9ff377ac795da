package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.starlark.net/starlark"

	"github.com/rekurlabs/rekur/internal/broker"
	pkgerrors "github.com/rekurlabs/rekur/internal/errors"
	"github.com/rekurlabs/rekur/internal/logger"
	"github.com/rekurlabs/rekur/internal/pool"
	"github.com/rekurlabs/rekur/internal/protocol"
	"github.com/rekurlabs/rekur/internal/retry"
)

const (
	envPoolIdleTTL = 60 * time.Second
	envPoolMaxIdle = 4
)

// LocalEnv is an in-process Environment backed by a Starlark
// interpreter. Globals persist across Execute calls within one
// environment; separate environments share nothing.
//
// Scaffold builtins run on the Execute goroutine while its lock is
// held, so their helpers below read state without locking.
type LocalEnv struct {
	mu       sync.Mutex
	opts     Options
	globals  starlark.StringDict
	pinned   starlark.StringDict
	reserved map[string]bool

	connPool     *pool.Pool
	brokerClient *broker.Client

	execCtx context.Context
	pending []protocol.ChatCompletion

	contexts int
	history  int
}

var _ Environment = (*LocalEnv)(nil)
var _ PersistentOps = (*LocalEnv)(nil)

func NewLocalEnv(opts Options) *LocalEnv {
	env := &LocalEnv{
		opts:     opts,
		globals:  basePredeclared(),
		pinned:   basePredeclared(),
		reserved: make(map[string]bool),
		connPool: pool.New(nil, envPoolIdleTTL, envPoolMaxIdle),
	}
	for name := range deniedModules {
		env.reserved[name] = true
	}
	for name := range scaffoldNames {
		env.reserved[name] = true
	}
	env.brokerClient = broker.NewClient(opts.BrokerAddr, env.connPool, retry.DefaultPolicy())
	env.injectScaffold(env.globals)
	return env
}

// Execute runs one snippet against the shared namespace. See the
// Environment contract for how faults and rejections are reported.
func (e *LocalEnv) Execute(ctx context.Context, code string) (*Result, error) {
	if !e.opts.Permissive {
		if err := Validate(code); err != nil {
			return nil, err
		}
	}

	f, parseErr := fileOptions().Parse("snippet.star", code, 0)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.execCtx = ctx
	e.pending = nil
	defer func() {
		e.execCtx = nil
	}()

	start := time.Now()
	result := &Result{}

	if parseErr != nil {
		// Reachable only in permissive mode; Validate rejects
		// unparseable snippets before this point otherwise.
		result.Stderr = parseErr.Error()
		result.Bindings = snapshot(e.globals, e.reserved)
		result.Elapsed = time.Since(start)
		return result, nil
	}

	var stdout strings.Builder
	thread := &starlark.Thread{
		Name: "snippet",
		Print: func(_ *starlark.Thread, msg string) {
			stdout.WriteString(msg)
			stdout.WriteByte('\n')
		},
		Load: loadBlocked,
	}
	if e.opts.MaxSteps > 0 {
		thread.SetMaxExecutionSteps(e.opts.MaxSteps)
	}

	var timedOut bool
	watchdogDone := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(watchdogDone)
		var deadline <-chan time.Time
		if e.opts.ExecTimeout > 0 {
			timer := time.NewTimer(e.opts.ExecTimeout)
			defer timer.Stop()
			deadline = timer.C
		}
		select {
		case <-finished:
		case <-deadline:
			timedOut = true
			thread.Cancel("execution timeout")
		case <-ctx.Done():
			thread.Cancel("cancelled")
		}
	}()

	execErr := starlark.ExecREPLChunk(f, thread, e.globals)
	close(finished)
	<-watchdogDone

	if id := logger.GetCompletionID(ctx); id != "" {
		slog.Debug("snippet executed", "completion_id", id, "elapsed", time.Since(start), "error", execErr != nil)
	}

	// The scaffold and reserved bindings always survive whatever the
	// snippet rebound.
	e.injectScaffold(e.globals)
	for name, value := range e.pinned {
		e.globals[name] = value
	}
	result.SubCalls = e.pending
	result.Elapsed = time.Since(start)

	if timedOut {
		return nil, pkgerrors.ExecutionTimeout(
			fmt.Sprintf("snippet exceeded the %s execution limit", e.opts.ExecTimeout))
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if execErr != nil {
		if evalErr, ok := execErr.(*starlark.EvalError); ok {
			result.Stderr = evalErr.Backtrace()
		} else {
			result.Stderr = execErr.Error()
		}
	}
	result.Stdout = stdout.String()
	result.Bindings = snapshot(e.globals, e.reserved)
	return result, nil
}

// LoadContext binds the payload to "context", replacing any prior one.
func (e *LocalEnv) LoadContext(payload any) error {
	value, err := toStarlark(payload)
	if err != nil {
		return pkgerrors.InvalidInput(fmt.Sprintf("context payload: %v", err))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.globals["context"] = value
	e.pinned["context"] = value
	e.reserved["context"] = true
	return nil
}

// AddContext binds the payload as the next numbered context entry and
// points the "context" alias at it.
func (e *LocalEnv) AddContext(payload any) error {
	value, err := toStarlark(payload)
	if err != nil {
		return pkgerrors.InvalidInput(fmt.Sprintf("context payload: %v", err))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	name := fmt.Sprintf("context_%d", e.contexts)
	e.contexts++
	e.globals[name] = value
	e.globals["context"] = value
	e.pinned[name] = value
	e.pinned["context"] = value
	e.reserved[name] = true
	e.reserved["context"] = true
	return nil
}

func (e *LocalEnv) ContextCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.contexts
}

// AppendHistory records a completed turn as the next numbered history
// entry, readable by later snippets.
func (e *LocalEnv) AppendHistory(entry string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	name := fmt.Sprintf("history_%d", e.history)
	e.history++
	e.globals[name] = starlark.String(entry)
	e.pinned[name] = starlark.String(entry)
	e.reserved[name] = true
}

func (e *LocalEnv) HistoryCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history
}

// UpdateBrokerAddress points future sub-calls at a new broker, for
// environments that outlive a single broker instance.
func (e *LocalEnv) UpdateBrokerAddress(addr string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opts.BrokerAddr = addr
	e.brokerClient = broker.NewClient(addr, e.connPool, retry.DefaultPolicy())
}

// Lookup renders a bound variable as a plain string.
func (e *LocalEnv) Lookup(name string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lookupLocked(name)
}

func (e *LocalEnv) lookupLocked(name string) (string, bool) {
	value, ok := e.globals[name]
	if !ok || e.reserved[name] {
		return "", false
	}
	return renderValue(value), true
}

func (e *LocalEnv) Cleanup() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.globals = starlark.StringDict{}
	e.pinned = starlark.StringDict{}
	e.connPool.Close()
}

func (e *LocalEnv) currentContext() context.Context {
	if e.execCtx != nil {
		return e.execCtx
	}
	return context.Background()
}

func (e *LocalEnv) client() *broker.Client { return e.brokerClient }

func (e *LocalEnv) recordSubCalls(completions ...protocol.ChatCompletion) {
	e.pending = append(e.pending, completions...)
}

func (e *LocalEnv) boundNames() []string {
	names := make([]string, 0, len(e.globals))
	for name := range e.globals {
		if e.reserved[name] || strings.HasPrefix(name, "_") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
