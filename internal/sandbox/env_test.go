package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rekurlabs/rekur/internal/broker"
	"github.com/rekurlabs/rekur/internal/errors"
	"github.com/rekurlabs/rekur/internal/model"
	"github.com/rekurlabs/rekur/internal/retry"
)

func newTestEnv(t *testing.T, opts Options) *LocalEnv {
	t.Helper()
	if opts.ExecTimeout == 0 {
		opts.ExecTimeout = 5 * time.Second
	}
	env := NewLocalEnv(opts)
	t.Cleanup(env.Cleanup)
	return env
}

func startEnvBroker(t *testing.T, responses ...string) string {
	t.Helper()
	registry := broker.NewRegistry()
	registry.Register(model.NewStubClient("gpt-4o", responses...))
	srv := broker.NewServer(registry, broker.NewBudgetGuard(0, 0), "127.0.0.1:0", broker.RuntimeConfig{
		ShutdownTimeout: time.Second,
		RetryPolicy:     retry.Policy{MaxAttempts: 1, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	})
	addr, err := srv.Start(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { srv.Stop(context.Background()) })
	return addr
}

func TestExecuteCapturesStdoutAndBindings(t *testing.T) {
	env := newTestEnv(t, Options{})

	result, err := env.Execute(context.Background(), "x = 21 * 2\nprint(\"computed\", x)")
	require.NoError(t, err)
	assert.Equal(t, "computed 42\n", result.Stdout)
	assert.Empty(t, result.Stderr)
	assert.EqualValues(t, 42, result.Bindings["x"])
}

func TestExecuteGlobalsPersistAcrossRuns(t *testing.T) {
	env := newTestEnv(t, Options{})

	_, err := env.Execute(context.Background(), "x = 1")
	require.NoError(t, err)

	result, err := env.Execute(context.Background(), "y = x + 1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, result.Bindings["y"])
	assert.EqualValues(t, 1, result.Bindings["x"])
}

func TestExecuteFaultLandsInStderr(t *testing.T) {
	env := newTestEnv(t, Options{})

	result, err := env.Execute(context.Background(), "x = 1 // 0")
	require.NoError(t, err)
	assert.Contains(t, result.Stderr, "division by zero")

	// The fault does not poison the environment.
	result, err = env.Execute(context.Background(), "x = 7")
	require.NoError(t, err)
	assert.EqualValues(t, 7, result.Bindings["x"])
}

func TestExecuteRejectsBlockedImportWithoutRunning(t *testing.T) {
	env := newTestEnv(t, Options{})

	_, err := env.Execute(context.Background(), "load(\"os\", \"environ\")\nleaked = 1")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.ErrValidationRejected))
	assert.Contains(t, err.Error(), `"os"`)

	// Nothing from the rejected snippet reached the namespace.
	_, bound := env.Lookup("leaked")
	assert.False(t, bound)
}

func TestExecuteTimeoutNamesTheLimit(t *testing.T) {
	env := newTestEnv(t, Options{ExecTimeout: 50 * time.Millisecond})

	_, err := env.Execute(context.Background(), "while True:\n    pass")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.ErrExecutionTimeout))
	assert.Contains(t, err.Error(), "50ms")
}

func TestExecuteHonorsCancellation(t *testing.T) {
	env := newTestEnv(t, Options{ExecTimeout: 10 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := env.Execute(ctx, "while True:\n    pass")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEnvironmentsAreIsolated(t *testing.T) {
	first := newTestEnv(t, Options{})
	second := newTestEnv(t, Options{})

	_, err := first.Execute(context.Background(), "secret = \"abc\"")
	require.NoError(t, err)

	result, err := second.Execute(context.Background(), "peek = secret")
	require.NoError(t, err)
	assert.Contains(t, result.Stderr, "undefined: secret")
	_, bound := second.Lookup("secret")
	assert.False(t, bound)
}

func TestScaffoldSurvivesRebinding(t *testing.T) {
	env := newTestEnv(t, Options{})

	_, err := env.Execute(context.Background(), "llm_query = \"broken\"")
	require.NoError(t, err)

	result, err := env.Execute(context.Background(), "kind = type(llm_query)")
	require.NoError(t, err)
	assert.Equal(t, "builtin_function_or_method", result.Bindings["kind"])

	// Scaffold names never leak into bindings.
	_, present := result.Bindings["llm_query"]
	assert.False(t, present)
}

func TestScaffoldSubCall(t *testing.T) {
	addr := startEnvBroker(t, "paris")
	env := newTestEnv(t, Options{BrokerAddr: addr})

	result, err := env.Execute(context.Background(), "answer = llm_query(\"capital of france?\")")
	require.NoError(t, err)
	assert.Empty(t, result.Stderr)
	assert.Equal(t, "paris", result.Bindings["answer"])
	require.Len(t, result.SubCalls, 1)
	assert.Equal(t, "paris", result.SubCalls[0].Response)
	assert.Equal(t, "capital of france?", result.SubCalls[0].Prompt.Text)
}

func TestScaffoldBatchedSubCall(t *testing.T) {
	addr := startEnvBroker(t, "r0", "r1", "r2")
	env := newTestEnv(t, Options{BrokerAddr: addr})

	result, err := env.Execute(context.Background(),
		"answers = llm_query_batched([\"a\", \"b\", \"c\"])\nn = len(answers)")
	require.NoError(t, err)
	assert.Empty(t, result.Stderr)
	assert.EqualValues(t, 3, result.Bindings["n"])
	assert.Len(t, result.SubCalls, 3)
}

func TestLoadContextBindsPayload(t *testing.T) {
	env := newTestEnv(t, Options{})

	require.NoError(t, env.LoadContext(map[string]any{"question": "2+2", "limit": 4}))

	result, err := env.Execute(context.Background(), "q = context[\"question\"]")
	require.NoError(t, err)
	assert.Equal(t, "2+2", result.Bindings["q"])

	// The context binding itself stays out of the snapshot.
	_, present := result.Bindings["context"]
	assert.False(t, present)
}

func TestContextReassignmentDoesNotStick(t *testing.T) {
	env := newTestEnv(t, Options{})
	require.NoError(t, env.LoadContext(map[string]any{"question": "2+2"}))

	_, err := env.Execute(context.Background(), "context = \"hijacked\"")
	require.NoError(t, err)

	// The next turn still sees the original payload.
	result, err := env.Execute(context.Background(), "q = context[\"question\"]")
	require.NoError(t, err)
	assert.Equal(t, "2+2", result.Bindings["q"])
}

func TestHistoryReassignmentDoesNotStick(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.AppendHistory("query: 2+2\nanswer: 4")

	_, err := env.Execute(context.Background(), "history_0 = \"rewritten\"")
	require.NoError(t, err)

	result, err := env.Execute(context.Background(), "h = history_0")
	require.NoError(t, err)
	assert.Equal(t, "query: 2+2\nanswer: 4", result.Bindings["h"])
}

func TestCleanupDropsBindingsAndIsIdempotent(t *testing.T) {
	env := NewLocalEnv(Options{ExecTimeout: 5 * time.Second})

	_, err := env.Execute(context.Background(), "x = 1")
	require.NoError(t, err)

	env.Cleanup()
	_, ok := env.Lookup("x")
	assert.False(t, ok)
	env.Cleanup()
}

func TestPersistentContextNumbering(t *testing.T) {
	env := newTestEnv(t, Options{})

	require.NoError(t, env.AddContext("first"))
	require.NoError(t, env.AddContext("second"))
	assert.Equal(t, 2, env.ContextCount())

	result, err := env.Execute(context.Background(),
		"oldest = context_0\nnewest = context_1\ncurrent = context")
	require.NoError(t, err)
	assert.Equal(t, "first", result.Bindings["oldest"])
	assert.Equal(t, "second", result.Bindings["newest"])
	assert.Equal(t, "second", result.Bindings["current"])
}

func TestPersistentHistoryNumbering(t *testing.T) {
	env := newTestEnv(t, Options{})

	env.AppendHistory("turn one")
	env.AppendHistory("turn two")
	assert.Equal(t, 2, env.HistoryCount())

	result, err := env.Execute(context.Background(), "latest = history_1")
	require.NoError(t, err)
	assert.Equal(t, "turn two", result.Bindings["latest"])
}

func TestLookupRendersStringsRaw(t *testing.T) {
	env := newTestEnv(t, Options{})

	_, err := env.Execute(context.Background(), "answer = \"hello world\"\ncount = 3")
	require.NoError(t, err)

	rendered, ok := env.Lookup("answer")
	require.True(t, ok)
	assert.Equal(t, "hello world", rendered)

	rendered, ok = env.Lookup("count")
	require.True(t, ok)
	assert.Equal(t, "3", rendered)
}

func TestListVarsScaffold(t *testing.T) {
	env := newTestEnv(t, Options{})

	_, err := env.Execute(context.Background(), "alpha = 1\nbeta = 2")
	require.NoError(t, err)

	result, err := env.Execute(context.Background(), "names = list_vars()")
	require.NoError(t, err)
	names, ok := result.Bindings["names"].([]any)
	require.True(t, ok)
	assert.Contains(t, names, "alpha")
	assert.Contains(t, names, "beta")
}

func TestSentinelModuleBlocksAttributeAccess(t *testing.T) {
	env := newTestEnv(t, Options{Permissive: true})

	// Permissive mode skips static validation; the runtime sentinel
	// still refuses the capability.
	result, err := env.Execute(context.Background(), "e = os.environ")
	require.NoError(t, err)
	assert.Contains(t, result.Stderr, "blocked")
}
