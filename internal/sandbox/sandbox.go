package sandbox

import (
	"context"
	"time"

	"github.com/rekurlabs/rekur/internal/protocol"
)

// Environment runs untrusted code snippets against a shared variable
// namespace and reports what each run produced.
type Environment interface {
	// Execute validates and runs one snippet. Faults raised by the
	// snippet itself land in Result.Stderr with a nil error; a non-nil
	// error means the snippet never ran for a reason the caller must
	// handle (validation rejection, timeout, cancellation).
	Execute(ctx context.Context, code string) (*Result, error)

	// LoadContext binds the payload to the "context" variable.
	LoadContext(payload any) error

	// Lookup resolves a variable from the namespace and renders it as
	// a plain string. The second return reports whether it was bound.
	Lookup(name string) (string, bool)

	Cleanup()
}

// PersistentOps is the extra surface a long-lived environment exposes
// between completions. Ephemeral environments do not implement it.
type PersistentOps interface {
	UpdateBrokerAddress(addr string)
	AddContext(payload any) error
	ContextCount() int
	AppendHistory(entry string)
	HistoryCount() int
}

// Result is what one snippet execution produced.
type Result struct {
	Stdout   string
	Stderr   string
	Bindings map[string]any
	SubCalls []protocol.ChatCompletion
	Elapsed  time.Duration
}

// Options configure an environment.
type Options struct {
	// BrokerAddr is where scaffold sub-calls are routed.
	BrokerAddr string

	// Depth reported by the environment's sub-calls.
	Depth int

	// ExecTimeout bounds a single snippet run. Zero means no limit.
	ExecTimeout time.Duration

	// MaxSteps bounds interpreter work per run. Zero means no limit.
	MaxSteps uint64

	// Permissive skips static validation and exposes namespace
	// introspection. Reserved for trusted in-process callers.
	Permissive bool
}
