package broker

import (
	"fmt"

	"github.com/rekurlabs/rekur/internal/errors"
	"github.com/rekurlabs/rekur/internal/model"
)

// BudgetGuard enforces per-scope token ceilings against a client's
// cumulative usage. A zero ceiling means unlimited. The guard is consulted
// both before and after each backend call, so a request that pushes usage
// over the ceiling still fails even though the call itself already ran.
type BudgetGuard struct {
	rootTokens int64
	subTokens  int64
}

func NewBudgetGuard(rootTokens, subTokens int64) *BudgetGuard {
	return &BudgetGuard{rootTokens: rootTokens, subTokens: subTokens}
}

// Check compares the client's cumulative usage against the ceiling for the
// request's depth scope.
func (g *BudgetGuard) Check(client model.BackendClient, depth int) error {
	scope, ceiling := g.scopeFor(depth)
	if ceiling <= 0 {
		return nil
	}

	used := client.UsageSummary().TotalTokens()
	if used > ceiling {
		return errors.BudgetExceeded(fmt.Sprintf(
			"%s token budget exceeded: used %d of %d (over by %d)",
			scope, used, ceiling, used-ceiling))
	}
	return nil
}

func (g *BudgetGuard) scopeFor(depth int) (string, int64) {
	if depth >= 1 {
		return "sub", g.subTokens
	}
	return "root", g.rootTokens
}
