package sandbox

import (
	"fmt"

	"go.starlark.net/starlark"

	"github.com/rekurlabs/rekur/internal/protocol"
)

// scaffoldNames are the helper bindings injected into every namespace.
// They are restored after each run so a snippet cannot permanently
// shadow them, and they never appear in snapshots.
var scaffoldNames = map[string]bool{
	"llm_query":         true,
	"llm_query_batched": true,
	"final_var":         true,
	"list_vars":         true,
}

// llmQueryBuiltin issues one sub-call through the broker and returns
// the completion text. The full completion is recorded for usage
// accounting on the host side.
func (e *LocalEnv) llmQueryBuiltin() *starlark.Builtin {
	return starlark.NewBuiltin("llm_query", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var prompt string
		var model string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "prompt", &prompt, "model?", &model); err != nil {
			return nil, err
		}

		ctx := e.currentContext()
		completion, err := e.client().Ask(ctx, protocol.NewPrompt(prompt), model, e.opts.Depth+1)
		if err != nil {
			return nil, fmt.Errorf("llm_query: %v", err)
		}
		e.recordSubCalls(*completion)
		return starlark.String(completion.Response), nil
	})
}

// llmQueryBatchedBuiltin fans a list of prompts out in one broker
// round trip and returns the completion texts in order.
func (e *LocalEnv) llmQueryBatchedBuiltin() *starlark.Builtin {
	return starlark.NewBuiltin("llm_query_batched", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var promptList *starlark.List
		var model string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "prompts", &promptList, "model?", &model); err != nil {
			return nil, err
		}

		prompts := make([]protocol.Prompt, 0, promptList.Len())
		for i := 0; i < promptList.Len(); i++ {
			text, ok := starlark.AsString(promptList.Index(i))
			if !ok {
				return nil, fmt.Errorf("llm_query_batched: prompts[%d] is not a string", i)
			}
			prompts = append(prompts, *protocol.NewPrompt(text))
		}

		ctx := e.currentContext()
		completions, err := e.client().AskBatch(ctx, prompts, model, e.opts.Depth+1)
		if err != nil {
			return nil, fmt.Errorf("llm_query_batched: %v", err)
		}
		e.recordSubCalls(completions...)

		out := make([]starlark.Value, 0, len(completions))
		for _, completion := range completions {
			out = append(out, starlark.String(completion.Response))
		}
		return starlark.NewList(out), nil
	})
}

// finalVarBuiltin renders a bound variable the way the host will see
// it, letting a snippet check a value before naming it as the answer.
func (e *LocalEnv) finalVarBuiltin() *starlark.Builtin {
	return starlark.NewBuiltin("final_var", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
			return nil, err
		}
		rendered, ok := e.lookupLocked(name)
		if !ok {
			return nil, fmt.Errorf("final_var: %q is not bound", name)
		}
		return starlark.String(rendered), nil
	})
}

// listVarsBuiltin reports the currently bound user variable names.
func (e *LocalEnv) listVarsBuiltin() *starlark.Builtin {
	return starlark.NewBuiltin("list_vars", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
			return nil, err
		}
		names := e.boundNames()
		out := make([]starlark.Value, 0, len(names))
		for _, name := range names {
			out = append(out, starlark.String(name))
		}
		return starlark.NewList(out), nil
	})
}

// injectScaffold rebinds every helper, overwriting any shadowing the
// previous snippet did.
func (e *LocalEnv) injectScaffold(dict starlark.StringDict) {
	dict["llm_query"] = e.llmQueryBuiltin()
	dict["llm_query_batched"] = e.llmQueryBatchedBuiltin()
	dict["final_var"] = e.finalVarBuiltin()
	dict["list_vars"] = e.listVarsBuiltin()
}
