package engine

import (
	"fmt"
)

const systemPreamble = `You are a recursive language model. Instead of answering directly, you reason in code: write snippets, observe their output, and repeat until you can answer. You will be queried iteratively until you provide a final answer.

The execution environment is initialized with:
1. A 'context' variable holding the data relevant to your query. Inspect it before anything else.
2. An 'llm_query' function for asking a sub-model about anything: llm_query("question") or llm_query("question", model="model-name"). 'llm_query_batched' takes a list of prompts and returns a list of answers.
3. 'print()' to surface values into your transcript, and 'list_vars()' to see what you have bound so far.

Outputs shown back to you are truncated, so use llm_query on variables you want analyzed in full, and build your answer up in variables.

To execute code, wrap it in a fenced block tagged 'repl':
` + "```repl\nx = 1 + 1\nprint(x)\n```" + `

When you have finished, and only then, emit exactly one terminal marker outside any code fence:
- FINAL(your answer here) to answer inline, or
- FINAL_VAR(variable_name) to answer with a variable you built in the environment.`

// metadataMessage describes the incoming prompt's shape so the model
// knows what it is working with before inspecting anything.
func metadataMessage(query string, contextType string, contextChars int) string {
	return fmt.Sprintf("Query: %s\n\nContext type: %s\nContext length: %d characters", query, contextType, contextChars)
}

func turnMessage(contexts, histories int) string {
	if contexts == 0 && histories == 0 {
		return "Continue. Execute code or provide a terminal answer."
	}
	return fmt.Sprintf("Continue. You have %d stored context entries and %d history entries available. Execute code or provide a terminal answer.", contexts, histories)
}

func nudgeMessage() string {
	return "Your last response had no code and no terminal answer. Either execute code in a ```repl fence or answer with FINAL(...) or FINAL_VAR(...)."
}

func feedbackMessage(stdout, stderr string) string {
	return fmt.Sprintf("Execution output:\nStdout: %s\nStderr: %s", stdout, stderr)
}

func compactionRequest() string {
	return "Your transcript is approaching the context limit. Summarize your progress so far: what you have completed, what remains, and any concrete intermediate values or variables worth keeping. Reply with the summary only."
}

func continuationMessage(compactions int) string {
	return fmt.Sprintf("The transcript above was compacted (%d so far). Continue from the summary. Your environment variables are untouched.", compactions)
}

func forcedFinalMessage() string {
	return "You have reached the iteration limit. Answer the query now using the information gathered so far. Reply with the answer text only."
}
