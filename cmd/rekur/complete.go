package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rekurlabs/rekur/internal/engine"
	"github.com/rekurlabs/rekur/internal/sandbox"

	"github.com/spf13/cobra"
)

var completeCmd = &cobra.Command{
	Use:   "complete [prompt]",
	Short: "Answer one prompt with the iterative loop",
	Long:  `Run a single top-level completion: the model writes code, the sandbox executes it, and the loop repeats until a final answer.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := strings.Join(args, " ")

		depth, err := cmd.Flags().GetInt("depth")
		if err != nil {
			return err
		}

		contextPayload, err := loadContextPayload(cmd)
		if err != nil {
			return err
		}

		eng, err := buildEngine(cfg)
		if err != nil {
			return err
		}

		req := engine.Request{
			Prompt:  prompt,
			Context: contextPayload,
			Depth:   depth,
		}

		if cfg.Sandbox.Persistent {
			opts, err := sandboxOptions(cfg)
			if err != nil {
				return err
			}
			mgr := sandbox.NewManager(opts)
			defer mgr.Close()

			owner, err := cmd.Flags().GetString("owner")
			if err != nil {
				return err
			}
			req.Env = mgr.Acquire(owner)
			defer mgr.Release(owner)
		}

		completion, err := eng.Completion(cmd.Context(), req)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(completion)
	},
}

// loadContextPayload reads the completion's context data from
// --context-file (JSON) or --context (inline JSON, falling back to a
// plain string when it does not parse).
func loadContextPayload(cmd *cobra.Command) (any, error) {
	path, err := cmd.Flags().GetString("context-file")
	if err != nil {
		return nil, err
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read context file: %w", err)
		}
		var payload any
		if err := json.Unmarshal(raw, &payload); err != nil {
			// Not JSON, treat the file body as one string.
			return string(raw), nil
		}
		return payload, nil
	}

	inline, err := cmd.Flags().GetString("context")
	if err != nil {
		return nil, err
	}
	if inline == "" {
		return nil, nil
	}
	var payload any
	if err := json.Unmarshal([]byte(inline), &payload); err != nil {
		return inline, nil
	}
	return payload, nil
}

func init() {
	rootCmd.AddCommand(completeCmd)
	completeCmd.Flags().Int("depth", 0, "recursion depth to run at")
	completeCmd.Flags().String("context", "", "inline context payload (JSON or plain text)")
	completeCmd.Flags().String("context-file", "", "path to a context payload file")
	completeCmd.Flags().String("owner", "default", "persistent environment owner id")
}
