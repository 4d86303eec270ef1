package executor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"cronflow/internal/domain"
)

// Shell runs a local command. Payload: "command" (required) and "args"
// (list of strings). Intended for cleanup and sync style tasks.
type Shell struct{}

func (Shell) Execute(ctx context.Context, task domain.Task) (string, error) {
	command, _ := task.Payload["command"].(string)
	if command == "" {
		return "", classify(KindInvalid, errors.New("shell payload missing command"))
	}

	var args []string
	if raw, ok := task.Payload["args"].([]any); ok {
		for _, a := range raw {
			if s, ok := a.(string); ok {
				args = append(args, s)
			}
		}
	}

	out, err := exec.CommandContext(ctx, command, args...).CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return "", classify(KindTimeout, fmt.Errorf("shell command: %w", ctx.Err()))
		}
		return "", classify(KindExec, fmt.Errorf("shell command: %w; output: %s", err, strings.TrimSpace(string(out))))
	}
	return strings.TrimSpace(string(out)), nil
}
