// Package localexec provides a local command engine with an allowlist.
//
// It treats the task description as a command line and wraps the output in
// a tagged result payload. Useful for wiring the orchestrator end to end
// without a browser automation backend.
package localexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/vibesurf-ai/VibeSurf-sub003/internal/engine"
)

// allowedCommands defines the strict allowlist of executable commands.
var allowedCommands = map[string][]string{
	"echo": {},
	"go":   {"test", "version"},
	"git":  {"diff", "status", "log"},
}

// LocalExec implements the Engine interface for local command execution.
type LocalExec struct {
	workDir string
}

// New creates a new LocalExec engine.
func New(workDir string) *LocalExec {
	return &LocalExec{workDir: workDir}
}

// Name returns the engine identifier.
func (l *LocalExec) Name() string {
	return "localexec"
}

// IsAllowed checks if a command is in the allowlist. Commands with an empty
// subcommand list accept any arguments.
func (l *LocalExec) IsAllowed(cmd string, args []string) bool {
	allowedSubcmds, ok := allowedCommands[cmd]
	if !ok {
		return false
	}
	if len(allowedSubcmds) == 0 {
		return true
	}
	if len(args) == 0 {
		return false
	}
	subcmd := args[0]
	for _, allowed := range allowedSubcmds {
		if subcmd == allowed {
			return true
		}
	}
	return false
}

// Run executes the task's description as a command line and returns a
// text-tagged payload with the stdout, or an error-tagged payload when the
// command exits non-zero.
func (l *LocalExec) Run(ctx context.Context, spec engine.RunSpec) (json.RawMessage, error) {
	fields, err := shellquote.Split(spec.Description)
	if err != nil {
		return nil, fmt.Errorf("parse command: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	cmd, args := fields[0], fields[1:]

	if !l.IsAllowed(cmd, args) {
		return nil, fmt.Errorf("command not allowed: %s", spec.Description)
	}

	// Honor a pause requested before the command starts.
	if spec.Control != nil {
		if err := spec.Control.Wait(ctx); err != nil {
			return nil, err
		}
	}

	execCmd := exec.CommandContext(ctx, cmd, args...)
	if l.workDir != "" {
		execCmd.Dir = l.workDir
	}

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	err = execCmd.Run()
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			payload, merr := json.Marshal(map[string]string{
				"type":    "error",
				"message": fmt.Sprintf("exit code %d", exitError.ExitCode()),
				"trace":   stderr.String(),
			})
			return json.RawMessage(payload), merr
		}
		return nil, fmt.Errorf("exec error: %w", err)
	}

	payload, merr := json.Marshal(map[string]string{
		"type": "text",
		"data": strings.TrimRight(stdout.String(), "\n"),
	})
	return json.RawMessage(payload), merr
}
