package localexec

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/vibesurf-ai/VibeSurf-sub003/internal/engine"
)

func TestIsAllowed(t *testing.T) {
	l := New("")

	cases := []struct {
		cmd  string
		args []string
		want bool
	}{
		{"echo", []string{"hello"}, true},
		{"echo", nil, true},
		{"go", []string{"test"}, true},
		{"go", []string{"build"}, false},
		{"git", []string{"status"}, true},
		{"git", []string{"push"}, false},
		{"rm", []string{"-rf", "/"}, false},
	}

	for _, c := range cases {
		if got := l.IsAllowed(c.cmd, c.args); got != c.want {
			t.Errorf("IsAllowed(%s %v) = %v, want %v", c.cmd, c.args, got, c.want)
		}
	}
}

func TestRunProducesTextPayload(t *testing.T) {
	l := New("")
	raw, err := l.Run(context.Background(), engine.RunSpec{
		TaskID:      "t1",
		Description: "echo hello world",
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var payload map[string]string
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("Payload is not valid JSON: %v", err)
	}
	if payload["type"] != "text" {
		t.Errorf("Expected text payload, got %s", payload["type"])
	}
	if payload["data"] != "hello world" {
		t.Errorf("Unexpected output: %q", payload["data"])
	}
}

func TestRunSplitsQuotedArguments(t *testing.T) {
	l := New("")
	raw, err := l.Run(context.Background(), engine.RunSpec{
		TaskID:      "t1",
		Description: `echo "hello world"`,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var payload map[string]string
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("Payload is not valid JSON: %v", err)
	}
	if payload["data"] != "hello world" {
		t.Errorf("Quoted argument not preserved: %q", payload["data"])
	}
}

func TestRunRejectsDisallowedCommand(t *testing.T) {
	l := New("")
	_, err := l.Run(context.Background(), engine.RunSpec{
		TaskID:      "t1",
		Description: "rm -rf /",
	})
	if err == nil {
		t.Fatal("Expected disallowed command to fail")
	}
}

func TestRunRejectsEmptyCommand(t *testing.T) {
	l := New("")
	_, err := l.Run(context.Background(), engine.RunSpec{TaskID: "t1"})
	if err == nil {
		t.Fatal("Expected empty command to fail")
	}
}

func TestRunHonorsCancelledContext(t *testing.T) {
	l := New("")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ctrl := engine.NewControl()
	ctrl.Pause()

	_, err := l.Run(ctx, engine.RunSpec{
		TaskID:      "t1",
		Description: "echo hi",
		Control:     ctrl,
	})
	if err == nil {
		t.Fatal("Expected cancelled run to fail")
	}
}
