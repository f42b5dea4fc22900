package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeScript installs an executable fake agent binary.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

// writePrompt installs a prompt file for phase/agentType whose content the
// echoing fake binary will emit verbatim.
func writePrompt(t *testing.T, root string, phase int, agentType, content string) {
	t.Helper()
	path := filepath.Join(root, "phase"+itoa(phase)+"_"+agentType+".md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func itoa(n int) string {
	return string(rune('0' + n))
}

// echoScript emits the prompt file's content as the agent's stdout. The
// prompt path is argv $2 per the agent contract (-p <path> ...).
const echoScript = `cat > /dev/null
cat "$2"
`

func TestRunAllAlignsResultsToInputOrder(t *testing.T) {
	dir := t.TempDir()
	prompts := t.TempDir()
	bin := writeScript(t, dir, "agent.sh", echoScript)
	writePrompt(t, prompts, 1, "narrative", `{"style": "narrative"}`)
	writePrompt(t, prompts, 1, "visual", `{"style": "visual"}`)
	writePrompt(t, prompts, 1, "rhythm", `{"style": "rhythm"}`)

	e := NewExecutor(bin, prompts, 30*time.Second, 2)
	agents := []string{"narrative", "visual", "rhythm"}
	results := e.RunAll(context.Background(), 1, map[string]any{"k": "v"}, t.TempDir(), agents)

	if len(results) != len(agents) {
		t.Fatalf("results = %d, want %d", len(results), len(agents))
	}
	for i, want := range agents {
		if results[i].DirectorType != want {
			t.Errorf("results[%d].DirectorType = %q, want %q", i, results[i].DirectorType, want)
		}
		if !results[i].Success {
			t.Errorf("agent %s failed: %s", want, results[i].Error)
		}
		if got := results[i].Output["style"]; got != want {
			t.Errorf("agent %s output = %v", want, results[i].Output)
		}
	}
}

func TestRunAllIsolatesFailures(t *testing.T) {
	dir := t.TempDir()
	prompts := t.TempDir()
	bin := writeScript(t, dir, "agent.sh", echoScript)
	writePrompt(t, prompts, 1, "good", `{"ok": true}`)
	writePrompt(t, prompts, 1, "garbled", `no json here at all`)
	// "absent" gets no prompt file.

	e := NewExecutor(bin, prompts, 30*time.Second, 3)
	results := e.RunAll(context.Background(), 1, nil, t.TempDir(), []string{"good", "garbled", "absent"})

	if !results[0].Success {
		t.Fatalf("good agent failed: %s", results[0].Error)
	}
	if results[1].Success {
		t.Fatal("garbled output must fail the agent")
	}
	if results[2].Success || !strings.Contains(results[2].Error, "prompt missing") {
		t.Fatalf("missing prompt result = %+v", results[2])
	}
}

func TestRunAllNonzeroExitKeepsStderrPrefix(t *testing.T) {
	dir := t.TempDir()
	prompts := t.TempDir()
	bin := writeScript(t, dir, "agent.sh", "echo 'model quota exhausted' >&2\nexit 3\n")
	writePrompt(t, prompts, 1, "doomed", "irrelevant")

	e := NewExecutor(bin, prompts, 30*time.Second, 1)
	results := e.RunAll(context.Background(), 1, nil, t.TempDir(), []string{"doomed"})
	if results[0].Success {
		t.Fatal("nonzero exit must fail the agent")
	}
	if !strings.Contains(results[0].Error, "model quota exhausted") {
		t.Fatalf("stderr prefix lost: %q", results[0].Error)
	}
}

func TestRunAllAgentErrorFieldFails(t *testing.T) {
	dir := t.TempDir()
	prompts := t.TempDir()
	bin := writeScript(t, dir, "agent.sh", echoScript)
	writePrompt(t, prompts, 1, "sad", `{"error": "could not comply"}`)

	e := NewExecutor(bin, prompts, 30*time.Second, 1)
	results := e.RunAll(context.Background(), 1, nil, t.TempDir(), []string{"sad"})
	if results[0].Success {
		t.Fatal("output with error field must fail")
	}
	if results[0].Error != "could not comply" {
		t.Fatalf("error = %q", results[0].Error)
	}
}

func TestRunAllWritesSidecars(t *testing.T) {
	dir := t.TempDir()
	prompts := t.TempDir()
	outDir := t.TempDir()
	bin := writeScript(t, dir, "agent.sh", echoScript)
	writePrompt(t, prompts, 1, "narrative", `{"a": 1}`)

	e := NewExecutor(bin, prompts, 30*time.Second, 1)
	e.RunAll(context.Background(), 1, map[string]any{"song": "test"}, outDir, []string{"narrative"})

	for _, name := range []string{"narrative_context.json", "narrative_stdout.log"} {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Errorf("sidecar %s missing: %v", name, err)
		}
	}
}

func TestRunAllTimeout(t *testing.T) {
	dir := t.TempDir()
	prompts := t.TempDir()
	bin := writeScript(t, dir, "agent.sh", "sleep 30\n")
	writePrompt(t, prompts, 1, "slow", "irrelevant")

	e := NewExecutor(bin, prompts, 200*time.Millisecond, 1)
	start := time.Now()
	results := e.RunAll(context.Background(), 1, nil, t.TempDir(), []string{"slow"})
	if time.Since(start) > 10*time.Second {
		t.Fatal("timeout did not terminate the agent promptly")
	}
	if results[0].Success {
		t.Fatal("timed-out agent must fail")
	}
	if !strings.Contains(results[0].Error, "timeout") {
		t.Fatalf("error = %q, want timeout message", results[0].Error)
	}
}

func TestRunEvaluatorMissingPromptSurfacesError(t *testing.T) {
	dir := t.TempDir()
	bin := writeScript(t, dir, "agent.sh", echoScript)
	e := NewExecutor(bin, t.TempDir(), 30*time.Second, 1)
	_, err := e.RunEvaluator(context.Background(), 1, nil, t.TempDir())
	if !errors.Is(err, ErrPromptMissing) {
		t.Fatalf("err = %v, want ErrPromptMissing", err)
	}
}

func TestRunEvaluatorReturnsOutput(t *testing.T) {
	dir := t.TempDir()
	prompts := t.TempDir()
	bin := writeScript(t, dir, "agent.sh", echoScript)
	writePrompt(t, prompts, 1, "evaluation", `{"winner": "visual", "scores": {"visual": 90}}`)

	e := NewExecutor(bin, prompts, 30*time.Second, 1)
	out, err := e.RunEvaluator(context.Background(), 1, map[string]any{}, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if out["winner"] != "visual" {
		t.Fatalf("out = %v", out)
	}
}
