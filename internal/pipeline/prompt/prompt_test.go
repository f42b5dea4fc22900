package prompt

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func touch(t *testing.T, root, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(root, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestAgentPath(t *testing.T) {
	got := AgentPath("prompts", 3, "abstract")
	want := filepath.Join("prompts", "phase3_abstract.md")
	if got != want {
		t.Fatalf("AgentPath = %q, want %q", got, want)
	}
	if EvaluationPath("prompts", 3) != filepath.Join("prompts", "phase3_evaluation.md") {
		t.Fatal("EvaluationPath mismatch")
	}
}

func TestExists(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "phase1_narrative.md", "You are a narrative director.")
	touch(t, root, "phase1_empty.md", "")

	if !Exists(filepath.Join(root, "phase1_narrative.md")) {
		t.Fatal("non-empty prompt should exist")
	}
	if Exists(filepath.Join(root, "phase1_empty.md")) {
		t.Fatal("empty prompt must not count as present")
	}
	if Exists(filepath.Join(root, "phase1_absent.md")) {
		t.Fatal("missing file reported as present")
	}
	if Exists(root) {
		t.Fatal("directory reported as a prompt")
	}
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "phase1_visual.md", "v")
	touch(t, root, "phase1_narrative.md", "n")
	touch(t, root, "phase1_evaluation.md", "e")
	touch(t, root, "phase2_minimal.md", "m")
	touch(t, root, "README.md", "not a prompt")
	touch(t, root, "phaseX_bad.md", "not a phase")

	got, err := Discover(root)
	if err != nil {
		t.Fatal(err)
	}
	want := map[int][]string{
		1: {"narrative", "visual"},
		2: {"minimal"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Discover = %v, want %v", got, want)
	}
}

func TestMissingForPhase(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "phase1_narrative.md", "n")
	touch(t, root, "phase1_evaluation.md", "e")

	missing := MissingForPhase(root, 1, []string{"narrative", "visual"})
	if !reflect.DeepEqual(missing, []string{"visual"}) {
		t.Fatalf("missing = %v", missing)
	}

	missing = MissingForPhase(root, 2, []string{"cinematic"})
	if !reflect.DeepEqual(missing, []string{"cinematic", EvaluatorSuffix}) {
		t.Fatalf("missing = %v", missing)
	}

	if missing := MissingForPhase(root, 1, []string{"narrative"}); missing != nil {
		t.Fatalf("missing = %v, want none", missing)
	}
}

func TestParseName(t *testing.T) {
	cases := []struct {
		base  string
		phase int
		typ   string
		ok    bool
	}{
		{"phase1_narrative.md", 1, "narrative", true},
		{"phase4_clip_strategy.md", 4, "clip_strategy", true},
		{"phase10_future.md", 10, "future", true},
		{"phase1_.md", 0, "", false},
		{"phase_x.md", 0, "", false},
		{"notes.md", 0, "", false},
		{"phase1_narrative.txt", 0, "", false},
	}
	for _, tc := range cases {
		phase, typ, ok := parseName(tc.base)
		if ok != tc.ok || phase != tc.phase || typ != tc.typ {
			t.Errorf("parseName(%q) = (%d, %q, %v), want (%d, %q, %v)",
				tc.base, phase, typ, ok, tc.phase, tc.typ, tc.ok)
		}
	}
}
