package engine

import (
	"strings"
	"testing"

	"github.com/beatframe/beatframe/internal/pipeline/feedback"
	"github.com/beatframe/beatframe/internal/pipeline/state"
)

// designResult renders a phase result the way the design loop stores one.
func designResult(winner string) map[string]any {
	final := feedback.FinalResult{
		WinnerName:     winner,
		FinalOutput:    map[string]any{"concept": "x"},
		FinalScore:     90,
		IterationCount: 1,
	}
	return final.Doc()
}

func reportSession(t *testing.T) *state.Session {
	t.Helper()
	s, err := state.LoadOrCreate(t.TempDir(), "01BX5ZZKBKACTAV9WEVGEMMVS0")
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func completePhase(t *testing.T, s *state.Session, n int, result map[string]any) {
	t.Helper()
	if err := s.MarkPhaseStarted(n); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkPhaseCompleted(n, result); err != nil {
		t.Fatal(err)
	}
}

func TestSessionWarningsCleanRun(t *testing.T) {
	s := reportSession(t)
	completePhase(t, s, 0, map[string]any{"analysis": map[string]any{"duration_s": 120.0}})
	completePhase(t, s, 1, designResult("visual"))

	if w := SessionWarnings(s); len(w) != 0 {
		t.Fatalf("warnings = %v, want none", w)
	}
}

func TestSessionWarningsEmptyWinner(t *testing.T) {
	s := reportSession(t)
	completePhase(t, s, 0, map[string]any{"analysis": map[string]any{}})
	completePhase(t, s, 1, designResult(""))

	w := SessionWarnings(s)
	if len(w) != 1 || !strings.Contains(w[0], "no winner") {
		t.Fatalf("warnings = %v, want one no-winner warning", w)
	}
}

func TestSessionWarningsEmptyResult(t *testing.T) {
	s := reportSession(t)
	completePhase(t, s, 0, map[string]any{})

	w := SessionWarnings(s)
	if len(w) != 1 || !strings.Contains(w[0], "empty result") {
		t.Fatalf("warnings = %v, want one empty-result warning", w)
	}
}

func TestSessionWarningsFailedClips(t *testing.T) {
	s := reportSession(t)
	completePhase(t, s, 0, map[string]any{"analysis": map[string]any{}})
	for n := 1; n <= 4; n++ {
		completePhase(t, s, n, designResult("visual"))
	}
	completePhase(t, s, 5, map[string]any{
		"clips": []any{
			map[string]any{"clip_id": 1.0, "success": true},
			map[string]any{"clip_id": 2.0, "success": false, "error": "backend timeout"},
		},
	})

	w := SessionWarnings(s)
	if len(w) != 1 {
		t.Fatalf("warnings = %v, want exactly one", w)
	}
	if !strings.Contains(w[0], "clip 2") || !strings.Contains(w[0], "backend timeout") {
		t.Fatalf("warning = %q, want clip 2 failure with cause", w[0])
	}
}

func TestSessionWarningsSkipsIncompletePhases(t *testing.T) {
	s := reportSession(t)
	if err := s.MarkPhaseStarted(0); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkPhaseFailed(0, "analyzer crashed"); err != nil {
		t.Fatal(err)
	}
	if w := SessionWarnings(s); len(w) != 0 {
		t.Fatalf("warnings = %v, want none for failed phases", w)
	}
}
