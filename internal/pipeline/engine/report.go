package engine

import (
	"fmt"

	"github.com/beatframe/beatframe/internal/pipeline/state"
)

// SessionWarnings inspects a session after a run and reports anomalies that
// did not fail a phase but deserve a look: completed design phases whose
// winner is empty, and generated clips that recorded a failure.
func SessionWarnings(s *state.Session) []string {
	var warnings []string
	for n := 0; n < state.PhaseCount; n++ {
		p, err := s.Phase(n)
		if err != nil || p.Status != state.StatusCompleted {
			continue
		}
		data := s.GetPhaseData(n)
		if len(data) == 0 {
			warnings = append(warnings, fmt.Sprintf("phase %d (%s) completed with an empty result", n, PhaseName(n)))
			continue
		}
		if n >= 1 && n <= 4 {
			if winner, _ := data["winner_name"].(string); winner == "" {
				warnings = append(warnings, fmt.Sprintf("phase %d (%s) completed with no winner recorded", n, PhaseName(n)))
			}
		}
		if n == 5 {
			warnings = append(warnings, clipWarnings(data)...)
		}
	}
	return warnings
}

func clipWarnings(data map[string]any) []string {
	raw, _ := data["clips"].([]any)
	var warnings []string
	for _, item := range raw {
		doc, _ := item.(map[string]any)
		success, _ := doc["success"].(bool)
		if success {
			continue
		}
		id, _ := asInt(doc["clip_id"])
		msg, _ := doc["error"].(string)
		if msg == "" {
			msg = "no error recorded"
		}
		warnings = append(warnings, fmt.Sprintf("clip %d failed: %s", id, msg))
	}
	return warnings
}
