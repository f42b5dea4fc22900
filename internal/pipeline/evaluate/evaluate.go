// Package evaluate runs the per-phase evaluator subprocess and turns its
// output into a Selection, degrading to a deterministic fallback when the
// evaluator cannot be trusted.
package evaluate

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/beatframe/beatframe/internal/log"
	"github.com/beatframe/beatframe/internal/pipeline/agent"
)

// PartialAdoption directs porting a named feature from a non-winning
// submission into the winner during downstream consumption.
type PartialAdoption struct {
	From          string `json:"from"`
	Feature       string `json:"feature"`
	Justification string `json:"justification,omitempty"`
}

// Selection is the evaluator's verdict for one iteration.
type Selection struct {
	WinnerName       string             `json:"winner_name"`
	WinnerOutput     map[string]any     `json:"winner_output,omitempty"`
	Scores           map[string]float64 `json:"scores"`
	Reasoning        string             `json:"reasoning,omitempty"`
	PartialAdoptions []PartialAdoption  `json:"partial_adoptions,omitempty"`
	Fallback         bool               `json:"fallback,omitempty"`
}

// selectionSchema pins the shape the evaluator must emit before its verdict
// is trusted. Violations route to the deterministic fallback.
var selectionSchema = jsonschema.MustCompileString("selection.json", `{
	"type": "object",
	"required": ["winner", "scores"],
	"properties": {
		"winner": {"type": "string", "minLength": 1},
		"scores": {
			"type": "object",
			"additionalProperties": {"type": "number", "minimum": 0, "maximum": 100}
		},
		"reasoning": {"type": "string"},
		"partial_adoptions": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["from", "feature"],
				"properties": {
					"from": {"type": "string"},
					"feature": {"type": "string"},
					"justification": {"type": "string"}
				}
			}
		}
	}
}`)

// Evaluator wraps the agent executor for evaluation runs.
type Evaluator struct {
	exec *agent.Executor
	log  zerolog.Logger
}

func New(exec *agent.Executor) *Evaluator {
	return &Evaluator{exec: exec, log: log.WithComponent("evaluate")}
}

// Evaluate runs the phase evaluator over the submissions and returns a
// Selection. It never returns an error: every failure mode (missing prompt,
// crash, unparsable or schema-violating output, empty submission list)
// degrades to Fallback.
func (ev *Evaluator) Evaluate(ctx context.Context, phase int, submissions []agent.Result, contextDoc map[string]any, outputDir string) Selection {
	if len(submissions) == 0 {
		ev.log.Warn().Int("phase", phase).Msg("no submissions; using fallback selection")
		return Fallback(submissions)
	}

	augmented := make(map[string]any, len(contextDoc)+1)
	for k, v := range contextDoc {
		augmented[k] = v
	}
	augmented["submissions"] = submissionDocs(submissions)

	out, err := ev.exec.RunEvaluator(ctx, phase, augmented, outputDir)
	if err != nil {
		ev.log.Warn().Int("phase", phase).Err(err).Msg("evaluator failed; using fallback selection")
		return Fallback(submissions)
	}
	if err := selectionSchema.Validate(normalize(out)); err != nil {
		ev.log.Warn().Int("phase", phase).Err(err).Msg("evaluator output violates selection schema; using fallback")
		return Fallback(submissions)
	}

	sel := decodeSelection(out)
	winner, matched := resolveWinner(sel.WinnerName, submissions)
	if !matched {
		ev.log.Warn().
			Str("winner", sel.WinnerName).
			Str("resolved", winner.DirectorType).
			Msg("evaluator winner matched no submission; defaulting to first")
	}
	sel.WinnerName = winner.DirectorType
	sel.WinnerOutput = winner.Output
	return sel
}

// Score is the feedback loop's quality measure for a selection: the winner's
// score when present, else 50.
func Score(sel Selection) float64 {
	if v, ok := sel.Scores[sel.WinnerName]; ok {
		return v
	}
	return 50
}

// Fallback builds the deterministic selection used when the evaluator is
// unavailable: first successful submission wins (else the first overall),
// successful submissions score 80, failed ones 40, the winner 85. The scores
// are placeholders; downstream consumers depend only on winner and output.
func Fallback(submissions []agent.Result) Selection {
	sel := Selection{
		Scores:   map[string]float64{},
		Fallback: true,
	}
	if len(submissions) == 0 {
		sel.Reasoning = "fallback: no submissions"
		return sel
	}
	winner := submissions[0]
	for _, s := range submissions {
		if s.Success {
			winner = s
			break
		}
	}
	for _, s := range submissions {
		if s.Success {
			sel.Scores[s.DirectorType] = 80
		} else {
			sel.Scores[s.DirectorType] = 40
		}
	}
	sel.Scores[winner.DirectorType] = 85
	sel.WinnerName = winner.DirectorType
	sel.WinnerOutput = winner.Output
	sel.Reasoning = "fallback: " + winner.DirectorType
	return sel
}

// resolveWinner finds the submission whose director type is a
// case-insensitive substring of the evaluator's winner string.
func resolveWinner(winner string, submissions []agent.Result) (agent.Result, bool) {
	w := strings.ToLower(strings.TrimSpace(winner))
	for _, s := range submissions {
		if s.DirectorType == "" {
			continue
		}
		if strings.Contains(w, strings.ToLower(s.DirectorType)) {
			return s, true
		}
	}
	return submissions[0], false
}

func decodeSelection(out map[string]any) Selection {
	sel := Selection{Scores: map[string]float64{}}
	if w, ok := out["winner"].(string); ok {
		sel.WinnerName = w
	}
	if scores, ok := out["scores"].(map[string]any); ok {
		for k, v := range scores {
			if f, ok := v.(float64); ok {
				sel.Scores[k] = f
			}
		}
	}
	if r, ok := out["reasoning"].(string); ok {
		sel.Reasoning = r
	}
	if raw, ok := out["partial_adoptions"].([]any); ok {
		for _, item := range raw {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			pa := PartialAdoption{}
			if v, ok := m["from"].(string); ok {
				pa.From = v
			}
			if v, ok := m["feature"].(string); ok {
				pa.Feature = v
			}
			if v, ok := m["justification"].(string); ok {
				pa.Justification = v
			}
			if pa.From != "" || pa.Feature != "" {
				sel.PartialAdoptions = append(sel.PartialAdoptions, pa)
			}
		}
	}
	return sel
}

func submissionDocs(submissions []agent.Result) []map[string]any {
	docs := make([]map[string]any, 0, len(submissions))
	for _, s := range submissions {
		docs = append(docs, map[string]any{
			"director_type":    s.DirectorType,
			"success":          s.Success,
			"output":           s.Output,
			"execution_time_s": s.ExecutionTime,
		})
	}
	return docs
}

// normalize round-trips a value through JSON so schema validation sees plain
// interface types regardless of how the document was built.
func normalize(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

// Doc renders a selection as an opaque result fragment for session storage.
func (s Selection) Doc() map[string]any {
	doc := map[string]any{
		"winner":    s.WinnerName,
		"scores":    s.Scores,
		"reasoning": s.Reasoning,
	}
	if s.WinnerOutput != nil {
		doc["winner_output"] = s.WinnerOutput
	}
	if len(s.PartialAdoptions) > 0 {
		adoptions := make([]map[string]any, 0, len(s.PartialAdoptions))
		for _, pa := range s.PartialAdoptions {
			m := map[string]any{"from": pa.From, "feature": pa.Feature}
			if pa.Justification != "" {
				m["justification"] = pa.Justification
			}
			adoptions = append(adoptions, m)
		}
		doc["partial_adoptions"] = adoptions
	}
	if s.Fallback {
		doc["fallback"] = true
	}
	return doc
}
