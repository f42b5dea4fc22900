// Package feedback iterates a design phase's competitive round until the
// evaluator's score clears the quality threshold or the iteration cap.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/beatframe/beatframe/internal/log"
	"github.com/beatframe/beatframe/internal/pipeline/agent"
	"github.com/beatframe/beatframe/internal/pipeline/evaluate"
)

// ErrNoViableSubmissions aborts an iteration in which every agent failed.
var ErrNoViableSubmissions = errors.New("no viable submissions")

// IterationRecord captures one run-agents/evaluate round.
type IterationRecord struct {
	Iteration   int                `json:"iteration_num"`
	Submissions []agent.Result     `json:"submissions"`
	Selection   evaluate.Selection `json:"selection"`
	Score       float64            `json:"score"`
	Improvement float64            `json:"improvement"`
}

// FinalResult is the loop's outcome; the last iteration determines the
// winner even when the threshold was never met.
type FinalResult struct {
	WinnerName       string             `json:"winner_name"`
	FinalOutput      map[string]any     `json:"final_result,omitempty"`
	FinalScore       float64            `json:"final_score"`
	IterationCount   int                `json:"iteration_count"`
	TotalImprovement float64            `json:"total_improvement"`
	Iterations       []IterationRecord  `json:"iterations"`
	Selection        evaluate.Selection `json:"selection"`
}

// Loop drives the competitive rounds for the design phases.
type Loop struct {
	exec      *agent.Executor
	eval      *evaluate.Evaluator
	threshold float64
	maxIter   int
	progress  func(map[string]any)
	log       zerolog.Logger
}

// New builds a loop. threshold is the quality bar (0..100); maxIter caps the
// rounds (>= 1). progress may be nil.
func New(exec *agent.Executor, eval *evaluate.Evaluator, threshold float64, maxIter int, progress func(map[string]any)) *Loop {
	if maxIter < 1 {
		maxIter = 1
	}
	return &Loop{
		exec:      exec,
		eval:      eval,
		threshold: threshold,
		maxIter:   maxIter,
		progress:  progress,
		log:       log.WithComponent("feedback"),
	}
}

// Run executes up to maxIter iterations for the phase. The context document
// is only mutated between iterations by appending the synthesized feedback
// record; previous submissions are not re-fed to the agents except through
// that record. A low final score is not an error.
func (l *Loop) Run(ctx context.Context, phase int, initialContext map[string]any, outputDir string, agents []string) (*FinalResult, error) {
	if len(agents) == 0 {
		return nil, fmt.Errorf("phase %d: no agents configured", phase)
	}

	contextDoc := make(map[string]any, len(initialContext))
	for k, v := range initialContext {
		contextDoc[k] = v
	}

	var records []IterationRecord
	prevScore := 0.0

	for k := 1; k <= l.maxIter; k++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		iterDir := filepath.Join(outputDir, fmt.Sprintf("iteration_%d", k))
		l.emit(map[string]any{
			"event":     "iteration_start",
			"phase":     phase,
			"iteration": k,
			"agents":    agents,
		})

		submissions := l.exec.RunAll(ctx, phase, contextDoc, iterDir, agents)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !anySucceeded(submissions) {
			l.emit(map[string]any{
				"event":     "iteration_abort",
				"phase":     phase,
				"iteration": k,
				"reason":    "all agents failed",
			})
			return nil, fmt.Errorf("phase %d iteration %d: %w", phase, k, ErrNoViableSubmissions)
		}

		sel := l.eval.Evaluate(ctx, phase, submissions, contextDoc, iterDir)
		score := evaluate.Score(sel)
		improvement := 0.0
		if len(records) > 0 {
			improvement = score - prevScore
		}
		records = append(records, IterationRecord{
			Iteration:   k,
			Submissions: submissions,
			Selection:   sel,
			Score:       score,
			Improvement: improvement,
		})
		prevScore = score
		l.emit(map[string]any{
			"event":     "iteration_scored",
			"phase":     phase,
			"iteration": k,
			"winner":    sel.WinnerName,
			"score":     score,
			"threshold": l.threshold,
		})

		if score >= l.threshold {
			break
		}
		if k == l.maxIter {
			l.log.Warn().
				Int("phase", phase).
				Float64("score", score).
				Float64("threshold", l.threshold).
				Msg("iteration cap reached below threshold; keeping last winner")
			break
		}
		applyFeedback(contextDoc, synthesize(sel, score, l.threshold))
	}

	last := records[len(records)-1]
	final := &FinalResult{
		WinnerName:     last.Selection.WinnerName,
		FinalOutput:    last.Selection.WinnerOutput,
		FinalScore:     last.Score,
		IterationCount: len(records),
		Iterations:     records,
		Selection:      last.Selection,
	}
	if len(records) > 1 {
		final.TotalImprovement = last.Score - records[0].Score
	}
	return final, nil
}

func (l *Loop) emit(ev map[string]any) {
	if l.progress != nil {
		l.progress(ev)
	}
}

func anySucceeded(submissions []agent.Result) bool {
	for _, s := range submissions {
		if s.Success {
			return true
		}
	}
	return false
}

// Record is the feedback document injected into the next iteration's context.
type Record struct {
	PreviousWinner      string                     `json:"previous_winner"`
	PreviousScore       float64                    `json:"previous_score"`
	EvaluationReasoning string                     `json:"evaluation_reasoning"`
	AreasToImprove      []string                   `json:"areas_to_improve"`
	PartialAdoptions    []evaluate.PartialAdoption `json:"partial_adoptions"`
	Suggestions         []string                   `json:"suggestions"`
}

// synthesize builds the improvement directives for the next round.
func synthesize(sel evaluate.Selection, score, threshold float64) Record {
	rec := Record{
		PreviousWinner:      sel.WinnerName,
		PreviousScore:       score,
		EvaluationReasoning: sel.Reasoning,
		AreasToImprove:      []string{},
		PartialAdoptions:    sel.PartialAdoptions,
		Suggestions:         []string{},
	}
	if score < 60 {
		rec.AreasToImprove = append(rec.AreasToImprove, "Overall quality needs significant improvement")
	}
	if score < threshold {
		rec.AreasToImprove = append(rec.AreasToImprove, fmt.Sprintf("Score needs to reach %g", threshold))
	}
	if maxScore(sel.Scores)-score > 10 {
		rec.AreasToImprove = append(rec.AreasToImprove, "Consider incorporating strengths from other submissions")
	}
	for _, pa := range sel.PartialAdoptions {
		rec.Suggestions = append(rec.Suggestions, fmt.Sprintf("Consider adopting %s from %s", pa.Feature, pa.From))
	}
	return rec
}

// applyFeedback appends rec to feedback_history and points feedback at the
// latest entry. This is the only context mutation between iterations.
func applyFeedback(contextDoc map[string]any, rec Record) {
	doc := recordDoc(rec)
	history, _ := contextDoc["feedback_history"].([]any)
	history = append(history, doc)
	contextDoc["feedback_history"] = history
	contextDoc["feedback"] = doc
}

func recordDoc(rec Record) map[string]any {
	adoptions := make([]map[string]any, 0, len(rec.PartialAdoptions))
	for _, pa := range rec.PartialAdoptions {
		m := map[string]any{"from": pa.From, "feature": pa.Feature}
		if pa.Justification != "" {
			m["justification"] = pa.Justification
		}
		adoptions = append(adoptions, m)
	}
	return map[string]any{
		"previous_winner":      rec.PreviousWinner,
		"previous_score":       rec.PreviousScore,
		"evaluation_reasoning": rec.EvaluationReasoning,
		"areas_to_improve":     rec.AreasToImprove,
		"partial_adoptions":    adoptions,
		"suggestions":          rec.Suggestions,
	}
}

func maxScore(scores map[string]float64) float64 {
	max := 0.0
	for _, v := range scores {
		if v > max {
			max = v
		}
	}
	return max
}

// Doc renders the final result for session storage under the phase.
func (r *FinalResult) Doc() map[string]any {
	iterations := make([]map[string]any, 0, len(r.Iterations))
	for _, it := range r.Iterations {
		iterations = append(iterations, map[string]any{
			"iteration_num": it.Iteration,
			"winner":        it.Selection.WinnerName,
			"score":         it.Score,
			"improvement":   it.Improvement,
		})
	}
	doc := map[string]any{
		"winner_name":       r.WinnerName,
		"final_score":       r.FinalScore,
		"iteration_count":   r.IterationCount,
		"total_improvement": r.TotalImprovement,
		"iterations":        iterations,
		"selection":         r.Selection.Doc(),
	}
	if r.FinalOutput != nil {
		doc["final_result"] = r.FinalOutput
	}
	return doc
}
