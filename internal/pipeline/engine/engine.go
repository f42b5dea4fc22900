// Package engine sequences the ten pipeline phases over a session, gating
// each phase on its predecessor and committing results through the session
// store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/beatframe/beatframe/internal/log"
	"github.com/beatframe/beatframe/internal/pipeline/agent"
	"github.com/beatframe/beatframe/internal/pipeline/clips"
	"github.com/beatframe/beatframe/internal/pipeline/config"
	"github.com/beatframe/beatframe/internal/pipeline/evaluate"
	"github.com/beatframe/beatframe/internal/pipeline/feedback"
	"github.com/beatframe/beatframe/internal/pipeline/state"
)

// ErrPrerequisiteNotMet rejects running a phase whose predecessor has not
// completed.
var ErrPrerequisiteNotMet = errors.New("prerequisite phase not completed")

// PhaseNames maps phase numbers to their pipeline stage names.
var PhaseNames = [state.PhaseCount]string{
	"audio_analysis",
	"concept",
	"storyboard",
	"clip_design",
	"clip_strategy",
	"clip_generation",
	"clip_review",
	"video_edit",
	"effects",
	"final_render",
}

// PhaseName returns the stage name for n, or "unknown" out of range.
func PhaseName(n int) string {
	if n < 0 || n >= state.PhaseCount {
		return "unknown"
	}
	return PhaseNames[n]
}

// Options carries the per-run inputs that are not part of the config file.
type Options struct {
	AudioPath    string // source audio for analysis and final render
	AnalysisPath string // pre-computed analysis JSON; skips the analyzer
}

// Engine drives one session through the pipeline.
type Engine struct {
	cfg      *config.File
	session  *state.Session
	exec     *agent.Executor
	eval     *evaluate.Evaluator
	registry *clips.Registry
	progress *ProgressWriter
	opts     Options
	log      zerolog.Logger
}

// New wires an engine for the session.
func New(cfg *config.File, session *state.Session, opts Options) *Engine {
	exec := agent.NewExecutor(
		cfg.Agent.Binary,
		cfg.PromptsRoot,
		time.Duration(*cfg.Agent.TimeoutS)*time.Second,
		*cfg.Agent.MaxParallel,
	)
	return &Engine{
		cfg:      cfg,
		session:  session,
		exec:     exec,
		eval:     evaluate.New(exec),
		registry: clips.NewRegistry(cfg.Backends, cfg.Clips.DefaultBackend),
		progress: NewProgressWriter(filepath.Join(session.Dir(), "progress.ndjson")),
		opts:     opts,
		log:      log.WithSession("engine", session.ID()),
	}
}

// Session exposes the engine's session for status reporting.
func (e *Engine) Session() *state.Session { return e.session }

// RunRange executes phases from..to in order. Completed phases are skipped,
// which is what makes resume a plain re-run.
func (e *Engine) RunRange(ctx context.Context, from, to int) error {
	if from < 0 || to >= state.PhaseCount || from > to {
		return fmt.Errorf("invalid phase range %d..%d", from, to)
	}
	for n := from; n <= to; n++ {
		p, err := e.session.Phase(n)
		if err != nil {
			return err
		}
		if p.Status == state.StatusCompleted {
			e.log.Info().Int("phase", n).Str("name", PhaseName(n)).Msg("phase already completed; skipping")
			continue
		}
		if err := e.RunPhase(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

// RunPhase executes exactly one phase: gate, open attempt, execute, commit.
// Cancellation returns before the attempt is closed, so an interrupted phase
// stays in_progress for the next resume.
func (e *Engine) RunPhase(ctx context.Context, n int) error {
	name := PhaseName(n)
	if !e.session.CanExecutePhase(n) {
		return fmt.Errorf("phase %d (%s): %w", n, name, ErrPrerequisiteNotMet)
	}
	if err := e.session.MarkPhaseStarted(n); err != nil {
		return err
	}
	e.progress.Emit(map[string]any{"event": "phase_start", "phase": n, "name": name})
	e.log.Info().Int("phase", n).Str("name", name).Msg("phase started")

	result, err := e.executePhase(ctx, n)
	if err != nil {
		if ctx.Err() != nil {
			// Interrupted, not failed: the open attempt survives for resume.
			e.log.Warn().Int("phase", n).Msg("phase interrupted")
			return fmt.Errorf("phase %d (%s) interrupted: %w", n, name, ctx.Err())
		}
		if errors.Is(err, feedback.ErrNoViableSubmissions) {
			// Every agent failed this round. The phase stays in_progress with
			// its open attempt so a plain re-run retries the round.
			e.progress.Emit(map[string]any{"event": "phase_stalled", "phase": n, "name": name, "error": err.Error()})
			e.log.Warn().Int("phase", n).Str("name", name).Msg("no viable submissions; phase left in progress")
			return fmt.Errorf("phase %d (%s): %w", n, name, err)
		}
		e.progress.Emit(map[string]any{"event": "phase_failed", "phase": n, "name": name, "error": err.Error()})
		if ferr := e.session.MarkPhaseFailed(n, err.Error()); ferr != nil {
			return errors.Join(err, ferr)
		}
		return fmt.Errorf("phase %d (%s): %w", n, name, err)
	}

	if err := e.session.MarkPhaseCompleted(n, result); err != nil {
		return err
	}
	e.progress.Emit(map[string]any{"event": "phase_completed", "phase": n, "name": name})
	e.log.Info().Int("phase", n).Str("name", name).Msg("phase completed")
	return nil
}

func (e *Engine) executePhase(ctx context.Context, n int) (map[string]any, error) {
	switch n {
	case 0:
		return e.runAudioAnalysis(ctx)
	case 1, 2, 3, 4:
		return e.runDesignPhase(ctx, n)
	case 5:
		return e.runClipGeneration(ctx)
	case 6:
		return e.runClipReview(ctx)
	case 7:
		return e.runVideoEdit(ctx)
	case 8:
		return e.runEffects(ctx)
	case 9:
		return e.runFinalRender(ctx)
	default:
		return nil, fmt.Errorf("phase number out of range: %d", n)
	}
}

// phaseDir resolves the sidecar directory for a phase.
func (e *Engine) phaseDir(n int) (string, error) {
	return e.session.PhaseDir(n)
}

// baseContext assembles the context document fed to design-phase agents:
// session identity plus the winner artifacts of every completed design input.
func (e *Engine) baseContext(phase int) map[string]any {
	doc := map[string]any{
		"session_id":   e.session.ID(),
		"phase_number": phase,
		"phase_name":   PhaseName(phase),
	}
	if analysis := e.session.GetPhaseData(0); analysis != nil {
		doc["audio_analysis"] = analysis
	}
	if phase > 1 {
		if concept := e.session.GetPhaseData(1); concept != nil {
			doc["concept"] = concept
		}
	}
	if phase > 2 {
		if storyboard := e.session.GetPhaseData(2); storyboard != nil {
			doc["storyboard"] = storyboard
		}
	}
	if phase > 3 {
		if designs := e.session.GetPhaseData(3); designs != nil {
			doc["clip_designs"] = designs
		}
	}
	return doc
}

// runDesignPhase drives the competitive feedback loop for phases 1..4.
func (e *Engine) runDesignPhase(ctx context.Context, n int) (map[string]any, error) {
	dir, err := e.phaseDir(n)
	if err != nil {
		return nil, err
	}
	loop := feedback.New(e.exec, e.eval, *e.cfg.QualityThreshold, *e.cfg.MaxIterations, e.progress.Emit)
	final, err := loop.Run(ctx, n, e.baseContext(n), dir, e.cfg.PhaseAgents(n))
	if err != nil {
		return nil, err
	}
	return final.Doc(), nil
}
