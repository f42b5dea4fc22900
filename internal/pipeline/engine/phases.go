package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/beatframe/beatframe/internal/pipeline/clips"
	"github.com/beatframe/beatframe/internal/pipeline/media"
	"github.com/beatframe/beatframe/internal/pipeline/state"
	"github.com/beatframe/beatframe/internal/procutil"
)

// runAudioAnalysis ingests the audio analysis: either a pre-computed JSON
// document or the output of the configured analyzer command.
func (e *Engine) runAudioAnalysis(ctx context.Context) (map[string]any, error) {
	var raw []byte
	var source string
	switch {
	case e.opts.AnalysisPath != "":
		b, err := os.ReadFile(e.opts.AnalysisPath)
		if err != nil {
			return nil, fmt.Errorf("read analysis file: %w", err)
		}
		raw, source = b, e.opts.AnalysisPath
	case len(e.cfg.Audio.AnalyzerCommand) > 0:
		if e.opts.AudioPath == "" {
			return nil, fmt.Errorf("audio analysis: no audio file given")
		}
		b, err := e.runAnalyzer(ctx)
		if err != nil {
			return nil, err
		}
		raw, source = b, "analyzer"
	default:
		return nil, fmt.Errorf("audio analysis: neither an analysis file nor an analyzer command is configured")
	}

	var analysis map[string]any
	if err := json.Unmarshal(raw, &analysis); err != nil {
		return nil, fmt.Errorf("decode audio analysis: %w", err)
	}
	result := map[string]any{
		"analysis": analysis,
		"source":   source,
	}
	if e.opts.AudioPath != "" {
		result["audio_path"] = e.opts.AudioPath
	}
	return result, nil
}

func (e *Engine) runAnalyzer(ctx context.Context) ([]byte, error) {
	argv := e.cfg.Audio.AnalyzerCommand
	args := append(append([]string{}, argv[1:]...), e.opts.AudioPath)
	cmd := exec.CommandContext(ctx, argv[0], args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		procutil.TerminateGroup(cmd, 3*time.Second)
		return nil
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("audio analyzer: %s", msg)
	}
	return stdout.Bytes(), nil
}

// designsFromSession reconstructs the clip design list by merging the
// clip-design winner (phase 3) with the per-clip strategies (phase 4).
func (e *Engine) designsFromSession() ([]clips.Design, error) {
	rawDesigns := nestedValue(e.session.GetPhaseData(3), "final_result", "clip_designs")
	if rawDesigns == nil {
		return nil, fmt.Errorf("clip design winner has no clip_designs")
	}
	designs, err := clips.DecodeDesigns(rawDesigns)
	if err != nil {
		return nil, err
	}
	if len(designs) == 0 {
		return nil, fmt.Errorf("clip design winner produced zero clips")
	}

	if rawStrategies := nestedValue(e.session.GetPhaseData(4), "final_result", "strategies"); rawStrategies != nil {
		strategies, err := decodeStrategies(rawStrategies)
		if err != nil {
			return nil, err
		}
		for i := range designs {
			if st, ok := strategies[designs[i].ClipID]; ok {
				designs[i].Strategy = st
			}
		}
	}
	return designs, nil
}

type clipStrategy struct {
	ClipID       int                     `json:"clip_id"`
	PreferredMCP string                  `json:"preferred_mcp,omitempty"`
	Fallback     *clips.FallbackStrategy `json:"fallback_strategy,omitempty"`
}

func decodeStrategies(raw any) (map[int]*clips.Strategy, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode strategies: %w", err)
	}
	var list []clipStrategy
	if err := json.Unmarshal(b, &list); err != nil {
		return nil, fmt.Errorf("decode strategies: %w", err)
	}
	out := make(map[int]*clips.Strategy, len(list))
	for _, st := range list {
		out[st.ClipID] = &clips.Strategy{PreferredMCP: st.PreferredMCP, Fallback: st.Fallback}
	}
	return out, nil
}

// runClipGeneration fans out all clips under the bounded generator. Any
// failed clip fails the phase; the per-clip results are still recorded in the
// attempt error so nothing drops silently.
func (e *Engine) runClipGeneration(ctx context.Context) (map[string]any, error) {
	designs, err := e.designsFromSession()
	if err != nil {
		return nil, err
	}
	dir, err := e.phaseDir(5)
	if err != nil {
		return nil, err
	}
	gen := clips.NewGenerator(
		e.registry,
		*e.cfg.Clips.MaxParallel,
		*e.cfg.Clips.MaxRetries,
		clips.BackoffFromConfig(e.cfg.Retry),
		e.session.ID(),
		e.progress.Emit,
	)
	results, err := gen.GenerateAll(ctx, designs, dir)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var failed []string
	for _, r := range results {
		if !r.Success {
			failed = append(failed, fmt.Sprintf("clip %d: %s", r.ClipID, r.Error))
		}
	}
	if len(failed) > 0 {
		return nil, fmt.Errorf("%d of %d clips failed: %s", len(failed), len(results), strings.Join(failed, "; "))
	}
	return map[string]any{
		"clips":      clips.ResultDocs(results),
		"total":      len(results),
		"output_dir": dir,
	}, nil
}

// runClipReview verifies every generated artifact and regenerates the ones
// that are missing or empty.
func (e *Engine) runClipReview(ctx context.Context) (map[string]any, error) {
	designs, err := e.designsFromSession()
	if err != nil {
		return nil, err
	}
	paths, err := e.clipPaths(designs)
	if err != nil {
		return nil, err
	}

	var needRegen []clips.Design
	for _, d := range designs {
		info, statErr := os.Stat(paths[d.ClipID])
		if statErr != nil || info.Size() == 0 {
			needRegen = append(needRegen, d)
		}
	}

	regenerated := []int{}
	if len(needRegen) > 0 {
		e.log.Warn().Int("count", len(needRegen)).Msg("regenerating rejected clips")
		dir, derr := e.phaseDir(5)
		if derr != nil {
			return nil, derr
		}
		gen := clips.NewGenerator(
			e.registry,
			*e.cfg.Clips.MaxParallel,
			*e.cfg.Clips.MaxRetries,
			clips.BackoffFromConfig(e.cfg.Retry),
			e.session.ID()+":review",
			e.progress.Emit,
		)
		results, gerr := gen.GenerateAll(ctx, needRegen, dir)
		if gerr != nil {
			return nil, gerr
		}
		var failed []string
		for _, r := range results {
			if r.Success {
				regenerated = append(regenerated, r.ClipID)
			} else {
				failed = append(failed, fmt.Sprintf("clip %d: %s", r.ClipID, r.Error))
			}
		}
		if len(failed) > 0 {
			return nil, fmt.Errorf("clip review: %s", strings.Join(failed, "; "))
		}
	}
	return map[string]any{
		"verified":    len(designs) - len(needRegen),
		"regenerated": regenerated,
		"failed":      []any{},
	}, nil
}

// clipPaths maps clip ids to their artifact paths from the generation winner.
func (e *Engine) clipPaths(designs []clips.Design) (map[int]string, error) {
	data := e.session.GetPhaseData(5)
	raw, _ := data["clips"].([]any)
	paths := make(map[int]string, len(raw))
	for _, item := range raw {
		doc, _ := item.(map[string]any)
		id, idOK := asInt(doc["clip_id"])
		path, pathOK := doc["output_path"].(string)
		if idOK && pathOK {
			paths[id] = path
		}
	}
	for _, d := range designs {
		if _, ok := paths[d.ClipID]; !ok {
			return nil, fmt.Errorf("no generated artifact recorded for clip %d", d.ClipID)
		}
	}
	return paths, nil
}

// sectionGroup is one contiguous run of clips sharing a section label.
type sectionGroup struct {
	name    string
	designs []clips.Design
}

// groupBySection splits designs into contiguous section runs, preserving clip
// order. Unlabelled clips fall into an unnamed group.
func groupBySection(designs []clips.Design) []sectionGroup {
	var groups []sectionGroup
	for _, d := range designs {
		if len(groups) == 0 || groups[len(groups)-1].name != d.Section {
			groups = append(groups, sectionGroup{name: d.Section})
		}
		last := &groups[len(groups)-1]
		last.designs = append(last.designs, d)
	}
	return groups
}

// runVideoEdit trims every clip to its timeline slot, merges each section
// (crossfading within it when configured), and concatenates the sections into
// one continuous video.
func (e *Engine) runVideoEdit(ctx context.Context) (map[string]any, error) {
	designs, err := e.designsFromSession()
	if err != nil {
		return nil, err
	}
	paths, err := e.clipPaths(designs)
	if err != nil {
		return nil, err
	}
	dir, err := e.phaseDir(7)
	if err != nil {
		return nil, err
	}

	specs := make([]media.TrimSpec, 0, len(designs))
	for _, d := range designs {
		specs = append(specs, media.TrimSpec{
			ClipID:    d.ClipID,
			InputPath: paths[d.ClipID],
			StartS:    0,
			DurationS: d.Duration,
		})
	}
	trimmer := media.NewTrimmer(e.cfg.Media.FFmpeg, *e.cfg.Media.MaxParallel)
	trimmed, err := trimmer.TrimAll(ctx, specs, filepath.Join(dir, "trimmed"))
	if err != nil {
		return nil, err
	}
	trimmedByID := make(map[int]string, len(trimmed))
	for _, t := range trimmed {
		trimmedByID[t.ClipID] = t.OutputPath
	}

	merger := media.NewMerger(e.cfg.Media.FFmpeg, e.cfg.Media.Transition, e.cfg.Media.TransitionDurationS)
	concat := media.NewMerger(e.cfg.Media.FFmpeg, "none", 0)

	groups := groupBySection(designs)
	sectionSegs := make([]media.Segment, 0, len(groups))
	sectionDocs := make([]map[string]any, 0, len(groups))
	for i, g := range groups {
		segments := make([]media.Segment, 0, len(g.designs))
		total := 0.0
		for _, d := range g.designs {
			segments = append(segments, media.Segment{Path: trimmedByID[d.ClipID], DurationS: d.Duration})
			total += d.Duration
		}
		sectionPath := filepath.Join(dir, fmt.Sprintf("section_%02d.mp4", i))
		if err := merger.Merge(ctx, segments, sectionPath); err != nil {
			return nil, fmt.Errorf("merge section %q: %w", g.name, err)
		}
		sectionSegs = append(sectionSegs, media.Segment{Path: sectionPath, DurationS: total})
		sectionDocs = append(sectionDocs, map[string]any{
			"name":       g.name,
			"path":       sectionPath,
			"duration_s": total,
			"clips":      len(g.designs),
		})
	}

	merged := filepath.Join(dir, "merged.mp4")
	if err := concat.Merge(ctx, sectionSegs, merged); err != nil {
		return nil, err
	}

	timeline := make([]map[string]any, 0, len(designs))
	for _, d := range designs {
		timeline = append(timeline, map[string]any{
			"clip_id":    d.ClipID,
			"section":    d.Section,
			"start_time": d.StartTime,
			"end_time":   d.EndTime,
		})
	}
	return map[string]any{
		"output_path": merged,
		"sections":    sectionDocs,
		"timeline":    timeline,
	}, nil
}

// runEffects applies the storyboard's effect filters to each merged section
// and re-concatenates, or passes the merged video through untouched when no
// effects were designed.
func (e *Engine) runEffects(ctx context.Context) (map[string]any, error) {
	editData := e.session.GetPhaseData(7)
	mergedPath, ok := editData["output_path"].(string)
	if !ok || mergedPath == "" {
		return nil, fmt.Errorf("video edit winner has no output path")
	}
	dir, err := e.phaseDir(8)
	if err != nil {
		return nil, err
	}
	out := filepath.Join(dir, "effects.mp4")
	fx := media.NewEffects(e.cfg.Media.FFmpeg)

	filters := effectFilters(e.session.GetPhaseData(2))
	if len(filters) == 0 {
		if err := fx.Apply(ctx, mergedPath, out, nil); err != nil {
			return nil, err
		}
		return map[string]any{
			"output_path": out,
			"filters":     []string{},
			"sections":    0,
		}, nil
	}

	sections, err := editSections(editData)
	if err != nil {
		return nil, err
	}
	backoff := clips.BackoffFromConfig(e.cfg.Retry)
	maxRetries := *e.cfg.Clips.MaxRetries
	processed := make([]media.Segment, len(sections))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*e.cfg.Media.MaxParallel)
	for i, sec := range sections {
		i, sec := i, sec
		g.Go(func() error {
			secOut := filepath.Join(dir, fmt.Sprintf("fx_section_%02d.mp4", i))
			var applyErr error
			for attempt := 1; attempt <= maxRetries; attempt++ {
				if attempt > 1 && !backoff.Wait(gctx, attempt-1, fmt.Sprintf("%s:fx%d", e.session.ID(), i)) {
					return gctx.Err()
				}
				if applyErr = fx.Apply(gctx, sec.Path, secOut, filters); applyErr == nil {
					break
				}
				if gctx.Err() != nil {
					return gctx.Err()
				}
			}
			if applyErr != nil {
				return fmt.Errorf("effects on section %d: %w", i, applyErr)
			}
			processed[i] = media.Segment{Path: secOut, DurationS: sec.DurationS}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	concat := media.NewMerger(e.cfg.Media.FFmpeg, "none", 0)
	if err := concat.Merge(ctx, processed, out); err != nil {
		return nil, err
	}
	return map[string]any{
		"output_path": out,
		"filters":     filters,
		"sections":    len(sections),
	}, nil
}

// editSections decodes the video-edit winner's section list.
func editSections(editData map[string]any) ([]media.Segment, error) {
	raw, _ := editData["sections"].([]any)
	if len(raw) == 0 {
		return nil, fmt.Errorf("video edit winner has no sections")
	}
	out := make([]media.Segment, 0, len(raw))
	for _, item := range raw {
		doc, _ := item.(map[string]any)
		path, _ := doc["path"].(string)
		if path == "" {
			return nil, fmt.Errorf("section record missing path: %v", item)
		}
		dur, _ := doc["duration_s"].(float64)
		out = append(out, media.Segment{Path: path, DurationS: dur})
	}
	return out, nil
}

// effectFilters extracts the storyboard winner's ffmpeg filter list, if any.
func effectFilters(storyboard map[string]any) []string {
	raw := nestedValue(storyboard, "final_result", "effects")
	list, _ := raw.([]any)
	filters := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok && s != "" {
			filters = append(filters, s)
		}
	}
	return filters
}

// runFinalRender writes the composition manifest and drives the external
// renderer.
func (e *Engine) runFinalRender(ctx context.Context) (map[string]any, error) {
	videoPath, ok := e.session.GetPhaseData(8)["output_path"].(string)
	if !ok || videoPath == "" {
		return nil, fmt.Errorf("effects winner has no output path")
	}
	dir, err := e.phaseDir(9)
	if err != nil {
		return nil, err
	}

	durationS := e.totalDuration()
	composition := map[string]any{
		"video_path": videoPath,
		"duration_s": durationS,
	}
	if audioPath, ok := e.session.GetPhaseData(0)["audio_path"].(string); ok && audioPath != "" {
		composition["audio_path"] = audioPath
	}
	compPath := filepath.Join(dir, "composition.json")
	if err := state.WriteJSONAtomic(compPath, composition); err != nil {
		return nil, err
	}

	renderer := media.NewRenderer(
		e.cfg.Render.Command,
		time.Duration(*e.cfg.Render.TimeoutS)*time.Second,
		e.progress.Emit,
	)
	res, err := renderer.Render(ctx, compPath, filepath.Join(dir, "final.mp4"), durationS)
	if err != nil {
		return nil, err
	}
	return res.Doc(), nil
}

// totalDuration prefers the analyzer's measured duration, falling back to the
// sum of clip slots.
func (e *Engine) totalDuration() float64 {
	if v, ok := nestedValue(e.session.GetPhaseData(0), "analysis", "duration_s").(float64); ok && v > 0 {
		return v
	}
	designs, err := e.designsFromSession()
	if err != nil {
		return 0
	}
	total := 0.0
	for _, d := range designs {
		total += d.Duration
	}
	return total
}

// nestedValue walks string keys through nested map[string]any values.
func nestedValue(doc map[string]any, keys ...string) any {
	var cur any = doc
	for _, k := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[k]
	}
	return cur
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}
