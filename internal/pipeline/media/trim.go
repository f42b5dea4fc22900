package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/beatframe/beatframe/internal/log"
)

// TrimSpec cuts one clip to its timeline slot.
type TrimSpec struct {
	ClipID    int
	InputPath string
	StartS    float64
	DurationS float64
}

// TrimResult is the trimmed artifact for one clip.
type TrimResult struct {
	ClipID     int    `json:"clip_id"`
	OutputPath string `json:"output_path"`
}

// Trimmer cuts generated clips with ffmpeg stream copy.
type Trimmer struct {
	ffmpeg      string
	maxParallel int
	log         zerolog.Logger
}

// NewTrimmer builds a trimmer bound to the given ffmpeg binary.
func NewTrimmer(ffmpeg string, maxParallel int) *Trimmer {
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &Trimmer{ffmpeg: ffmpeg, maxParallel: maxParallel, log: log.WithComponent("media")}
}

// TrimAll trims every clip concurrently, bounded by maxParallel. A single
// failed trim fails the batch: a missing segment would silently shorten the
// final video.
func (t *Trimmer) TrimAll(ctx context.Context, specs []TrimSpec, outputDir string) ([]TrimResult, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create trim dir: %w", err)
	}

	results := make([]TrimResult, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.maxParallel)
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			out := filepath.Join(outputDir, fmt.Sprintf("trimmed_%03d.mp4", spec.ClipID))
			if err := t.trimOne(gctx, spec, out); err != nil {
				return fmt.Errorf("trim clip %d: %w", spec.ClipID, err)
			}
			results[i] = TrimResult{ClipID: spec.ClipID, OutputPath: out}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (t *Trimmer) trimOne(ctx context.Context, spec TrimSpec, outputPath string) error {
	if _, err := os.Stat(spec.InputPath); err != nil {
		return fmt.Errorf("input missing: %w", err)
	}
	args := []string{
		"-ss", formatSeconds(spec.StartS),
		"-i", spec.InputPath,
	}
	if spec.DurationS > 0 {
		args = append(args, "-t", formatSeconds(spec.DurationS))
	}
	// Stream copy keeps trims fast and lossless; re-encoding happens only at
	// merge time when a transition demands it.
	args = append(args, "-c", "copy", "-avoid_negative_ts", "make_zero", outputPath)
	t.log.Debug().Int("clip_id", spec.ClipID).Str("output", outputPath).Msg("trimming clip")
	return runFFmpeg(ctx, t.ffmpeg, args...)
}

func formatSeconds(s float64) string {
	return fmt.Sprintf("%.3f", s)
}
