package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/beatframe/beatframe/internal/log"
	"github.com/beatframe/beatframe/internal/pipeline/state"
)

// Segment is one ordered input to the merge step.
type Segment struct {
	Path      string
	DurationS float64
}

// Merger concatenates trimmed clips into one continuous video, optionally
// crossfading between segments.
type Merger struct {
	ffmpeg              string
	transition          string
	transitionDurationS float64
	log                 zerolog.Logger
}

// NewMerger builds a merger. transition names an xfade style ("fade",
// "wipeleft", ...); empty or "none" selects lossless concat.
func NewMerger(ffmpeg, transition string, transitionDurationS float64) *Merger {
	return &Merger{
		ffmpeg:              ffmpeg,
		transition:          transition,
		transitionDurationS: transitionDurationS,
		log:                 log.WithComponent("media"),
	}
}

// Merge produces outputPath from the ordered segments.
func (m *Merger) Merge(ctx context.Context, segments []Segment, outputPath string) error {
	if len(segments) == 0 {
		return fmt.Errorf("merge: no segments")
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("create merge dir: %w", err)
	}
	if len(segments) == 1 {
		return copyFile(segments[0].Path, outputPath)
	}
	if m.transition == "" || m.transition == "none" || m.transitionDurationS <= 0 {
		return m.concat(ctx, segments, outputPath)
	}
	return m.crossfade(ctx, segments, outputPath)
}

// concat uses the concat demuxer with stream copy. The list file lives next
// to the output so a failed run leaves it inspectable.
func (m *Merger) concat(ctx context.Context, segments []Segment, outputPath string) error {
	listPath := outputPath + ".concat.txt"
	var sb strings.Builder
	for _, seg := range segments {
		abs, err := filepath.Abs(seg.Path)
		if err != nil {
			return fmt.Errorf("resolve segment path: %w", err)
		}
		fmt.Fprintf(&sb, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	if err := state.WriteFileAtomic(listPath, []byte(sb.String())); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	m.log.Debug().Int("segments", len(segments)).Str("output", outputPath).Msg("concat merge")
	return runFFmpeg(ctx, m.ffmpeg,
		"-f", "concat", "-safe", "0", "-i", listPath,
		"-c", "copy", outputPath)
}

// crossfade chains xfade filters. Each transition overlaps the previous
// accumulated stream with the next segment, so offset k is the sum of the
// first k segment durations minus k transition lengths.
func (m *Merger) crossfade(ctx context.Context, segments []Segment, outputPath string) error {
	args := []string{}
	for _, seg := range segments {
		args = append(args, "-i", seg.Path)
	}
	graph := xfadeGraph(segments, m.transition, m.transitionDurationS)

	m.log.Debug().
		Int("segments", len(segments)).
		Str("transition", m.transition).
		Str("output", outputPath).
		Msg("crossfade merge")
	args = append(args,
		"-filter_complex", graph,
		"-map", "[vout]",
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		outputPath)
	return runFFmpeg(ctx, m.ffmpeg, args...)
}

// xfadeGraph builds the chained xfade filter expression. Each fade overlaps
// the tail of the accumulated stream, so offset k is the sum of the first k
// segment durations minus k transition lengths.
func xfadeGraph(segments []Segment, transition string, td float64) string {
	var filter strings.Builder
	prev := "[0:v]"
	elapsed := segments[0].DurationS
	for i := 1; i < len(segments); i++ {
		offset := elapsed - td
		if offset < 0 {
			offset = 0
		}
		out := fmt.Sprintf("[vx%d]", i)
		if i == len(segments)-1 {
			out = "[vout]"
		}
		fmt.Fprintf(&filter, "%s[%d:v]xfade=transition=%s:duration=%s:offset=%s%s;",
			prev, i, transition, formatSeconds(td), formatSeconds(offset), out)
		prev = out
		elapsed += segments[i].DurationS - td
	}
	return strings.TrimSuffix(filter.String(), ";")
}

func copyFile(src, dst string) error {
	b, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read segment: %w", err)
	}
	return state.WriteFileAtomic(dst, b)
}
