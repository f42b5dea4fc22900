package media

import (
	"context"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/beatframe/beatframe/internal/log"
)

// Effects applies a designed filter chain to the merged video.
type Effects struct {
	ffmpeg string
	log    zerolog.Logger
}

// NewEffects builds an effects pass bound to the given ffmpeg binary.
func NewEffects(ffmpeg string) *Effects {
	return &Effects{ffmpeg: ffmpeg, log: log.WithComponent("media")}
}

// Apply runs the filters as one -vf chain. With no filters the input is
// copied through unchanged so downstream phases see a uniform artifact path.
func (e *Effects) Apply(ctx context.Context, inputPath, outputPath string, filters []string) error {
	if len(filters) == 0 {
		e.log.Debug().Str("output", outputPath).Msg("no effects designed; passing through")
		b, err := os.ReadFile(inputPath)
		if err != nil {
			return err
		}
		return os.WriteFile(outputPath, b, 0o644)
	}
	chain := strings.Join(filters, ",")
	e.log.Debug().Str("filters", chain).Str("output", outputPath).Msg("applying effects")
	return runFFmpeg(ctx, e.ffmpeg,
		"-i", inputPath,
		"-vf", chain,
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		"-c:a", "copy",
		outputPath)
}
