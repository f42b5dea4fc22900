package media

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"

	"github.com/beatframe/beatframe/internal/log"
	"github.com/beatframe/beatframe/internal/procutil"
)

// RenderResult summarizes the final render artifact.
type RenderResult struct {
	OutputPath     string  `json:"output_path"`
	FileSize       int64   `json:"file_size"`
	DurationS      float64 `json:"duration_s"`
	RenderTimeS    float64 `json:"render_time_s"`
	ArtifactDigest string  `json:"artifact_digest,omitempty"`
}

// Doc renders the result as an opaque document for session storage.
func (r RenderResult) Doc() map[string]any {
	doc := map[string]any{
		"output_path":   r.OutputPath,
		"file_size":     r.FileSize,
		"duration_s":    r.DurationS,
		"render_time_s": r.RenderTimeS,
	}
	if r.ArtifactDigest != "" {
		doc["artifact_digest"] = r.ArtifactDigest
	}
	return doc
}

// Renderer runs the external final-render command (a Remotion invocation by
// default) and tracks its progress output.
type Renderer struct {
	command  []string
	timeout  time.Duration
	progress func(map[string]any)
	log      zerolog.Logger
}

// NewRenderer builds a renderer. progress may be nil.
func NewRenderer(command []string, timeout time.Duration, progress func(map[string]any)) *Renderer {
	return &Renderer{
		command:  append([]string{}, command...),
		timeout:  timeout,
		progress: progress,
		log:      log.WithComponent("render"),
	}
}

// Render invokes the renderer with `--input <composition> --output <path>`
// appended, streaming stdout lines as progress events.
func (r *Renderer) Render(ctx context.Context, compositionPath, outputPath string, durationS float64) (RenderResult, error) {
	if len(r.command) == 0 {
		return RenderResult{}, fmt.Errorf("render: no command configured")
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return RenderResult{}, fmt.Errorf("create render dir: %w", err)
	}

	rctx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	args := append(append([]string{}, r.command[1:]...),
		"--input", compositionPath,
		"--output", outputPath,
	)
	cmd := exec.CommandContext(rctx, r.command[0], args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		procutil.TerminateGroup(cmd, killGrace)
		return nil
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return RenderResult{}, fmt.Errorf("render stdout pipe: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return RenderResult{}, fmt.Errorf("start renderer: %w", err)
	}
	r.streamProgress(stdout)
	if err := cmd.Wait(); err != nil {
		if rctx.Err() == context.DeadlineExceeded {
			return RenderResult{}, fmt.Errorf("render timed out after %s", r.timeout)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return RenderResult{}, fmt.Errorf("render: %s", tail(msg, 400))
	}
	elapsed := time.Since(start)

	info, err := os.Stat(outputPath)
	if err != nil {
		return RenderResult{}, fmt.Errorf("render produced no output: %w", err)
	}
	digest, err := renderDigest(outputPath)
	if err != nil {
		r.log.Warn().Err(err).Msg("render digest failed")
	}

	res := RenderResult{
		OutputPath:     outputPath,
		FileSize:       info.Size(),
		DurationS:      durationS,
		RenderTimeS:    elapsed.Seconds(),
		ArtifactDigest: digest,
	}
	r.log.Info().
		Str("output", outputPath).
		Str("size", humanize.Bytes(uint64(info.Size()))).
		Str("render_time", elapsed.Round(time.Second).String()).
		Msg("final render complete")
	return res, nil
}

// streamProgress forwards renderer stdout lines as progress events and debug
// logs. Renderer output is line-oriented but otherwise opaque.
func (r *Renderer) streamProgress(stdout io.Reader) {
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		r.log.Debug().Str("line", line).Msg("renderer")
		if r.progress != nil {
			r.progress(map[string]any{"event": "render_progress", "line": line})
		}
	}
}

func renderDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
