package clips

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/semaphore"

	"github.com/beatframe/beatframe/internal/log"
)

// ErrBackendExhausted means every attempt (including the fallback backend)
// failed for a clip.
var ErrBackendExhausted = errors.New("backend attempts exhausted")

// Generator maps clip designs to results under a single bounded-concurrency
// semaphore with per-clip retry and fallback.
type Generator struct {
	registry    *Registry
	maxParallel int64
	maxRetries  int
	backoff     Backoff
	seed        string
	progress    func(map[string]any)
	log         zerolog.Logger
}

// NewGenerator builds a generator. seed namespaces jittered retry delays
// (typically the session id); progress may be nil.
func NewGenerator(registry *Registry, maxParallel, maxRetries int, backoff Backoff, seed string, progress func(map[string]any)) *Generator {
	if maxParallel < 1 {
		maxParallel = 1
	}
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Generator{
		registry:    registry,
		maxParallel: int64(maxParallel),
		maxRetries:  maxRetries,
		backoff:     backoff,
		seed:        seed,
		progress:    progress,
		log:         log.WithComponent("clips"),
	}
}

// GenerateAll produces one Result per Design, sorted by clip_id. Per-clip
// failures are isolated: the batch always returns, and the caller decides
// whether the outcome is acceptable.
func (g *Generator) GenerateAll(ctx context.Context, designs []Design, outputDir string) ([]Result, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create clips dir: %w", err)
	}

	sem := semaphore.NewWeighted(g.maxParallel)
	results := make([]Result, len(designs))
	var wg sync.WaitGroup

	for i, d := range designs {
		wg.Add(1)
		go func(idx int, design Design) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				results[idx] = Result{ClipID: design.ClipID, Success: false, Error: err.Error()}
				return
			}
			defer sem.Release(1)
			results[idx] = g.generateOne(ctx, design, outputDir)
		}(i, d)
	}
	wg.Wait()

	sort.SliceStable(results, func(i, j int) bool { return results[i].ClipID < results[j].ClipID })
	return results, nil
}

func (g *Generator) generateOne(ctx context.Context, design Design, outputDir string) Result {
	outputPath := filepath.Join(outputDir, fmt.Sprintf("clip_%03d.mp4", design.ClipID))

	backend, err := g.registry.Select(design)
	if err != nil {
		return Result{ClipID: design.ClipID, Success: false, Error: err.Error()}
	}

	var lastErr error
	for attempt := 1; attempt <= g.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{ClipID: design.ClipID, Success: false, BackendName: backend.Name, Attempts: attempt, Error: err.Error()}
		}
		g.emit(map[string]any{
			"event":   "clip_attempt",
			"clip_id": design.ClipID,
			"backend": backend.Name,
			"attempt": attempt,
		})
		err := backend.Generate(ctx, design, outputPath)
		if err == nil {
			digest, derr := fileDigest(outputPath)
			if derr != nil {
				g.log.Warn().Int("clip_id", design.ClipID).Err(derr).Msg("artifact digest failed")
			}
			return Result{
				ClipID:         design.ClipID,
				Success:        true,
				OutputPath:     outputPath,
				BackendName:    backend.Name,
				Attempts:       attempt,
				ArtifactDigest: digest,
			}
		}
		lastErr = err
		g.log.Warn().
			Int("clip_id", design.ClipID).
			Str("backend", backend.Name).
			Int("attempt", attempt).
			Err(err).
			Msg("clip generation attempt failed")

		if attempt == g.maxRetries {
			break
		}
		if alt, ok := g.registry.fallbackFor(design); ok && alt.Name != backend.Name {
			g.emit(map[string]any{
				"event":   "clip_backend_fallback",
				"clip_id": design.ClipID,
				"from":    backend.Name,
				"to":      alt.Name,
			})
			backend = alt
		}
		seed := fmt.Sprintf("%s:clip%d", g.seed, design.ClipID)
		if !sleepWithContext(ctx, g.backoff.Delay(attempt, seed)) {
			return Result{ClipID: design.ClipID, Success: false, BackendName: backend.Name, Attempts: attempt, Error: ctx.Err().Error()}
		}
	}

	return Result{
		ClipID:      design.ClipID,
		Success:     false,
		BackendName: backend.Name,
		Attempts:    g.maxRetries,
		Error:       fmt.Sprintf("%v: %v", ErrBackendExhausted, lastErr),
	}
}

func (g *Generator) emit(ev map[string]any) {
	if g.progress != nil {
		g.progress(ev)
	}
}

// fileDigest records a blake3 content digest for a generated artifact.
func fileDigest(path string) (string, error) {
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
