package clips

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/beatframe/beatframe/internal/pipeline/config"
	"github.com/beatframe/beatframe/internal/procutil"
)

// ErrBackendUnavailable means the requested backend is absent or disabled.
var ErrBackendUnavailable = errors.New("backend unavailable")

// GenerateFunc produces the clip artifact at outputPath or returns an error.
type GenerateFunc func(ctx context.Context, design Design, outputPath string) error

// Backend is one video-generation service ("MCP server") in the registry.
type Backend struct {
	Name         string
	Endpoint     string
	Capabilities []string
	Priority     int // lower = better
	CostPerClip  float64
	Available    bool

	generate GenerateFunc
}

// Generate invokes the backend for one clip.
func (b *Backend) Generate(ctx context.Context, design Design, outputPath string) error {
	if b.generate == nil {
		return fmt.Errorf("backend %s has no generator", b.Name)
	}
	return b.generate(ctx, design, outputPath)
}

func (b *Backend) hasCapability(cap string) bool {
	for _, c := range b.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// Registry holds the configured backends plus the default fallback.
type Registry struct {
	backends    map[string]*Backend
	defaultName string
}

// NewRegistry builds a registry from config. Backends with a command launch
// an external process per clip; the command argv gets
// `--prompt <p> --duration <s> --output <path>` appended.
func NewRegistry(cfgs map[string]config.BackendConfig, defaultName string) *Registry {
	r := &Registry{backends: map[string]*Backend{}, defaultName: defaultName}
	for name, cfg := range cfgs {
		available := true
		if cfg.Available != nil {
			available = *cfg.Available
		}
		b := &Backend{
			Name:         name,
			Endpoint:     cfg.Endpoint,
			Capabilities: append([]string{}, cfg.Capabilities...),
			Priority:     cfg.Priority,
			CostPerClip:  cfg.CostPerClip,
			Available:    available,
		}
		if len(cfg.Command) > 0 {
			argv := append([]string{}, cfg.Command...)
			b.generate = commandGenerator(argv)
		}
		r.backends[name] = b
	}
	return r
}

// Register adds or replaces a backend (used by tests and simulated setups).
func (r *Registry) Register(b *Backend, generate GenerateFunc) {
	b.generate = generate
	r.backends[b.Name] = b
}

// Get returns a backend by name.
func (r *Registry) Get(name string) (*Backend, bool) {
	b, ok := r.backends[name]
	return b, ok
}

// available returns usable backends sorted by ascending priority, name as
// tie-break for determinism.
func (r *Registry) available() []*Backend {
	out := make([]*Backend, 0, len(r.backends))
	for _, b := range r.backends {
		if b.Available {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// fallbackFor resolves a strategy's alternative backend if it is usable.
func (r *Registry) fallbackFor(design Design) (*Backend, bool) {
	if design.Strategy == nil || design.Strategy.Fallback == nil {
		return nil, false
	}
	alt := design.Strategy.Fallback.AlternativeMCP
	if alt == "" {
		return nil, false
	}
	b, ok := r.backends[alt]
	if !ok || !b.Available {
		return nil, false
	}
	return b, true
}

func commandGenerator(argv []string) GenerateFunc {
	return func(ctx context.Context, design Design, outputPath string) error {
		args := append(append([]string{}, argv[1:]...),
			"--prompt", design.Prompt,
			"--duration", strconv.FormatFloat(design.Duration, 'f', -1, 64),
			"--output", outputPath,
		)
		cmd := exec.CommandContext(ctx, argv[0], args...)
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		cmd.Cancel = func() error {
			procutil.TerminateGroup(cmd, 3*time.Second)
			return nil
		}
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			msg := stderr.String()
			if msg == "" {
				msg = err.Error()
			}
			return fmt.Errorf("backend process: %s", msg)
		}
		return nil
	}
}
