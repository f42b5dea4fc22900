// Package config loads and validates the beatframe run configuration.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultQualityThreshold  = 70.0
	DefaultMaxIterations     = 3
	DefaultMaxParallelAgents = 5
	DefaultMaxParallelClips  = 3
	DefaultClipMaxRetries    = 3
	DefaultSubprocessTimeout = 300 // seconds
	DefaultMediaParallel     = 2
	DefaultRenderTimeout     = 1800 // seconds
)

// AgentConfig describes how agent subprocesses are launched.
type AgentConfig struct {
	Binary      string `yaml:"binary"`
	TimeoutS    *int   `yaml:"timeout_s,omitempty"`
	MaxParallel *int   `yaml:"max_parallel,omitempty"`
}

// ClipsConfig bounds the clip generation fan-out.
type ClipsConfig struct {
	MaxParallel    *int   `yaml:"max_parallel,omitempty"`
	MaxRetries     *int   `yaml:"max_retries,omitempty"`
	DefaultBackend string `yaml:"default_backend,omitempty"`
}

// MediaConfig configures the muxer drivers (trim/merge).
type MediaConfig struct {
	FFmpeg              string  `yaml:"ffmpeg,omitempty"`
	MaxParallel         *int    `yaml:"max_parallel,omitempty"`
	Transition          string  `yaml:"transition,omitempty"`
	TransitionDurationS float64 `yaml:"transition_duration_s,omitempty"`
}

// RenderConfig configures the external renderer invocation.
type RenderConfig struct {
	Command  []string `yaml:"command,omitempty"`
	TimeoutS *int     `yaml:"timeout_s,omitempty"`
}

// AudioConfig configures the external audio analyzer collaborator.
type AudioConfig struct {
	AnalyzerCommand []string `yaml:"analyzer_command,omitempty"`
}

// BackendConfig describes one video-generation backend in the registry.
type BackendConfig struct {
	Endpoint     string   `yaml:"endpoint,omitempty"`
	Command      []string `yaml:"command,omitempty"`
	Capabilities []string `yaml:"capabilities,omitempty"`
	Priority     int      `yaml:"priority,omitempty"`
	CostPerClip  float64  `yaml:"cost_per_clip,omitempty"`
	Available    *bool    `yaml:"available,omitempty"`
}

// PhaseConfig overrides per-phase agent lists for design phases.
type PhaseConfig struct {
	Agents []string `yaml:"agents,omitempty"`
}

// RetryConfig configures backoff between clip generation attempts.
type RetryConfig struct {
	InitialDelayMS *int     `yaml:"initial_delay_ms,omitempty"`
	BackoffFactor  *float64 `yaml:"backoff_factor,omitempty"`
	MaxDelayMS     *int     `yaml:"max_delay_ms,omitempty"`
	Jitter         *bool    `yaml:"jitter,omitempty"`
}

// File is the parsed run configuration. Pointer fields preserve explicit zero
// versus unset semantics; ApplyDefaults resolves unset to the defaults above.
type File struct {
	Version          int                      `yaml:"version"`
	SessionRoot      string                   `yaml:"session_root,omitempty"`
	PromptsRoot      string                   `yaml:"prompts_root,omitempty"`
	QualityThreshold *float64                 `yaml:"quality_threshold,omitempty"`
	MaxIterations    *int                     `yaml:"max_iterations,omitempty"`
	Agent            AgentConfig              `yaml:"agent"`
	Clips            ClipsConfig              `yaml:"clips,omitempty"`
	Media            MediaConfig              `yaml:"media,omitempty"`
	Render           RenderConfig             `yaml:"render,omitempty"`
	Audio            AudioConfig              `yaml:"audio,omitempty"`
	Backends         map[string]BackendConfig `yaml:"backends,omitempty"`
	Phases           map[string]PhaseConfig   `yaml:"phases,omitempty"`
	Retry            RetryConfig              `yaml:"retry,omitempty"`
}

// Load reads, defaults, and validates a config file.
func Load(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes a config document from bytes.
func Parse(b []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(strings.NewReader(string(b)))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	f.ApplyDefaults()
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// ApplyDefaults fills unset knobs with their defaults.
func (f *File) ApplyDefaults() {
	if f.SessionRoot == "" {
		f.SessionRoot = "sessions"
	}
	if f.PromptsRoot == "" {
		f.PromptsRoot = "prompts"
	}
	if f.QualityThreshold == nil {
		v := DefaultQualityThreshold
		f.QualityThreshold = &v
	}
	if f.MaxIterations == nil {
		v := DefaultMaxIterations
		f.MaxIterations = &v
	}
	if f.Agent.Binary == "" {
		f.Agent.Binary = "claude"
	}
	if f.Agent.TimeoutS == nil {
		v := DefaultSubprocessTimeout
		f.Agent.TimeoutS = &v
	}
	if f.Agent.MaxParallel == nil {
		v := DefaultMaxParallelAgents
		f.Agent.MaxParallel = &v
	}
	if f.Clips.MaxParallel == nil {
		v := DefaultMaxParallelClips
		f.Clips.MaxParallel = &v
	}
	if f.Clips.MaxRetries == nil {
		v := DefaultClipMaxRetries
		f.Clips.MaxRetries = &v
	}
	if f.Media.FFmpeg == "" {
		f.Media.FFmpeg = "ffmpeg"
	}
	if f.Media.MaxParallel == nil {
		v := DefaultMediaParallel
		f.Media.MaxParallel = &v
	}
	if len(f.Render.Command) == 0 {
		f.Render.Command = []string{"npx", "remotion", "render"}
	}
	if f.Render.TimeoutS == nil {
		v := DefaultRenderTimeout
		f.Render.TimeoutS = &v
	}
	if f.Retry.InitialDelayMS == nil {
		v := 200
		f.Retry.InitialDelayMS = &v
	}
	if f.Retry.BackoffFactor == nil {
		v := 2.0
		f.Retry.BackoffFactor = &v
	}
	if f.Retry.MaxDelayMS == nil {
		v := 60_000
		f.Retry.MaxDelayMS = &v
	}
	if f.Retry.Jitter == nil {
		v := false
		f.Retry.Jitter = &v
	}
}

// Validate enforces the configuration surface invariants.
func (f *File) Validate() error {
	if f.QualityThreshold != nil && (*f.QualityThreshold < 0 || *f.QualityThreshold > 100) {
		return fmt.Errorf("quality_threshold must be in 0..100, got %v", *f.QualityThreshold)
	}
	if f.MaxIterations != nil && *f.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be >= 1, got %d", *f.MaxIterations)
	}
	if f.Agent.MaxParallel != nil && *f.Agent.MaxParallel < 1 {
		return fmt.Errorf("agent.max_parallel must be >= 1, got %d", *f.Agent.MaxParallel)
	}
	if f.Agent.TimeoutS != nil && *f.Agent.TimeoutS < 1 {
		return fmt.Errorf("agent.timeout_s must be >= 1, got %d", *f.Agent.TimeoutS)
	}
	if f.Clips.MaxParallel != nil && *f.Clips.MaxParallel < 1 {
		return fmt.Errorf("clips.max_parallel must be >= 1, got %d", *f.Clips.MaxParallel)
	}
	if f.Clips.MaxRetries != nil && *f.Clips.MaxRetries < 1 {
		return fmt.Errorf("clips.max_retries must be >= 1, got %d", *f.Clips.MaxRetries)
	}
	if f.Media.MaxParallel != nil && *f.Media.MaxParallel < 1 {
		return fmt.Errorf("media.max_parallel must be >= 1, got %d", *f.Media.MaxParallel)
	}
	if f.Clips.DefaultBackend != "" {
		if _, ok := f.Backends[f.Clips.DefaultBackend]; !ok {
			return fmt.Errorf("clips.default_backend %q not present in backend registry", f.Clips.DefaultBackend)
		}
	}
	for name, pc := range f.Phases {
		n, err := strconv.Atoi(strings.TrimSpace(name))
		if err != nil || n < 1 || n > 4 {
			return fmt.Errorf("phases.%s: agent overrides apply to design phases 1..4 only", name)
		}
		if len(pc.Agents) == 0 {
			return fmt.Errorf("phases.%s: agents list must be non-empty", name)
		}
	}
	return nil
}

// PhaseAgents returns the agent list for a design phase, falling back to the
// built-in defaults when the config does not override it.
func (f *File) PhaseAgents(phase int) []string {
	if pc, ok := f.Phases[strconv.Itoa(phase)]; ok && len(pc.Agents) > 0 {
		return append([]string{}, pc.Agents...)
	}
	switch phase {
	case 1:
		return []string{"narrative", "visual", "rhythm"}
	case 2:
		return []string{"cinematic", "dynamic", "minimal"}
	case 3:
		return []string{"literal", "abstract", "hybrid"}
	case 4:
		return []string{"quality", "speed", "balanced"}
	default:
		return nil
	}
}

// BackendNames returns registry names sorted for deterministic iteration.
func (f *File) BackendNames() []string {
	names := make([]string, 0, len(f.Backends))
	for name := range f.Backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
