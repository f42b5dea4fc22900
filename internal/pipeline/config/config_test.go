package config

import (
	"strings"
	"testing"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("version: 1\n"))
	if err != nil {
		t.Fatal(err)
	}
	if *cfg.QualityThreshold != DefaultQualityThreshold {
		t.Errorf("quality_threshold = %v", *cfg.QualityThreshold)
	}
	if *cfg.MaxIterations != DefaultMaxIterations {
		t.Errorf("max_iterations = %v", *cfg.MaxIterations)
	}
	if cfg.Agent.Binary != "claude" {
		t.Errorf("agent.binary = %q", cfg.Agent.Binary)
	}
	if *cfg.Agent.MaxParallel != DefaultMaxParallelAgents {
		t.Errorf("agent.max_parallel = %v", *cfg.Agent.MaxParallel)
	}
	if *cfg.Clips.MaxParallel != DefaultMaxParallelClips {
		t.Errorf("clips.max_parallel = %v", *cfg.Clips.MaxParallel)
	}
	if cfg.SessionRoot != "sessions" || cfg.PromptsRoot != "prompts" {
		t.Errorf("roots = %q %q", cfg.SessionRoot, cfg.PromptsRoot)
	}
	if cfg.Media.FFmpeg != "ffmpeg" {
		t.Errorf("media.ffmpeg = %q", cfg.Media.FFmpeg)
	}
}

func TestParseExplicitZeroSurvives(t *testing.T) {
	// quality_threshold: 0 is a legal explicit value and must survive.
	cfg, err := Parse([]byte("version: 1\nquality_threshold: 0\n"))
	if err != nil {
		t.Fatal(err)
	}
	if *cfg.QualityThreshold != 0 {
		t.Fatalf("explicit zero replaced by default: %v", *cfg.QualityThreshold)
	}
}

func TestParseValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"threshold_too_high", "version: 1\nquality_threshold: 101\n"},
		{"threshold_negative", "version: 1\nquality_threshold: -1\n"},
		{"iterations_zero", "version: 1\nmax_iterations: 0\n"},
		{"agents_zero", "version: 1\nagent:\n  max_parallel: 0\n"},
		{"clips_zero", "version: 1\nclips:\n  max_parallel: 0\n"},
		{"unknown_field", "version: 1\nnonsense: true\n"},
		{"default_backend_unknown", "version: 1\nclips:\n  default_backend: ghost\n"},
		{"phase_override_out_of_range", "version: 1\nphases:\n  \"7\":\n    agents: [a]\n"},
		{"phase_override_empty", "version: 1\nphases:\n  \"2\":\n    agents: []\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse([]byte(tc.yaml)); err == nil {
				t.Fatalf("config accepted:\n%s", tc.yaml)
			}
		})
	}
}

func TestPhaseAgentsDefaultsAndOverrides(t *testing.T) {
	cfg, err := Parse([]byte(`version: 1
phases:
  "2":
    agents: [handheld, drone]
`))
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.PhaseAgents(1); strings.Join(got, ",") != "narrative,visual,rhythm" {
		t.Errorf("phase 1 agents = %v", got)
	}
	if got := cfg.PhaseAgents(2); strings.Join(got, ",") != "handheld,drone" {
		t.Errorf("phase 2 agents = %v", got)
	}
	if got := cfg.PhaseAgents(4); strings.Join(got, ",") != "quality,speed,balanced" {
		t.Errorf("phase 4 agents = %v", got)
	}
	if got := cfg.PhaseAgents(5); got != nil {
		t.Errorf("phase 5 agents = %v, want nil", got)
	}
}

func TestBackendsRoundTrip(t *testing.T) {
	cfg, err := Parse([]byte(`version: 1
clips:
  default_backend: runway
backends:
  runway:
    command: [runway-gen, --model, gen3]
    capabilities: [cinematic, general]
    priority: 1
    cost_per_clip: 0.25
  local:
    command: [local-diffusion]
    capabilities: [abstract]
    priority: 5
    available: false
`))
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.BackendNames(); strings.Join(got, ",") != "local,runway" {
		t.Fatalf("backend names = %v, want sorted", got)
	}
	rw := cfg.Backends["runway"]
	if rw.Priority != 1 || rw.CostPerClip != 0.25 || len(rw.Capabilities) != 2 {
		t.Fatalf("runway = %+v", rw)
	}
	if cfg.Backends["local"].Available == nil || *cfg.Backends["local"].Available {
		t.Fatal("local availability lost")
	}
}
