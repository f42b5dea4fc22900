package clips

import (
	"context"
	"errors"
	"testing"
)

func noopGenerate(ctx context.Context, d Design, p string) error { return nil }

func registryWith(defaultName string, backends ...*Backend) *Registry {
	r := &Registry{backends: map[string]*Backend{}, defaultName: defaultName}
	for _, b := range backends {
		r.Register(b, noopGenerate)
	}
	return r
}

func TestInferRequirements(t *testing.T) {
	cases := []struct {
		name       string
		design     Design
		wantStyle  string
		wantMotion string
	}{
		{
			name:       "cinematic_high_motion",
			design:     Design{Prompt: "epic cinematic chase", Camera: "whip pan"},
			wantStyle:  "cinematic",
			wantMotion: "high",
		},
		{
			name:       "anime",
			design:     Design{Visual: "anime style cel shading"},
			wantStyle:  "anime",
			wantMotion: "medium",
		},
		{
			name:       "low_motion",
			design:     Design{Prompt: "a lingering still shot of rain"},
			wantStyle:  "general",
			wantMotion: "low",
		},
		{
			name:       "plain",
			design:     Design{Prompt: "a person walking through a city"},
			wantStyle:  "general",
			wantMotion: "medium",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := inferRequirements(tc.design)
			if req.style != tc.wantStyle {
				t.Errorf("style = %q, want %q", req.style, tc.wantStyle)
			}
			if req.motionIntensity != tc.wantMotion {
				t.Errorf("motion = %q, want %q", req.motionIntensity, tc.wantMotion)
			}
		})
	}
}

func TestSelectPrefersStrategyBackend(t *testing.T) {
	r := registryWith("generic",
		&Backend{Name: "generic", Available: true, Capabilities: []string{"general"}, Priority: 1},
		&Backend{Name: "special", Available: true, Capabilities: []string{"anime"}, Priority: 5},
	)
	design := Design{Prompt: "anything", Strategy: &Strategy{PreferredMCP: "special"}}
	b, err := r.Select(design)
	if err != nil {
		t.Fatal(err)
	}
	if b.Name != "special" {
		t.Fatalf("selected %q, want preferred backend", b.Name)
	}
}

func TestSelectSkipsUnavailablePreferred(t *testing.T) {
	r := registryWith("generic",
		&Backend{Name: "generic", Available: true, Capabilities: []string{"general"}, Priority: 1},
		&Backend{Name: "down", Available: false, Capabilities: []string{"general"}},
	)
	design := Design{Prompt: "anything", Strategy: &Strategy{PreferredMCP: "down"}}
	b, err := r.Select(design)
	if err != nil {
		t.Fatal(err)
	}
	if b.Name != "generic" {
		t.Fatalf("selected %q, want capability fallback", b.Name)
	}
}

func TestSelectCapabilityMatchRespectsPriority(t *testing.T) {
	r := registryWith("",
		&Backend{Name: "cheap", Available: true, Capabilities: []string{"cinematic"}, Priority: 2},
		&Backend{Name: "premium", Available: true, Capabilities: []string{"cinematic"}, Priority: 1},
	)
	b, err := r.Select(Design{Prompt: "epic cinematic vista"})
	if err != nil {
		t.Fatal(err)
	}
	if b.Name != "premium" {
		t.Fatalf("selected %q, want lowest-priority-number backend", b.Name)
	}
}

func TestSelectMotionCapability(t *testing.T) {
	r := registryWith("",
		&Backend{Name: "action", Available: true, Capabilities: []string{"motion_high"}, Priority: 1},
	)
	b, err := r.Select(Design{Prompt: "fast energetic quick cuts"})
	if err != nil {
		t.Fatal(err)
	}
	if b.Name != "action" {
		t.Fatalf("selected %q", b.Name)
	}
}

func TestSelectFallsBackToDefault(t *testing.T) {
	r := registryWith("house",
		&Backend{Name: "house", Available: true, Capabilities: []string{"retro"}, Priority: 9},
	)
	// No capability match for a plain prompt; the default backend catches it.
	b, err := r.Select(Design{Prompt: "a person walking"})
	if err != nil {
		t.Fatal(err)
	}
	if b.Name != "house" {
		t.Fatalf("selected %q, want default backend", b.Name)
	}
}

func TestSelectNoBackends(t *testing.T) {
	r := registryWith("")
	if _, err := r.Select(Design{Prompt: "anything"}); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("err = %v, want ErrBackendUnavailable", err)
	}
}

func TestFallbackFor(t *testing.T) {
	r := registryWith("",
		&Backend{Name: "alt", Available: true, Capabilities: []string{"general"}},
		&Backend{Name: "dead", Available: false},
	)
	cases := []struct {
		name   string
		design Design
		want   string
		ok     bool
	}{
		{"no_strategy", Design{}, "", false},
		{"alt_available", Design{Strategy: &Strategy{Fallback: &FallbackStrategy{AlternativeMCP: "alt"}}}, "alt", true},
		{"alt_unavailable", Design{Strategy: &Strategy{Fallback: &FallbackStrategy{AlternativeMCP: "dead"}}}, "", false},
		{"alt_unknown", Design{Strategy: &Strategy{Fallback: &FallbackStrategy{AlternativeMCP: "ghost"}}}, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, ok := r.fallbackFor(tc.design)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if ok && b.Name != tc.want {
				t.Fatalf("backend = %q, want %q", b.Name, tc.want)
			}
		})
	}
}
