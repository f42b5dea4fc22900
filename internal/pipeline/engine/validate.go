package engine

import (
	"fmt"
	"os"
	"strings"

	"github.com/beatframe/beatframe/internal/pipeline/config"
	"github.com/beatframe/beatframe/internal/pipeline/prompt"
)

// ValidationReport collects setup problems found before a run. Errors would
// make some phase fail outright; warnings degrade a run but do not block it.
type ValidationReport struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// OK reports whether the setup has no blocking problems.
func (r *ValidationReport) OK() bool { return len(r.Errors) == 0 }

func (r *ValidationReport) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationReport) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// ValidateSetup checks prompt coverage and backend wiring against the config
// before any session state is touched.
func ValidateSetup(cfg *config.File) *ValidationReport {
	r := &ValidationReport{Errors: []string{}, Warnings: []string{}}

	if info, err := os.Stat(cfg.PromptsRoot); err != nil || !info.IsDir() {
		r.errorf("prompts root %s is not a directory", cfg.PromptsRoot)
	} else {
		for phase := 1; phase <= 4; phase++ {
			agents := cfg.PhaseAgents(phase)
			if missing := prompt.MissingForPhase(cfg.PromptsRoot, phase, agents); len(missing) > 0 {
				r.errorf("phase %d (%s): missing prompts for %s",
					phase, PhaseName(phase), strings.Join(missing, ", "))
			}
		}
		if discovered, err := prompt.Discover(cfg.PromptsRoot); err == nil {
			for phase, types := range discovered {
				if phase < 1 || phase > 4 {
					r.warnf("prompts for phase %d (%s) exist but only design phases 1..4 run agents", phase, PhaseName(phase))
					continue
				}
				configured := cfg.PhaseAgents(phase)
				for _, t := range types {
					if !contains(configured, t) {
						r.warnf("phase %d: prompt for agent %q exists but is not in the configured agent list", phase, t)
					}
				}
			}
		}
	}

	if len(cfg.Backends) == 0 {
		r.errorf("no video generation backends configured; clip generation cannot run")
	} else {
		anyAvailable := false
		for _, name := range cfg.BackendNames() {
			bc := cfg.Backends[name]
			if bc.Available == nil || *bc.Available {
				anyAvailable = true
			}
			if len(bc.Command) == 0 && bc.Endpoint == "" {
				r.errorf("backend %s has neither a command nor an endpoint", name)
			} else if len(bc.Command) == 0 {
				r.errorf("backend %s has an endpoint but no command; clips routed to it cannot be generated", name)
			}
		}
		if !anyAvailable {
			r.errorf("every configured backend is marked unavailable")
		}
		if cfg.Clips.DefaultBackend == "" {
			r.warnf("clips.default_backend is unset; capability matching alone selects backends")
		}
	}

	if len(cfg.Audio.AnalyzerCommand) == 0 {
		r.warnf("audio.analyzer_command is unset; runs must supply --analysis")
	}
	if len(cfg.Render.Command) == 0 {
		r.errorf("render.command is empty")
	}
	return r
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
