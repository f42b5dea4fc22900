package clips

import "strings"

// requirements are inferred per clip from its textual design fields and used
// for capability matching against the backend registry.
type requirements struct {
	style           string
	motionIntensity string
	complexity      string
	aspectRatio     string
	duration        float64
}

var styleKeywords = map[string][]string{
	"cinematic": {"cinematic", "film", "dramatic", "epic"},
	"anime":     {"anime", "manga", "cel"},
	"abstract":  {"abstract", "geometric", "particles", "surreal"},
	"realistic": {"realistic", "photoreal", "documentary", "live action"},
	"retro":     {"retro", "vhs", "vintage", "8mm"},
}

var motionHighKeywords = []string{"fast", "action", "quick cuts", "dynamic", "energetic", "whip pan"}
var motionLowKeywords = []string{"slow", "still", "static", "lingering", "calm"}

// inferRequirements derives style, motion, and complexity from keyword
// presence in the visual description and camera fields.
func inferRequirements(design Design) requirements {
	text := strings.ToLower(design.Prompt + " " + design.Visual + " " + design.Camera)
	req := requirements{
		style:           "general",
		motionIntensity: "medium",
		complexity:      "medium",
		aspectRatio:     design.AspectRatio,
		duration:        design.Duration,
	}
	for style, words := range styleKeywords {
		for _, w := range words {
			if strings.Contains(text, w) {
				req.style = style
				break
			}
		}
		if req.style != "general" {
			break
		}
	}
	for _, w := range motionHighKeywords {
		if strings.Contains(text, w) {
			req.motionIntensity = "high"
			break
		}
	}
	if req.motionIntensity == "medium" {
		for _, w := range motionLowKeywords {
			if strings.Contains(text, w) {
				req.motionIntensity = "low"
				break
			}
		}
	}
	if len(text) > 400 {
		req.complexity = "high"
	} else if len(text) < 80 {
		req.complexity = "low"
	}
	return req
}

// Select chooses the backend for a clip: the strategy's preferred backend
// when available, else the best-priority available backend whose
// capabilities match the inferred requirements, else the default backend.
func (r *Registry) Select(design Design) (*Backend, error) {
	if design.Strategy != nil && design.Strategy.PreferredMCP != "" {
		if b, ok := r.backends[design.Strategy.PreferredMCP]; ok && b.Available {
			return b, nil
		}
	}

	req := inferRequirements(design)
	for _, b := range r.available() {
		if matches(b, req) {
			return b, nil
		}
	}

	if b, ok := r.backends[r.defaultName]; ok && b.Available {
		return b, nil
	}
	// Last resort: any available backend keeps the batch moving.
	if avail := r.available(); len(avail) > 0 {
		return avail[0], nil
	}
	return nil, ErrBackendUnavailable
}

// matches applies the capability rule: the clip's style is in the backend's
// capability set, or the backend is general-purpose, or it advertises the
// required motion intensity.
func matches(b *Backend, req requirements) bool {
	if b.hasCapability(req.style) || b.hasCapability("general") {
		return true
	}
	return b.hasCapability("motion_" + req.motionIntensity)
}
