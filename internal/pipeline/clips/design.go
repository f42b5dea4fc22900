// Package clips turns per-clip designs into generated video artifacts using
// a registry of selectable backends.
package clips

import (
	"encoding/json"
	"fmt"
	"sort"
)

// FallbackStrategy names the backend to switch to after a failed attempt.
type FallbackStrategy struct {
	AlternativeMCP string `json:"alternative_mcp,omitempty"`
}

// Strategy is the per-clip generation strategy produced by the clip-strategy
// design phase.
type Strategy struct {
	PreferredMCP string            `json:"preferred_mcp,omitempty"`
	Fallback     *FallbackStrategy `json:"fallback_strategy,omitempty"`
}

// Design is one clip to generate, produced by the clip-design winner.
type Design struct {
	ClipID      int       `json:"clip_id"`
	StartTime   float64   `json:"start_time"`
	EndTime     float64   `json:"end_time"`
	Duration    float64   `json:"duration"`
	Section     string    `json:"section,omitempty"`
	Prompt      string    `json:"prompt"`
	Visual      string    `json:"visual_description,omitempty"`
	Camera      string    `json:"camera,omitempty"`
	AspectRatio string    `json:"aspect_ratio,omitempty"`
	Strategy    *Strategy `json:"strategy,omitempty"`
}

// Result is the outcome for one clip. Per-clip failures are isolated; a
// batch always yields one Result per Design.
type Result struct {
	ClipID         int    `json:"clip_id"`
	Success        bool   `json:"success"`
	OutputPath     string `json:"output_path,omitempty"`
	BackendName    string `json:"backend_name,omitempty"`
	Attempts       int    `json:"attempts"`
	Error          string `json:"error,omitempty"`
	ArtifactDigest string `json:"artifact_digest,omitempty"`
}

// DecodeDesigns extracts a clip design list from an opaque phase result
// fragment (the clip_designs key of the design winner's output).
func DecodeDesigns(raw any) ([]Design, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode clip designs: %w", err)
	}
	var designs []Design
	if err := json.Unmarshal(b, &designs); err != nil {
		return nil, fmt.Errorf("decode clip designs: %w", err)
	}
	sort.SliceStable(designs, func(i, j int) bool { return designs[i].ClipID < designs[j].ClipID })
	for i := range designs {
		if designs[i].Duration <= 0 && designs[i].EndTime > designs[i].StartTime {
			designs[i].Duration = designs[i].EndTime - designs[i].StartTime
		}
	}
	return designs, nil
}

// ResultDocs renders results as opaque documents for session storage.
func ResultDocs(results []Result) []map[string]any {
	docs := make([]map[string]any, 0, len(results))
	for _, r := range results {
		doc := map[string]any{
			"clip_id":  r.ClipID,
			"success":  r.Success,
			"attempts": r.Attempts,
		}
		if r.OutputPath != "" {
			doc["output_path"] = r.OutputPath
		}
		if r.BackendName != "" {
			doc["backend_name"] = r.BackendName
		}
		if r.Error != "" {
			doc["error"] = r.Error
		}
		if r.ArtifactDigest != "" {
			doc["artifact_digest"] = r.ArtifactDigest
		}
		docs = append(docs, doc)
	}
	return docs
}
