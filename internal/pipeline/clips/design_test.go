package clips

import "testing"

func TestDecodeDesigns(t *testing.T) {
	raw := []any{
		map[string]any{"clip_id": 2, "start_time": 10.0, "end_time": 14.5, "prompt": "b"},
		map[string]any{"clip_id": 1, "start_time": 0.0, "end_time": 10.0, "prompt": "a", "duration": 10.0},
	}
	designs, err := DecodeDesigns(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(designs) != 2 {
		t.Fatalf("designs = %d", len(designs))
	}
	if designs[0].ClipID != 1 || designs[1].ClipID != 2 {
		t.Fatalf("not sorted by clip_id: %+v", designs)
	}
	if designs[1].Duration != 4.5 {
		t.Fatalf("duration not derived from end-start: %v", designs[1].Duration)
	}
	if designs[0].Duration != 10.0 {
		t.Fatalf("explicit duration overwritten: %v", designs[0].Duration)
	}
}

func TestDecodeDesignsRejectsNonList(t *testing.T) {
	if _, err := DecodeDesigns(map[string]any{"clip_id": 1}); err == nil {
		t.Fatal("expected decode error for non-list input")
	}
}

func TestResultDocsOmitEmptyFields(t *testing.T) {
	docs := ResultDocs([]Result{
		{ClipID: 1, Success: true, OutputPath: "/x/clip_001.mp4", BackendName: "fast", Attempts: 1, ArtifactDigest: "ab"},
		{ClipID: 2, Success: false, Attempts: 3, Error: "boom"},
	})
	if len(docs) != 2 {
		t.Fatalf("docs = %d", len(docs))
	}
	if _, ok := docs[1]["output_path"]; ok {
		t.Fatal("failed clip must not carry an output path")
	}
	if docs[1]["error"] != "boom" {
		t.Fatalf("error lost: %v", docs[1])
	}
	if docs[0]["artifact_digest"] != "ab" {
		t.Fatalf("digest lost: %v", docs[0])
	}
}
