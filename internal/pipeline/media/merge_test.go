package media

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestXfadeGraphTwoSegments(t *testing.T) {
	segments := []Segment{
		{Path: "a.mp4", DurationS: 5},
		{Path: "b.mp4", DurationS: 4},
	}
	got := xfadeGraph(segments, "fade", 0.5)
	want := "[0:v][1:v]xfade=transition=fade:duration=0.500:offset=4.500[vout]"
	if got != want {
		t.Fatalf("graph = %q\nwant    %q", got, want)
	}
}

func TestXfadeGraphChainsOffsets(t *testing.T) {
	segments := []Segment{
		{Path: "a.mp4", DurationS: 5},
		{Path: "b.mp4", DurationS: 4},
		{Path: "c.mp4", DurationS: 3},
	}
	got := xfadeGraph(segments, "fade", 1)
	// First fade at 5-1=4; accumulated stream is then 5+4-1=8 long, so the
	// second fade starts at 8-1=7.
	want := "[0:v][1:v]xfade=transition=fade:duration=1.000:offset=4.000[vx1];" +
		"[vx1][2:v]xfade=transition=fade:duration=1.000:offset=7.000[vout]"
	if got != want {
		t.Fatalf("graph = %q\nwant    %q", got, want)
	}
}

func TestXfadeGraphClampsNegativeOffset(t *testing.T) {
	segments := []Segment{
		{Path: "a.mp4", DurationS: 0.2},
		{Path: "b.mp4", DurationS: 4},
	}
	got := xfadeGraph(segments, "fade", 1)
	want := "[0:v][1:v]xfade=transition=fade:duration=1.000:offset=0.000[vout]"
	if got != want {
		t.Fatalf("graph = %q", got)
	}
}

func TestMergeSingleSegmentCopies(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "only.mp4")
	if err := os.WriteFile(src, []byte("clip bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "out", "merged.mp4")
	m := NewMerger("ffmpeg", "none", 0)
	if err := m.Merge(context.Background(), []Segment{{Path: src, DurationS: 3}}, out); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "clip bytes" {
		t.Fatalf("copied content = %q", b)
	}
}

func TestMergeNoSegments(t *testing.T) {
	m := NewMerger("ffmpeg", "none", 0)
	if err := m.Merge(context.Background(), nil, filepath.Join(t.TempDir(), "out.mp4")); err == nil {
		t.Fatal("empty segment list must error")
	}
}

func TestEffectsPassthrough(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "merged.mp4")
	if err := os.WriteFile(src, []byte("video"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "effects.mp4")
	fx := NewEffects("ffmpeg")
	if err := fx.Apply(context.Background(), src, out, nil); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "video" {
		t.Fatalf("passthrough content = %q", b)
	}
}

func TestTail(t *testing.T) {
	if got := tail("short", 10); got != "short" {
		t.Fatalf("tail = %q", got)
	}
	long := "0123456789abcdef"
	if got := tail(long, 6); got != "...abcdef" {
		t.Fatalf("tail = %q", got)
	}
}

func TestFormatSeconds(t *testing.T) {
	if got := formatSeconds(4.5); got != "4.500" {
		t.Fatalf("formatSeconds = %q", got)
	}
	if got := formatSeconds(0); got != "0.000" {
		t.Fatalf("formatSeconds = %q", got)
	}
}
