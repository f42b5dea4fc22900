package engine

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/beatframe/beatframe/internal/log"
)

// ProgressWriter appends events to the session's progress.ndjson, one JSON
// object per line. Lines are best-effort: progress is observability, not
// state, so a write failure logs and moves on.
type ProgressWriter struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
	log  zerolog.Logger
}

// NewProgressWriter targets the given ndjson file.
func NewProgressWriter(path string) *ProgressWriter {
	return &ProgressWriter{
		path: path,
		now:  func() time.Time { return time.Now().UTC() },
		log:  log.WithComponent("progress"),
	}
}

// Emit appends one event, stamping ts if absent.
func (w *ProgressWriter) Emit(ev map[string]any) {
	if ev == nil {
		return
	}
	if _, ok := ev["ts"]; !ok {
		ev["ts"] = w.now().Format(time.RFC3339Nano)
	}
	line, err := json.Marshal(ev)
	if err != nil {
		w.log.Warn().Err(err).Msg("encode progress event")
		return
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		w.log.Warn().Err(err).Msg("open progress file")
		return
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(line); err != nil {
		w.log.Warn().Err(err).Msg("append progress event")
	}
}
