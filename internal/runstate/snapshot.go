// Package runstate reads a session directory's artifacts into a compact
// snapshot for status reporting, without taking any locks on the session.
package runstate

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/beatframe/beatframe/internal/pipeline/state"
	"github.com/beatframe/beatframe/internal/procutil"
)

// RunState classifies what a session is doing right now.
type RunState string

const (
	StateUnknown   RunState = "unknown"
	StateRunning   RunState = "running"
	StateIdle      RunState = "idle"
	StateCompleted RunState = "completed"
	StateFailed    RunState = "failed"
)

// PhaseSummary is the per-phase slice of a snapshot.
type PhaseSummary struct {
	Phase    int          `json:"phase"`
	Status   state.Status `json:"status"`
	Attempts int          `json:"attempts"`
	Error    string       `json:"error,omitempty"`
}

// Snapshot is the compact view of one session assembled from state.json,
// progress.ndjson, and run.pid.
type Snapshot struct {
	SessionID   string         `json:"session_id"`
	State       RunState       `json:"state"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Phases      []PhaseSummary `json:"phases"`
	LastEvent   string         `json:"last_event,omitempty"`
	LastEventAt time.Time      `json:"last_event_at,omitempty"`
	PID         int            `json:"pid,omitempty"`
	PIDAlive    bool           `json:"pid_alive"`
}

// LoadSnapshot reads the session artifacts under sessionDir.
func LoadSnapshot(sessionDir string) (*Snapshot, error) {
	dir := strings.TrimSpace(sessionDir)
	if dir == "" {
		return nil, fmt.Errorf("session dir is required")
	}

	s := &Snapshot{State: StateUnknown}
	if err := applyStateFile(s, filepath.Join(dir, "state.json")); err != nil {
		return nil, err
	}
	if err := applyLastProgress(s, filepath.Join(dir, "progress.ndjson")); err != nil {
		return nil, err
	}
	if err := applyPIDFile(s, filepath.Join(dir, "run.pid")); err != nil {
		return nil, err
	}

	s.State = classify(s)
	return s, nil
}

// ListSessions snapshots every session directory under root, sorted by
// session id. Unreadable entries are skipped rather than failing the listing.
func ListSessions(root string) ([]*Snapshot, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sessions root: %w", err)
	}
	var out []*Snapshot
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		snap, err := LoadSnapshot(filepath.Join(root, entry.Name()))
		if err != nil || snap.SessionID == "" {
			continue
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

func applyStateFile(s *Snapshot, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var doc state.Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	s.SessionID = doc.SessionID
	s.CreatedAt = doc.CreatedAt
	s.UpdatedAt = doc.UpdatedAt
	s.Phases = make([]PhaseSummary, 0, len(doc.Phases))
	for n := 0; n < state.PhaseCount; n++ {
		p := doc.Phases[strconv.Itoa(n)]
		if p == nil {
			s.Phases = append(s.Phases, PhaseSummary{Phase: n, Status: state.StatusNotStarted})
			continue
		}
		sum := PhaseSummary{Phase: n, Status: p.Status, Attempts: len(p.Attempts)}
		if p.Status == state.StatusFailed && len(p.Attempts) > 0 {
			sum.Error = p.Attempts[len(p.Attempts)-1].Error
		}
		s.Phases = append(s.Phases, sum)
	}
	return nil
}

func applyLastProgress(s *Snapshot, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
	last := ""
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			last = line
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if last == "" {
		return nil
	}
	var ev map[string]any
	if err := json.Unmarshal([]byte(last), &ev); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if name, ok := ev["event"].(string); ok {
		s.LastEvent = name
	}
	if raw, ok := ev["ts"].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			s.LastEventAt = ts
		}
	}
	return nil
}

func applyPIDFile(s *Snapshot, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	raw := strings.TrimSpace(string(b))
	pid, err := strconv.Atoi(raw)
	if err != nil || pid <= 0 {
		// Stale or half-written pid files never fail a status read.
		return nil
	}
	s.PID = pid
	s.PIDAlive = procutil.PIDAlive(pid)
	return nil
}

// classify derives the session's run state: a live pid means running; with no
// live writer the phase table speaks for itself.
func classify(s *Snapshot) RunState {
	if s.PIDAlive {
		return StateRunning
	}
	if len(s.Phases) == 0 {
		return StateUnknown
	}
	completed := 0
	for _, p := range s.Phases {
		switch p.Status {
		case state.StatusFailed:
			return StateFailed
		case state.StatusCompleted:
			completed++
		}
	}
	if completed == len(s.Phases) {
		return StateCompleted
	}
	return StateIdle
}
