package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/beatframe/beatframe/internal/log"
)

// PhaseCount is the fixed number of pipeline phases (P0..P9).
const PhaseCount = 10

// Status is the lifecycle state of a phase.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ErrInvalidSessionID rejects identifiers outside [A-Za-z0-9_-]{1,255} or
// containing traversal/expansion sequences.
var ErrInvalidSessionID = errors.New("invalid session identifier")

// ErrPhaseCompleted rejects mutations that would move a completed phase
// backwards without an explicit reset.
var ErrPhaseCompleted = errors.New("phase already completed")

// Attempt is one append-only execution record inside a phase.
type Attempt struct {
	AttemptNumber int            `json:"attempt_number"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	Success       bool           `json:"success"`
	Result        map[string]any `json:"result,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// Phase tracks the status, attempt history, and winner artifact of one
// pipeline stage.
type Phase struct {
	PhaseNumber   int            `json:"phase_number"`
	Status        Status         `json:"status"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	CurrentResult map[string]any `json:"current_result,omitempty"`
	Attempts      []Attempt      `json:"attempts"`
}

// Document is the canonical state.json shape.
type Document struct {
	SessionID string            `json:"session_id"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Phases    map[string]*Phase `json:"phases"`
}

// Session is the single-writer in-memory view of one session. Mutations flush
// through the atomic store before returning; callers must not share a Session
// across goroutines for mutation.
type Session struct {
	doc  *Document
	dir  string
	path string
	log  zerolog.Logger
	now  func() time.Time
}

// ValidateSessionID enforces the session identifier contract: character class
// [A-Za-z0-9_-], 1..255 chars, and none of the traversal/expansion sequences.
func ValidateSessionID(id string) error {
	if id == "" || len(id) > 255 {
		return fmt.Errorf("%w: length must be 1..255", ErrInvalidSessionID)
	}
	if strings.Contains(id, "..") || strings.Contains(id, "~") || strings.Contains(id, "$") {
		return fmt.Errorf("%w: %q contains a forbidden sequence", ErrInvalidSessionID, id)
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return fmt.Errorf("%w: %q contains %q", ErrInvalidSessionID, id, string(r))
		}
	}
	return nil
}

// LoadOrCreate validates id, reads sessions/<id>/state.json if present, and
// otherwise initialises an empty document with phases 0..9.
func LoadOrCreate(root, id string) (*Session, error) {
	if err := ValidateSessionID(id); err != nil {
		return nil, err
	}
	dir := filepath.Join(root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	s := &Session{
		dir:  dir,
		path: filepath.Join(dir, "state.json"),
		log:  log.WithSession("state", id),
		now:  func() time.Time { return time.Now().UTC() },
	}

	b, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		var doc Document
		if err := json.Unmarshal(b, &doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", s.path, err)
		}
		if doc.SessionID != id {
			return nil, fmt.Errorf("state file session_id %q does not match %q", doc.SessionID, id)
		}
		ensurePhases(&doc)
		s.doc = &doc
		return s, nil
	case errors.Is(err, os.ErrNotExist):
		now := s.now()
		doc := Document{
			SessionID: id,
			CreatedAt: now,
			UpdatedAt: now,
			Phases:    map[string]*Phase{},
		}
		ensurePhases(&doc)
		s.doc = &doc
		if err := s.flush(); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
}

func ensurePhases(doc *Document) {
	if doc.Phases == nil {
		doc.Phases = map[string]*Phase{}
	}
	for n := 0; n < PhaseCount; n++ {
		key := strconv.Itoa(n)
		if p := doc.Phases[key]; p != nil {
			if p.Status == "" {
				p.Status = StatusNotStarted
			}
			if p.Attempts == nil {
				p.Attempts = []Attempt{}
			}
			continue
		}
		doc.Phases[key] = &Phase{
			PhaseNumber: n,
			Status:      StatusNotStarted,
			Attempts:    []Attempt{},
		}
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.doc.SessionID }

// Dir returns the session directory (sessions/<id>).
func (s *Session) Dir() string { return s.dir }

// PhaseDir returns the sidecar directory for phase n, creating it on demand.
func (s *Session) PhaseDir(n int) (string, error) {
	dir := filepath.Join(s.dir, fmt.Sprintf("phase%d", n))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create phase dir: %w", err)
	}
	return dir, nil
}

func (s *Session) phase(n int) (*Phase, error) {
	if n < 0 || n >= PhaseCount {
		return nil, fmt.Errorf("phase number out of range: %d", n)
	}
	p := s.doc.Phases[strconv.Itoa(n)]
	if p == nil {
		return nil, fmt.Errorf("missing phase record: %d", n)
	}
	return p, nil
}

// Phase returns a deep copy of phase n's record.
func (s *Session) Phase(n int) (Phase, error) {
	p, err := s.phase(n)
	if err != nil {
		return Phase{}, err
	}
	cp := *p
	cp.Attempts = append([]Attempt{}, p.Attempts...)
	cp.CurrentResult = copyResult(p.CurrentResult)
	return cp, nil
}

// CanExecutePhase reports whether phase n may start: n==0, or n-1 completed.
func (s *Session) CanExecutePhase(n int) bool {
	if n == 0 {
		return true
	}
	prev, err := s.phase(n - 1)
	if err != nil {
		return false
	}
	return prev.Status == StatusCompleted
}

// MarkPhaseStarted appends a new attempt and transitions the phase to
// in_progress. Allowed from not_started and failed. Starting an in_progress
// phase is a warned no-op; starting a completed phase requires ResetPhase.
func (s *Session) MarkPhaseStarted(n int) error {
	p, err := s.phase(n)
	if err != nil {
		return err
	}
	switch p.Status {
	case StatusInProgress:
		s.log.Warn().Int("phase", n).Msg("phase already in progress; start is a no-op")
		return nil
	case StatusCompleted:
		return fmt.Errorf("start phase %d: %w", n, ErrPhaseCompleted)
	}
	now := s.touch()
	p.Status = StatusInProgress
	p.StartedAt = &now
	p.CompletedAt = nil
	p.Attempts = append(p.Attempts, Attempt{
		AttemptNumber: len(p.Attempts) + 1,
		StartedAt:     now,
	})
	return s.flush()
}

// MarkPhaseCompleted closes the last attempt as successful and records the
// phase winner artifact. Completing an already-completed phase is an
// idempotent no-op that never duplicates attempts.
func (s *Session) MarkPhaseCompleted(n int, result map[string]any) error {
	p, err := s.phase(n)
	if err != nil {
		return err
	}
	if p.Status == StatusCompleted {
		s.log.Warn().Int("phase", n).Msg("phase already completed; completion is a no-op")
		return nil
	}
	if len(p.Attempts) == 0 {
		return fmt.Errorf("complete phase %d: no open attempt", n)
	}
	now := s.touch()
	last := &p.Attempts[len(p.Attempts)-1]
	last.CompletedAt = &now
	last.Success = true
	last.Result = copyResult(result)
	last.Error = ""
	p.Status = StatusCompleted
	p.CompletedAt = &now
	p.CurrentResult = copyResult(result)
	return s.flush()
}

// MarkPhaseFailed closes the last attempt as failed. The phase keeps no
// current_result so that completed status and winner artifact stay coupled.
// A completed phase only leaves that state through ResetPhase.
func (s *Session) MarkPhaseFailed(n int, cause string) error {
	p, err := s.phase(n)
	if err != nil {
		return err
	}
	if p.Status == StatusCompleted {
		return fmt.Errorf("fail phase %d: %w", n, ErrPhaseCompleted)
	}
	if len(p.Attempts) == 0 {
		return fmt.Errorf("fail phase %d: no open attempt", n)
	}
	now := s.touch()
	last := &p.Attempts[len(p.Attempts)-1]
	last.CompletedAt = &now
	last.Success = false
	last.Error = cause
	p.Status = StatusFailed
	p.CompletedAt = nil
	p.CurrentResult = nil
	return s.flush()
}

// ResetPhase explicitly returns a phase to not_started, clearing its winner
// and attempt history. This is the only way back from completed.
func (s *Session) ResetPhase(n int) error {
	p, err := s.phase(n)
	if err != nil {
		return err
	}
	s.touch()
	p.Status = StatusNotStarted
	p.StartedAt = nil
	p.CompletedAt = nil
	p.CurrentResult = nil
	p.Attempts = []Attempt{}
	return s.flush()
}

// GetPhaseData returns a copy of phase n's current_result, or nil when the
// phase has not completed.
func (s *Session) GetPhaseData(n int) map[string]any {
	p, err := s.phase(n)
	if err != nil {
		return nil
	}
	return copyResult(p.CurrentResult)
}

// Snapshot returns a deep copy of the whole document (for status/summary).
func (s *Session) Snapshot() Document {
	cp := Document{
		SessionID: s.doc.SessionID,
		CreatedAt: s.doc.CreatedAt,
		UpdatedAt: s.doc.UpdatedAt,
		Phases:    map[string]*Phase{},
	}
	for k, p := range s.doc.Phases {
		pc := *p
		pc.Attempts = append([]Attempt{}, p.Attempts...)
		pc.CurrentResult = copyResult(p.CurrentResult)
		cp.Phases[k] = &pc
	}
	return cp
}

// touch advances updated_at, clamping so timestamps never move backwards
// under a single writer even if the wall clock does.
func (s *Session) touch() time.Time {
	now := s.now()
	if now.Before(s.doc.UpdatedAt) {
		now = s.doc.UpdatedAt
	}
	s.doc.UpdatedAt = now
	return now
}

func (s *Session) flush() error {
	return WriteJSONAtomic(s.path, s.doc)
}

// copyResult deep-copies an opaque result document through its JSON form.
func copyResult(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}
