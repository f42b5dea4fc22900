// Package state persists the per-session pipeline document with
// crash-consistent atomic writes.
package state

import (
	"encoding/json"
	"fmt"

	"github.com/google/renameio/v2"
	"github.com/oklog/ulid/v2"
)

// WriteFileAtomic writes data to path so that after return the file either
// contains exactly data or is unchanged. The temp file is created in the
// target's directory and fsynced before the rename, so a crash at any instant
// leaves a consistent file behind.
func WriteFileAtomic(path string, data []byte) error {
	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer func() {
		// Removes the temp file when the replace below did not happen.
		_ = pending.Cleanup()
	}()
	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write pending file: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// WriteJSONAtomic marshals v with stable two-space indentation and writes it
// atomically. The canonical serialization is what makes write/load/write
// byte-idempotent.
func WriteJSONAtomic(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return WriteFileAtomic(path, append(b, '\n'))
}

// NewSessionID generates a fresh ULID-based session identifier.
func NewSessionID() string {
	return ulid.Make().String()
}
