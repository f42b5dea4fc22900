package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrOutputUnparsable means stdout held no JSON object even after salvage.
var ErrOutputUnparsable = errors.New("agent output is not a JSON object")

// errPrefixLimit bounds how much raw stdout is preserved in error messages.
const errPrefixLimit = 200

// ParseObject parses stdout as a single JSON object. A strict parse is
// attempted first; on failure the substring between the first '{' and the
// last '}' is tried, because agent binaries sometimes emit preamble text
// around the object. salvaged reports whether the strict parse failed —
// callers log that as a soft protocol violation.
func ParseObject(raw []byte) (out map[string]any, salvaged bool, err error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil, false, fmt.Errorf("%w: empty stdout", ErrOutputUnparsable)
	}
	if err := json.Unmarshal([]byte(trimmed), &out); err == nil && out != nil {
		return out, false, nil
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return nil, true, fmt.Errorf("%w: %s", ErrOutputUnparsable, truncate(trimmed, errPrefixLimit))
	}
	out = nil
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &out); err != nil || out == nil {
		return nil, true, fmt.Errorf("%w: %s", ErrOutputUnparsable, truncate(trimmed, errPrefixLimit))
	}
	return out, true, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
