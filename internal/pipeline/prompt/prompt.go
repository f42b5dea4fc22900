// Package prompt resolves the on-disk prompt convention shared by agents and
// evaluators: <prompts_root>/phase<N>_<agent_type>.md.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// EvaluatorSuffix is the reserved agent-type slot for evaluator prompts.
const EvaluatorSuffix = "evaluation"

// AgentPath returns the prompt path for one agent type in one phase.
func AgentPath(root string, phase int, agentType string) string {
	return filepath.Join(root, fmt.Sprintf("phase%d_%s.md", phase, agentType))
}

// EvaluationPath returns the evaluator prompt path for one phase.
func EvaluationPath(root string, phase int) string {
	return AgentPath(root, phase, EvaluatorSuffix)
}

// Exists reports whether a prompt file is present and non-empty.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// Discover globs the prompts root for phase<N>_<agent_type>.md files and
// returns agent types per phase, evaluator prompts excluded. Agent types are
// sorted for deterministic output.
func Discover(root string) (map[int][]string, error) {
	matches, err := doublestar.FilepathGlob(filepath.Join(root, "phase*_*.md"))
	if err != nil {
		return nil, fmt.Errorf("glob prompts root: %w", err)
	}
	out := map[int][]string{}
	for _, m := range matches {
		phase, agentType, ok := parseName(filepath.Base(m))
		if !ok || agentType == EvaluatorSuffix {
			continue
		}
		out[phase] = append(out[phase], agentType)
	}
	for phase := range out {
		sort.Strings(out[phase])
	}
	return out, nil
}

// MissingForPhase reports which of the given agent types (plus the evaluator)
// have no prompt file for the phase.
func MissingForPhase(root string, phase int, agents []string) []string {
	var missing []string
	for _, a := range agents {
		if !Exists(AgentPath(root, phase, a)) {
			missing = append(missing, a)
		}
	}
	if !Exists(EvaluationPath(root, phase)) {
		missing = append(missing, EvaluatorSuffix)
	}
	return missing
}

func parseName(base string) (int, string, bool) {
	name := strings.TrimSuffix(base, ".md")
	if name == base || !strings.HasPrefix(name, "phase") {
		return 0, "", false
	}
	rest := strings.TrimPrefix(name, "phase")
	idx := strings.Index(rest, "_")
	if idx <= 0 || idx == len(rest)-1 {
		return 0, "", false
	}
	phase, err := strconv.Atoi(rest[:idx])
	if err != nil || phase < 0 {
		return 0, "", false
	}
	return phase, rest[idx+1:], true
}
