// Package agent launches competing director subprocesses and collects their
// structured output.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/beatframe/beatframe/internal/log"
	"github.com/beatframe/beatframe/internal/pipeline/prompt"
	"github.com/beatframe/beatframe/internal/procutil"
)

// ErrPromptMissing means the prompt file for an agent is absent. Per-agent it
// converts to a failed Result; the call as a whole still returns.
var ErrPromptMissing = errors.New("prompt missing")

// killGrace is how long a terminated agent gets before SIGKILL.
const killGrace = 3 * time.Second

// Result is one agent's submission for a phase iteration.
type Result struct {
	DirectorType  string         `json:"director_type"`
	Success       bool           `json:"success"`
	Output        map[string]any `json:"output,omitempty"`
	Error         string         `json:"error,omitempty"`
	ExecutionTime float64        `json:"execution_time_s"`
}

// Executor runs K independent agent processes in parallel. The zero value is
// not usable; construct with NewExecutor.
type Executor struct {
	binary      string
	promptsRoot string
	timeout     time.Duration
	maxParallel int
	log         zerolog.Logger
}

// NewExecutor configures an executor. maxParallel <= 0 means one worker per
// agent in the batch.
func NewExecutor(binary, promptsRoot string, timeout time.Duration, maxParallel int) *Executor {
	return &Executor{
		binary:      binary,
		promptsRoot: promptsRoot,
		timeout:     timeout,
		maxParallel: maxParallel,
		log:         log.WithComponent("agent"),
	}
}

// RunAll schedules every agent concurrently, bounded by the parallelism cap,
// and returns results aligned to the input order. Individual agent failures
// (missing prompt, crash, unparsable output) become failed entries; the call
// itself only observes ctx cancellation through the children it terminates.
func (e *Executor) RunAll(ctx context.Context, phase int, contextDoc map[string]any, outputDir string, agents []string) []Result {
	results := make([]Result, len(agents))
	if len(agents) == 0 {
		return results
	}

	type job struct {
		idx       int
		agentType string
	}
	jobs := make(chan job)
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		for j := range jobs {
			results[j.idx] = e.runOne(ctx, phase, j.agentType, contextDoc, outputDir)
		}
	}

	workers := e.maxParallel
	if workers <= 0 || workers > len(agents) {
		workers = len(agents)
	}
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go worker()
	}
	for idx, a := range agents {
		jobs <- job{idx: idx, agentType: a}
	}
	close(jobs)
	wg.Wait()
	return results
}

// RunEvaluator runs the phase's evaluator prompt with the given context and
// returns its parsed output. Unlike RunAll, evaluator errors surface to the
// caller, which owns the fallback policy.
func (e *Executor) RunEvaluator(ctx context.Context, phase int, contextDoc map[string]any, outputDir string) (map[string]any, error) {
	promptPath := prompt.EvaluationPath(e.promptsRoot, phase)
	if !prompt.Exists(promptPath) {
		return nil, fmt.Errorf("%w: %s", ErrPromptMissing, promptPath)
	}
	res := e.launch(ctx, prompt.EvaluatorSuffix, promptPath, contextDoc, outputDir)
	if !res.Success {
		return nil, errors.New(res.Error)
	}
	return res.Output, nil
}

func (e *Executor) runOne(ctx context.Context, phase int, agentType string, contextDoc map[string]any, outputDir string) (res Result) {
	defer func() {
		// Plumbing panics become failed entries so one agent can never abort
		// the batch.
		if r := recover(); r != nil {
			res = Result{
				DirectorType: agentType,
				Success:      false,
				Error:        fmt.Sprintf("agent plumbing panic: %v", r),
			}
		}
	}()

	promptPath := prompt.AgentPath(e.promptsRoot, phase, agentType)
	if !prompt.Exists(promptPath) {
		e.log.Warn().Str("agent", agentType).Str("prompt", promptPath).Msg("prompt missing")
		return Result{
			DirectorType: agentType,
			Success:      false,
			Error:        fmt.Sprintf("prompt missing: %s", promptPath),
		}
	}
	return e.launch(ctx, agentType, promptPath, contextDoc, outputDir)
}

// launch runs one subprocess with the binding agent contract: argv
// `-p <prompt> --dangerous-skip-permission --output-format json`, context as
// a single JSON object on stdin, a single JSON object expected on stdout.
func (e *Executor) launch(ctx context.Context, name, promptPath string, contextDoc map[string]any, outputDir string) Result {
	fail := func(format string, args ...any) Result {
		return Result{DirectorType: name, Success: false, Error: fmt.Sprintf(format, args...)}
	}

	stdin, err := json.Marshal(contextDoc)
	if err != nil {
		return fail("encode context: %v", err)
	}
	if outputDir != "" {
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return fail("create output dir: %v", err)
		}
		_ = os.WriteFile(filepath.Join(outputDir, name+"_context.json"), stdin, 0o644)
	}

	cctx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(cctx, e.binary,
		"-p", promptPath,
		"--dangerous-skip-permission",
		"--output-format", "json",
	)
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		procutil.TerminateGroup(cmd, killGrace)
		return nil
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start).Seconds()

	if outputDir != "" {
		_ = os.WriteFile(filepath.Join(outputDir, name+"_stdout.log"), stdout.Bytes(), 0o644)
		if stderr.Len() > 0 {
			_ = os.WriteFile(filepath.Join(outputDir, name+"_stderr.log"), stderr.Bytes(), 0o644)
		}
	}

	if runErr != nil {
		msg := truncate(stderr.String(), errPrefixLimit)
		if msg == "" {
			msg = runErr.Error()
		}
		if cctx.Err() == context.DeadlineExceeded {
			msg = fmt.Sprintf("timeout after %s", e.timeout)
		}
		e.log.Warn().Str("agent", name).Float64("elapsed_s", elapsed).Str("error", msg).Msg("agent failed")
		return Result{DirectorType: name, Success: false, Error: msg, ExecutionTime: elapsed}
	}

	out, salvaged, parseErr := ParseObject(stdout.Bytes())
	if parseErr != nil {
		return Result{DirectorType: name, Success: false, Error: parseErr.Error(), ExecutionTime: elapsed}
	}
	if salvaged {
		// Preamble around the JSON object is a soft protocol violation.
		e.log.Warn().Str("agent", name).Msg("stdout contained preamble around JSON object")
	}
	if errMsg, ok := out["error"].(string); ok && errMsg != "" {
		return Result{DirectorType: name, Success: false, Error: errMsg, Output: out, ExecutionTime: elapsed}
	}
	e.log.Debug().Str("agent", name).Float64("elapsed_s", elapsed).Msg("agent completed")
	return Result{DirectorType: name, Success: true, Output: out, ExecutionTime: elapsed}
}
