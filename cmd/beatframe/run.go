package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/beatframe/beatframe/internal/log"
	"github.com/beatframe/beatframe/internal/pipeline/engine"
	"github.com/beatframe/beatframe/internal/pipeline/state"
	"github.com/beatframe/beatframe/internal/procutil"
)

var (
	runSessionID   string
	runAudioPath   string
	runAnalysis    string
	runSinglePhase int
	runFromPhase   int
	runToPhase     int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline for a session",
	Long: `Run executes pipeline phases in order for a session. Without --session a
fresh session id is generated. Completed phases are skipped, so re-running a
partially finished session continues it.

Use --phase to run exactly one phase, or --from/--to to bound the range.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, to := runFromPhase, runToPhase
		if cmd.Flags().Changed("phase") {
			from, to = runSinglePhase, runSinglePhase
		}
		return runPipeline(cmd.Context(), runSessionID, from, to)
	},
}

var resumeSessionID string

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume an interrupted session",
	Long: `Resume continues a session from its first incomplete phase. It is the
same operation as run: completed phases are skipped and the rest execute in
order.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd.Context(), resumeSessionID, 0, state.PhaseCount-1)
	},
}

func init() {
	runCmd.Flags().StringVar(&runSessionID, "session", "", "session id (generated when unset)")
	runCmd.Flags().StringVar(&runAudioPath, "audio", "", "source audio file")
	runCmd.Flags().StringVar(&runAnalysis, "analysis", "", "pre-computed audio analysis JSON")
	runCmd.Flags().IntVar(&runSinglePhase, "phase", 0, "run exactly this phase")
	runCmd.Flags().IntVar(&runFromPhase, "from", 0, "first phase to run")
	runCmd.Flags().IntVar(&runToPhase, "to", state.PhaseCount-1, "last phase to run")

	resumeCmd.Flags().StringVar(&resumeSessionID, "session", "", "session id to resume")
	resumeCmd.Flags().StringVar(&runAudioPath, "audio", "", "source audio file")
	resumeCmd.Flags().StringVar(&runAnalysis, "analysis", "", "pre-computed audio analysis JSON")
	_ = resumeCmd.MarkFlagRequired("session")

	rootCmd.AddCommand(runCmd, resumeCmd)
}

func runPipeline(parent context.Context, sessionID string, from, to int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if sessionID == "" {
		sessionID = state.NewSessionID()
	}
	session, err := state.LoadOrCreate(cfg.SessionRoot, sessionID)
	if err != nil {
		return err
	}
	logger := log.WithSession("run", session.ID())
	logger.Info().Int("from", from).Int("to", to).Msg("pipeline run starting")
	fmt.Println("session:", session.ID())

	// One writer per session: refuse to start while another run holds the
	// pid file.
	pidPath := filepath.Join(session.Dir(), "run.pid")
	if err := procutil.AcquirePIDFile(pidPath); err != nil {
		if errors.Is(err, procutil.ErrPIDFileHeld) {
			return fmt.Errorf("session %s is already running: %w", session.ID(), err)
		}
		return fmt.Errorf("write pid file: %w", err)
	}
	defer func() { _ = os.Remove(pidPath) }()

	// SIGINT/SIGTERM cancel the run; the engine leaves the active phase
	// in_progress so resume picks it up.
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng := engine.New(cfg, session, engine.Options{
		AudioPath:    runAudioPath,
		AnalysisPath: runAnalysis,
	})
	if err := eng.RunRange(ctx, from, to); err != nil {
		return err
	}
	for _, w := range engine.SessionWarnings(session) {
		logger.Warn().Msg(w)
		fmt.Println("warning:", w)
	}
	logger.Info().Msg("pipeline run finished")
	return nil
}
