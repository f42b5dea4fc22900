package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/beatframe/beatframe/internal/log"
	"github.com/beatframe/beatframe/internal/pipeline/config"
)

var (
	cfgPath string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "beatframe",
	Short: "Music video pipeline orchestrator",
	Long: `beatframe turns an audio track and its analysis into a rendered music
video through a ten-phase pipeline: competitive agent rounds design the
concept, storyboard, clips, and generation strategy; the back half generates,
reviews, edits, and renders the clips.

Sessions are resumable: state is committed atomically after every phase, so a
crashed or interrupted run picks up where it stopped.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := ""
		if verbose {
			level = "debug"
		}
		log.Configure(log.Config{Level: level})
	},
}

// Execute runs the CLI. Errors print to stderr and exit nonzero.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "beatframe.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func loadConfig() (*config.File, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", cfgPath, err)
	}
	return cfg, nil
}
