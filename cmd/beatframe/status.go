package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/beatframe/beatframe/internal/pipeline/engine"
	"github.com/beatframe/beatframe/internal/pipeline/state"
	"github.com/beatframe/beatframe/internal/runstate"
)

var (
	statusJSON      bool
	statusSessionID string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a session's phase progress",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := state.ValidateSessionID(statusSessionID); err != nil {
			return err
		}
		snap, err := runstate.LoadSnapshot(filepath.Join(cfg.SessionRoot, statusSessionID))
		if err != nil {
			return err
		}
		if snap.SessionID == "" {
			return fmt.Errorf("session %s not found under %s", statusSessionID, cfg.SessionRoot)
		}
		if statusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}
		printSnapshot(snap)
		return nil
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List known sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		snaps, err := runstate.ListSessions(cfg.SessionRoot)
		if err != nil {
			return err
		}
		if statusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snaps)
		}
		if len(snaps) == 0 {
			fmt.Println("no sessions found under", cfg.SessionRoot)
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SESSION\tSTATE\tPHASES DONE\tUPDATED")
		for _, s := range snaps {
			done := 0
			for _, p := range s.Phases {
				if p.Status == state.StatusCompleted {
					done++
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\n",
				s.SessionID, s.State, done, state.PhaseCount,
				s.UpdatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusSessionID, "session", "", "session id to inspect")
	_ = statusCmd.MarkFlagRequired("session")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "emit JSON")
	sessionsCmd.Flags().BoolVar(&statusJSON, "json", false, "emit JSON")
	rootCmd.AddCommand(statusCmd, sessionsCmd)
}

func printSnapshot(s *runstate.Snapshot) {
	fmt.Println("session:", s.SessionID)
	fmt.Println("state:  ", s.State)
	if s.PID > 0 {
		alive := "dead"
		if s.PIDAlive {
			alive = "alive"
		}
		fmt.Printf("writer:  pid %d (%s)\n", s.PID, alive)
	}
	if s.LastEvent != "" {
		fmt.Printf("last event: %s", s.LastEvent)
		if !s.LastEventAt.IsZero() {
			fmt.Printf(" at %s", s.LastEventAt.Format(time.RFC3339))
		}
		fmt.Println()
	}
	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PHASE\tNAME\tSTATUS\tATTEMPTS\tERROR")
	for _, p := range s.Phases {
		errMsg := p.Error
		if len(errMsg) > 60 {
			errMsg = errMsg[:60] + "..."
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n",
			p.Phase, engine.PhaseName(p.Phase), p.Status, p.Attempts, errMsg)
	}
	_ = w.Flush()
}
