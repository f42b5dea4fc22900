package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/beatframe/beatframe/internal/pipeline/engine"
)

var validateJSON bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check config, prompts, and backends before a run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		report := engine.ValidateSetup(cfg)
		if validateJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
		} else {
			for _, e := range report.Errors {
				fmt.Println("error:", e)
			}
			for _, w := range report.Warnings {
				fmt.Println("warning:", w)
			}
			if report.OK() {
				fmt.Println("setup ok")
			}
		}
		if !report.OK() {
			return fmt.Errorf("%d validation error(s)", len(report.Errors))
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "emit JSON")
	rootCmd.AddCommand(validateCmd)
}
