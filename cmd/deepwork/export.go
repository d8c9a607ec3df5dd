package main

import (
	"fmt"
	"io"
	"os"

	"github.com/goodtune/deepwork/internal/export"
	"github.com/spf13/cobra"
)

var (
	exportOutput string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export sessions",
}

var exportCSVCmd = &cobra.Command{
	Use:     "csv",
	Short:   "Export every session as CSV",
	Example: `  deepwork export csv -o deep_work_sessions.csv`,
	Args:    cobra.NoArgs,
	RunE:    runExportCSV,
}

func init() {
	exportCSVCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write to FILE instead of stdout")

	exportCmd.AddCommand(exportCSVCmd)
	rootCmd.AddCommand(exportCmd)
}

func runExportCSV(cmd *cobra.Command, args []string) error {
	env, err := openCLIEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	history, err := env.engine.History(cmd.Context())
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if exportOutput != "" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", exportOutput, err)
		}
		defer f.Close()
		w = f
	}

	if err := export.WriteCSV(w, history); err != nil {
		return fmt.Errorf("failed to export sessions: %w", err)
	}

	if exportOutput != "" {
		fmt.Fprintf(os.Stderr, "Exported %d sessions to %s\n", len(history), exportOutput)
	}
	return nil
}
