package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/goodtune/deepwork/internal/focus"
	"github.com/goodtune/deepwork/internal/storage"
	"github.com/spf13/cobra"
)

var (
	reportJSON bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print focus metrics",
}

var reportWeeklyCmd = &cobra.Command{
	Use:   "weekly",
	Short: "Print the report for sessions created in the last 7 days",
	Args:  cobra.NoArgs,
	RunE:  runReportWeekly,
}

var reportHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Print every session, newest first",
	Args:  cobra.NoArgs,
	RunE:  runReportHistory,
}

func init() {
	reportWeeklyCmd.Flags().BoolVar(&reportJSON, "json", false, "Print the report as JSON")
	reportHistoryCmd.Flags().BoolVar(&reportJSON, "json", false, "Print the history as JSON")

	reportCmd.AddCommand(reportWeeklyCmd)
	reportCmd.AddCommand(reportHistoryCmd)
	rootCmd.AddCommand(reportCmd)
}

func runReportWeekly(cmd *cobra.Command, args []string) error {
	env, err := openCLIEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	report, err := env.engine.WeeklyReport(cmd.Context(), env.clock.Now())
	if err != nil {
		return err
	}

	if reportJSON {
		return printJSON(report)
	}

	printWeeklyReport(report)
	return nil
}

func runReportHistory(cmd *cobra.Command, args []string) error {
	env, err := openCLIEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	summary, err := env.engine.HistorySummary(cmd.Context())
	if err != nil {
		return err
	}

	if reportJSON {
		return printJSON(summary)
	}

	printHistory(summary)
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printWeeklyReport prints the weekly report with colors
func printWeeklyReport(r *focus.WeeklyReport) {
	cyan := color.New(color.FgCyan, color.Bold)
	yellow := color.New(color.FgYellow)

	fmt.Println()
	_, _ = cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	_, _ = cyan.Println("WEEKLY FOCUS REPORT")
	_, _ = cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("Since:          %s\n", r.WeekStart.Local().Format("2006-01-02 15:04"))
	fmt.Printf("Sessions:       %d\n", r.TotalSessions)
	fmt.Printf("Focus Time:     %d minutes\n", r.TotalFocusTime)
	fmt.Printf("Average Score:  %.2f\n", r.AverageFocusScore)
	if r.TopInterruptionReason != nil {
		_, _ = yellow.Printf("Top Distractor: %s\n", *r.TopInterruptionReason)
	} else {
		fmt.Println("Top Distractor: (none)")
	}
	fmt.Println()

	_, _ = cyan.Println("Breakdown:")
	for _, status := range storage.Statuses {
		if n := r.FocusBreakdown[status]; n > 0 {
			fmt.Printf("  %-12s ", status)
			_, _ = statusColor(status).Printf("%d\n", n)
		}
	}
	fmt.Println()
}

// printHistory prints one line per session, newest first
func printHistory(s *focus.HistorySummary) {
	cyan := color.New(color.FgCyan, color.Bold)

	fmt.Println()
	_, _ = cyan.Printf("%-6s %-12s %-9s %-7s %-17s %s\n", "ID", "STATUS", "PLANNED", "ACTUAL", "CREATED", "TITLE")
	for _, e := range s.Sessions {
		actual := "-"
		if e.ActualDuration != nil {
			actual = fmt.Sprintf("%dm", *e.ActualDuration)
		}
		fmt.Printf("%-6d ", e.ID)
		_, _ = statusColor(e.Status).Printf("%-12s ", e.Status)
		fmt.Printf("%-9s %-7s %-17s %s\n",
			fmt.Sprintf("%dm", e.ScheduledDuration),
			actual,
			e.CreatedAt.Local().Format("2006-01-02 15:04"),
			e.Title,
		)
	}
	fmt.Println()

	fmt.Printf("Total: %d  Completed: %d  Interrupted: %d  Abandoned: %d  Overdue: %d\n",
		s.TotalSessions, s.CompletedSessions, s.InterruptedSessions, s.AbandonedSessions, s.OverdueSessions)
	fmt.Println()
}
