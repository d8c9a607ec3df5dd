package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/deepwork/internal/config"
	"github.com/goodtune/deepwork/internal/focus"
	"github.com/goodtune/deepwork/internal/session"
	"github.com/goodtune/deepwork/internal/storage"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	sessionTitle    string
	sessionGoal     string
	sessionDuration int
	pauseReason     string
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Drive focus sessions directly against the configured store",
}

var sessionCreateCmd = &cobra.Command{
	Use:     "create",
	Short:   "Schedule a new session",
	Example: `  deepwork session create --title "Write design doc" --duration 50 --goal "First draft"`,
	Args:    cobra.NoArgs,
	RunE:    runSessionCreate,
}

var sessionStartCmd = &cobra.Command{
	Use:   "start ID",
	Short: "Start a scheduled session",
	Args:  cobra.ExactArgs(1),
	RunE: sessionOp(func(ctx context.Context, m *session.Machine, id int64) (*storage.Session, error) {
		return m.Start(ctx, id)
	}),
}

var sessionPauseCmd = &cobra.Command{
	Use:     "pause ID",
	Short:   "Pause an active session and record an interruption",
	Example: `  deepwork session pause 7 --reason "phone call"`,
	Args:    cobra.ExactArgs(1),
	RunE: sessionOp(func(ctx context.Context, m *session.Machine, id int64) (*storage.Session, error) {
		return m.Pause(ctx, id, pauseReason)
	}),
}

var sessionResumeCmd = &cobra.Command{
	Use:   "resume ID",
	Short: "Resume a paused or abandoned session",
	Args:  cobra.ExactArgs(1),
	RunE: sessionOp(func(ctx context.Context, m *session.Machine, id int64) (*storage.Session, error) {
		return m.Resume(ctx, id)
	}),
}

var sessionCompleteCmd = &cobra.Command{
	Use:   "complete ID",
	Short: "Complete an active session",
	Args:  cobra.ExactArgs(1),
	RunE: sessionOp(func(ctx context.Context, m *session.Machine, id int64) (*storage.Session, error) {
		return m.Complete(ctx, id)
	}),
}

var sessionShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show a session, its interruptions and focus score",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionShow,
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a session and its interruptions",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionDelete,
}

func init() {
	sessionCreateCmd.Flags().StringVar(&sessionTitle, "title", "", "Session title (required)")
	sessionCreateCmd.Flags().StringVar(&sessionGoal, "goal", "", "What the session should achieve")
	sessionCreateCmd.Flags().IntVar(&sessionDuration, "duration", 0, "Scheduled duration in minutes (required)")
	_ = sessionCreateCmd.MarkFlagRequired("title")
	_ = sessionCreateCmd.MarkFlagRequired("duration")

	sessionPauseCmd.Flags().StringVar(&pauseReason, "reason", "", "Interruption reason (required)")
	_ = sessionPauseCmd.MarkFlagRequired("reason")

	sessionCmd.AddCommand(sessionCreateCmd)
	sessionCmd.AddCommand(sessionStartCmd)
	sessionCmd.AddCommand(sessionPauseCmd)
	sessionCmd.AddCommand(sessionResumeCmd)
	sessionCmd.AddCommand(sessionCompleteCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionDeleteCmd)
	rootCmd.AddCommand(sessionCmd)
}

// cliEnv is the storage and services opened for a one-shot CLI command
type cliEnv struct {
	store   storage.Store
	machine *session.Machine
	engine  *focus.Engine
	clock   session.Clock
}

func (e *cliEnv) Close() error {
	return e.store.Close()
}

// openCLIEnv loads configuration and opens the store with a quiet logger
func openCLIEnv() (*cliEnv, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Create a quiet logger for CLI mode
	logger := zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	clock := session.RealClock{}
	machine, engine, err := newServices(cfg, store, clock, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &cliEnv{store: store, machine: machine, engine: engine, clock: clock}, nil
}

// sessionOp wraps a single-ID state machine operation as a cobra RunE
func sessionOp(op func(ctx context.Context, m *session.Machine, id int64) (*storage.Session, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id, err := parseSessionID(args[0])
		if err != nil {
			return err
		}

		env, err := openCLIEnv()
		if err != nil {
			return err
		}
		defer env.Close()

		s, err := op(cmd.Context(), env.machine, id)
		if err != nil {
			return err
		}

		printSession(s)
		return nil
	}
}

func runSessionCreate(cmd *cobra.Command, args []string) error {
	env, err := openCLIEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	params := session.CreateParams{
		Title:             sessionTitle,
		ScheduledDuration: sessionDuration,
	}
	if cmd.Flags().Changed("goal") {
		params.Goal = &sessionGoal
	}

	s, err := env.machine.Create(cmd.Context(), params)
	if err != nil {
		return err
	}

	printSession(s)
	return nil
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	id, err := parseSessionID(args[0])
	if err != nil {
		return err
	}

	env, err := openCLIEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	ctx := cmd.Context()

	s, err := env.machine.Get(ctx, id)
	if err != nil {
		return err
	}

	interruptions, err := env.machine.Interruptions(ctx, id)
	if err != nil {
		return err
	}

	printSession(s)

	cyan := color.New(color.FgCyan, color.Bold)
	_, _ = cyan.Print("Focus Score: ")
	fmt.Printf("%.2f\n", env.engine.FocusScore(ctx, id))
	fmt.Println()

	if len(interruptions) == 0 {
		fmt.Println("No interruptions recorded")
		fmt.Println()
		return nil
	}

	_, _ = cyan.Println("Interruptions:")
	for _, i := range interruptions {
		resumed := "(still paused)"
		if i.ResumeTime != nil {
			resumed = i.ResumeTime.Local().Format("15:04:05")
		}
		fmt.Printf("  #%d  %s -> %s  %s\n", i.ID, i.PauseTime.Local().Format("15:04:05"), resumed, i.Reason)
	}
	fmt.Println()

	return nil
}

func runSessionDelete(cmd *cobra.Command, args []string) error {
	id, err := parseSessionID(args[0])
	if err != nil {
		return err
	}

	env, err := openCLIEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.machine.Delete(cmd.Context(), id); err != nil {
		return err
	}

	_, _ = color.New(color.FgGreen, color.Bold).Printf("Session %d deleted\n", id)
	return nil
}

func parseSessionID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid session ID: %s", arg)
	}
	return id, nil
}

// statusColor picks the display color for a session status
func statusColor(status storage.Status) *color.Color {
	switch status {
	case storage.StatusCompleted:
		return color.New(color.FgGreen, color.Bold)
	case storage.StatusActive:
		return color.New(color.FgCyan, color.Bold)
	case storage.StatusPaused, storage.StatusOverdue:
		return color.New(color.FgYellow, color.Bold)
	case storage.StatusInterrupted, storage.StatusAbandoned:
		return color.New(color.FgRed, color.Bold)
	default:
		return color.New(color.Bold)
	}
}

// printSession prints a session with colors
func printSession(s *storage.Session) {
	cyan := color.New(color.FgCyan, color.Bold)

	fmt.Println()
	_, _ = cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	_, _ = cyan.Printf("SESSION #%d\n", s.ID)
	_, _ = cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("Title:       %s\n", s.Title)
	if s.Goal != nil {
		fmt.Printf("Goal:        %s\n", *s.Goal)
	}
	fmt.Printf("Scheduled:   %d minutes\n", s.ScheduledDuration)
	fmt.Print("Status:      ")
	_, _ = statusColor(s.Status).Println(s.Status)
	fmt.Printf("Pauses:      %d\n", s.PauseCount)
	fmt.Printf("Created:     %s\n", formatCLITime(&s.CreatedAt))
	fmt.Printf("Started:     %s\n", formatCLITime(s.StartTime))
	fmt.Printf("Ended:       %s\n", formatCLITime(s.EndTime))
	if actual := focus.ActualDuration(*s); actual != nil {
		fmt.Printf("Actual:      %d minutes\n", *actual)
	}
	fmt.Println()
}

func formatCLITime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
