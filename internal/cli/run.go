package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/narrator/internal/control"
	"github.com/vietddude/narrator/internal/core/domain"
)

var retryFailed bool

var runCmd = &cobra.Command{
	Use:   "run <script.json>",
	Short: "Synthesize every line of a script",
	Args:  cobra.ExactArgs(1),
	RunE:  runScript,
}

func init() {
	runCmd.Flags().BoolVar(&retryFailed, "retry-failed", false, "retry failed lines once after the run")
	rootCmd.AddCommand(runCmd)
}

func runScript(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	app, err := control.NewNarrator(control.ConfigFrom(cfg), nil)
	if err != nil {
		slog.Error("Failed to initialize Narrator", "error", err)
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := app.RunScript(ctx, args[0])
	if err == nil && retryFailed && summary.Failed > 0 {
		slog.Info("Retrying failed lines", "count", summary.Failed)
		summary, err = app.RetryFailed(ctx)
	}

	printBoard(app)
	_, _ = fmt.Fprintf(os.Stdout, "\nsucceeded=%d failed=%d skipped=%d total=%d output=%s\n",
		summary.Succeeded, summary.Failed, summary.Skipped, summary.Total, cfg.Batch.OutputDir)

	if err != nil {
		slog.Error("Run stopped", "error", err)
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d lines failed", summary.Failed)
	}
	return nil
}

func printBoard(app *control.Narrator) {
	board := app.Orchestrator().Snapshot()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "INDEX\tTIMESTAMP\tSTATE\tRETRY AT\tMESSAGE")
	for _, item := range board.Items {
		retryAt := "-"
		if item.Status.State == domain.ItemFailed && !item.Status.RetryAt.IsZero() {
			retryAt = item.Status.RetryAt.Format(time.TimeOnly)
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			item.Index, item.Line.Timestamp, item.Status.State, retryAt, item.Status.Message)
	}
	_ = w.Flush()
}
