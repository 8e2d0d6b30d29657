package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/storysync/internal/output"
	"github.com/kimhsiao/storysync/internal/sync/queue"
)

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Upload queued stories now",
	Long: `Probe the story service and, when it is reachable, upload every pending
story in the offline queue in the order it was written.`,
	RunE: runDrain,
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the offline queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued stories",
	RunE:  runQueueList,
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Give failed stories a fresh set of attempts",
	RunE:  runQueueRetry,
}

var queuePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete completed items",
	RunE:  runQueuePurge,
}

var queueRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Delete one queued story and its photo",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueRemove,
}

func init() {
	rootCmd.AddCommand(drainCmd)
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueListCmd, queueRetryCmd, queuePurgeCmd, queueRemoveCmd)

	queueListCmd.Flags().Bool("json", false, "output as JSON")
}

func runDrain(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	p := printer(cmd)
	ctx := cmd.Context()
	if !a.prober.Check(ctx) {
		p.Warning("story service unreachable at %s, nothing uploaded", cfg.Network.ProbeURL)
		return nil
	}

	res, err := a.repo.SyncOfflineQueue(ctx)
	if err != nil {
		return err
	}
	if res.Skipped {
		p.Warning("drain skipped: %s", res.Reason)
		return nil
	}
	if res.Total == 0 {
		p.Info("offline queue is empty")
		return nil
	}
	p.Success("uploaded %d of %d stories", res.Success, res.Total)
	if res.Failed > 0 {
		p.Warning("%d stories failed, see `storysync queue list`", res.Failed)
	}
	return nil
}

func runQueueList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	items, err := a.repo.Queue().List(ctx)
	if err != nil {
		return err
	}
	stats, err := a.repo.Queue().Stats(ctx)
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"items": items,
			"stats": stats,
		})
	}

	p := printer(cmd)
	if len(items) == 0 {
		p.Info("offline queue is empty")
		return nil
	}

	table := output.NewTable(cmd.OutOrStdout(), "ID", "STATUS", "ATTEMPTS", "ENQUEUED", "DESCRIPTION", "LAST ERROR")
	for _, it := range items {
		table.AddRow(
			it.ID,
			p.StatusBadge(string(it.Status)),
			fmt.Sprintf("%d/%d", it.Retries, it.MaxRetries),
			it.EnqueuedAt.Local().Format("2006-01-02 15:04"),
			truncate(it.Payload.Description, 40),
			lastError(it),
		)
	}
	if err := table.Render(); err != nil {
		return err
	}
	p.Info("%d pending, %d failed, %d completed", stats.Pending, stats.Failed, stats.Completed)
	return nil
}

func runQueueRetry(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.repo.Queue().RetryFailed(cmd.Context())
	if err != nil {
		return err
	}
	printer(cmd).Success("%d failed stories will be retried on the next drain", n)
	return nil
}

func runQueuePurge(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.repo.Queue().PurgeCompleted(cmd.Context())
	if err != nil {
		return err
	}
	printer(cmd).Success("removed %d completed items", n)
	return nil
}

func runQueueRemove(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.repo.Queue().Remove(cmd.Context(), args[0]); err != nil {
		return err
	}
	printer(cmd).Success("removed %s", args[0])
	return nil
}

func lastError(it *queue.Item) string {
	if it.Status == queue.StatusCompleted && it.ResultID != "" {
		return "-> " + it.ResultID
	}
	return truncate(it.LastError, 50)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
