package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/stagehand-io/stagehand/internal/events"
	"github.com/stagehand-io/stagehand/internal/policy"
	"github.com/stagehand-io/stagehand/internal/queue"
	"github.com/stagehand-io/stagehand/pkg/types"
)

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Manage the automation job queue",
	}

	var tool string
	var force bool
	add := &cobra.Command{
		Use:   "add <repo> <feature>",
		Short: "Enqueue a feature for unattended processing",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			if !force {
				adm := policy.NewAdmission(e.store, e.cfg.DepthWarning)
				decision, err := adm.Check(args[1])
				if err != nil {
					return err
				}
				if !decision.Allowed {
					return fmt.Errorf("%s (use --force to enqueue anyway)", decision.Reason)
				}
				for _, w := range decision.Warnings {
					fmt.Printf("Warning: %s\n", w)
				}
			}

			if tool == "" {
				tool = e.cfg.CLITool
			}
			q := queue.New(e.store, nil)
			item, err := q.Enqueue(cmd.Context(), args[0], args[1], tool)
			if err != nil {
				return err
			}
			fmt.Printf("Enqueued item %d for feature %s\n", item.ID, item.FeatureKey)
			return nil
		},
	}
	add.Flags().StringVar(&tool, "tool", "", "CLI tool to record on the item")
	add.Flags().BoolVar(&force, "force", false, "bypass the duplicate-enqueue admission check")

	var statusFilter string
	list := &cobra.Command{
		Use:   "list",
		Short: "List queue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			q := queue.New(e.store, nil)
			items, err := q.List(types.QueueItemStatus(statusFilter))
			if err != nil {
				return err
			}
			for _, item := range items {
				line := fmt.Sprintf("%4d  %-10s %-24s retries=%d", item.ID, item.Status, item.FeatureKey, item.RetryCount)
				if item.ErrorMessage != "" {
					line += "  error: " + item.ErrorMessage
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	list.Flags().StringVar(&statusFilter, "status", "", "filter by status (pending, running, completed, failed)")

	retry := &cobra.Command{
		Use:   "retry <id>",
		Short: "Re-enqueue a failed item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			var id int64
			if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
				return fmt.Errorf("invalid item id %q", args[0])
			}
			q := queue.New(e.store, nil)
			if err := q.Reenqueue(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("Item %d is pending again\n", id)
			return nil
		},
	}

	cancel := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a pending item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			var id int64
			if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
				return fmt.Errorf("invalid item id %q", args[0])
			}
			q := queue.New(e.store, nil)
			if err := q.Cancel(id); err != nil {
				return err
			}
			fmt.Printf("Cancelled item %d\n", id)
			return nil
		},
	}

	var days int
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete completed and failed items older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			if days <= 0 {
				days = e.cfg.RetentionDays
			}
			q := queue.New(e.store, nil)
			n, err := q.Prune(days)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d items\n", n)
			return nil
		},
	}
	prune.Flags().IntVar(&days, "days", 0, "retention window in days (defaults to config)")

	cmd.AddCommand(add, list, retry, cancel, prune)
	return cmd
}

func runCmd() *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run queue workers until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			if workers <= 0 {
				workers = e.cfg.Workers
			}

			bus := events.NewBus()
			defer bus.Close()

			// Surface lifecycle events in verbose mode; the subscriber
			// drains until Close shuts its channel.
			sub := bus.Subscribe("cli")
			go func() {
				for ev := range sub {
					logrus.WithFields(logrus.Fields{
						"type":    ev.Type,
						"item":    ev.ItemID,
						"feature": ev.FeatureKey,
					}).Debug("queue event")
				}
			}()

			q := queue.New(e.store, bus)
			runner := queue.NewRunner(q, recordAction(e), workers, e.cfg.PollInterval)

			janitor := queue.NewJanitor(q, e.cfg.PruneSchedule, e.cfg.RetentionDays)
			if err := janitor.Start(); err != nil {
				return fmt.Errorf("starting janitor: %w", err)
			}
			defer janitor.Stop()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runner.Run(ctx)
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "worker count (defaults to config)")
	return cmd
}

// recordAction is the built-in queue action: it verifies the feature
// still exists and records processing metadata. Actual automation (an
// external CLI tool) plugs in here when embedding the engine as a
// library; the engine itself only records metadata about such steps.
func recordAction(e *env) queue.Action {
	return func(ctx context.Context, item *types.QueueItem) error {
		if _, err := e.store.GetFeature(item.FeatureKey); err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"item":    item.ID,
			"feature": item.FeatureKey,
			"tool":    item.CLITool,
		}).Info("processing feature")
		return e.store.SetSetting(
			fmt.Sprintf("last_processed:%s", item.FeatureKey),
			fmt.Sprintf("%d@%d", item.ID, time.Now().Unix()),
		)
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue and feature status",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			q := queue.New(e.store, nil)
			stats, err := q.Stats()
			if err != nil {
				return err
			}
			fmt.Printf("Queue: %d pending, %d running, %d completed, %d failed\n",
				stats.Pending, stats.Running, stats.Completed, stats.Failed)

			features, err := e.store.ListFeatures()
			if err != nil {
				return err
			}
			fmt.Printf("Features: %d\n", len(features))
			return nil
		},
	}
}
