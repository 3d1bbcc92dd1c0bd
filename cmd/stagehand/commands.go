package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stagehand-io/stagehand/internal/checkpoint"
	"github.com/stagehand-io/stagehand/internal/config"
	"github.com/stagehand-io/stagehand/internal/db"
	"github.com/stagehand-io/stagehand/internal/engine"
	"github.com/stagehand-io/stagehand/internal/statusgraph"
	"github.com/stagehand-io/stagehand/internal/workflow"
	"github.com/stagehand-io/stagehand/pkg/types"
)

// env bundles everything a command needs
type env struct {
	cfg    *config.Config
	store  *db.Store
	engine *engine.Engine
}

func (e *env) Close() {
	_ = e.store.Close()
}

// openEnv locates the project, loads config, opens the store, and wires
// the engine with the configured pipeline.
func openEnv() (*env, error) {
	projectDir, err := config.FindProjectDir()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(projectDir)
	if err != nil {
		return nil, err
	}

	store, err := db.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	graph := statusgraph.Default()
	if cfg.PipelineFile != "" {
		graph, err = statusgraph.LoadFile(cfg.PipelineFile)
		if err != nil {
			store.Close()
			return nil, err
		}
	}

	validator := workflow.NewValidator(graph)
	checkpoints := checkpoint.NewManager(store)
	eng := engine.New(store, validator, checkpoints, nil)

	return &env{cfg: cfg, store: store, engine: eng}, nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize Stagehand in the current project",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := os.Getwd()
			if err != nil {
				return err
			}

			stagehandDir := filepath.Join(dir, config.Dir)
			if _, err := os.Stat(stagehandDir); err == nil {
				return fmt.Errorf("already initialized in %s", stagehandDir)
			}
			if err := os.MkdirAll(stagehandDir, 0755); err != nil {
				return fmt.Errorf("creating %s directory: %w", config.Dir, err)
			}

			store, err := db.Open(filepath.Join(stagehandDir, "stagehand.db"))
			if err != nil {
				return fmt.Errorf("creating database: %w", err)
			}
			defer store.Close()

			if err := store.InitSchema(); err != nil {
				return fmt.Errorf("initializing schema: %w", err)
			}

			fmt.Printf("Initialized Stagehand in %s\n", stagehandDir)
			fmt.Println("\nNext steps:")
			fmt.Println("  stagehand feature add my-feature \"My feature\"")
			fmt.Println("  stagehand task add my-feature task-1 \"My first task\"")
			fmt.Println("  stagehand review my-feature task-1 --role market --approve")
			return nil
		},
	}
}

func featureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feature",
		Short: "Manage features",
	}

	var description string
	add := &cobra.Command{
		Use:   "add <key> <title>",
		Short: "Register a new feature",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			f, err := e.store.CreateFeature(args[0], args[1], description)
			if err != nil {
				return err
			}
			fmt.Printf("Created feature %s: %s\n", f.Key, f.Title)
			return nil
		},
	}
	add.Flags().StringVar(&description, "desc", "", "feature description")

	list := &cobra.Command{
		Use:   "list",
		Short: "List features",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			features, err := e.store.ListFeatures()
			if err != nil {
				return err
			}
			for _, f := range features {
				fmt.Printf("%-24s %s\n", f.Key, f.Title)
			}
			return nil
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}

	var depends []string
	var description string
	var order int
	add := &cobra.Command{
		Use:   "add <feature> <task-id> <title>",
		Short: "Add a task to a feature",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			task, err := e.engine.AddTask(args[0], args[1], args[2], description, depends, order)
			if err != nil {
				return err
			}
			fmt.Printf("Added task %s (%s)\n", task.ID, task.Status)
			return nil
		},
	}
	add.Flags().StringSliceVar(&depends, "depends", nil, "prerequisite task ids")
	add.Flags().StringVar(&description, "desc", "", "task description")
	add.Flags().IntVar(&order, "order", 0, "execution order hint (tie-break only)")

	list := &cobra.Command{
		Use:   "list <feature>",
		Short: "List a feature's tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			ts, err := e.engine.GetTaskSet(args[0])
			if err != nil {
				return err
			}
			for _, t := range ts.Tasks {
				deps := ""
				if len(t.Dependencies) > 0 {
					deps = " <- " + strings.Join(t.Dependencies, ", ")
				}
				fmt.Printf("%-16s %-28s %s%s\n", t.ID, t.Status, t.Title, deps)
			}
			return nil
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}

func reviewCmd() *cobra.Command {
	var role, notes string
	var approve, reject bool
	cmd := &cobra.Command{
		Use:   "review <feature> <task-id>",
		Short: "Record a stakeholder review decision",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approve == reject {
				return fmt.Errorf("pass exactly one of --approve or --reject")
			}
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			decision := types.DecisionApprove
			if reject {
				decision = types.DecisionReject
			}
			tr, err := e.engine.ApplyReview(cmd.Context(), args[0], args[1], types.Role(role), decision, notes)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s -> %s\n", args[1], tr.From, tr.To)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "reviewing role (market, architect, ux, security)")
	cmd.Flags().BoolVar(&approve, "approve", false, "approve the current stage")
	cmd.Flags().BoolVar(&reject, "reject", false, "reject the current stage")
	cmd.Flags().StringVar(&notes, "notes", "", "review notes")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func moveCmd() *cobra.Command {
	var from, to, actor, notes string
	cmd := &cobra.Command{
		Use:   "move <feature> <task-id>",
		Short: "Apply a development transition",
		Long: `Apply a development transition. --from is the status you believe the
task is in; a mismatch with the live status is rejected so racing callers
cannot both transition from a stale view.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			tr, err := e.engine.ApplyDevTransition(cmd.Context(), args[0], args[1],
				types.TaskStatus(from), types.TaskStatus(to), types.Role(actor), notes)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s -> %s\n", args[1], tr.From, tr.To)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "believed current status")
	cmd.Flags().StringVar(&to, "to", "", "target status")
	cmd.Flags().StringVar(&actor, "actor", "", "acting role (developer, tech_lead, qa)")
	cmd.Flags().StringVar(&notes, "notes", "", "transition notes")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func progressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress <feature> <task-id>",
		Short: "Show a task's review progress",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			p, err := e.engine.ReviewProgress(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("Completed: %v\n", p.CompletedRoles)
			fmt.Printf("Pending:   %v\n", p.PendingRoles)
			if p.CurrentRole != "" {
				fmt.Printf("Up next:   %s\n", p.CurrentRole)
			}
			return nil
		},
	}
}

func planCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan <feature>",
		Short: "Compute the feature's dependency-aware execution plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			plan, err := e.engine.Plan(args[0])
			if err != nil {
				return err
			}
			if plan.HasCycle {
				fmt.Println("Dependency cycle detected; no order can be recommended.")
			} else {
				fmt.Printf("Order:         %s\n", strings.Join(plan.OptimalOrder, " -> "))
				for i, phase := range plan.ParallelPhases {
					fmt.Printf("Phase %d:       %s\n", i+1, strings.Join(phase, ", "))
				}
				fmt.Printf("Critical path: %s\n", strings.Join(plan.CriticalPath, " <- "))
			}
			for _, w := range plan.Warnings {
				fmt.Printf("Warning: %s\n", w)
			}
			return nil
		},
	}
}

func checkpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Snapshot and restore task statuses",
	}

	save := &cobra.Command{
		Use:   "save <feature> <description>",
		Short: "Snapshot the feature's current task statuses",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			cp, err := e.engine.SaveCheckpoint(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("Saved checkpoint %d (%d tasks)\n", cp.ID, len(cp.Snapshot))
			return nil
		},
	}

	var checkpointID int64
	restore := &cobra.Command{
		Use:   "restore <feature>",
		Short: "Restore task statuses from a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			res, err := e.engine.RestoreCheckpoint(cmd.Context(), args[0], checkpointID)
			if err != nil {
				return err
			}
			fmt.Printf("Restored %d tasks (%d unchanged, %d missing)\n",
				res.RestoredTasks, res.UnchangedTasks, res.SkippedTasks)
			return nil
		},
	}
	restore.Flags().Int64Var(&checkpointID, "id", 0, "checkpoint id")
	_ = restore.MarkFlagRequired("id")

	list := &cobra.Command{
		Use:   "list <feature>",
		Short: "List a feature's checkpoints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			checkpoints, err := e.engine.ListCheckpoints(args[0])
			if err != nil {
				return err
			}
			for _, cp := range checkpoints {
				fmt.Printf("%4d  %d tasks  %s\n", cp.ID, len(cp.Snapshot), cp.Description)
			}
			return nil
		},
	}

	cmd.AddCommand(save, restore, list)
	return cmd
}

func rollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <feature> <task-id>",
		Short: "Undo a task's most recent transition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			popped, err := e.engine.RollbackLastDecision(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("Undid %s -> %s; task is back to %s\n", popped.From, popped.To, popped.From)
			return nil
		},
	}
}
