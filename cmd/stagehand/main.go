// Package main is the entry point for the Stagehand CLI
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var verbose bool

func main() {
	rootCmd := &cobra.Command{
		Use:   "stagehand",
		Short: "Drive feature work through a multi-role review and development pipeline",
		Long: `Stagehand tracks feature tasks through stakeholder review (market,
architecture, UX, security), development, code review, and QA. It plans
dependency-aware execution order, checkpoints task state for safe batch
operations, and runs a durable job queue for unattended processing.`,
		Version: "0.1.0",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(
		initCmd(),
		featureCmd(),
		taskCmd(),
		reviewCmd(),
		moveCmd(),
		progressCmd(),
		planCmd(),
		checkpointCmd(),
		rollbackCmd(),
		queueCmd(),
		runCmd(),
		statusCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
