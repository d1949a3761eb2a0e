// Package main provides the weave CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/weavehq/weave/cli"
)

var (
	// Global flags
	provider string
	model    string
	dbPath   string
	verbose  bool
)

func opts() cli.Options {
	return cli.Options{
		Provider: provider,
		Model:    model,
		DBPath:   dbPath,
		Verbose:  verbose,
	}
}

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	rootCmd := &cobra.Command{
		Use:   "weave",
		Short: "Agent delegation for your personal knowledge graph",
		Long: `weave runs delegated agent tasks over a personal knowledge graph.

Delegations are tracked in a ledger, executed by a budgeted tool-use loop,
and observable live per session.`,
	}

	rootCmd.PersistentFlags().StringVarP(&provider, "provider", "p", "", "LLM provider (openai, anthropic, deepseek, gemini)")
	rootCmd.PersistentFlags().StringVar(&model, "model", "", "Model override")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show verbose output")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(reapCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(toolsCmd())
	rootCmd.AddCommand(workflowsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var taskContext []string
	var outcome string
	var workflow string

	cmd := &cobra.Command{
		Use:   "run [task]",
		Short: "Create a delegation and stream it to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Run(context.Background(), args[0], taskContext, outcome, workflow, opts())
		},
	}

	cmd.Flags().StringArrayVarP(&taskContext, "context", "c", nil, "Context entry: an entity ID or a free-form note (repeatable)")
	cmd.Flags().StringVarP(&outcome, "outcome", "o", "", "What a successful result looks like")
	cmd.Flags().StringVarP(&workflow, "workflow", "w", "", "Named workflow to run under")

	return cmd
}

func listCmd() *cobra.Command {
	var all bool
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List delegations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.List(context.Background(), all, limit, opts())
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include completed and failed delegations")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum records to show")

	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [session-id]",
		Short: "Show one delegation in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Show(context.Background(), args[0], opts())
		},
	}
}

func reapCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Force-fail stale in-progress delegations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Reap(context.Background(), timeout, opts())
		},
	}

	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "Staleness cutoff (default from settings)")

	return cmd
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [session-id]",
		Short: "Stream a running delegation's events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Watch(context.Background(), args[0], opts())
		},
	}
}

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the registered tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Tools(opts())
		},
	}
}

func workflowsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "workflows",
		Short: "List the registered workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Workflows(opts())
		},
	}
}
