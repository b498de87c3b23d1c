package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/amishk599/jobflow/internal/workflow"
)

var workflowsCmd = &cobra.Command{
	Use:   "workflows",
	Short: "List registered workflows",
	Long:  "Builds every workflow graph and prints its steps, edges and validation status.",
	RunE:  runWorkflows,
}

func init() {
	rootCmd.AddCommand(workflowsCmd)
}

func runWorkflows(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Graph construction never touches the network; discard setup logs.
	reg, err := buildRegistry(context.Background(), cfg, newLogger(io.Discard, false))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build workflows: %v\n", err)
		os.Exit(1)
	}

	printWorkflows(os.Stdout, reg)
	if len(reg.Invalid()) > 0 {
		os.Exit(1)
	}
	return nil
}

func printWorkflows(w io.Writer, reg *workflow.Registry) {
	for _, name := range reg.Names() {
		g, err := reg.Graph(name)
		if err != nil {
			fmt.Fprintf(w, "%s  INVALID\n  %v\n\n", name, err)
			continue
		}
		fmt.Fprintf(w, "%s  ok  (entry: %s)\n", name, g.Entry())
		for _, step := range g.Steps() {
			for _, e := range g.Edges(step) {
				label := "always"
				if !e.Fallback() {
					label = "when " + e.Label
				}
				fmt.Fprintf(w, "  %-14s -> %-14s %s\n", step, e.To, label)
			}
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, strings.Repeat("─", 47))
	fmt.Fprintf(w, "Total: %d workflows (%d invalid)\n", len(reg.Names()), len(reg.Invalid()))
}
