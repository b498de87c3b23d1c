package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/amishk599/jobflow/internal/model"
	"github.com/amishk599/jobflow/internal/tui"
)

var jobsFlags struct {
	source string
	limit  int
	offset int
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Query stored listings",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored listings, newest first",
	RunE:  runJobsList,
}

var jobsCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Count stored listings per source",
	RunE:  runJobsCount,
}

func init() {
	jobsListCmd.Flags().StringVar(&jobsFlags.source, "source", "", "only list this source")
	jobsListCmd.Flags().IntVar(&jobsFlags.limit, "limit", 50, "maximum rows")
	jobsListCmd.Flags().IntVar(&jobsFlags.offset, "offset", 0, "rows to skip")
	jobsCmd.AddCommand(jobsListCmd, jobsCountCmd)
	rootCmd.AddCommand(jobsCmd)
}

// openQueryStore opens the configured store with logs discarded so the
// command output stays clean.
func openQueryStore(ctx context.Context) (recordStore, error) {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return openStore(ctx, cfg.Store, newLogger(io.Discard, debug))
}

func runJobsList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if jobsFlags.source != "" && !model.Source(jobsFlags.source).Valid() {
		return fmt.Errorf("unknown source %q", jobsFlags.source)
	}
	st, err := openQueryStore(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer st.Close()

	records, err := st.ListRecords(ctx, model.RecordFilter{
		Source: model.Source(jobsFlags.source),
		Limit:  jobsFlags.limit,
		Offset: jobsFlags.offset,
	})
	if err != nil {
		return fmt.Errorf("listing records: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("no stored listings")
		return nil
	}
	fmt.Println(tui.ListingTable(records))
	return nil
}

func runJobsCount(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	st, err := openQueryStore(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer st.Close()

	counts, err := st.CountBySource(ctx)
	if err != nil {
		return fmt.Errorf("counting records: %w", err)
	}
	printCounts(os.Stdout, counts)
	return nil
}

func printCounts(w io.Writer, counts map[model.Source]int) {
	sources := make([]string, 0, len(counts))
	total := 0
	for s, n := range counts {
		sources = append(sources, string(s))
		total += n
	}
	sort.Strings(sources)

	fmt.Fprintf(w, "%-25s %s\n", "Source", "Listings")
	fmt.Fprintln(w, strings.Repeat("─", 35))
	for _, s := range sources {
		fmt.Fprintf(w, "%-25s %d\n", s, counts[model.Source(s)])
	}
	fmt.Fprintf(w, "\nTotal: %d listings\n", total)
}
