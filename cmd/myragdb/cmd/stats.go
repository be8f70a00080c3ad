package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index sizes and per-source status",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := openService(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := svc.Stats(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if format == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}

			fmt.Fprintf(out, "Keyword documents: %d\n", stats.KeywordDocuments)
			fmt.Fprintf(out, "Vector chunks:     %d\n", stats.VectorChunks)
			if stats.IsIndexing {
				fmt.Fprintf(out, "Indexing:          yes (%s)\n", strings.Join(stats.ActiveSources, ", "))
			} else {
				fmt.Fprintln(out, "Indexing:          no")
			}
			if !stats.LastIndexTime.IsZero() {
				fmt.Fprintf(out, "Last index run:    %s\n", stats.LastIndexTime.Local().Format("2006-01-02 15:04:05"))
			}

			if len(stats.Sources) == 0 {
				fmt.Fprintln(out, "\nNo sources configured.")
				return nil
			}

			fmt.Fprintln(out)
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SOURCE\tKIND\tENABLED\tFILES\tCHUNKS\tLAST RUN\tSTATUS")
			for _, src := range stats.Sources {
				lastRun := "-"
				if !src.LastIndexedAt.IsZero() {
					lastRun = src.LastIndexedAt.Local().Format("2006-01-02 15:04")
				}
				status := src.LastRunStatus
				if status == "" {
					status = "-"
				}
				if src.Indexing {
					status = "indexing"
				}
				fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%d\t%s\t%s\n",
					src.Name, src.Kind, src.Enabled,
					src.FileCount, src.ChunkCount, lastRun, status)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	return cmd
}
