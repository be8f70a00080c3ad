package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lballaty/myragdb/internal/coordinator"
	"github.com/lballaty/myragdb/internal/service"
)

func newIndexCmd() *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "index [source...]",
		Short: "Index sources into the keyword and vector indexes",
		Long: `Index the named sources, or every enabled source when none are
named. Incremental by default: files whose checkpoint is current are
skipped.

Examples:
  myragdb index
  myragdb index myproject --full`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := openService(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			results, err := svc.IndexNow(cmd.Context(), args, full)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			failed := 0
			for _, res := range results {
				name := sourceName(svc, res.SourceID)
				fmt.Fprintf(out, "%s: %s  (%d indexed, %d unchanged, %d removed, %d failed, %d chunks, %s)\n",
					name, res.Status,
					res.FilesProcessed, res.FilesUnchanged, res.FilesRemoved,
					res.FilesFailed, res.Chunks, res.Duration.Round(time.Millisecond))
				if res.Status == coordinator.StatusFailed {
					failed++
					if res.Err != nil {
						fmt.Fprintf(out, "  error: %v\n", res.Err)
					}
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d sources failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "Full rebuild: clear each source first")
	return cmd
}

// sourceName maps a source ID back to its catalogue name for display.
func sourceName(svc *service.Service, id string) string {
	for _, src := range svc.Sources() {
		if src.ID == id {
			return src.Name
		}
	}
	return id
}
