package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lballaty/myragdb/internal/source"
)

func newDiscoverCmd() *cobra.Command {
	var maxDepth int

	cmd := &cobra.Command{
		Use:   "discover <root>",
		Short: "Find version-controlled repositories under a directory",
		Long: `Walk the given directory for repositories and report which ones
are already registered as sources.

Example:
  myragdb discover ~/code --max-depth 3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := openService(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := svc.Discover(args[0], maxDepth)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if report.TotalFound == 0 {
				fmt.Fprintln(out, "No repositories found.")
				return nil
			}

			for _, item := range report.Items {
				marker := " "
				if item.AlreadyIndexed {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %s\t%s\n", marker, item.Source.Name, item.Source.Path)
			}
			fmt.Fprintf(out, "\n%d found, %d new, %d already registered (*)\n",
				report.TotalFound, report.New, report.AlreadyIndexed)
			if report.New > 0 {
				fmt.Fprintln(out, "Register new repositories with 'myragdb sources add <path>'.")
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&maxDepth, "max-depth", source.DefaultDiscoveryDepth,
		"How many directory levels to descend")

	return cmd
}
