package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lballaty/myragdb/internal/config"
)

func newSourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage the source catalogue",
	}

	cmd.AddCommand(newSourcesListCmd())
	cmd.AddCommand(newSourcesAddCmd())
	cmd.AddCommand(newSourcesEnableCmd())
	cmd.AddCommand(newSourcesDisableCmd())
	cmd.AddCommand(newSourcesRemoveCmd())

	return cmd
}

func newSourcesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := openService(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			srcs := svc.Sources()
			out := cmd.OutOrStdout()
			if len(srcs) == 0 {
				fmt.Fprintln(out, "No sources configured.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tKIND\tPRIORITY\tENABLED\tPATH")
			for _, src := range srcs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n",
					src.Name, src.Kind, src.EffectivePriority(), src.Enabled, src.Path)
			}
			return w.Flush()
		},
	}
}

func newSourcesAddCmd() *cobra.Command {
	var (
		priority string
		disabled bool
	)

	cmd := &cobra.Command{
		Use:   "add <path>...",
		Short: "Register directories or repositories as sources",
		Long: `Register each path as a source. Paths containing a .git marker
become repository sources, everything else a directory source.

Examples:
  myragdb sources add ~/code/myproject
  myragdb sources add ./docs --priority high`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := openService(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := svc.AddSources(args, config.Priority(priority), !disabled)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, name := range report.Added {
				fmt.Fprintf(out, "added %s\n", name)
			}
			for _, name := range report.Skipped {
				fmt.Fprintf(out, "skipped %s (already registered)\n", name)
			}
			if len(report.Added) > 0 {
				fmt.Fprintln(out, "Run 'myragdb index' to build the new sources.")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&priority, "priority", "p", "", "Ranking priority: high, medium, low")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Register without enabling")
	return cmd
}

func newSourcesEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <source>",
		Short: "Enable a source for indexing and watching",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := openService(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			if err := svc.EnableSource(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enabled %s\n", args[0])
			return nil
		},
	}
}

func newSourcesDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <source>",
		Short: "Disable a source; its indexed documents stay searchable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := openService(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			if err := svc.DisableSource(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "disabled %s\n", args[0])
			return nil
		},
	}
}

func newSourcesRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <source>",
		Short: "Remove a source and purge its indexed documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := openService(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			if err := svc.RemoveSource(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
}
