package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lballaty/myragdb/configs"
	ragerr "github.com/lballaty/myragdb/internal/errors"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter myragdb.yaml to the config directory",
		Long: `Write an annotated configuration file to the directory given by
--config (the current directory by default). Existing files are not
overwritten unless --force is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(configDir, "myragdb.yaml")

			if _, err := os.Stat(path); err == nil && !force {
				return ragerr.New(ragerr.ErrCodeInvalidPath,
					fmt.Sprintf("%s already exists", path), nil).
					WithSuggestion("pass --force to overwrite it")
			}

			if err := os.MkdirAll(configDir, 0o755); err != nil {
				return ragerr.New(ragerr.ErrCodeInvalidPath,
					fmt.Sprintf("cannot create %s", configDir), err)
			}
			if err := os.WriteFile(path, []byte(configs.ConfigTemplate), 0o644); err != nil {
				return ragerr.New(ragerr.ErrCodeInvalidPath,
					fmt.Sprintf("cannot write %s", path), err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			fmt.Fprintln(cmd.OutOrStdout(), "Declare sources in it, or register them with 'myragdb sources add'.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}
