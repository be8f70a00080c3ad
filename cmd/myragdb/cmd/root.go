// Package cmd provides the CLI commands for myragdb.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lballaty/myragdb/internal/config"
	ragerr "github.com/lballaty/myragdb/internal/errors"
	"github.com/lballaty/myragdb/internal/logging"
	"github.com/lballaty/myragdb/internal/profiling"
	"github.com/lballaty/myragdb/internal/service"
	"github.com/lballaty/myragdb/pkg/version"
)

var (
	configDir  string
	debugMode  bool
	cpuProfile string
	memProfile string

	profileSession *profiling.Session
)

// NewRootCmd creates the root command for the myragdb CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "myragdb",
		Short: "Local hybrid search over code and documentation",
		Long: `myragdb indexes repositories and directories into a keyword
index and a vector index, and answers queries with rank-fused hybrid
search. Everything runs locally.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cpuProfile == "" && memProfile == "" {
				return nil
			}
			s, err := profiling.Start(cpuProfile, memProfile)
			if err != nil {
				return err
			}
			profileSession = s
			return nil
		},
	}
	cmd.SetVersionTemplate(version.String() + "\n")

	cmd.PersistentFlags().StringVarP(&configDir, "config", "c", ".",
		"Directory containing myragdb.yaml")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false,
		"Enable debug logging")
	cmd.PersistentFlags().StringVar(&cpuProfile, "cpuprofile", "",
		"Write a CPU profile to this file")
	cmd.PersistentFlags().StringVar(&memProfile, "memprofile", "",
		"Write a heap profile to this file on exit")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newSourcesCmd())
	cmd.AddCommand(newDiscoverCmd())
	cmd.AddCommand(newSweepCmd())

	return cmd
}

// Execute runs the root command, printing structured errors to stderr.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	err := root.ExecuteContext(ctx)

	if profileSession != nil {
		if perr := profileSession.Stop(); perr != nil {
			fmt.Fprintln(os.Stderr, perr)
		}
	}

	if err != nil {
		fmt.Fprint(os.Stderr, ragerr.FormatForCLI(err))
		return err
	}
	return nil
}

// openService loads configuration, sets up file logging, and starts
// the service. CLI output stays clean; logs go to the data directory.
func openService(ctx context.Context) (*service.Service, func(), error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, nil, ragerr.New(ragerr.ErrCodeConfigInvalid, err.Error(), err)
	}

	level := cfg.Logging.Level
	if debugMode {
		level = "debug"
	}
	logPath := cfg.Logging.File
	if logPath == "" {
		logPath = filepath.Join(cfg.DataDir, "logs", "service.log")
	}

	logger, logCleanup, err := logging.Setup(logging.Config{
		Level:         level,
		FilePath:      logPath,
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: debugMode,
	})
	if err != nil {
		return nil, nil, err
	}

	svc, err := service.Open(ctx, cfg, logger)
	if err != nil {
		logCleanup()
		return nil, nil, err
	}

	cleanup := func() {
		_ = svc.Close()
		logCleanup()
	}
	return svc, cleanup, nil
}
