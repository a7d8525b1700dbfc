// Package cli implements simctl, a command-line client that drives the job
// lifecycle directly against the compute host without the HTTP service.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"simgateway/internal/config"
	"simgateway/internal/remote"
)

// DialerFactory builds the remote transport from configuration.
type DialerFactory func(cfg config.RemoteConfig) (remote.Dialer, error)

type options struct {
	configPath string
	dbPath     string
	filePath   string
	verbose    bool

	newDialer DialerFactory
}

// Execute runs the root command against os.Args.
func Execute() error {
	return NewRootCmd(remote.NewDialer).Execute()
}

// NewRootCmd builds the simctl command tree.
func NewRootCmd(newDialer DialerFactory) *cobra.Command {
	opts := &options{newDialer: newDialer}

	rootCmd := &cobra.Command{
		Use:           "simctl",
		Short:         "Simulation job lifecycle client",
		Long:          "Stage, submit and track simulation jobs on a remote compute host.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if opts.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "",
		"Path to a config file (default $GATEWAY_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&opts.dbPath, "db", "",
		"SQLite job store (default service.database_path)")
	rootCmd.PersistentFlags().StringVarP(&opts.filePath, "file", "f", "",
		"Operate on the job in this YAML file instead of a store")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false,
		"Log progress to stderr")

	rootCmd.AddCommand(newActionCmd(opts, actionSetup))
	rootCmd.AddCommand(newActionCmd(opts, actionRun))
	rootCmd.AddCommand(newActionCmd(opts, actionProgress))
	rootCmd.AddCommand(newActionCmd(opts, actionCancel))
	rootCmd.AddCommand(newActionCmd(opts, actionData))
	rootCmd.AddCommand(newStatusCmd(opts))
	rootCmd.AddCommand(newImportCmd(opts))
	rootCmd.AddCommand(newListCmd(opts))
	rootCmd.AddCommand(newWorkdirCmd(opts))

	return rootCmd
}

func (o *options) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.dbPath == "" {
		o.dbPath = cfg.Service.DatabasePath
	}
	return cfg, nil
}

// errNoStore is returned when a command needs jobs but none can be found.
var errNoStore = errors.New("no job store: pass --db, --file or set service.database_path")

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

