package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"simgateway/internal/job"
	"simgateway/internal/staging"
)

func newImportCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "import <job.yaml>",
		Short: "Add a job document to the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			if _, err := opts.loadConfig(); err != nil {
				return err
			}
			if opts.filePath != "" {
				return fmt.Errorf("import writes to a store; --file cannot be used")
			}

			j, err := readJobFile(args[0])
			if err != nil {
				return err
			}
			if j.CreationDatetime == nil {
				now := time.Now().UTC()
				j.CreationDatetime = &now
			}

			ws, err := opts.openWorkspace(ctx)
			if err != nil {
				return err
			}
			defer ws.close(ctx)

			created, err := ws.repo.Create(ctx, j)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), created)
		},
	}
}

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			if _, err := opts.loadConfig(); err != nil {
				return err
			}
			ws, err := opts.openWorkspace(ctx)
			if err != nil {
				return err
			}
			defer ws.close(ctx)

			jobs, err := ws.repo.List(ctx)
			if err != nil {
				return err
			}
			if jobs == nil {
				jobs = []*job.Job{}
			}
			return printJSON(cmd.OutOrStdout(), jobs)
		},
	}
}

func newWorkdirCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "workdir [job-id]",
		Short: "Print the job's working directory on the compute host",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ws, err := opts.openWorkspace(ctx)
			if err != nil {
				return err
			}
			defer ws.close(ctx)

			j, err := ws.resolve(ctx, args)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), staging.WorkingDirectory(cfg.Remote.SimulationRoot, j.CaseLabel(), j.ID))
			return err
		},
	}
}
