package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"simgateway/internal/job"
	"simgateway/internal/lifecycle"
	"simgateway/internal/scheduler"
	"simgateway/internal/source"
	"simgateway/internal/staging"
)

type actionCmd struct {
	action job.Action
	short  string
	invoke func(m *lifecycle.Manager, ctx context.Context, j *job.Job) (*lifecycle.Outcome, error)
}

var (
	actionSetup = actionCmd{job.ActionSetup, "Stage the job's files and run its SETUP script",
		(*lifecycle.Manager).Setup}
	actionRun = actionCmd{job.ActionRun, "Stage the job and submit it with its RUN script",
		(*lifecycle.Manager).Run}
	actionProgress = actionCmd{job.ActionProgress, "Run the job's PROGRESS script",
		(*lifecycle.Manager).Progress}
	actionCancel = actionCmd{job.ActionCancel, "Run the job's CANCEL script",
		(*lifecycle.Manager).Cancel}
	actionData = actionCmd{job.ActionData, "Run the job's DATA script",
		(*lifecycle.Manager).Data}
)

func newActionCmd(opts *options, a actionCmd) *cobra.Command {
	return &cobra.Command{
		Use:   fmt.Sprintf("%s [job-id]", a.name()),
		Short: a.short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withManager(cmd, args, func(ctx context.Context, m *lifecycle.Manager, j *job.Job) (any, error) {
				return a.invoke(m, ctx, j)
			})
		},
	}
}

func (a actionCmd) name() string {
	return strings.ToLower(a.action.String())
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status [job-id]",
		Short: "Ask the scheduler for the job's state and update it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withManager(cmd, args, func(ctx context.Context, m *lifecycle.Manager, j *job.Job) (any, error) {
				return m.RefreshStatus(ctx, j)
			})
		},
	}
}

// withManager resolves the job, runs fn with a Manager bound to the
// workspace and prints its result as JSON.
func (o *options) withManager(cmd *cobra.Command, args []string,
	fn func(ctx context.Context, m *lifecycle.Manager, j *job.Job) (any, error)) (err error) {
	ctx := commandContext(cmd)

	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	ws, err := o.openWorkspace(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, ws.close(ctx))
	}()

	j, err := ws.resolve(ctx, args)
	if err != nil {
		return err
	}

	dialer, err := o.newDialer(cfg.Remote)
	if err != nil {
		return err
	}
	patterns, err := scheduler.ParsePatterns(cfg.Remote.BackendPatterns)
	if err != nil {
		return err
	}
	m := lifecycle.NewManager(cfg.Remote, lifecycle.Deps{
		Dialer:     dialer,
		Repository: ws.repo,
		Pipeline:   staging.NewPipeline(source.NewResolver(cfg.Storage), cfg.Service.ScratchDir),
		Patterns:   patterns,
	})

	result, err := fn(ctx, m, j)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}
