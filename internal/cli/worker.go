package cli

import (
	"github.com/spf13/cobra"

	"github.com/Paintersrp/thrash/internal/runtime"
	"github.com/Paintersrp/thrash/internal/runtime/process"
	"github.com/Paintersrp/thrash/internal/worker"
	"github.com/Paintersrp/thrash/internal/workload/cgroup"
)

func newWorkerCmd() *cobra.Command {
	var churn bool
	cmd := &cobra.Command{
		Use:    process.WorkerCommand,
		Short:  "Run one worker process (internal)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if churn {
				cgroup.Churn(cmd.Context())
				return nil
			}
			if code := worker.Main(cmd.Context()); code != runtime.ExitSuccess {
				return &exitError{code: code}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&churn, cgroup.ChurnArg[2:], false, "map and unmap memory until terminated")
	return cmd
}
