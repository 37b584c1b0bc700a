package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mr1hm/gnss-integrity-monitor/internal/models"
	"github.com/mr1hm/gnss-integrity-monitor/internal/orchestrator"
)

func newStatusCmd(opts *options) *cobra.Command {
	var (
		site   siteFlags
		local  bool
		failOn string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the current risk status as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var threshold models.RiskLevel
			if failOn != "" {
				l, err := parseLevel("fail-on", failOn)
				if err != nil {
					return err
				}
				threshold = l
			}
			observer, group, err := site.resolve(cmd, opts.cfg)
			if err != nil {
				return err
			}

			st := buildStack(opts.cfg, local).orch.Status(cmd.Context(), orchestrator.Request{
				Observer: observer,
				Group:    group,
			})
			if err := writeJSON(cmd.OutOrStdout(), st); err != nil {
				return err
			}
			if threshold != "" && st.Level.Worse(threshold) == st.Level {
				return fmt.Errorf("status %s is at or above %s", st.Level, threshold)
			}
			return nil
		},
	}

	site.register(cmd)
	cmd.Flags().BoolVar(&local, "local", false, "Skip the primary backend and evaluate in-process")
	cmd.Flags().StringVar(&failOn, "fail-on", "", "Exit non-zero when the level is at or above this one")
	return cmd
}
