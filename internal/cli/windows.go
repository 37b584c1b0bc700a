package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mr1hm/gnss-integrity-monitor/internal/models"
	"github.com/mr1hm/gnss-integrity-monitor/internal/planning"
)

type windowsOutput struct {
	Group   models.ConstellationGroup `json:"group"`
	Windows []models.PlanningWindow   `json:"windows"`
	Best    *models.PlanningWindow    `json:"best,omitempty"`
	Worst   *models.PlanningWindow    `json:"worst,omitempty"`
}

func newWindowsCmd(opts *options) *cobra.Command {
	var (
		site    siteFlags
		local   bool
		horizon time.Duration
		step    time.Duration
		mask    float64
	)

	cmd := &cobra.Command{
		Use:   "windows",
		Short: "Classify the coming hours into planning windows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if horizon <= 0 {
				return fmt.Errorf("--horizon must be positive")
			}
			if step <= 0 {
				step = opts.cfg.Engine.PlanningStep
			}
			if !cmd.Flags().Changed("mask") {
				mask = opts.cfg.Engine.ElevationMask
			}
			observer, group, err := site.resolve(cmd, opts.cfg)
			if err != nil {
				return err
			}

			from := time.Now().UTC().Truncate(time.Minute)
			windows, err := buildStack(opts.cfg, local).finder.FindWindows(cmd.Context(), planning.Request{
				Group:      group,
				Observer:   observer,
				From:       from,
				To:         from.Add(horizon),
				Step:       step,
				Mask:       mask,
				Thresholds: thresholdsFrom(opts.cfg),
			})
			if err != nil {
				return err
			}

			out := windowsOutput{Group: group, Windows: windows}
			if best, ok := planning.Best(windows); ok {
				out.Best = &best
			}
			if worst, ok := planning.Worst(windows); ok {
				out.Worst = &worst
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}

	site.register(cmd)
	cmd.Flags().BoolVar(&local, "local", false, "Skip the primary backend for Kp")
	cmd.Flags().DurationVar(&horizon, "horizon", 24*time.Hour, "How far ahead to plan")
	cmd.Flags().DurationVar(&step, "step", 0, "Sample spacing (default from PLANNING_STEP)")
	cmd.Flags().Float64Var(&mask, "mask", 0, "Elevation mask in degrees (default from ELEVATION_MASK_DEG)")
	return cmd
}
