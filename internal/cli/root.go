// Package cli implements the gnss-status command tree.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mr1hm/gnss-integrity-monitor/internal/config"
	"github.com/mr1hm/gnss-integrity-monitor/internal/ingestion"
	"github.com/mr1hm/gnss-integrity-monitor/internal/logging"
	"github.com/mr1hm/gnss-integrity-monitor/internal/models"
	"github.com/mr1hm/gnss-integrity-monitor/internal/orchestrator"
	"github.com/mr1hm/gnss-integrity-monitor/internal/planning"
	"github.com/mr1hm/gnss-integrity-monitor/internal/propagation"
	"github.com/mr1hm/gnss-integrity-monitor/internal/risk"
)

type options struct {
	logLevel string
	cfg      *config.Config
}

// Execute runs the root command.
func Execute(ctx context.Context) {
	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "gnss-status",
		Short:         "Evaluate GNSS integrity risk for a site",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if opts.logLevel != "" {
				cfg.Logging.Level = opts.logLevel
			}
			// stdout carries JSON
			logging.SetupTo(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
			opts.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Override the configured log level")

	root.AddCommand(newStatusCmd(opts))
	root.AddCommand(newWindowsCmd(opts))
	root.AddCommand(newWatchCmd(opts))
	return root
}

// siteFlags select the observer and group; unset flags fall back to the
// configured site.
type siteFlags struct {
	lat, lon, alt float64
	group         string
}

func (s *siteFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&s.lat, "lat", 0, "Observer latitude in degrees")
	cmd.Flags().Float64Var(&s.lon, "lon", 0, "Observer longitude in degrees")
	cmd.Flags().Float64Var(&s.alt, "alt", 0, "Observer altitude in metres")
	cmd.Flags().StringVar(&s.group, "group", "", "Constellation group (GPS, GALILEO, GLONASS, BEIDOU, SBAS)")
}

func (s *siteFlags) resolve(cmd *cobra.Command, cfg *config.Config) (models.ObserverPosition, models.ConstellationGroup, error) {
	o := models.ObserverPosition{
		Latitude:  cfg.Engine.Latitude,
		Longitude: cfg.Engine.Longitude,
		Altitude:  cfg.Engine.Altitude,
	}
	if cmd.Flags().Changed("lat") {
		o.Latitude = s.lat
	}
	if cmd.Flags().Changed("lon") {
		o.Longitude = s.lon
	}
	if cmd.Flags().Changed("alt") {
		o.Altitude = s.alt
	}

	name := cfg.Engine.DefaultGroup
	if s.group != "" {
		name = s.group
	}
	group, ok := models.ParseGroup(name)
	if !ok {
		return o, "", fmt.Errorf("unknown constellation group %q", name)
	}
	return o, group, nil
}

// stack is the in-process pipeline the one-shot commands evaluate with. It
// has no history or broadcaster.
type stack struct {
	orch   *orchestrator.Orchestrator
	finder *planning.Finder
}

func buildStack(cfg *config.Config, local bool) *stack {
	elements := ingestion.NewElementStore(ingestion.ElementStoreConfig{
		BaseURL: cfg.Sources.CelesTrakURL,
		TTL:     cfg.Sources.ElementsTTL,
		Timeout: cfg.Sources.HTTPTimeout,
	}, nil, nil)
	weather := ingestion.NewWeatherFeed(ingestion.WeatherFeedConfig{
		BaseURL: cfg.Sources.SWPCURL,
		TTL:     cfg.Sources.WeatherTTL,
		Timeout: cfg.Sources.HTTPTimeout,
	}, ingestion.NewWeatherCaches(), nil)
	engine := propagation.NewEngine(propagation.EngineConfig{
		MaxElementAge: cfg.Engine.ElementMaxAge,
	}, elements, propagation.NewSGP4Propagator(), nil)

	group, _ := models.ParseGroup(cfg.Engine.DefaultGroup)
	orch := orchestrator.New(orchestrator.Config{
		Mask:           cfg.Engine.ElevationMask,
		Thresholds:     thresholdsFrom(cfg),
		DefaultGroup:   group,
		PrimaryEnabled: cfg.Primary.Enabled && !local,
	}, orchestrator.NewPrimaryClient(cfg.Primary.URL, cfg.Primary.Timeout),
		orchestrator.NewBreaker(cfg.Primary.FailureThreshold, cfg.Primary.Cooldown, time.Now, nil),
		elements, engine, weather)

	return &stack{
		orch:   orch,
		finder: planning.NewFinder(planning.Config{Workers: cfg.Worker.Count}, elements, engine, weather, orch, nil),
	}
}

func thresholdsFrom(cfg *config.Config) risk.Thresholds {
	return risk.FromConfig(cfg.Thresholds)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseLevel(flag, s string) (models.RiskLevel, error) {
	level, ok := models.ParseRiskLevel(strings.ToUpper(s))
	if !ok {
		return "", fmt.Errorf("--%s: unknown level %q", flag, s)
	}
	return level, nil
}
