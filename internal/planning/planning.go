// Package planning finds contiguous operating windows over a time horizon.
package planning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mr1hm/gnss-integrity-monitor/internal/dop"
	"github.com/mr1hm/gnss-integrity-monitor/internal/models"
	"github.com/mr1hm/gnss-integrity-monitor/internal/propagation"
	"github.com/mr1hm/gnss-integrity-monitor/internal/risk"
	"github.com/mr1hm/gnss-integrity-monitor/internal/worker"
)

// MaxSamples caps one request: two days at one-minute resolution.
const MaxSamples = 2880

var ErrInvalidRequest = errors.New("invalid planning request")

type WeatherSource interface {
	Snapshot(ctx context.Context) models.SpaceWeatherSnapshot
}

// KpSource supplies Kp when the local feed has none, e.g. the primary
// backend.
type KpSource interface {
	Kp(ctx context.Context) (float64, error)
}

type Request struct {
	Group      models.ConstellationGroup
	Observer   models.ObserverPosition
	From       time.Time
	To         time.Time
	Step       time.Duration
	Mask       float64 // degrees
	Thresholds risk.Thresholds
}

func (r Request) samples() int {
	return models.SampleCount(r.From, r.To, r.Step)
}

func (r Request) validate() error {
	if err := r.Observer.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if r.Step <= 0 {
		return fmt.Errorf("%w: step must be positive", ErrInvalidRequest)
	}
	if !r.To.After(r.From) {
		return fmt.Errorf("%w: to must be after from", ErrInvalidRequest)
	}
	if n := r.samples(); n > MaxSamples {
		return fmt.Errorf("%w: %d samples exceeds %d", ErrInvalidRequest, n, MaxSamples)
	}
	if err := r.Thresholds.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

type Config struct {
	Workers int
}

// Finder samples a horizon, classifies every sample and run-length encodes
// the classifications into windows.
type Finder struct {
	elements propagation.ElementSource
	engine   *propagation.Engine
	weather  WeatherSource
	kp       KpSource
	workers  int
	logger   *slog.Logger
}

// NewFinder wires a finder. kp may be nil.
func NewFinder(cfg Config, elements propagation.ElementSource, engine *propagation.Engine, weather WeatherSource, kp KpSource, logger *slog.Logger) *Finder {
	if cfg.Workers < 1 {
		cfg.Workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Finder{
		elements: elements,
		engine:   engine,
		weather:  weather,
		kp:       kp,
		workers:  cfg.Workers,
		logger:   logger.With("component", "planning"),
	}
}

type sample struct {
	at     time.Time
	end    time.Time
	status models.RiskStatus
}

type sampleJob struct {
	index int
}

// FindWindows classifies [From, To] at Step resolution. Element sets and
// space weather are read once, before the first sample is computed.
func (f *Finder) FindWindows(ctx context.Context, req Request) ([]models.PlanningWindow, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	snap := f.snapshot(ctx, req.Group)
	site := propagation.NewSite(req.Observer)

	n := req.samples()
	samples := make([]sample, n)

	pool := worker.NewWorkerPool("planning", f.workers, f.workers*2, func(ctx context.Context, job worker.Job) error {
		i := job.(sampleJob).index
		at := req.From.Add(time.Duration(i) * req.Step)
		end := at.Add(req.Step)
		if end.After(req.To) {
			end = req.To
		}

		vis, _ := f.engine.VisibleFromSets(snap.sets, site, at, req.Mask)
		status := risk.Evaluate(risk.Input{
			Group:              req.Group,
			DOP:                dop.Compute(vis, req.Observer, at),
			Weather:            snap.weather,
			PrimaryUnavailable: snap.primaryUnavailable,
			ElementsFetchedAt:  snap.elementsFetchedAt,
			Now:                snap.takenAt,
		}, req.Thresholds)
		status.EvaluatedAt = at

		samples[i] = sample{at: at, end: end, status: status}
		return nil
	})

	poolCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	pool.Start(poolCtx)

	for i := 0; i < n; i++ {
		if err := pool.Submit(ctx, sampleJob{index: i}); err != nil {
			cancel()
			pool.Stop()
			return nil, err
		}
	}
	pool.Stop()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	windows := encode(samples)
	f.logger.Debug("planning complete", "group", req.Group, "samples", n, "windows", len(windows))
	return windows, nil
}

type inputs struct {
	sets               []models.OrbitalElementSet
	elementsFetchedAt  time.Time
	weather            models.SpaceWeatherSnapshot
	primaryUnavailable bool
	takenAt            time.Time
}

func (f *Finder) snapshot(ctx context.Context, group models.ConstellationGroup) inputs {
	in := inputs{takenAt: time.Now().UTC()}

	res := f.elements.Elements(ctx, group)
	if res.Err != nil {
		f.logger.Warn("planning without elements", "group", group, "error", res.Err)
	} else {
		in.sets = res.Sets
		in.elementsFetchedAt = res.FetchedAt
	}

	if f.weather != nil {
		in.weather = f.weather.Snapshot(ctx)
	}
	if in.weather.Kp == nil {
		in.primaryUnavailable = true
		if f.kp != nil {
			if kp, err := f.kp.Kp(ctx); err == nil {
				in.weather.Kp = &kp
				in.primaryUnavailable = false
			}
		}
	}
	return in
}

// encode merges consecutive samples of equal level into windows.
func encode(samples []sample) []models.PlanningWindow {
	var out []models.PlanningWindow
	for _, s := range samples {
		if len(out) > 0 && out[len(out)-1].Level == s.status.Level {
			w := &out[len(out)-1]
			w.End = s.end
			w.Samples++
			w.Reasons = mergeReasons(w.Reasons, s.status.Reasons)
			w.WorstPDOP = worse(w.WorstPDOP, s.status.PDOP)
			w.WorstKp = worse(w.WorstKp, s.status.Kp)
			continue
		}
		out = append(out, models.PlanningWindow{
			Start:     s.at,
			End:       s.end,
			Level:     s.status.Level,
			Reasons:   mergeReasons(nil, s.status.Reasons),
			WorstPDOP: worse(nil, s.status.PDOP),
			WorstKp:   worse(nil, s.status.Kp),
			Samples:   1,
		})
	}
	return out
}

func mergeReasons(have, add []models.Reason) []models.Reason {
	for _, r := range add {
		found := false
		for _, h := range have {
			if h == r {
				found = true
				break
			}
		}
		if !found {
			have = append(have, r)
		}
	}
	return have
}

// worse returns the larger value as a fresh pointer; nil means unknown.
func worse(cur, next *float64) *float64 {
	switch {
	case next == nil:
		return cur
	case cur == nil || *next > *cur:
		v := *next
		return &v
	default:
		return cur
	}
}

// Best returns the longest window at the lowest risk level present.
func Best(windows []models.PlanningWindow) (models.PlanningWindow, bool) {
	var (
		best  models.PlanningWindow
		found bool
	)
	for _, w := range windows {
		if !found || w.Level.Worse(best.Level) == best.Level && w.Level != best.Level ||
			w.Level == best.Level && w.Duration() > best.Duration() {
			best, found = w, true
		}
	}
	return best, found
}

// Worst returns the earliest window at the highest risk level present.
func Worst(windows []models.PlanningWindow) (models.PlanningWindow, bool) {
	var (
		worst models.PlanningWindow
		found bool
	)
	for _, w := range windows {
		if !found || w.Level.Worse(worst.Level) == w.Level && w.Level != worst.Level {
			worst, found = w, true
		}
	}
	return worst, found
}
