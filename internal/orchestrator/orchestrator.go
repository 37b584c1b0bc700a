// Package orchestrator answers status requests from the primary backend when
// it is healthy and from the local pipeline otherwise.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mr1hm/gnss-integrity-monitor/internal/dop"
	"github.com/mr1hm/gnss-integrity-monitor/internal/ingestion"
	"github.com/mr1hm/gnss-integrity-monitor/internal/models"
	"github.com/mr1hm/gnss-integrity-monitor/internal/propagation"
	"github.com/mr1hm/gnss-integrity-monitor/internal/risk"
)

// MaxSeriesSamples caps a local DOP series request.
const MaxSeriesSamples = 2880

type OutcomeKind string

const (
	OutcomePrimary    OutcomeKind = "primary"
	OutcomeFallback   OutcomeKind = "fallback"
	OutcomeBothFailed OutcomeKind = "both_failed"
)

// Outcome is the tagged result of one resolution. Status is always set;
// PrimaryErr and FallbackErr explain the non-primary kinds.
type Outcome struct {
	Kind        OutcomeKind
	Status      models.RiskStatus
	PrimaryErr  error
	FallbackErr error
}

// Primary is the external backend; *PrimaryClient satisfies it.
type Primary interface {
	Status(ctx context.Context, observer models.ObserverPosition, group models.ConstellationGroup, profile *risk.Thresholds) (models.RiskStatus, error)
	Kp(ctx context.Context) (float64, error)
	DOPSeries(ctx context.Context, req SeriesRequest) ([]DOPPoint, error)
}

type WeatherSource interface {
	Snapshot(ctx context.Context) models.SpaceWeatherSnapshot
}

type StatusRecorder interface {
	Add(ctx context.Context, s *models.RiskStatus) error
}

type Broadcaster interface {
	Broadcast(s *models.RiskStatus)
}

// Recorder receives orchestration events, typically to feed metrics.
type Recorder interface {
	Outcome(kind string)
	Status(group string, level string)
}

type nopRecorder struct{}

func (nopRecorder) Outcome(string)        {}
func (nopRecorder) Status(string, string) {}

// Request asks for one status. Thresholds, when set, replace the configured
// profile for the local evaluation and are forwarded to the primary, which is
// trusted to apply them.
type Request struct {
	Observer   models.ObserverPosition
	Group      models.ConstellationGroup
	Thresholds *risk.Thresholds // nil means the configured defaults
}

type SeriesRequest struct {
	Observer models.ObserverPosition
	Group    models.ConstellationGroup
	From     time.Time
	To       time.Time
	Step     time.Duration
	Mask     float64
}

// DOPPoint is one sample of a DOP time series.
type DOPPoint struct {
	Timestamp time.Time `json:"timestamp"`
	models.DOPResult
}

type DOPSeries struct {
	Source  models.Source             `json:"source"`
	Group   models.ConstellationGroup `json:"group"`
	Samples []DOPPoint                `json:"samples"`
}

type Config struct {
	Mask           float64
	Thresholds     risk.Thresholds
	DefaultGroup   models.ConstellationGroup
	DefaultSite    models.ObserverPosition
	PrimaryEnabled bool
}

type Orchestrator struct {
	cfg         Config
	primary     Primary
	breaker     *Breaker
	elements    propagation.ElementSource
	engine      *propagation.Engine
	weather     WeatherSource
	history     StatusRecorder
	broadcaster Broadcaster
	recorder    Recorder
	now         func() time.Time
	logger      *slog.Logger
}

type Option func(*Orchestrator)

func WithHistory(h StatusRecorder) Option { return func(o *Orchestrator) { o.history = h } }

func WithBroadcaster(b Broadcaster) Option { return func(o *Orchestrator) { o.broadcaster = b } }

func WithRecorder(r Recorder) Option { return func(o *Orchestrator) { o.recorder = r } }

func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// New wires an orchestrator. primary and breaker may be nil, which makes
// every request go straight to the local pipeline.
func New(cfg Config, primary Primary, breaker *Breaker, elements propagation.ElementSource, engine *propagation.Engine, weather WeatherSource, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		primary:  primary,
		breaker:  breaker,
		elements: elements,
		engine:   engine,
		weather:  weather,
		recorder: nopRecorder{},
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "orchestrator")
	if o.breaker == nil {
		o.breaker = NewBreaker(3, time.Minute, o.now, nil)
	}
	return o
}

func (o *Orchestrator) primaryEnabled() bool {
	return o.cfg.PrimaryEnabled && o.primary != nil
}

// callPrimary runs fn through the breaker. It returns errBreakerOpen
// without calling fn while the breaker rejects calls. A call that fails
// because ctx ended says nothing about the primary and is not counted.
func (o *Orchestrator) callPrimary(ctx context.Context, fn func() error) error {
	if !o.primaryEnabled() {
		return errPrimaryDisabled
	}
	if !o.breaker.Allow() {
		return errBreakerOpen
	}
	if err := fn(); err != nil {
		if ctx.Err() != nil {
			o.breaker.Release()
			return err
		}
		o.breaker.Failure()
		return err
	}
	o.breaker.Success()
	return nil
}

var (
	errPrimaryDisabled = fmt.Errorf("%w: primary backend disabled", models.ErrSourceUnavailable)
	errBreakerOpen     = fmt.Errorf("%w: primary backend cooling down", models.ErrSourceUnavailable)
)

// Status always returns a status tagged with its source. Requests that
// cannot be evaluated at all come back UNKNOWN with SOURCE_UNAVAILABLE.
func (o *Orchestrator) Status(ctx context.Context, req Request) models.RiskStatus {
	out := o.Resolve(ctx, req)
	status := out.Status
	status.ID = uuid.NewString()

	o.recorder.Outcome(string(out.Kind))
	o.recorder.Status(string(status.Group), string(status.Level))

	switch out.Kind {
	case OutcomePrimary:
		o.logger.Debug("status from primary", "group", status.Group, "level", status.Level)
	case OutcomeFallback:
		o.logger.Info("status from fallback", "group", status.Group, "level", status.Level, "primary_error", out.PrimaryErr)
	case OutcomeBothFailed:
		o.logger.Error("primary and fallback unavailable", "group", status.Group, "primary_error", out.PrimaryErr, "fallback_error", out.FallbackErr)
	}

	if o.history != nil {
		if err := o.history.Add(context.WithoutCancel(ctx), &status); err != nil {
			o.logger.Error("error recording status", "id", status.ID, "error", err)
		}
	}
	if o.broadcaster != nil {
		o.broadcaster.Broadcast(&status)
	}
	return status
}

// Resolve is Status without side effects: no id, history or broadcast.
func (o *Orchestrator) Resolve(ctx context.Context, req Request) Outcome {
	now := o.now().UTC()
	thresholds := o.cfg.Thresholds
	if req.Thresholds != nil {
		thresholds = *req.Thresholds
	}

	if err := req.Observer.Validate(); err != nil {
		return Outcome{Kind: OutcomeBothFailed, Status: unknown(req.Group, now, thresholds, err.Error()), FallbackErr: err}
	}
	group, ok := models.ParseGroup(string(req.Group))
	if !ok {
		err := fmt.Errorf("unknown constellation group %q", req.Group)
		return Outcome{Kind: OutcomeBothFailed, Status: unknown(req.Group, now, thresholds, err.Error()), FallbackErr: err}
	}
	req.Group = group

	var primaryStatus models.RiskStatus
	primaryErr := o.callPrimary(ctx, func() error {
		s, err := o.primary.Status(ctx, req.Observer, req.Group, req.Thresholds)
		primaryStatus = s
		return err
	})
	if primaryErr == nil {
		if primaryStatus.EvaluatedAt.IsZero() {
			primaryStatus.EvaluatedAt = now
		}
		primaryStatus.ExpiresAt = primaryStatus.EvaluatedAt.Add(thresholds.StatusTTL)
		primaryStatus.Source = models.SourcePrimary
		return Outcome{Kind: OutcomePrimary, Status: primaryStatus}
	}

	status, fallbackErr := o.local(ctx, req, thresholds, now)
	if ctx.Err() != nil && fallbackErr == nil {
		fallbackErr = ctx.Err()
	}
	kind := OutcomeFallback
	if fallbackErr != nil {
		kind = OutcomeBothFailed
	}
	return Outcome{Kind: kind, Status: status, PrimaryErr: primaryErr, FallbackErr: fallbackErr}
}

// local evaluates the request on the in-process pipeline after the primary
// has failed. Element sets and space weather are fetched concurrently and
// captured once. The returned error names a missing local source; the status
// is valid either way.
func (o *Orchestrator) local(ctx context.Context, req Request, thresholds risk.Thresholds, now time.Time) (models.RiskStatus, error) {
	var (
		g        errgroup.Group
		elements ingestion.ElementsResult
		weather  models.SpaceWeatherSnapshot
	)
	g.Go(func() error {
		elements = o.elements.Elements(ctx, req.Group)
		return nil
	})
	g.Go(func() error {
		weather = o.weather.Snapshot(ctx)
		return nil
	})
	_ = g.Wait()

	var (
		dopResult models.DOPResult
		localErr  error
	)
	if elements.Err != nil {
		localErr = elements.Err
		dopResult = models.NoGeometry(0, "no element sets for "+string(req.Group))
	} else {
		vis, report := o.engine.VisibleFromSets(elements.Sets, propagation.NewSite(req.Observer), now, o.cfg.Mask)
		dopResult = dop.Compute(vis, req.Observer, now)
		if report.Total > 0 && report.Stale == report.Total {
			localErr = fmt.Errorf("%w: every element set for %s is past the staleness bound", models.ErrStaleData, req.Group)
		}
	}
	if weather.Kp == nil && localErr == nil {
		localErr = fmt.Errorf("%w: kp", models.ErrSourceUnavailable)
	}

	status := risk.Evaluate(risk.Input{
		Group:              req.Group,
		DOP:                dopResult,
		Weather:            weather,
		PrimaryUnavailable: true,
		ElementsFetchedAt:  elements.FetchedAt,
		Now:                now,
	}, thresholds)
	return status, localErr
}

func unknown(group models.ConstellationGroup, now time.Time, t risk.Thresholds, detail string) models.RiskStatus {
	return models.RiskStatus{
		Level:       models.RiskUnknown,
		Reasons:     []models.Reason{models.ReasonSourceUnavailable},
		EvaluatedAt: now,
		ExpiresAt:   now.Add(t.StatusTTL),
		Source:      models.SourceFallback,
		Group:       group,
		Detail:      detail,
	}
}

// Kp asks the primary backend for Kp, subject to the breaker.
func (o *Orchestrator) Kp(ctx context.Context) (float64, error) {
	var kp float64
	err := o.callPrimary(ctx, func() error {
		v, err := o.primary.Kp(ctx)
		kp = v
		return err
	})
	return kp, err
}

// DOPSeries returns a DOP time series from the primary backend, or computes
// it locally when the primary is unavailable. Samples fall on From + i*Step
// strictly before To.
func (o *Orchestrator) DOPSeries(ctx context.Context, req SeriesRequest) (DOPSeries, error) {
	if err := req.Observer.Validate(); err != nil {
		return DOPSeries{}, err
	}
	if req.Step <= 0 || !req.To.After(req.From) {
		return DOPSeries{}, errors.New("series needs a positive step and to after from")
	}
	n := models.SampleCount(req.From, req.To, req.Step)
	if n > MaxSeriesSamples {
		return DOPSeries{}, fmt.Errorf("%d samples exceeds %d", n, MaxSeriesSamples)
	}

	var points []DOPPoint
	err := o.callPrimary(ctx, func() error {
		p, err := o.primary.DOPSeries(ctx, req)
		points = p
		return err
	})
	if err == nil {
		o.recorder.Outcome(string(OutcomePrimary))
		return DOPSeries{Source: models.SourcePrimary, Group: req.Group, Samples: points}, nil
	}

	res := o.elements.Elements(ctx, req.Group)
	if res.Err != nil {
		o.recorder.Outcome(string(OutcomeBothFailed))
		return DOPSeries{}, res.Err
	}
	o.recorder.Outcome(string(OutcomeFallback))

	site := propagation.NewSite(req.Observer)
	points = make([]DOPPoint, 0, n)
	for at := req.From; at.Before(req.To); at = at.Add(req.Step) {
		if err := ctx.Err(); err != nil {
			return DOPSeries{}, err
		}
		vis, _ := o.engine.VisibleFromSets(res.Sets, site, at, req.Mask)
		points = append(points, DOPPoint{Timestamp: at, DOPResult: dop.Compute(vis, req.Observer, at)})
	}
	return DOPSeries{Source: models.SourceFallback, Group: req.Group, Samples: points}, nil
}

// Evaluate runs a status evaluation for the configured default observer.
// It lets the ingestion manager publish a fresh status after every refresh.
func (o *Orchestrator) Evaluate(ctx context.Context) {
	o.Status(ctx, Request{Observer: o.cfg.DefaultSite, Group: o.cfg.DefaultGroup})
}

func (o *Orchestrator) BreakerState() BreakerState {
	return o.breaker.State()
}
