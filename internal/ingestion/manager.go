package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mr1hm/gnss-integrity-monitor/internal/config"
	"github.com/mr1hm/gnss-integrity-monitor/internal/models"
	"github.com/mr1hm/gnss-integrity-monitor/internal/worker"
)

// ElementRefresher is satisfied by *ElementStore.
type ElementRefresher interface {
	Refresh(ctx context.Context, group models.ConstellationGroup) ElementsResult
}

// WeatherRefresher is satisfied by *WeatherFeed.
type WeatherRefresher interface {
	Refresh(ctx context.Context)
}

// Evaluator runs after every completed refresh, typically to re-evaluate the
// default observer and publish the result.
type Evaluator interface {
	Evaluate(ctx context.Context)
}

// SnapshotSource is satisfied by *WeatherFeed.
type SnapshotSource interface {
	Snapshot(ctx context.Context) models.SpaceWeatherSnapshot
}

// WeatherArchive stores space-weather snapshots, e.g. the sqlite repository.
type WeatherArchive interface {
	AddSnapshot(ctx context.Context, s *models.SpaceWeatherSnapshot) error
}

type ManagerOption func(*Manager)

// WithWeatherArchive records a snapshot after every weather refresh.
func WithWeatherArchive(source SnapshotSource, archive WeatherArchive) ManagerOption {
	return func(m *Manager) {
		m.snapshots = source
		m.archive = archive
	}
}

type elementsJob struct {
	group models.ConstellationGroup
}

type weatherJob struct{}

// Manager keeps the caches warm: tickers submit refresh jobs to a worker
// pool so request paths rarely pay for an upstream fetch.
type Manager struct {
	cfg       *config.Config
	elements  ElementRefresher
	weather   WeatherRefresher
	evaluator Evaluator
	snapshots SnapshotSource
	archive   WeatherArchive
	groups    []models.ConstellationGroup
	pool      *worker.WorkerPool
	logger    *slog.Logger
	wg        sync.WaitGroup
}

func NewManager(cfg *config.Config, elements ElementRefresher, weather WeatherRefresher, evaluator Evaluator, opts ...ManagerOption) (*Manager, error) {
	groups := make([]models.ConstellationGroup, 0, len(cfg.Sources.Groups))
	for _, name := range cfg.Sources.Groups {
		g, ok := models.ParseGroup(name)
		if !ok {
			return nil, fmt.Errorf("unknown constellation group %q", name)
		}
		groups = append(groups, g)
	}
	m := &Manager{
		cfg:       cfg,
		elements:  elements,
		weather:   weather,
		evaluator: evaluator,
		groups:    groups,
		logger:    slog.Default().With("component", "ingestion"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) Start(ctx context.Context) {
	m.pool = worker.NewWorkerPool("refresh", m.cfg.Worker.Count, m.cfg.Worker.BufferSize, m.process)
	m.pool.Start(ctx)

	if !m.cfg.Sources.PollingEnabled {
		m.logger.Info("polling disabled")
		return
	}

	m.wg.Add(2)
	go m.runPoller(ctx, "elements", m.cfg.Sources.ElementsPollInterval, m.pollElements)
	go m.runPoller(ctx, "weather", m.cfg.Sources.WeatherPollInterval, m.pollWeather)
}

func (m *Manager) process(ctx context.Context, job worker.Job) error {
	switch j := job.(type) {
	case elementsJob:
		res := m.elements.Refresh(ctx, j.group)
		if res.Err != nil {
			m.logger.Error("element refresh failed", "group", j.group, "error", res.Err)
			return res.Err
		}
		m.logger.Info("elements refreshed", "group", j.group, "count", len(res.Sets), "stale", res.Stale)
	case weatherJob:
		m.weather.Refresh(ctx)
		m.logger.Debug("space weather refreshed")
		m.archiveSnapshot(ctx)
	default:
		return fmt.Errorf("unexpected job type %T", job)
	}

	if m.evaluator != nil {
		m.evaluator.Evaluate(ctx)
	}
	return nil
}

func (m *Manager) archiveSnapshot(ctx context.Context) {
	if m.snapshots == nil || m.archive == nil {
		return
	}
	snap := m.snapshots.Snapshot(ctx)
	if snap.Empty() {
		return
	}
	if err := m.archive.AddSnapshot(context.WithoutCancel(ctx), &snap); err != nil {
		m.logger.Error("error archiving space weather snapshot", "error", err)
	}
}

func (m *Manager) runPoller(ctx context.Context, source string, interval time.Duration, poll func(context.Context)) {
	defer m.wg.Done()
	m.logger.Info("starting poller", "source", source, "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial poll
	poll(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("poller shutting down", "source", source)
			return
		case <-ticker.C:
			poll(ctx)
		}
	}
}

func (m *Manager) pollElements(ctx context.Context) {
	for _, g := range m.groups {
		if err := m.pool.Submit(ctx, elementsJob{group: g}); err != nil {
			m.logger.Debug("element refresh not queued", "group", g, "error", err)
			return
		}
	}
}

func (m *Manager) pollWeather(ctx context.Context) {
	if err := m.pool.Submit(ctx, weatherJob{}); err != nil {
		m.logger.Debug("weather refresh not queued", "error", err)
	}
}

// RefreshAll queues one refresh of every source outside the poll schedule.
func (m *Manager) RefreshAll(ctx context.Context) {
	m.pollElements(ctx)
	m.pollWeather(ctx)
}

// Stop waits for the pollers to exit and then drains the pool. Cancel the
// context passed to Start first.
func (m *Manager) Stop() {
	m.wg.Wait()
	if m.pool != nil {
		m.pool.Stop()
	}
	m.logger.Info("ingestion manager stopped")
}
