package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mr1hm/gnss-integrity-monitor/internal/cache"
	"github.com/mr1hm/gnss-integrity-monitor/internal/models"
)

const (
	DefaultSWPCURL     = "https://services.swpc.noaa.gov"
	DefaultWeatherTTL  = 15 * time.Minute
	DefaultAlertWindow = 24 * time.Hour

	pathKp           = "/products/noaa-planetary-k-index.json"
	pathAlerts       = "/products/alerts.json"
	pathSolarWind    = "/products/solar-wind/plasma-5-minute.json"
	pathMagnetometer = "/json/goes/primary/magnetometers-6-hour.json"

	sourceSWPC = "swpc"
)

var swpcTimeLayouts = []string{
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
}

func parseSWPCTime(s string) (time.Time, error) {
	for _, layout := range swpcTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable time %q", s)
}

// swpcRows normalises the two shapes SWPC products come in: an array of
// arrays whose first row is a header, or an array of objects.
func swpcRows(raw []any) ([]map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if header, ok := raw[0].([]any); ok {
		cols := make([]string, len(header))
		for i, h := range header {
			name, ok := h.(string)
			if !ok {
				return nil, fmt.Errorf("%w: non-string header column %d", models.ErrMalformedResponse, i)
			}
			cols[i] = name
		}
		rows := make([]map[string]any, 0, len(raw)-1)
		for i, r := range raw[1:] {
			vals, ok := r.([]any)
			if !ok || len(vals) != len(cols) {
				return nil, fmt.Errorf("%w: row %d does not match header", models.ErrMalformedResponse, i+1)
			}
			row := make(map[string]any, len(cols))
			for j, c := range cols {
				row[c] = vals[j]
			}
			rows = append(rows, row)
		}
		return rows, nil
	}

	rows := make([]map[string]any, 0, len(raw))
	for i, r := range raw {
		obj, ok := r.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: element %d is neither row nor object", models.ErrMalformedResponse, i)
		}
		rows = append(rows, obj)
	}
	return rows, nil
}

func numberField(row map[string]any, key string) (float64, bool) {
	switch v := row[key].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

func timeField(row map[string]any, key string) (time.Time, bool) {
	s, ok := row[key].(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := parseSWPCTime(s)
	return t, err == nil
}

// KpReading is the latest planetary K-index observation.
type KpReading struct {
	Value      float64
	ObservedAt time.Time
}

func parseKp(raw []any) (KpReading, error) {
	rows, err := swpcRows(raw)
	if err != nil {
		return KpReading{}, err
	}
	for i := len(rows) - 1; i >= 0; i-- {
		kp, ok := numberField(rows[i], "Kp")
		if !ok {
			kp, ok = numberField(rows[i], "kp_index")
		}
		if !ok {
			continue
		}
		if kp < 0 || kp > 9 {
			return KpReading{}, fmt.Errorf("%w: Kp %v outside 0-9", models.ErrMalformedResponse, kp)
		}
		observed, ok := timeField(rows[i], "time_tag")
		if !ok {
			continue
		}
		return KpReading{Value: kp, ObservedAt: observed}, nil
	}
	return KpReading{}, fmt.Errorf("%w: no Kp rows", models.ErrMalformedResponse)
}

type swpcAlert struct {
	ProductID     string `json:"product_id"`
	IssueDatetime string `json:"issue_datetime"`
	Message       string `json:"message"`
}

var (
	noaaScaleRe = regexp.MustCompile(`NOAA Scale:\s*([GSR])([1-5])`)
	categoryRe  = regexp.MustCompile(`Category\s+([GSR])([1-5])`)
	kIndexRe    = regexp.MustCompile(`K-index of\s+([5-9])`)
)

// classifyAlert derives the NOAA scale and level from an alert message.
// Cancellations and messages that name no scale get level 0.
func classifyAlert(msg string) (models.AlertScale, int) {
	if strings.Contains(strings.ToUpper(msg), "CANCEL") {
		return "", 0
	}
	for _, re := range []*regexp.Regexp{noaaScaleRe, categoryRe} {
		if m := re.FindStringSubmatch(msg); m != nil {
			level, _ := strconv.Atoi(m[2])
			return models.AlertScale(m[1]), level
		}
	}
	if m := kIndexRe.FindStringSubmatch(msg); m != nil {
		kp, _ := strconv.Atoi(m[1])
		// Kp 5 is G1 through Kp 9 as G5.
		return models.ScaleGeomagnetic, kp - 4
	}
	return "", 0
}

func parseAlerts(raw []swpcAlert, now time.Time, window time.Duration) ([]models.SpaceWeatherAlert, error) {
	alerts := make([]models.SpaceWeatherAlert, 0)
	for i, a := range raw {
		if a.ProductID == "" || a.Message == "" {
			return nil, fmt.Errorf("%w: alert %d missing product_id or message", models.ErrMalformedResponse, i)
		}
		issued, err := parseSWPCTime(a.IssueDatetime)
		if err != nil {
			return nil, fmt.Errorf("%w: alert %d: %v", models.ErrMalformedResponse, i, err)
		}
		if now.Sub(issued) > window {
			continue
		}
		scale, level := classifyAlert(a.Message)
		alerts = append(alerts, models.SpaceWeatherAlert{
			ProductID: a.ProductID,
			Scale:     scale,
			Level:     level,
			IssuedAt:  issued,
			Message:   a.Message,
		})
	}
	return alerts, nil
}

func parseSolarWind(raw []any) (models.SolarWind, error) {
	rows, err := swpcRows(raw)
	if err != nil {
		return models.SolarWind{}, err
	}
	for i := len(rows) - 1; i >= 0; i-- {
		speed, okS := numberField(rows[i], "speed")
		density, okD := numberField(rows[i], "density")
		ts, okT := timeField(rows[i], "time_tag")
		if !okS || !okD || !okT {
			continue
		}
		if speed < 0 || density < 0 {
			return models.SolarWind{}, fmt.Errorf("%w: negative plasma values", models.ErrMalformedResponse)
		}
		temp, _ := numberField(rows[i], "temperature")
		return models.SolarWind{Timestamp: ts, Speed: speed, Density: density, Temperature: temp}, nil
	}
	return models.SolarWind{}, fmt.Errorf("%w: no complete plasma rows", models.ErrMalformedResponse)
}

func parseMagnetometer(raw []any) (models.MagnetometerReading, error) {
	rows, err := swpcRows(raw)
	if err != nil {
		return models.MagnetometerReading{}, err
	}
	for i := len(rows) - 1; i >= 0; i-- {
		hp, okH := numberField(rows[i], "Hp")
		ts, okT := timeField(rows[i], "time_tag")
		if !okH || !okT {
			continue
		}
		sat, _ := numberField(rows[i], "satellite")
		return models.MagnetometerReading{Timestamp: ts, Satellite: int(sat), Hp: hp}, nil
	}
	return models.MagnetometerReading{}, fmt.Errorf("%w: no magnetometer samples", models.ErrMalformedResponse)
}

// Reading is one feed accessor's outcome. Err is set only when no value,
// fresh or stale, is available.
type Reading[T any] struct {
	Value     T
	FetchedAt time.Time
	Stale     bool
	Err       error
}

func (r Reading[T]) Available() bool {
	return r.Err == nil
}

// WeatherCaches holds one cache per feed product so each is cached and
// fails independently.
type WeatherCaches struct {
	Kp           *cache.TTL[KpReading]
	Alerts       *cache.TTL[[]models.SpaceWeatherAlert]
	SolarWind    *cache.TTL[models.SolarWind]
	Magnetometer *cache.TTL[models.MagnetometerReading]
}

func NewWeatherCaches(opts ...cache.Option) WeatherCaches {
	return WeatherCaches{
		Kp:           cache.New[KpReading]("kp", opts...),
		Alerts:       cache.New[[]models.SpaceWeatherAlert]("alerts", opts...),
		SolarWind:    cache.New[models.SolarWind]("solar_wind", opts...),
		Magnetometer: cache.New[models.MagnetometerReading]("magnetometer", opts...),
	}
}

type WeatherFeedConfig struct {
	BaseURL     string
	TTL         time.Duration
	Timeout     time.Duration
	AlertWindow time.Duration
	Failures    FailureRecorder
	Now         func() time.Time
}

// WeatherFeed serves NOAA SWPC space-weather products.
type WeatherFeed struct {
	baseURL     string
	ttl         time.Duration
	alertWindow time.Duration
	client      *http.Client
	caches      WeatherCaches
	failures    FailureRecorder
	now         func() time.Time
	logger      *slog.Logger
}

func NewWeatherFeed(cfg WeatherFeedConfig, caches WeatherCaches, logger *slog.Logger) *WeatherFeed {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultSWPCURL
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultWeatherTTL
	}
	if cfg.AlertWindow <= 0 {
		cfg.AlertWindow = DefaultAlertWindow
	}
	if cfg.Failures == nil {
		cfg.Failures = nopRecorder{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if caches.Kp == nil || caches.Alerts == nil || caches.SolarWind == nil || caches.Magnetometer == nil {
		caches = NewWeatherCaches()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WeatherFeed{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		ttl:         cfg.TTL,
		alertWindow: cfg.AlertWindow,
		client:      newHTTPClient(cfg.Timeout),
		caches:      caches,
		failures:    cfg.Failures,
		now:         cfg.Now,
		logger:      logger.With("component", "spaceweather"),
	}
}

func (f *WeatherFeed) fail(product string, err error) {
	f.failures.UpstreamFailure(sourceSWPC)
	f.logger.Error("space weather fetch failed", "product", product, "error", err)
}

func (f *WeatherFeed) fetchTable(ctx context.Context, path string) ([]any, error) {
	var raw []any
	if err := getJSON(ctx, f.client, f.baseURL+path, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (f *WeatherFeed) fetchKp(ctx context.Context) (KpReading, error) {
	raw, err := f.fetchTable(ctx, pathKp)
	if err == nil {
		var kp KpReading
		if kp, err = parseKp(raw); err == nil {
			return kp, nil
		}
	}
	f.fail("kp", err)
	return KpReading{}, err
}

func (f *WeatherFeed) fetchAlerts(ctx context.Context) ([]models.SpaceWeatherAlert, error) {
	var raw []swpcAlert
	err := getJSON(ctx, f.client, f.baseURL+pathAlerts, &raw)
	if err == nil {
		var alerts []models.SpaceWeatherAlert
		if alerts, err = parseAlerts(raw, f.now(), f.alertWindow); err == nil {
			return alerts, nil
		}
	}
	f.fail("alerts", err)
	return nil, err
}

func (f *WeatherFeed) fetchSolarWind(ctx context.Context) (models.SolarWind, error) {
	raw, err := f.fetchTable(ctx, pathSolarWind)
	if err == nil {
		var sw models.SolarWind
		if sw, err = parseSolarWind(raw); err == nil {
			return sw, nil
		}
	}
	f.fail("solar_wind", err)
	return models.SolarWind{}, err
}

func (f *WeatherFeed) fetchMagnetometer(ctx context.Context) (models.MagnetometerReading, error) {
	raw, err := f.fetchTable(ctx, pathMagnetometer)
	if err == nil {
		var m models.MagnetometerReading
		if m, err = parseMagnetometer(raw); err == nil {
			return m, nil
		}
	}
	f.fail("magnetometer", err)
	return models.MagnetometerReading{}, err
}

func toReading[T any](product string, res cache.Result[T], err error) Reading[T] {
	if err != nil {
		return Reading[T]{Err: fmt.Errorf("%w: %s: %w", models.ErrSourceUnavailable, product, err)}
	}
	return Reading[T]{Value: res.Value, FetchedAt: res.FetchedAt, Stale: res.Stale}
}

func (f *WeatherFeed) Kp(ctx context.Context) Reading[KpReading] {
	res, err := f.caches.Kp.GetOrFetch(ctx, "swpc:kp", f.ttl, f.fetchKp)
	return toReading("kp", res, err)
}

func (f *WeatherFeed) Alerts(ctx context.Context) Reading[[]models.SpaceWeatherAlert] {
	res, err := f.caches.Alerts.GetOrFetch(ctx, "swpc:alerts", f.ttl, f.fetchAlerts)
	return toReading("alerts", res, err)
}

func (f *WeatherFeed) SolarWind(ctx context.Context) Reading[models.SolarWind] {
	res, err := f.caches.SolarWind.GetOrFetch(ctx, "swpc:solar-wind", f.ttl, f.fetchSolarWind)
	return toReading("solar_wind", res, err)
}

func (f *WeatherFeed) Magnetometer(ctx context.Context) Reading[models.MagnetometerReading] {
	res, err := f.caches.Magnetometer.GetOrFetch(ctx, "swpc:magnetometer", f.ttl, f.fetchMagnetometer)
	return toReading("magnetometer", res, err)
}

// Refresh forces every product to refetch. Products that fail keep their
// previous values.
func (f *WeatherFeed) Refresh(ctx context.Context) {
	var g errgroup.Group
	g.Go(func() error { _, err := f.caches.Kp.Refresh(ctx, "swpc:kp", f.ttl, f.fetchKp); return err })
	g.Go(func() error { _, err := f.caches.Alerts.Refresh(ctx, "swpc:alerts", f.ttl, f.fetchAlerts); return err })
	g.Go(func() error {
		_, err := f.caches.SolarWind.Refresh(ctx, "swpc:solar-wind", f.ttl, f.fetchSolarWind)
		return err
	})
	g.Go(func() error {
		_, err := f.caches.Magnetometer.Refresh(ctx, "swpc:magnetometer", f.ttl, f.fetchMagnetometer)
		return err
	})
	if err := g.Wait(); err != nil {
		f.logger.Warn("space weather refresh incomplete", "error", err)
	}
}

// Snapshot reads all four products concurrently and assembles them. Missing
// products leave their fields absent rather than failing the snapshot.
func (f *WeatherFeed) Snapshot(ctx context.Context) models.SpaceWeatherSnapshot {
	var (
		g      errgroup.Group
		kp     Reading[KpReading]
		alerts Reading[[]models.SpaceWeatherAlert]
		wind   Reading[models.SolarWind]
		mag    Reading[models.MagnetometerReading]
	)
	g.Go(func() error { kp = f.Kp(ctx); return nil })
	g.Go(func() error { alerts = f.Alerts(ctx); return nil })
	g.Go(func() error { wind = f.SolarWind(ctx); return nil })
	g.Go(func() error { mag = f.Magnetometer(ctx); return nil })
	_ = g.Wait()

	snap := models.SpaceWeatherSnapshot{Timestamp: f.now()}
	note := func(fetched time.Time, stale bool) {
		if snap.FetchedAt.IsZero() || fetched.Before(snap.FetchedAt) {
			snap.FetchedAt = fetched
		}
		snap.Stale = snap.Stale || stale
	}

	if kp.Available() {
		v := kp.Value.Value
		snap.Kp = &v
		snap.KpObservedAt = kp.Value.ObservedAt
		note(kp.FetchedAt, kp.Stale)
	}
	if alerts.Available() {
		snap.Alerts = alerts.Value
		snap.AlertsKnown = true
		note(alerts.FetchedAt, alerts.Stale)
	}
	if wind.Available() {
		w := wind.Value
		snap.SolarWind = &w
		note(wind.FetchedAt, wind.Stale)
	}
	if mag.Available() {
		m := mag.Value
		snap.Magnetometer = &m
		note(mag.FetchedAt, mag.Stale)
	}
	return snap
}
