package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/gnss-integrity-monitor/internal/models"
	"github.com/mr1hm/gnss-integrity-monitor/internal/orchestrator"
	"github.com/mr1hm/gnss-integrity-monitor/internal/planning"
	"github.com/mr1hm/gnss-integrity-monitor/internal/propagation"
	"github.com/mr1hm/gnss-integrity-monitor/internal/repository"
	"github.com/mr1hm/gnss-integrity-monitor/internal/risk"
)

// StatusService is satisfied by *orchestrator.Orchestrator.
type StatusService interface {
	Status(ctx context.Context, req orchestrator.Request) models.RiskStatus
	DOPSeries(ctx context.Context, req orchestrator.SeriesRequest) (orchestrator.DOPSeries, error)
	BreakerState() orchestrator.BreakerState
}

type WindowFinder interface {
	FindWindows(ctx context.Context, req planning.Request) ([]models.PlanningWindow, error)
}

type VisibilityEngine interface {
	Visible(ctx context.Context, group models.ConstellationGroup, observer models.ObserverPosition, at time.Time, maskDeg float64) ([]models.SatelliteVisibility, propagation.VisibilityReport, error)
}

type WeatherSource interface {
	Snapshot(ctx context.Context) models.SpaceWeatherSnapshot
}

// Defaults fill in query parameters a request leaves out.
type Defaults struct {
	Group        models.ConstellationGroup
	Observer     models.ObserverPosition
	Mask         float64
	PlanningStep time.Duration
	Horizon      time.Duration
	Thresholds   risk.Thresholds
}

type Handler struct {
	status     StatusService
	windows    WindowFinder
	visibility VisibilityEngine
	weather    WeatherSource
	statuses   repository.StatusRepository
	snapshots  repository.SnapshotRepository
	defaults   Defaults
}

type Deps struct {
	Status     StatusService
	Windows    WindowFinder
	Visibility VisibilityEngine
	Weather    WeatherSource
	Statuses   repository.StatusRepository   // optional
	Snapshots  repository.SnapshotRepository // optional
}

func NewHandler(deps Deps, defaults Defaults) *Handler {
	if defaults.PlanningStep <= 0 {
		defaults.PlanningStep = 10 * time.Minute
	}
	if defaults.Horizon <= 0 {
		defaults.Horizon = 24 * time.Hour
	}
	return &Handler{
		status:     deps.Status,
		windows:    deps.Windows,
		visibility: deps.Visibility,
		weather:    deps.Weather,
		statuses:   deps.Statuses,
		snapshots:  deps.Snapshots,
		defaults:   defaults,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/api/status", h.getStatus)
	r.GET("/api/status/history", h.getStatusHistory)
	r.GET("/api/status/history/:id", h.getStatusByID)
	r.GET("/api/windows", h.getWindows)
	r.GET("/api/visibility", h.getVisibility)
	r.GET("/api/dop", h.getDOP)
	r.GET("/api/spaceweather", h.getSpaceWeather)
	r.GET("/api/spaceweather/history", h.getSpaceWeatherHistory)
	r.GET("/health", h.health)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// getStatus always answers 200 once the query parses: sources that fail
// show up as RED or UNKNOWN with SOURCE_UNAVAILABLE, never as a 5xx.
func (h *Handler) getStatus(c *gin.Context) {
	observer, err := h.observer(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	group := h.defaults.Group
	if g := c.Query("group"); g != "" {
		group = models.ConstellationGroup(g)
	}

	profile, err := h.profile(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	st := h.status.Status(c.Request.Context(), orchestrator.Request{Observer: observer, Group: group, Thresholds: profile})
	c.JSON(http.StatusOK, st)
}

func (h *Handler) getStatusHistory(c *gin.Context) {
	if h.statuses == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "status history not configured"})
		return
	}
	filter := repository.Filter{
		Limit: 50, // Default to 50 statuses if limit param not supplied
	}

	if g := c.Query("group"); g != "" {
		group, ok := models.ParseGroup(g)
		if !ok {
			badRequest(c, fmt.Errorf("unknown constellation group %q", g))
			return
		}
		filter.Group = &group
	}
	if l := c.Query("level"); l != "" {
		level, ok := models.ParseRiskLevel(strings.ToUpper(l))
		if !ok {
			badRequest(c, fmt.Errorf("unknown level %q", l))
			return
		}
		filter.Level = &level
	}
	if l := c.Query("min_level"); l != "" {
		level, ok := models.ParseRiskLevel(strings.ToUpper(l))
		if !ok {
			badRequest(c, fmt.Errorf("unknown level %q", l))
			return
		}
		filter.MinLevel = &level
	}
	if s := c.Query("source"); s != "" {
		source := models.Source(strings.ToLower(s))
		filter.Source = &source
	}
	if err := timeRange(c, &filter); err != nil {
		badRequest(c, err)
		return
	}
	if l := c.Query("limit"); l != "" {
		if lim, err := strconv.Atoi(l); err == nil && lim > 0 && lim <= 500 {
			filter.Limit = lim
		}
	}

	statuses, err := h.statuses.ListStatuses(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to fetch status history",
		})
		return
	}
	if statuses == nil {
		statuses = []models.RiskStatus{}
	}
	c.JSON(http.StatusOK, gin.H{"statuses": statuses})
}

func (h *Handler) getStatusByID(c *gin.Context) {
	if h.statuses == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "status history not configured"})
		return
	}
	st, err := h.statuses.GetByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "status not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch status"})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) getWindows(c *gin.Context) {
	observer, err := h.observer(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	group, err := h.group(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	from, to, step, err := h.horizon(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	mask, err := h.mask(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	thresholds := h.defaults.Thresholds
	profile, err := h.profile(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	if profile != nil {
		thresholds = *profile
	}

	windows, err := h.windows.FindWindows(c.Request.Context(), planning.Request{
		Group:      group,
		Observer:   observer,
		From:       from,
		To:         to,
		Step:       step,
		Mask:       mask,
		Thresholds: thresholds,
	})
	if errors.Is(err, planning.ErrInvalidRequest) {
		badRequest(c, err)
		return
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{"group": group, "windows": windows}
	if best, ok := planning.Best(windows); ok {
		resp["best"] = best
	}
	if worst, ok := planning.Worst(windows); ok {
		resp["worst"] = worst
	}
	c.JSON(http.StatusOK, resp)
}

type visibilityResponse struct {
	Group      models.ConstellationGroup    `json:"group"`
	Observer   models.ObserverPosition      `json:"observer"`
	Timestamp  time.Time                    `json:"timestamp"`
	Mask       float64                      `json:"mask"`
	Satellites []models.SatelliteVisibility `json:"satellites"`
	Report     propagation.VisibilityReport `json:"report"`
}

func (h *Handler) getVisibility(c *gin.Context) {
	observer, err := h.observer(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	group, err := h.group(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	mask, err := h.mask(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	at := time.Now().UTC()
	if s := c.Query("at"); s != "" {
		if at, err = time.Parse(time.RFC3339, s); err != nil {
			badRequest(c, fmt.Errorf("invalid at: %w", err))
			return
		}
	}

	vis, report, err := h.visibility.Visible(c.Request.Context(), group, observer, at, mask)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if vis == nil {
		vis = []models.SatelliteVisibility{}
	}
	if c.Query("format") == "geojson" {
		c.Header("Content-Type", "application/geo+json")
		c.JSON(http.StatusOK, toGeoJSON(observer, vis))
		return
	}
	c.JSON(http.StatusOK, visibilityResponse{
		Group:      group,
		Observer:   observer,
		Timestamp:  at,
		Mask:       mask,
		Satellites: vis,
		Report:     report,
	})
}

func (h *Handler) getDOP(c *gin.Context) {
	observer, err := h.observer(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	group, err := h.group(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	from, to, step, err := h.horizon(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	mask, err := h.mask(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	if n := models.SampleCount(from, to, step); n > orchestrator.MaxSeriesSamples {
		badRequest(c, fmt.Errorf("%d samples exceeds %d", n, orchestrator.MaxSeriesSamples))
		return
	}

	series, err := h.status.DOPSeries(c.Request.Context(), orchestrator.SeriesRequest{
		Observer: observer,
		Group:    group,
		From:     from,
		To:       to,
		Step:     step,
		Mask:     mask,
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, series)
}

func (h *Handler) getSpaceWeather(c *gin.Context) {
	snap := h.weather.Snapshot(c.Request.Context())
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) getSpaceWeatherHistory(c *gin.Context) {
	if h.snapshots == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "space weather history not configured"})
		return
	}
	filter := repository.Filter{Limit: 48}
	if err := timeRange(c, &filter); err != nil {
		badRequest(c, err)
		return
	}
	if l := c.Query("limit"); l != "" {
		if lim, err := strconv.Atoi(l); err == nil && lim > 0 && lim <= 500 {
			filter.Limit = lim
		}
	}

	snaps, err := h.snapshots.ListSnapshots(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch space weather history"})
		return
	}
	if snaps == nil {
		snaps = []models.SpaceWeatherSnapshot{}
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps})
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "primary_breaker": h.status.BreakerState()})
}

// observer reads lat, lon and alt, falling back to the configured site
// when lat and lon are both absent.
func (h *Handler) observer(c *gin.Context) (models.ObserverPosition, error) {
	lat, lon := c.Query("lat"), c.Query("lon")
	if lat == "" && lon == "" {
		return h.defaults.Observer, nil
	}
	if lat == "" || lon == "" {
		return models.ObserverPosition{}, errors.New("lat and lon must be given together")
	}

	var (
		o   models.ObserverPosition
		err error
	)
	if o.Latitude, err = strconv.ParseFloat(lat, 64); err != nil {
		return o, fmt.Errorf("invalid lat %q", lat)
	}
	if o.Longitude, err = strconv.ParseFloat(lon, 64); err != nil {
		return o, fmt.Errorf("invalid lon %q", lon)
	}
	if alt := c.Query("alt"); alt != "" {
		if o.Altitude, err = strconv.ParseFloat(alt, 64); err != nil {
			return o, fmt.Errorf("invalid alt %q", alt)
		}
	}
	return o, nil
}

func (h *Handler) group(c *gin.Context) (models.ConstellationGroup, error) {
	g := c.Query("group")
	if g == "" {
		return h.defaults.Group, nil
	}
	group, ok := models.ParseGroup(g)
	if !ok {
		return "", fmt.Errorf("unknown constellation group %q", g)
	}
	return group, nil
}

// profile overlays kp_amber, kp_red, pdop_amber, pdop_red and alert_level
// on the default thresholds. It returns nil when none is given.
func (h *Handler) profile(c *gin.Context) (*risk.Thresholds, error) {
	t := h.defaults.Thresholds
	set := false
	for _, f := range []struct {
		name string
		dst  *float64
	}{
		{"kp_amber", &t.KpAmber},
		{"kp_red", &t.KpRed},
		{"pdop_amber", &t.PDOPAmber},
		{"pdop_red", &t.PDOPRed},
	} {
		v := c.Query(f.name)
		if v == "" {
			continue
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q", f.name, v)
		}
		*f.dst = n
		set = true
	}
	if v := c.Query("alert_level"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid alert_level %q", v)
		}
		t.AlertLevel = n
		set = true
	}
	if !set {
		return nil, nil
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (h *Handler) mask(c *gin.Context) (float64, error) {
	m := c.Query("mask")
	if m == "" {
		return h.defaults.Mask, nil
	}
	mask, err := strconv.ParseFloat(m, 64)
	if err != nil || mask < 0 || mask >= 90 {
		return 0, fmt.Errorf("invalid mask %q: want degrees in [0, 90)", m)
	}
	return mask, nil
}

// horizon reads from, to (RFC 3339) and step. Step is a Go duration
// ("15m") or a bare number of minutes.
func (h *Handler) horizon(c *gin.Context) (time.Time, time.Time, time.Duration, error) {
	from := time.Now().UTC().Truncate(time.Minute)
	if s := c.Query("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, time.Time{}, 0, fmt.Errorf("invalid from: %w", err)
		}
		from = t
	}
	to := from.Add(h.defaults.Horizon)
	if s := c.Query("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, time.Time{}, 0, fmt.Errorf("invalid to: %w", err)
		}
		to = t
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, 0, errors.New("to must be after from")
	}

	step := h.defaults.PlanningStep
	if s := c.Query("step"); s != "" {
		d, err := parseStep(s)
		if err != nil {
			return time.Time{}, time.Time{}, 0, err
		}
		step = d
	}
	return from, to, step, nil
}

func parseStep(s string) (time.Duration, error) {
	if minutes, err := strconv.Atoi(s); err == nil {
		if minutes <= 0 {
			return 0, fmt.Errorf("invalid step %q", s)
		}
		return time.Duration(minutes) * time.Minute, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid step %q", s)
	}
	return d, nil
}

func timeRange(c *gin.Context, filter *repository.Filter) error {
	if s := c.Query("since"); s != "" {
		t, err := parseSince(s)
		if err != nil {
			return err
		}
		filter.Since = &t
	}
	if s := c.Query("until"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("invalid until: %w", err)
		}
		filter.Until = &t
	}
	return nil
}

// parseSince accepts RFC 3339 or a plain date.
func parseSince(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid since %q", s)
	}
	return t, nil
}
