package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mr1hm/gnss-integrity-monitor/internal/models"
	"github.com/mr1hm/gnss-integrity-monitor/internal/risk"
)

const (
	DefaultPrimaryURL     = "http://localhost:8000"
	DefaultPrimaryTimeout = 3 * time.Second

	maxPrimaryBody = 4 << 20

	// dopTolerance absorbs rounding in the primary's published figures.
	dopTolerance = 1e-6
)

// PrimaryClient talks to the external computation backend. Every call is
// bounded by its own timeout, independent of the caller's deadline.
type PrimaryClient struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
}

func NewPrimaryClient(baseURL string, timeout time.Duration) *PrimaryClient {
	if baseURL == "" {
		baseURL = DefaultPrimaryURL
	}
	if timeout <= 0 {
		timeout = DefaultPrimaryTimeout
	}
	return &PrimaryClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client:  &http.Client{},
	}
}

type primaryStatus struct {
	Level          string    `json:"level"`
	Reasons        []string  `json:"reasons"`
	Timestamp      time.Time `json:"timestamp"`
	PDOP           *float64  `json:"pdop"`
	Kp             *float64  `json:"kp"`
	SatelliteCount int       `json:"satellite_count"`
}

type primaryKp struct {
	Kp        *float64  `json:"kp"`
	Timestamp time.Time `json:"timestamp"`
}

type primaryDOPSample struct {
	Timestamp      time.Time `json:"timestamp"`
	GDOP           *float64  `json:"gdop"`
	PDOP           *float64  `json:"pdop"`
	HDOP           *float64  `json:"hdop"`
	VDOP           *float64  `json:"vdop"`
	TDOP           *float64  `json:"tdop"`
	SatelliteCount int       `json:"satellite_count"`
}

type primaryDOPSeries struct {
	Samples []primaryDOPSample `json:"samples"`
}

func observerQuery(q url.Values, o models.ObserverPosition, group models.ConstellationGroup) {
	q.Set("lat", strconv.FormatFloat(o.Latitude, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(o.Longitude, 'f', -1, 64))
	q.Set("alt", strconv.FormatFloat(o.Altitude, 'f', -1, 64))
	q.Set("group", string(group))
}

// get decodes a JSON document and maps every failure onto the error
// taxonomy: ErrTimeout, ErrMalformedResponse or ErrSourceUnavailable.
func (c *PrimaryClient) get(ctx context.Context, path string, q url.Values, v any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("%w: primary %s: %w", models.ErrSourceUnavailable, path, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: primary %s after %s", models.ErrTimeout, path, c.timeout)
		}
		return fmt.Errorf("%w: primary %s: %w", models.ErrSourceUnavailable, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: primary %s: status %d", models.ErrSourceUnavailable, path, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPrimaryBody))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: primary %s after %s", models.ErrTimeout, path, c.timeout)
		}
		return fmt.Errorf("%w: primary %s: %w", models.ErrSourceUnavailable, path, err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: primary %s: %w", models.ErrMalformedResponse, path, err)
	}
	return nil
}

func malformed(path, format string, args ...any) error {
	return fmt.Errorf("%w: primary %s: %s", models.ErrMalformedResponse, path, fmt.Sprintf(format, args...))
}

func validDOP(v *float64) bool {
	return v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0) && *v >= 0
}

// profileQuery forwards the thresholds the primary classifies with.
// Freshness and TTL stay local.
func profileQuery(q url.Values, t risk.Thresholds) {
	q.Set("kp_amber", strconv.FormatFloat(t.KpAmber, 'f', -1, 64))
	q.Set("kp_red", strconv.FormatFloat(t.KpRed, 'f', -1, 64))
	q.Set("pdop_amber", strconv.FormatFloat(t.PDOPAmber, 'f', -1, 64))
	q.Set("pdop_red", strconv.FormatFloat(t.PDOPRed, 'f', -1, 64))
	q.Set("alert_level", strconv.Itoa(t.AlertLevel))
	for _, scale := range t.AlertScales {
		q.Add("alert_scale", string(scale))
	}
}

// Status fetches the consolidated status for an observer. A non-nil profile
// is sent along for the primary to classify with; nil leaves the primary on
// its own configuration.
func (c *PrimaryClient) Status(ctx context.Context, observer models.ObserverPosition, group models.ConstellationGroup, profile *risk.Thresholds) (models.RiskStatus, error) {
	const path = "/api/status"
	q := url.Values{}
	observerQuery(q, observer, group)
	if profile != nil {
		profileQuery(q, *profile)
	}

	var raw primaryStatus
	if err := c.get(ctx, path, q, &raw); err != nil {
		return models.RiskStatus{}, err
	}

	level, ok := models.ParseRiskLevel(raw.Level)
	if !ok || level == models.RiskUnknown {
		return models.RiskStatus{}, malformed(path, "level %q", raw.Level)
	}
	reasons := make([]models.Reason, 0, len(raw.Reasons))
	for _, r := range raw.Reasons {
		reason := models.Reason(r)
		switch reason {
		case models.ReasonDOPDegraded, models.ReasonKpHigh, models.ReasonAlertActive,
			models.ReasonDataStale, models.ReasonSourceUnavailable:
			reasons = append(reasons, reason)
		default:
			return models.RiskStatus{}, malformed(path, "reason %q", r)
		}
	}
	if level != models.RiskGreen && len(reasons) == 0 {
		return models.RiskStatus{}, malformed(path, "%s without reasons", level)
	}
	if raw.PDOP != nil && !validDOP(raw.PDOP) {
		return models.RiskStatus{}, malformed(path, "pdop %v", *raw.PDOP)
	}
	if raw.Kp != nil && (*raw.Kp < 0 || *raw.Kp > 9) {
		return models.RiskStatus{}, malformed(path, "kp %v", *raw.Kp)
	}

	return models.RiskStatus{
		Level:          level,
		Reasons:        reasons,
		EvaluatedAt:    raw.Timestamp,
		Source:         models.SourcePrimary,
		Group:          group,
		PDOP:           raw.PDOP,
		Kp:             raw.Kp,
		SatelliteCount: raw.SatelliteCount,
	}, nil
}

// Kp fetches the backend's current planetary K-index.
func (c *PrimaryClient) Kp(ctx context.Context) (float64, error) {
	const path = "/api/kp"
	var raw primaryKp
	if err := c.get(ctx, path, nil, &raw); err != nil {
		return 0, err
	}
	if raw.Kp == nil || math.IsNaN(*raw.Kp) || *raw.Kp < 0 || *raw.Kp > 9 {
		return 0, malformed(path, "kp missing or outside 0-9")
	}
	return *raw.Kp, nil
}

// DOPSeries fetches a DOP time series. A sample missing any of the five
// figures becomes InsufficientGeometry; figures that break
// GDOP >= PDOP >= max(HDOP, VDOP) reject the series. Samples outside
// [From, To) are dropped.
func (c *PrimaryClient) DOPSeries(ctx context.Context, req SeriesRequest) ([]DOPPoint, error) {
	const path = "/api/dop"
	q := url.Values{}
	observerQuery(q, req.Observer, req.Group)
	q.Set("from", req.From.UTC().Format(time.RFC3339))
	q.Set("to", req.To.UTC().Format(time.RFC3339))
	q.Set("step", strconv.Itoa(int(req.Step/time.Minute)))

	var raw primaryDOPSeries
	if err := c.get(ctx, path, q, &raw); err != nil {
		return nil, err
	}

	out := make([]DOPPoint, 0, len(raw.Samples))
	for _, s := range raw.Samples {
		if s.Timestamp.IsZero() {
			return nil, malformed(path, "sample without timestamp")
		}
		if s.Timestamp.Before(req.From) || !s.Timestamp.Before(req.To) {
			continue
		}
		if !validDOP(s.GDOP) || !validDOP(s.PDOP) || !validDOP(s.HDOP) || !validDOP(s.VDOP) || !validDOP(s.TDOP) {
			out = append(out, DOPPoint{Timestamp: s.Timestamp, DOPResult: models.NoGeometry(s.SatelliteCount, "primary reported incomplete geometry")})
			continue
		}
		m := models.DOPMetrics{
			Timestamp:      s.Timestamp,
			Observer:       req.Observer,
			SatelliteCount: s.SatelliteCount,
			GDOP:           *s.GDOP,
			PDOP:           *s.PDOP,
			HDOP:           *s.HDOP,
			VDOP:           *s.VDOP,
			TDOP:           *s.TDOP,
		}
		if m.GDOP+dopTolerance < m.PDOP || m.PDOP+dopTolerance < math.Max(m.HDOP, m.VDOP) {
			return nil, malformed(path, "inconsistent dop at %s: gdop %v pdop %v hdop %v vdop %v",
				s.Timestamp.Format(time.RFC3339), m.GDOP, m.PDOP, m.HDOP, m.VDOP)
		}
		out = append(out, DOPPoint{Timestamp: s.Timestamp, DOPResult: models.DOPOf(m)})
	}
	if len(out) == 0 {
		return nil, malformed(path, "no samples in range")
	}
	return out, nil
}
