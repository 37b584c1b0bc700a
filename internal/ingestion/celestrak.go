package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mr1hm/gnss-integrity-monitor/internal/cache"
	"github.com/mr1hm/gnss-integrity-monitor/internal/models"
)

const (
	DefaultCelesTrakURL = "https://celestrak.org"
	DefaultElementsTTL  = 6 * time.Hour

	sourceCelesTrak = "celestrak"
)

// celestrakGroups maps constellation groups to CelesTrak GP group names.
var celestrakGroups = map[models.ConstellationGroup]string{
	models.GroupGPS:     "gps-ops",
	models.GroupGalileo: "galileo",
	models.GroupGLONASS: "glo-ops",
	models.GroupBeiDou:  "beidou",
	models.GroupSBAS:    "sbas",
}

// ommRecord is one CelesTrak GP record in OMM JSON form. Required fields are
// pointers so that absence can be told apart from zero.
type ommRecord struct {
	ObjectName     string   `json:"OBJECT_NAME"`
	ObjectID       string   `json:"OBJECT_ID"`
	Epoch          string   `json:"EPOCH"`
	MeanMotion     *float64 `json:"MEAN_MOTION"`
	Eccentricity   *float64 `json:"ECCENTRICITY"`
	Inclination    *float64 `json:"INCLINATION"`
	RAAN           *float64 `json:"RA_OF_ASC_NODE"`
	ArgPericenter  *float64 `json:"ARG_OF_PERICENTER"`
	MeanAnomaly    *float64 `json:"MEAN_ANOMALY"`
	NoradCatID     *int     `json:"NORAD_CAT_ID"`
	ElementSetNo   int      `json:"ELEMENT_SET_NO"`
	RevAtEpoch     int      `json:"REV_AT_EPOCH"`
	BStar          float64  `json:"BSTAR"`
	MeanMotionDot  float64  `json:"MEAN_MOTION_DOT"`
	MeanMotionDDot float64  `json:"MEAN_MOTION_DDOT"`
}

var ommEpochLayouts = []string{
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
}

func parseOMMEpoch(s string) (time.Time, error) {
	for _, layout := range ommEpochLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable epoch %q", s)
}

func (r ommRecord) toElementSet(group models.ConstellationGroup) (models.OrbitalElementSet, error) {
	if r.NoradCatID == nil || *r.NoradCatID <= 0 {
		return models.OrbitalElementSet{}, fmt.Errorf("missing NORAD_CAT_ID")
	}
	required := map[string]*float64{
		"MEAN_MOTION":       r.MeanMotion,
		"ECCENTRICITY":      r.Eccentricity,
		"INCLINATION":       r.Inclination,
		"RA_OF_ASC_NODE":    r.RAAN,
		"ARG_OF_PERICENTER": r.ArgPericenter,
		"MEAN_ANOMALY":      r.MeanAnomaly,
	}
	for name, v := range required {
		if v == nil {
			return models.OrbitalElementSet{}, fmt.Errorf("missing %s", name)
		}
	}

	epoch, err := parseOMMEpoch(r.Epoch)
	if err != nil {
		return models.OrbitalElementSet{}, err
	}

	switch {
	case *r.MeanMotion <= 0 || *r.MeanMotion > 20:
		return models.OrbitalElementSet{}, fmt.Errorf("mean motion %v out of range", *r.MeanMotion)
	case *r.Eccentricity < 0 || *r.Eccentricity >= 1:
		return models.OrbitalElementSet{}, fmt.Errorf("eccentricity %v out of range", *r.Eccentricity)
	case *r.Inclination < 0 || *r.Inclination > 180:
		return models.OrbitalElementSet{}, fmt.Errorf("inclination %v out of range", *r.Inclination)
	}
	for name, v := range map[string]float64{"RA_OF_ASC_NODE": *r.RAAN, "ARG_OF_PERICENTER": *r.ArgPericenter, "MEAN_ANOMALY": *r.MeanAnomaly} {
		if v < 0 || v > 360 {
			return models.OrbitalElementSet{}, fmt.Errorf("%s %v out of range", name, v)
		}
	}

	id := strings.TrimSpace(r.ObjectID)
	if id == "" {
		id = fmt.Sprintf("NORAD-%d", *r.NoradCatID)
	}

	return models.OrbitalElementSet{
		SatelliteID:    id,
		Name:           strings.TrimSpace(r.ObjectName),
		Group:          group,
		NoradID:        *r.NoradCatID,
		Epoch:          epoch,
		MeanMotion:     *r.MeanMotion,
		Eccentricity:   *r.Eccentricity,
		Inclination:    *r.Inclination,
		RAAN:           *r.RAAN,
		ArgPerigee:     *r.ArgPericenter,
		MeanAnomaly:    *r.MeanAnomaly,
		BStar:          r.BStar,
		MeanMotionDot:  r.MeanMotionDot,
		MeanMotionDDot: r.MeanMotionDDot,
		ElementSetNo:   r.ElementSetNo,
		RevAtEpoch:     r.RevAtEpoch,
	}, nil
}

// ElementsResult is the outcome of an element lookup. Err is non-nil only
// when nothing usable exists for the group; it then wraps
// models.ErrSourceUnavailable.
type ElementsResult struct {
	Group     models.ConstellationGroup
	Sets      []models.OrbitalElementSet
	FetchedAt time.Time
	Stale     bool
	Err       error
}

func (r ElementsResult) Available() bool {
	return r.Err == nil
}

type ElementStoreConfig struct {
	BaseURL  string
	TTL      time.Duration
	Timeout  time.Duration
	Failures FailureRecorder
}

// ElementStore serves orbital element sets per constellation group from a
// TTL cache backed by CelesTrak.
type ElementStore struct {
	baseURL  string
	ttl      time.Duration
	client   *http.Client
	cache    *cache.TTL[[]models.OrbitalElementSet]
	failures FailureRecorder
	logger   *slog.Logger
}

func NewElementStore(cfg ElementStoreConfig, c *cache.TTL[[]models.OrbitalElementSet], logger *slog.Logger) *ElementStore {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultCelesTrakURL
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultElementsTTL
	}
	if cfg.Failures == nil {
		cfg.Failures = nopRecorder{}
	}
	if c == nil {
		c = cache.New[[]models.OrbitalElementSet]("elements")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ElementStore{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		ttl:      cfg.TTL,
		client:   newHTTPClient(cfg.Timeout),
		cache:    c,
		failures: cfg.Failures,
		logger:   logger.With("component", "elements"),
	}
}

func elementsKey(group models.ConstellationGroup) string {
	return "celestrak:gp:" + string(group)
}

// Elements returns the element sets for group, fetching on a cache miss.
func (s *ElementStore) Elements(ctx context.Context, group models.ConstellationGroup) ElementsResult {
	res, err := s.cache.GetOrFetch(ctx, elementsKey(group), s.ttl, func(ctx context.Context) ([]models.OrbitalElementSet, error) {
		return s.fetch(ctx, group)
	})
	return s.result(group, res, err)
}

// Refresh refetches group regardless of cache state. Failures keep the
// previously held sets.
func (s *ElementStore) Refresh(ctx context.Context, group models.ConstellationGroup) ElementsResult {
	res, err := s.cache.Refresh(ctx, elementsKey(group), s.ttl, func(ctx context.Context) ([]models.OrbitalElementSet, error) {
		return s.fetch(ctx, group)
	})
	return s.result(group, res, err)
}

func (s *ElementStore) result(group models.ConstellationGroup, res cache.Result[[]models.OrbitalElementSet], err error) ElementsResult {
	if err != nil {
		return ElementsResult{
			Group: group,
			Err:   fmt.Errorf("%w: elements for %s: %w", models.ErrSourceUnavailable, group, err),
		}
	}
	if res.Stale {
		s.logger.Warn("serving stale elements", "group", group, "fetched_at", res.FetchedAt, "error", res.FetchErr)
	}
	return ElementsResult{
		Group:     group,
		Sets:      res.Value,
		FetchedAt: res.FetchedAt,
		Stale:     res.Stale,
	}
}

func (s *ElementStore) fetch(ctx context.Context, group models.ConstellationGroup) ([]models.OrbitalElementSet, error) {
	name, ok := celestrakGroups[group]
	if !ok {
		return nil, fmt.Errorf("unknown constellation group %q", group)
	}

	q := url.Values{}
	q.Set("GROUP", name)
	q.Set("FORMAT", "json")
	u := s.baseURL + "/NORAD/elements/gp.php?" + q.Encode()

	var records []ommRecord
	if err := getJSON(ctx, s.client, u, &records); err != nil {
		s.failures.UpstreamFailure(sourceCelesTrak)
		s.logger.Error("element fetch failed", "group", group, "error", err)
		return nil, err
	}

	sets := make([]models.OrbitalElementSet, 0, len(records))
	for i, r := range records {
		set, err := r.toElementSet(group)
		if err != nil {
			s.logger.Warn("skipping malformed element record", "group", group, "index", i, "name", r.ObjectName, "error", err)
			continue
		}
		sets = append(sets, set)
	}
	if len(sets) == 0 {
		s.failures.UpstreamFailure(sourceCelesTrak)
		return nil, fmt.Errorf("%w: no valid element records for %s", models.ErrMalformedResponse, group)
	}

	s.logger.Debug("elements fetched", "group", group, "count", len(sets), "skipped", len(records)-len(sets))
	return sets, nil
}
