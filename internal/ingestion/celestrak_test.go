package ingestion

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mr1hm/gnss-integrity-monitor/internal/cache"
	"github.com/mr1hm/gnss-integrity-monitor/internal/models"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

const gpsOMM = `[
  {"OBJECT_NAME":"GPS BIIR-2  (PRN 13)","OBJECT_ID":"1997-035A","EPOCH":"2025-02-14T04:19:40.123456",
   "MEAN_MOTION":2.00563,"ECCENTRICITY":0.0092,"INCLINATION":55.7,"RA_OF_ASC_NODE":120.5,
   "ARG_OF_PERICENTER":56.3,"MEAN_ANOMALY":304.1,"EPHEMERIS_TYPE":0,"CLASSIFICATION_TYPE":"U",
   "NORAD_CAT_ID":24876,"ELEMENT_SET_NO":999,"REV_AT_EPOCH":20000,"BSTAR":0,
   "MEAN_MOTION_DOT":-6.1e-7,"MEAN_MOTION_DDOT":0},
  {"OBJECT_NAME":"BROKEN","OBJECT_ID":"1999-001A","EPOCH":"2025-02-14T04:19:40",
   "MEAN_MOTION":2.0,"ECCENTRICITY":1.5,"INCLINATION":55.0,"RA_OF_ASC_NODE":1,
   "ARG_OF_PERICENTER":1,"MEAN_ANOMALY":1,"NORAD_CAT_ID":11111},
  {"OBJECT_NAME":"NO MOTION","EPOCH":"2025-02-14T04:19:40","ECCENTRICITY":0.01,
   "INCLINATION":55.0,"RA_OF_ASC_NODE":1,"ARG_OF_PERICENTER":1,"MEAN_ANOMALY":1,"NORAD_CAT_ID":22222}
]`

func newTestStore(t *testing.T, url string) *ElementStore {
	t.Helper()
	return NewElementStore(ElementStoreConfig{BaseURL: url, TTL: time.Hour, Timeout: time.Second},
		cache.New[[]models.OrbitalElementSet]("elements"), testLogger)
}

func TestElementStore_DecodesAndValidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("GROUP"); got != "gps-ops" {
			t.Errorf("expected GROUP=gps-ops, got %q", got)
		}
		if got := r.URL.Query().Get("FORMAT"); got != "json" {
			t.Errorf("expected FORMAT=json, got %q", got)
		}
		w.Write([]byte(gpsOMM))
	}))
	defer server.Close()

	res := newTestStore(t, server.URL).Elements(context.Background(), models.GroupGPS)
	if !res.Available() {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if len(res.Sets) != 1 {
		t.Fatalf("expected 1 valid set (2 malformed skipped), got %d", len(res.Sets))
	}

	set := res.Sets[0]
	if set.SatelliteID != "1997-035A" || set.NoradID != 24876 || set.Group != models.GroupGPS {
		t.Errorf("unexpected identity: %+v", set)
	}
	wantEpoch := time.Date(2025, 2, 14, 4, 19, 40, 123456000, time.UTC)
	if !set.Epoch.Equal(wantEpoch) {
		t.Errorf("epoch = %v, want %v", set.Epoch, wantEpoch)
	}
	if set.MeanMotion != 2.00563 || set.Inclination != 55.7 {
		t.Errorf("unexpected elements: %+v", set)
	}
}

func TestElementStore_CachesPerGroup(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(gpsOMM))
	}))
	defer server.Close()

	store := newTestStore(t, server.URL)
	ctx := context.Background()
	store.Elements(ctx, models.GroupGPS)
	store.Elements(ctx, models.GroupGPS)
	store.Elements(ctx, models.GroupGalileo)

	if calls.Load() != 2 {
		t.Errorf("expected one fetch per group (2), got %d", calls.Load())
	}
}

func TestElementStore_SourceUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	res := newTestStore(t, server.URL).Elements(context.Background(), models.GroupGPS)
	if res.Available() {
		t.Fatal("expected unavailable result")
	}
	if !errors.Is(res.Err, models.ErrSourceUnavailable) {
		t.Errorf("expected ErrSourceUnavailable, got %v", res.Err)
	}
	if len(res.Sets) != 0 {
		t.Errorf("expected no sets, got %d", len(res.Sets))
	}
}

func TestElementStore_MalformedPayload(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "No GP data found"},
		{"object instead of array", `{"OBJECT_NAME":"X"}`},
		{"no valid records", `[{"OBJECT_NAME":"X","NORAD_CAT_ID":1}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			res := newTestStore(t, server.URL).Elements(context.Background(), models.GroupGPS)
			if !errors.Is(res.Err, models.ErrMalformedResponse) {
				t.Errorf("expected ErrMalformedResponse, got %v", res.Err)
			}
			if !errors.Is(res.Err, models.ErrSourceUnavailable) {
				t.Errorf("expected ErrSourceUnavailable, got %v", res.Err)
			}
		})
	}
}

func TestElementStore_StaleAfterUpstreamFailure(t *testing.T) {
	var fail atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(gpsOMM))
	}))
	defer server.Close()

	store := newTestStore(t, server.URL)
	ctx := context.Background()
	if res := store.Elements(ctx, models.GroupGPS); !res.Available() {
		t.Fatalf("warm-up failed: %v", res.Err)
	}

	fail.Store(true)
	res := store.Refresh(ctx, models.GroupGPS)
	if !res.Available() {
		t.Fatalf("expected stale sets to remain available, got %v", res.Err)
	}
	if !res.Stale || len(res.Sets) != 1 {
		t.Errorf("expected 1 stale set, got stale=%v sets=%d", res.Stale, len(res.Sets))
	}
}

type recordingFailures struct {
	count atomic.Int64
}

func (r *recordingFailures) UpstreamFailure(string) { r.count.Add(1) }

func TestElementStore_RecordsFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	rec := &recordingFailures{}
	store := NewElementStore(ElementStoreConfig{BaseURL: server.URL, Failures: rec}, nil, testLogger)
	store.Elements(context.Background(), models.GroupGPS)

	if rec.count.Load() != 1 {
		t.Errorf("expected 1 recorded failure, got %d", rec.count.Load())
	}
}
