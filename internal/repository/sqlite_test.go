package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mr1hm/gnss-integrity-monitor/internal/models"
)

func setupTestDB(t *testing.T) *SQLiteDB {
	db, err := NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	return db
}

func f64(v float64) *float64 { return &v }

func status(id string, group models.ConstellationGroup, level models.RiskLevel, at time.Time) *models.RiskStatus {
	reasons := []models.Reason{}
	if level != models.RiskGreen {
		reasons = append(reasons, models.ReasonKpHigh)
	}
	return &models.RiskStatus{
		ID:          id,
		Level:       level,
		Reasons:     reasons,
		EvaluatedAt: at,
		ExpiresAt:   at.Add(5 * time.Minute),
		Source:      models.SourceFallback,
		Group:       group,
	}
}

func TestSQLiteDB_AddAndGetStatus(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	at := time.Date(2025, 5, 10, 18, 0, 0, 123456789, time.UTC)
	s := &models.RiskStatus{
		ID:             "status_1",
		Level:          models.RiskRed,
		Reasons:        []models.Reason{models.ReasonKpHigh, models.ReasonAlertActive},
		EvaluatedAt:    at,
		ExpiresAt:      at.Add(5 * time.Minute),
		Source:         models.SourcePrimary,
		Group:          models.GroupGPS,
		PDOP:           f64(1.8),
		Kp:             f64(7.33),
		SatelliteCount: 9,
		Detail:         "kp 7.33 >= 7",
	}

	if err := db.Add(ctx, s); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	got, err := db.GetByID(ctx, "status_1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Level != models.RiskRed || len(got.Reasons) != 2 || got.Reasons[1] != models.ReasonAlertActive {
		t.Errorf("level/reasons = %s %v", got.Level, got.Reasons)
	}
	if !got.EvaluatedAt.Equal(at) {
		t.Errorf("evaluated_at = %v, want %v", got.EvaluatedAt, at)
	}
	if got.PDOP == nil || *got.PDOP != 1.8 || got.Kp == nil || *got.Kp != 7.33 {
		t.Errorf("pdop/kp = %v %v", got.PDOP, got.Kp)
	}
	if got.Source != models.SourcePrimary || got.Group != models.GroupGPS || got.SatelliteCount != 9 || got.Detail != s.Detail {
		t.Errorf("got %+v", got)
	}
}

func TestSQLiteDB_GetByIDNotFound(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	_, err := db.GetByID(context.Background(), "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteDB_GreenStatusKeepsEmptyReasons(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	db.Add(ctx, status("green", models.GroupGPS, models.RiskGreen, time.Now()))

	got, err := db.GetByID(ctx, "green")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Reasons == nil || len(got.Reasons) != 0 {
		t.Errorf("reasons = %#v, want empty slice", got.Reasons)
	}
	if got.PDOP != nil || got.Kp != nil {
		t.Errorf("absent values came back as %v %v", got.PDOP, got.Kp)
	}
}

func TestSQLiteDB_Latest(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	now := time.Now()
	db.Add(ctx, status("old", models.GroupGPS, models.RiskGreen, now.Add(-time.Hour)))
	db.Add(ctx, status("new", models.GroupGPS, models.RiskAmber, now))
	db.Add(ctx, status("gal", models.GroupGalileo, models.RiskRed, now.Add(time.Minute)))

	got, err := db.Latest(ctx, models.GroupGPS)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if got.ID != "new" {
		t.Errorf("expected latest GPS status 'new', got '%s'", got.ID)
	}

	if _, err := db.Latest(ctx, models.GroupBeiDou); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for empty group, got %v", err)
	}
}

func TestSQLiteDB_ListStatuses_WithFilters(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	now := time.Now()

	statuses := []*models.RiskStatus{
		status("g1", models.GroupGPS, models.RiskGreen, now.Add(-3*time.Hour)),
		status("a1", models.GroupGPS, models.RiskAmber, now.Add(-2*time.Hour)),
		status("r1", models.GroupGalileo, models.RiskRed, now.Add(-time.Hour)),
		status("u1", models.GroupGPS, models.RiskUnknown, now),
	}
	for _, s := range statuses {
		if err := db.Add(ctx, s); err != nil {
			t.Fatalf("Add %s: %v", s.ID, err)
		}
	}

	// Newest first
	results, err := db.ListStatuses(ctx, Filter{})
	if err != nil {
		t.Fatalf("ListStatuses failed: %v", err)
	}
	if len(results) != 4 || results[0].ID != "u1" || results[3].ID != "g1" {
		t.Errorf("unexpected order: %v", ids(results))
	}

	gps := models.GroupGPS
	results, _ = db.ListStatuses(ctx, Filter{Group: &gps})
	if len(results) != 3 {
		t.Errorf("expected 3 GPS statuses, got %d", len(results))
	}

	amber := models.RiskAmber
	results, _ = db.ListStatuses(ctx, Filter{Level: &amber})
	if len(results) != 1 || results[0].ID != "a1" {
		t.Errorf("level filter: %v", ids(results))
	}

	// MinLevel AMBER includes AMBER, RED and UNKNOWN
	results, _ = db.ListStatuses(ctx, Filter{MinLevel: &amber})
	if len(results) != 3 {
		t.Errorf("expected 3 statuses >= AMBER, got %d", len(results))
	}

	since := now.Add(-90 * time.Minute)
	results, _ = db.ListStatuses(ctx, Filter{Since: &since})
	if len(results) != 2 {
		t.Errorf("expected 2 statuses since -90m, got %d", len(results))
	}

	results, _ = db.ListStatuses(ctx, Filter{Limit: 2, Offset: 1})
	if len(results) != 2 || results[0].ID != "r1" {
		t.Errorf("limit/offset: %v", ids(results))
	}
}

func TestSQLiteDB_DuplicateAdd(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	s := status("dup_test", models.GroupGPS, models.RiskGreen, time.Now())

	if err := db.Add(ctx, s); err != nil {
		t.Fatalf("First Add failed: %v", err)
	}
	if err := db.Add(ctx, s); err == nil {
		t.Error("expected error for duplicate ID, got nil")
	}
	if err := db.Add(ctx, &models.RiskStatus{}); err == nil {
		t.Error("expected error for status without id")
	}
}

func TestSQLiteDB_Snapshots(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	now := time.Date(2025, 5, 10, 18, 0, 0, 0, time.UTC)

	snaps := []models.SpaceWeatherSnapshot{
		{Timestamp: now.Add(-time.Hour), Kp: f64(2.33), AlertsKnown: true, FetchedAt: now.Add(-time.Hour)},
		{
			Timestamp:   now,
			Kp:          f64(7),
			AlertsKnown: true,
			Alerts: []models.SpaceWeatherAlert{
				{ProductID: "K07A", Scale: models.ScaleGeomagnetic, Level: 3, IssuedAt: now, Message: "ALERT: Geomagnetic K-index of 7"},
			},
			SolarWind: &models.SolarWind{Timestamp: now, Speed: 612.4, Density: 8.1},
			FetchedAt: now,
			Stale:     true,
		},
	}
	for i := range snaps {
		if err := db.AddSnapshot(ctx, &snaps[i]); err != nil {
			t.Fatalf("AddSnapshot failed: %v", err)
		}
	}

	got, err := db.ListSnapshots(ctx, Filter{})
	if err != nil {
		t.Fatalf("ListSnapshots failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(got))
	}
	latest := got[0]
	if *latest.Kp != 7 || !latest.Stale || len(latest.Alerts) != 1 || latest.Alerts[0].Severity() != "G3" {
		t.Errorf("latest snapshot = %+v", latest)
	}
	if latest.SolarWind == nil || latest.SolarWind.Speed != 612.4 {
		t.Errorf("solar wind = %+v", latest.SolarWind)
	}

	since := now.Add(-time.Minute)
	got, _ = db.ListSnapshots(ctx, Filter{Since: &since})
	if len(got) != 1 {
		t.Errorf("expected 1 snapshot since -1m, got %d", len(got))
	}
}

func ids(statuses []models.RiskStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = s.ID
	}
	return out
}
