package risk

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/mr1hm/gnss-integrity-monitor/internal/models"
)

var now = time.Date(2025, 5, 10, 18, 0, 0, 0, time.UTC)

func ptr(v float64) *float64 { return &v }

func geometry(pdop float64) models.DOPResult {
	return models.DOPOf(models.DOPMetrics{SatelliteCount: 9, PDOP: pdop, HDOP: pdop * 0.6, VDOP: pdop * 0.8, GDOP: pdop * 1.2})
}

func weather(kp *float64, alerts ...models.SpaceWeatherAlert) models.SpaceWeatherSnapshot {
	return models.SpaceWeatherSnapshot{Timestamp: now, Kp: kp, Alerts: alerts, AlertsKnown: true, FetchedAt: now.Add(-5 * time.Minute)}
}

func TestEvaluate_Scenarios(t *testing.T) {
	tests := []struct {
		name        string
		in          Input
		thresholds  Thresholds
		wantLevel   models.RiskLevel
		wantReasons []models.Reason
	}{
		{
			name:        "A: quiet sky and good geometry",
			in:          Input{DOP: geometry(1.8), Weather: weather(ptr(2)), Now: now},
			thresholds:  DefaultThresholds,
			wantLevel:   models.RiskGreen,
			wantReasons: []models.Reason{},
		},
		{
			name: "B: elevated Kp",
			in:   Input{DOP: geometry(1.8), Weather: weather(ptr(6)), Now: now},
			thresholds: func() Thresholds {
				th := DefaultThresholds
				th.KpAmber, th.KpRed = 4, 7
				return th
			}(),
			wantLevel:   models.RiskAmber,
			wantReasons: []models.Reason{models.ReasonKpHigh},
		},
		{
			name: "C: poor geometry regardless of Kp",
			in:   Input{DOP: geometry(6.5), Weather: weather(ptr(1)), Now: now},
			thresholds: func() Thresholds {
				th := DefaultThresholds
				th.PDOPRed = 6.0
				return th
			}(),
			wantLevel:   models.RiskRed,
			wantReasons: []models.Reason{models.ReasonDOPDegraded},
		},
		{
			name:        "insufficient geometry",
			in:          Input{DOP: models.NoGeometry(2, "2 satellites visible"), Weather: weather(ptr(1)), Now: now},
			thresholds:  DefaultThresholds,
			wantLevel:   models.RiskRed,
			wantReasons: []models.Reason{models.ReasonSourceUnavailable},
		},
		{
			name:        "kp missing everywhere",
			in:          Input{DOP: geometry(1.5), Weather: weather(nil), PrimaryUnavailable: true, Now: now},
			thresholds:  DefaultThresholds,
			wantLevel:   models.RiskRed,
			wantReasons: []models.Reason{models.ReasonSourceUnavailable},
		},
		{
			name:        "kp missing locally only",
			in:          Input{DOP: geometry(1.5), Weather: weather(nil), Now: now},
			thresholds:  DefaultThresholds,
			wantLevel:   models.RiskGreen,
			wantReasons: []models.Reason{},
		},
		{
			name: "alert at configured severity",
			in: Input{DOP: geometry(1.5), Weather: weather(ptr(3),
				models.SpaceWeatherAlert{ProductID: "K07A", Scale: models.ScaleGeomagnetic, Level: 3}), Now: now},
			thresholds:  DefaultThresholds,
			wantLevel:   models.RiskRed,
			wantReasons: []models.Reason{models.ReasonAlertActive},
		},
		{
			name: "alert below configured severity",
			in: Input{DOP: geometry(1.5), Weather: weather(ptr(3),
				models.SpaceWeatherAlert{ProductID: "A20F", Scale: models.ScaleGeomagnetic, Level: 2}), Now: now},
			thresholds:  DefaultThresholds,
			wantLevel:   models.RiskGreen,
			wantReasons: []models.Reason{},
		},
		{
			name:        "both red limits",
			in:          Input{DOP: geometry(7), Weather: weather(ptr(8)), Now: now},
			thresholds:  DefaultThresholds,
			wantLevel:   models.RiskRed,
			wantReasons: []models.Reason{models.ReasonKpHigh, models.ReasonDOPDegraded},
		},
		{
			name:        "kp on red boundary rounds to worse",
			in:          Input{DOP: geometry(1.5), Weather: weather(ptr(7)), Now: now},
			thresholds:  DefaultThresholds,
			wantLevel:   models.RiskRed,
			wantReasons: []models.Reason{models.ReasonKpHigh},
		},
		{
			name:        "pdop on amber boundary rounds to worse",
			in:          Input{DOP: geometry(4), Weather: weather(ptr(1)), Now: now},
			thresholds:  DefaultThresholds,
			wantLevel:   models.RiskAmber,
			wantReasons: []models.Reason{models.ReasonDOPDegraded},
		},
		{
			name:        "stale elements",
			in:          Input{DOP: geometry(1.5), Weather: weather(ptr(1)), ElementsFetchedAt: now.Add(-30 * time.Hour), Now: now},
			thresholds:  DefaultThresholds,
			wantLevel:   models.RiskAmber,
			wantReasons: []models.Reason{models.ReasonDataStale},
		},
		{
			name: "stale weather",
			in: Input{DOP: geometry(1.5), Weather: models.SpaceWeatherSnapshot{
				Kp: ptr(1), AlertsKnown: true, FetchedAt: now.Add(-2 * time.Hour),
			}, Now: now},
			thresholds:  DefaultThresholds,
			wantLevel:   models.RiskAmber,
			wantReasons: []models.Reason{models.ReasonDataStale},
		},
		{
			name:        "threshold breach outranks staleness",
			in:          Input{DOP: geometry(4.5), Weather: weather(ptr(1)), ElementsFetchedAt: now.Add(-30 * time.Hour), Now: now},
			thresholds:  DefaultThresholds,
			wantLevel:   models.RiskAmber,
			wantReasons: []models.Reason{models.ReasonDOPDegraded},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.in, tt.thresholds)
			if got.Level != tt.wantLevel {
				t.Errorf("level = %s, want %s (detail: %s)", got.Level, tt.wantLevel, got.Detail)
			}
			if !reflect.DeepEqual(got.Reasons, tt.wantReasons) {
				t.Errorf("reasons = %v, want %v", got.Reasons, tt.wantReasons)
			}
			if got.Source != models.SourceFallback {
				t.Errorf("source = %q, want fallback", got.Source)
			}
		})
	}
}

func TestEvaluate_IsTotal(t *testing.T) {
	doms := []models.DOPResult{{}, models.NoGeometry(0, "none"), geometry(1), geometry(4), geometry(9)}
	kps := []*float64{nil, ptr(0), ptr(5), ptr(9)}
	alertSets := [][]models.SpaceWeatherAlert{nil, {{Scale: models.ScaleRadioBlackout, Level: 5}}, {{Level: 0}}}
	fetched := []time.Time{{}, now, now.Add(-48 * time.Hour)}

	valid := map[models.RiskLevel]bool{models.RiskGreen: true, models.RiskAmber: true, models.RiskRed: true, models.RiskUnknown: true}
	for _, d := range doms {
		for _, kp := range kps {
			for _, alerts := range alertSets {
				for _, f := range fetched {
					for _, primaryDown := range []bool{false, true} {
						in := Input{
							DOP:                d,
							Weather:            models.SpaceWeatherSnapshot{Kp: kp, Alerts: alerts, FetchedAt: f},
							PrimaryUnavailable: primaryDown,
							ElementsFetchedAt:  f,
							Now:                now,
						}
						got := Evaluate(in, DefaultThresholds)
						if !valid[got.Level] {
							t.Fatalf("invalid level %q for %+v", got.Level, in)
						}
						if got.Level == models.RiskGreen && len(got.Reasons) != 0 {
							t.Fatalf("GREEN with reasons %v", got.Reasons)
						}
						if got.Level != models.RiskGreen && len(got.Reasons) == 0 {
							t.Fatalf("%s without reasons for %+v", got.Level, in)
						}
					}
				}
			}
		}
	}
}

func TestEvaluate_AlertScaleFilter(t *testing.T) {
	th := DefaultThresholds
	th.AlertScales = []models.AlertScale{models.ScaleGeomagnetic}

	in := Input{DOP: geometry(1.5), Weather: weather(ptr(2),
		models.SpaceWeatherAlert{Scale: models.ScaleRadioBlackout, Level: 4}), Now: now}
	if got := Evaluate(in, th); got.Level != models.RiskGreen {
		t.Errorf("radio blackout alert with geomagnetic-only filter: level %s", got.Level)
	}
}

func TestEvaluate_StatusFields(t *testing.T) {
	in := Input{Group: models.GroupGalileo, DOP: geometry(2.5), Weather: weather(ptr(3.33)), Now: now}
	got := Evaluate(in, DefaultThresholds)

	if !got.EvaluatedAt.Equal(now) || !got.ExpiresAt.Equal(now.Add(DefaultThresholds.StatusTTL)) {
		t.Errorf("times = %v / %v", got.EvaluatedAt, got.ExpiresAt)
	}
	if got.PDOP == nil || *got.PDOP != 2.5 || got.Kp == nil || *got.Kp != 3.33 {
		t.Errorf("pdop/kp = %v/%v", got.PDOP, got.Kp)
	}
	if got.SatelliteCount != 9 || got.Group != models.GroupGalileo {
		t.Errorf("count/group = %d/%s", got.SatelliteCount, got.Group)
	}
}

func TestRiskStatus_JSONRoundTrip(t *testing.T) {
	status := Evaluate(Input{DOP: geometry(7), Weather: weather(ptr(8)), Now: now}, DefaultThresholds)

	raw, err := json.Marshal(status)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back models.RiskStatus
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if back.Level != status.Level || !reflect.DeepEqual(back.Reasons, status.Reasons) || !back.EvaluatedAt.Equal(status.EvaluatedAt) {
		t.Errorf("round trip changed status:\n got %+v\nwant %+v", back, status)
	}
	if back.Source != models.SourceFallback {
		t.Errorf("source = %q", back.Source)
	}
}

func TestThresholds_Validate(t *testing.T) {
	if err := DefaultThresholds.Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
	bad := DefaultThresholds
	bad.KpAmber = 8
	if err := bad.Validate(); err == nil {
		t.Error("amber above red accepted")
	}
}
