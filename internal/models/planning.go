package models

import "time"

// PlanningWindow is a run of consecutive samples sharing one risk level.
type PlanningWindow struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Level     RiskLevel `json:"level"`
	Reasons   []Reason  `json:"reasons,omitempty"`
	WorstPDOP *float64  `json:"worst_pdop,omitempty"`
	WorstKp   *float64  `json:"worst_kp,omitempty"`
	Samples   int       `json:"samples"`
}

func (w PlanningWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// SampleCount is the number of instants From + i*step strictly before to.
// Series and planning windows both sample the half-open range [from, to);
// sample i covers [at, min(at+step, to)).
func SampleCount(from, to time.Time, step time.Duration) int {
	if step <= 0 || !to.After(from) {
		return 0
	}
	n := int(to.Sub(from) / step)
	if from.Add(time.Duration(n) * step).Before(to) {
		n++
	}
	return n
}
