package anomaly

import (
	"encoding/json"
	"sort"
)

// AlertState tells callers whether an alert summary carries data
type AlertState string

const (
	StateNoData  AlertState = "no_data"
	StateCurrent AlertState = "current"
	StateError   AlertState = "error"
)

// Alert summarizes the most recent scored reading of a meter
type Alert struct {
	State          AlertState `json:"state"`
	Date           string     `json:"date"`
	ConsumptionKWh float64    `json:"consumption_kwh"`
	IsAnomaly      bool       `json:"is_anomaly"`
	Score          float64    `json:"score"`
	PctVsBaseline  float64    `json:"pct_vs_baseline"`
	Message        string     `json:"message,omitempty"`
}

// MarshalJSON writes the full reading for a current alert and only the
// state (plus message) otherwise
func (a Alert) MarshalJSON() ([]byte, error) {
	if a.State == StateCurrent {
		type current Alert
		return json.Marshal(current(a))
	}
	return json.Marshal(struct {
		State   AlertState `json:"state"`
		Message string     `json:"message,omitempty"`
	}{State: a.State, Message: a.Message})
}

// SelectCurrent picks the chronologically last observation that has a verdict
func SelectCurrent(scored []Scored) Alert {
	withVerdict := make([]Scored, 0, len(scored))
	for _, s := range scored {
		if s.Verdict != nil {
			withVerdict = append(withVerdict, s)
		}
	}
	if len(withVerdict) == 0 {
		return Alert{State: StateNoData}
	}

	sort.SliceStable(withVerdict, func(i, j int) bool {
		return withVerdict[i].Period.Before(withVerdict[j].Period)
	})
	current := withVerdict[len(withVerdict)-1]

	return Alert{
		State:          StateCurrent,
		Date:           current.Date,
		ConsumptionKWh: current.ConsumptionKWh,
		IsAnomaly:      current.Verdict.IsAnomaly,
		Score:          current.Verdict.Score,
		PctVsBaseline:  current.Verdict.PctVsBaseline,
	}
}
