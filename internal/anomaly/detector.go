package anomaly

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/septivank/energy-consumption-notifier/tools/timeparser"
	"gonum.org/v1/gonum/stat"
)

// ErrNoObservations is returned when the detector is called without any history
var ErrNoObservations = errors.New("anomaly: no observations to score")

// Settings holds the tuning knobs of the quarterly detector
type Settings struct {
	ContaminationMin           float64
	ContaminationMax           float64
	SmallBaselineContamination float64
	SmallBaselineSize          int
	PctGuard                   float64
	IQRMultiplier              float64
	StdMultiplier              float64
	Trees                      int
}

// DefaultSettings returns the thresholds used in production
func DefaultSettings() Settings {
	return Settings{
		ContaminationMin:           0.05,
		ContaminationMax:           0.3,
		SmallBaselineContamination: 0.5,
		SmallBaselineSize:          3,
		PctGuard:                   200,
		IQRMultiplier:              3,
		StdMultiplier:              4,
		Trees:                      100,
	}
}

// Observation is one consumption point of a meter's history
type Observation struct {
	ID             int64
	Date           string
	ConsumptionKWh float64
}

// Verdict is the outcome of scoring one observation against its baseline
type Verdict struct {
	IsAnomaly     bool    `json:"is_anomaly"`
	Score         float64 `json:"score"`
	PctVsBaseline float64 `json:"pct_vs_baseline"`
}

// Scored pairs an observation with its verdict. Verdict is nil when the
// date could not be parsed or the quarter has no earlier history.
type Scored struct {
	Observation
	Period  time.Time
	Quarter string
	Verdict *Verdict
}

// Detector scores consumption histories quarter by quarter
type Detector struct {
	settings Settings
}

// NewDetector creates a new anomaly detector with the specified settings
func NewDetector(settings Settings) *Detector {
	return &Detector{settings: settings}
}

type quarterKey struct {
	year    int
	quarter int
}

type baselineStats struct {
	mean, std, q1, q3 float64
}

// Score evaluates the full history of one (user, meter) pair. The result
// keeps the input order and always has one entry per observation.
func (d *Detector) Score(observations []Observation) ([]Scored, error) {
	if len(observations) == 0 {
		return nil, ErrNoObservations
	}

	scored := make([]Scored, len(observations))
	parsed := make([]int, 0, len(observations))
	for i, obs := range observations {
		scored[i].Observation = obs
		period, ok := timeparser.ParseMonthKey(obs.Date)
		if !ok {
			continue
		}
		scored[i].Period = period
		scored[i].Quarter = fmt.Sprintf("%dQ%d", period.Year(), quarterOf(period))
		parsed = append(parsed, i)
	}

	if len(parsed) < 2 {
		return scored, nil
	}

	groups := make(map[quarterKey][]int)
	for _, i := range parsed {
		key := quarterKey{year: scored[i].Period.Year(), quarter: quarterOf(scored[i].Period)}
		groups[key] = append(groups[key], i)
	}

	for key, members := range groups {
		baseline := d.baselineFor(key, scored, parsed)
		if len(baseline) == 0 {
			continue
		}

		st := describe(baseline)
		forest := fitIsolationForest(baseline, d.settings.Trees, d.contamination(len(baseline)))

		for _, i := range members {
			v := scored[i].ConsumptionKWh
			decision := forest.decision(v)
			pct := percentVsMean(v, st.mean)

			verdict := &Verdict{
				IsAnomaly:     decision < 0 || d.breaksGuards(v, pct, st),
				Score:         decision,
				PctVsBaseline: math.Round(pct*10) / 10,
			}
			scored[i].Verdict = verdict
		}
	}

	return scored, nil
}

// baselineFor collects same-quarter values from earlier years, falling back
// to every earlier-year value when the quarter has no history.
func (d *Detector) baselineFor(key quarterKey, scored []Scored, parsed []int) []float64 {
	var sameQuarter, earlier []float64
	for _, i := range parsed {
		year := scored[i].Period.Year()
		if year >= key.year {
			continue
		}
		earlier = append(earlier, scored[i].ConsumptionKWh)
		if quarterOf(scored[i].Period) == key.quarter {
			sameQuarter = append(sameQuarter, scored[i].ConsumptionKWh)
		}
	}
	if len(sameQuarter) > 0 {
		return sameQuarter
	}
	return earlier
}

func (d *Detector) contamination(baselineSize int) float64 {
	if baselineSize <= d.settings.SmallBaselineSize {
		return d.settings.SmallBaselineContamination
	}
	c := 1 / float64(baselineSize)
	return math.Max(d.settings.ContaminationMin, math.Min(c, d.settings.ContaminationMax))
}

// breaksGuards applies the rule-based checks that back up the model on
// small baselines.
func (d *Detector) breaksGuards(v, pct float64, st baselineStats) bool {
	if st.mean != 0 && math.Abs(pct) > d.settings.PctGuard {
		return true
	}
	if iqr := st.q3 - st.q1; iqr > 0 {
		if v > st.q3+d.settings.IQRMultiplier*iqr || v < st.q1-d.settings.IQRMultiplier*iqr {
			return true
		}
	}
	if st.std > 0 && math.Abs(v-st.mean) > d.settings.StdMultiplier*st.std {
		return true
	}
	return false
}

func describe(values []float64) baselineStats {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	st := baselineStats{
		mean: stat.Mean(sorted, nil),
		q1:   percentile(sorted, 0.25),
		q3:   percentile(sorted, 0.75),
	}
	if len(sorted) > 1 {
		st.std = stat.StdDev(sorted, nil)
	}
	return st
}

// percentile interpolates linearly between the two closest ranks of an
// ascending slice, placing p at rank p*(n-1)
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := p * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower < 0 {
		return sorted[0]
	}
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	return sorted[lower] + (pos-float64(lower))*(sorted[upper]-sorted[lower])
}

func percentVsMean(v, mean float64) float64 {
	if mean == 0 {
		return 0
	}
	return (v - mean) / mean * 100
}

func quarterOf(t time.Time) int {
	return (int(t.Month())-1)/3 + 1
}
