package compare

import (
	"errors"
	"path/filepath"
)

// Trend tracks the statistics of several runs, oldest first. Each run is
// represented by its cycle with the most users.
type Trend struct {
	Name string
	Runs []*Run
	// Keys lists the keys present in every run.
	Keys []string
}

// TrendPoint is the peak statistics of one run.
type TrendPoint struct {
	Run   string
	Point Point
}

// NewTrend keeps the keys common to all runs.
func NewTrend(runs []*Run) (*Trend, error) {
	if len(runs) < 2 {
		return nil, errors.New("a trend needs at least two reports")
	}
	t := &Trend{Name: "trend-" + filepath.Base(runs[len(runs)-1].Path), Runs: runs}
	for _, k := range runs[0].Keys() {
		common := true
		for _, r := range runs[1:] {
			if _, ok := r.Stats[k]; !ok {
				common = false
				break
			}
		}
		if common {
			t.Keys = append(t.Keys, k)
		}
	}
	return t, nil
}

// Points returns the peak statistics of key for every run.
func (t *Trend) Points(key string) []TrendPoint {
	out := make([]TrendPoint, 0, len(t.Runs))
	for _, r := range t.Runs {
		p, _ := r.Peak(key)
		out = append(out, TrendPoint{Run: r.Name, Point: p})
	}
	return out
}
