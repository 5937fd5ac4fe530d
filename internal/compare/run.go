// Package compare builds differential and trend reports from the stats.json
// files of earlier bench reports.
package compare

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/tidwall/gjson"

	"github.com/torosent/crankbench/internal/output"
)

// Point is the statistics of one dimension pair in one cycle.
type Point struct {
	CVUs        int
	Count       int64
	Failures    int64
	Errors      int64
	RPS         float64
	MinMs       float64
	MeanMs      float64
	MaxMs       float64
	Apdex       float64
	ErrorRate   float64
	Percentiles map[string]float64
}

// Run is the statistics of one bench report. Keys are "Key:Value".
type Run struct {
	Name   string
	Path   string
	Start  string
	Config map[string]string
	Stats  map[string][]Point
	data   []byte
}

// ErrNoStats is returned when a report carries no statistics file.
var ErrNoStats = errors.New("no " + output.StatsFile + " in report")

// Load reads a bench report directory, or its stats.json directly.
func Load(path string) (*Run, error) {
	file := path
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		file = filepath.Join(path, output.StatsFile)
	} else {
		path = filepath.Dir(path)
	}
	data, err := os.ReadFile(file)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrNoStats)
	}
	if err != nil {
		return nil, err
	}
	run, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	run.Path = abs
	run.Name = filepath.Base(abs)
	return run, nil
}

// Parse reads the statistics of a stats.json document.
func Parse(data []byte) (*Run, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid statistics document")
	}
	doc := gjson.ParseBytes(data)
	if !doc.Get("dimensions").IsArray() {
		return nil, errors.New("statistics document has no dimensions")
	}

	run := &Run{
		Start:  doc.Get("start").String(),
		Config: make(map[string]string),
		Stats:  make(map[string][]Point),
		data:   data,
	}
	doc.Get("config").ForEach(func(k, v gjson.Result) bool {
		run.Config[k.String()] = v.String()
		return true
	})
	for _, dim := range doc.Get("dimensions").Array() {
		key := dim.Get("key").String()
		for _, val := range dim.Get("values").Array() {
			name := key + ":" + val.Get("value").String()
			for _, c := range val.Get("cycles").Array() {
				run.Stats[name] = append(run.Stats[name], pointOf(c))
			}
		}
	}
	return run, nil
}

func pointOf(c gjson.Result) Point {
	s := c.Get("stats")
	p := Point{
		CVUs:      int(c.Get("cvus").Int()),
		Count:     s.Get("count").Int(),
		Failures:  s.Get("failures").Int(),
		Errors:    s.Get("errors").Int(),
		RPS:       s.Get("rps").Float(),
		MinMs:     s.Get("min_ms").Float(),
		MeanMs:    s.Get("mean_ms").Float(),
		MaxMs:     s.Get("max_ms").Float(),
		Apdex:     s.Get("apdex").Float(),
		ErrorRate: s.Get("error_rate").Float(),
	}
	if pct := s.Get("percentiles_ms"); pct.IsObject() {
		p.Percentiles = make(map[string]float64)
		pct.ForEach(func(k, v gjson.Result) bool {
			p.Percentiles[k.String()] = v.Float()
			return true
		})
	}
	return p
}

// Keys returns the "Key:Value" names of the run in sorted order.
func (r *Run) Keys() []string {
	keys := make([]string, 0, len(r.Stats))
	for k := range r.Stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// At returns the statistics of key for the given number of users.
func (r *Run) At(key string, cvus int) (Point, bool) {
	for _, p := range r.Stats[key] {
		if p.CVUs == cvus {
			return p, true
		}
	}
	return Point{}, false
}

// Peak returns the statistics of key at the highest number of users.
func (r *Run) Peak(key string) (Point, bool) {
	points := r.Stats[key]
	if len(points) == 0 {
		return Point{}, false
	}
	peak := points[0]
	for _, p := range points[1:] {
		if p.CVUs > peak.CVUs {
			peak = p
		}
	}
	return peak, true
}

// StoreData writes the statistics the run was loaded from to path.
func (r *Run) StoreData(path string) error {
	return os.WriteFile(path, r.data, 0o644)
}
