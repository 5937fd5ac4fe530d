package output

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"image/color"
	"path/filepath"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/torosent/crankbench/internal/aggregate"
	"github.com/torosent/crankbench/internal/metrics"
	"github.com/torosent/crankbench/internal/monitor"
)

var palette = []color.RGBA{
	{102, 126, 234, 255},
	{16, 185, 129, 255},
	{245, 158, 11, 255},
	{239, 68, 68, 255},
	{118, 75, 162, 255},
	{14, 165, 233, 255},
	{107, 114, 128, 255},
}

// Line is one plotted series.
type Line struct {
	Label string
	Y     []float64
}

// Chart is a line chart whose points are placed on labelled ticks, one per
// cycle or per run.
type Chart struct {
	Title  string
	XLabel string
	YLabel string
	Ticks  []string
	Lines  []Line
}

// Save renders the chart as a PNG file.
func (c Chart) Save(path string) error {
	p := plot.New()
	p.Title.Text = c.Title
	p.X.Label.Text = c.XLabel
	p.Y.Label.Text = c.YLabel

	ticks := make([]plot.Tick, len(c.Ticks))
	for i, label := range c.Ticks {
		ticks[i] = plot.Tick{Value: float64(i + 1), Label: label}
	}
	for i, l := range c.Lines {
		pts := make(plotter.XYs, 0, len(l.Y))
		for j, y := range l.Y {
			pts = append(pts, plotter.XY{X: float64(j + 1), Y: y})
		}
		line, points, err := plotter.NewLinePoints(pts)
		if err != nil {
			return fmt.Errorf("chart %q: %w", c.Title, err)
		}
		line.Color = palette[i%len(palette)]
		line.Width = vg.Points(2)
		points.Color = line.Color
		p.Add(line, points)
		p.Legend.Add(l.Label, line)
	}
	p.Legend.Top = true
	p.Legend.Left = true
	p.X.Tick.Marker = plot.ConstantTicks(ticks)
	p.X.Min = 0.5
	p.X.Max = float64(len(c.Ticks)) + 0.5
	p.Y.Min = 0
	p.Add(plotter.NewGrid())

	return p.Save(8*vg.Inch, 4*vg.Inch, path)
}

// ChartID names the chart files of a dimension pair from a hash of its key,
// so arbitrary values map to safe, stable file names.
func ChartID(prefix, key string) string {
	sum := md5.Sum([]byte(key))
	return prefix + "_" + hex.EncodeToString(sum[:])
}

// ChartFiles are the chart images of one dimension pair.
type ChartFiles struct {
	PerSecond string
	Response  string
}

// RenderCharts writes the throughput and response time charts of every
// (key, value) pair into dir. Files are relative to dir.
func RenderCharts(dir string, report *aggregate.Report) (map[[2]string]ChartFiles, error) {
	cycles := report.Cycles()
	ticks := make([]string, len(cycles))
	for i, c := range cycles {
		ticks[i] = strconv.Itoa(report.CVUs(c))
	}

	charts := make(map[[2]string]ChartFiles)
	for _, key := range report.Keys() {
		for _, value := range report.Values(key) {
			id := ChartID("bench", key+":"+value)
			results := make([]metrics.Result, len(cycles))
			lines := []Line{{Label: "min"}, {Label: "avg"}, {Label: "max"}}
			for i, c := range cycles {
				results[i], _ = report.Result(aggregate.GroupKey{Key: key, Value: value, Cycle: c})
				if len(lines) == 3 {
					for _, p := range results[i].Percentiles {
						lines = append(lines, Line{Label: p.Label()})
					}
				}
			}
			rps := Line{Label: "per second"}
			for _, r := range results {
				rps.Y = append(rps.Y, r.RPS)
				lines[0].Y = append(lines[0].Y, r.MinMs/1000)
				lines[1].Y = append(lines[1].Y, r.MeanMs/1000)
				lines[2].Y = append(lines[2].Y, r.MaxMs/1000)
				for j := 3; j < len(lines); j++ {
					// cycles without this pair plot zero
					lines[j].Y = append(lines[j].Y, r.PercentilesMs[lines[j].Label]/1000)
				}
			}

			files := ChartFiles{PerSecond: id + ".rps.png", Response: id + ".response.png"}
			perSecond := Chart{Title: value, XLabel: "CUs", YLabel: "per second", Ticks: ticks, Lines: []Line{rps}}
			if err := perSecond.Save(filepath.Join(dir, files.PerSecond)); err != nil {
				return nil, err
			}
			response := Chart{Title: value, XLabel: "CUs", YLabel: "duration (s)", Ticks: ticks, Lines: lines}
			if err := response.Save(filepath.Join(dir, files.Response)); err != nil {
				return nil, err
			}
			charts[[2]string{key, value}] = files
		}
	}
	return charts, nil
}

// MonitorChart is one rendered monitor series of a host.
type MonitorChart struct {
	Host   string
	Series string
	File   string
}

// RenderMonitorCharts plots every series the monitor plugins of each host
// derive from its samples.
func RenderMonitorCharts(dir string, report *aggregate.Report) ([]MonitorChart, error) {
	var out []MonitorChart
	for _, host := range report.Hosts() {
		samples := report.Monitors[host]
		if len(samples) == 0 {
			continue
		}
		plugins, err := monitor.Build(hostPlugins(report, host), monitor.Options{})
		if err != nil {
			return nil, err
		}
		start := samples[0].Time
		for _, s := range monitor.Parse(plugins, samples) {
			ticks := make([]string, len(s.Points))
			line := Line{Label: s.Unit, Y: make([]float64, len(s.Points))}
			for i, p := range s.Points {
				ticks[i] = strconv.FormatFloat(p.Time.Sub(start).Seconds(), 'f', 0, 64)
				line.Y[i] = p.Value
			}
			file := ChartID("monitor", host+":"+s.Name) + ".png"
			c := Chart{Title: host + " " + s.Name, XLabel: "time (s)", YLabel: s.Unit, Ticks: thin(ticks), Lines: []Line{line}}
			if err := c.Save(filepath.Join(dir, file)); err != nil {
				return nil, err
			}
			out = append(out, MonitorChart{Host: host, Series: s.Name, File: file})
		}
	}
	return out, nil
}

// hostPlugins lists the known plugins declared in the monitor configuration
// of a host.
func hostPlugins(report *aggregate.Report, host string) []string {
	known := make(map[string]bool)
	for _, name := range monitor.Names() {
		known[name] = true
	}
	var names []string
	for _, f := range report.MonitorConfig[host] {
		if f.Name == "plugin" && known[f.Value] {
			names = append(names, f.Value)
		}
	}
	if names == nil {
		names = monitor.Names()
	}
	return names
}

// thin blanks tick labels so that at most about ten remain readable.
func thin(ticks []string) []string {
	step := len(ticks)/10 + 1
	for i := range ticks {
		if i%step != 0 {
			ticks[i] = ""
		}
	}
	return ticks
}
