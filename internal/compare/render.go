package compare

import (
	"fmt"
	"html/template"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/torosent/crankbench/internal/output"
)

// WriteDiff prints the paired table of every comparable key.
func WriteDiff(w io.Writer, d *Diff) {
	fmt.Fprintf(w, "%s\n\n", d.Name)
	fmt.Fprintf(w, "left:  %s\nright: %s\n", d.Left.Path, d.Right.Path)
	for _, key := range d.Comparable {
		fmt.Fprintf(w, "\n%s\n", key)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(tw, "  CUs\tleft rps\tright rps\tdelta\tleft avg\tright avg\tdelta\tleft apdex\tright apdex\t")
		for _, r := range d.Rows(key) {
			fmt.Fprintf(tw, "  %d\t%.2f\t%.2f\t%s\t%.3f\t%.3f\t%s\t%.3f\t%.3f\t\n",
				r.CVUs,
				r.Left.RPS, r.Right.RPS, delta(r.Left.RPS, r.Right.RPS),
				r.Left.MeanMs/1000, r.Right.MeanMs/1000, delta(r.Left.MeanMs, r.Right.MeanMs),
				r.Left.Apdex, r.Right.Apdex)
		}
		tw.Flush()
	}
	if len(d.LeftOnly) > 0 {
		fmt.Fprintf(w, "\nonly in left: %d keys\n", len(d.LeftOnly))
	}
	if len(d.RightOnly) > 0 {
		fmt.Fprintf(w, "only in right: %d keys\n", len(d.RightOnly))
	}
}

// WriteTrend prints the peak statistics of every key across the runs.
func WriteTrend(w io.Writer, t *Trend) {
	fmt.Fprintf(w, "%s\n", t.Name)
	for _, key := range t.Keys {
		fmt.Fprintf(w, "\n%s\n", key)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  run\tCUs\trps\tavg\tmax\tapdex\terrors %\t")
		for _, p := range t.Points(key) {
			fmt.Fprintf(tw, "  %s\t%d\t%.2f\t%.3f\t%.3f\t%.3f\t%.2f\t\n",
				p.Run, p.Point.CVUs, p.Point.RPS, p.Point.MeanMs/1000, p.Point.MaxMs/1000, p.Point.Apdex, p.Point.ErrorRate)
		}
		tw.Flush()
	}
}

func delta(left, right float64) string {
	if left == 0 {
		return "-"
	}
	return fmt.Sprintf("%+.1f%%", 100*(right-left)/left)
}

// RenderDiffCharts writes the throughput and response time charts of every
// comparable key into dir.
func RenderDiffCharts(dir string, d *Diff) (map[string]output.ChartFiles, error) {
	charts := make(map[string]output.ChartFiles)
	for _, key := range d.Comparable {
		rows := d.Rows(key)
		if len(rows) == 0 {
			continue
		}
		ticks := make([]string, len(rows))
		lRPS, rRPS := output.Line{Label: "left"}, output.Line{Label: "right"}
		columns := commonPercentiles(rows)
		times := []output.Line{{Label: "left avg"}, {Label: "right avg"}}
		for _, c := range columns {
			times = append(times, output.Line{Label: "left " + c}, output.Line{Label: "right " + c})
		}
		for i, r := range rows {
			ticks[i] = strconv.Itoa(r.CVUs)
			lRPS.Y = append(lRPS.Y, r.Left.RPS)
			rRPS.Y = append(rRPS.Y, r.Right.RPS)
			times[0].Y = append(times[0].Y, r.Left.MeanMs/1000)
			times[1].Y = append(times[1].Y, r.Right.MeanMs/1000)
			for j, c := range columns {
				times[2+2*j].Y = append(times[2+2*j].Y, r.Left.Percentiles[c]/1000)
				times[3+2*j].Y = append(times[3+2*j].Y, r.Right.Percentiles[c]/1000)
			}
		}

		id := output.ChartID("diff", key)
		files := output.ChartFiles{PerSecond: id + ".rps.png", Response: id + ".response.png"}
		perSecond := output.Chart{Title: key, XLabel: "CUs", YLabel: "per second", Ticks: ticks, Lines: []output.Line{lRPS, rRPS}}
		if err := perSecond.Save(filepath.Join(dir, files.PerSecond)); err != nil {
			return nil, err
		}
		response := output.Chart{Title: key, XLabel: "CUs", YLabel: "duration (s)", Ticks: ticks, Lines: times}
		if err := response.Save(filepath.Join(dir, files.Response)); err != nil {
			return nil, err
		}
		charts[key] = files
	}
	return charts, nil
}

// commonPercentiles lists the percentile columns both runs report.
func commonPercentiles(rows []Row) []string {
	var out []string
	for label := range rows[0].Left.Percentiles {
		if _, ok := rows[0].Right.Percentiles[label]; ok {
			out = append(out, label)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := strconv.ParseFloat(out[i][1:], 64)
		b, _ := strconv.ParseFloat(out[j][1:], 64)
		return a < b
	})
	return out
}

// RenderTrendCharts writes one throughput and one response time chart per
// key, with a point per run.
func RenderTrendCharts(dir string, t *Trend) (map[string]output.ChartFiles, error) {
	ticks := make([]string, len(t.Runs))
	for i := range t.Runs {
		ticks[i] = strconv.Itoa(i + 1)
	}
	charts := make(map[string]output.ChartFiles)
	for _, key := range t.Keys {
		rps := output.Line{Label: "per second"}
		times := []output.Line{{Label: "avg"}, {Label: "max"}}
		for _, p := range t.Points(key) {
			rps.Y = append(rps.Y, p.Point.RPS)
			times[0].Y = append(times[0].Y, p.Point.MeanMs/1000)
			times[1].Y = append(times[1].Y, p.Point.MaxMs/1000)
		}
		id := output.ChartID("trend", key)
		files := output.ChartFiles{PerSecond: id + ".rps.png", Response: id + ".response.png"}
		perSecond := output.Chart{Title: key, XLabel: "report", YLabel: "per second", Ticks: ticks, Lines: []output.Line{rps}}
		if err := perSecond.Save(filepath.Join(dir, files.PerSecond)); err != nil {
			return nil, err
		}
		response := output.Chart{Title: key, XLabel: "report", YLabel: "duration (s)", Ticks: ticks, Lines: times}
		if err := response.Save(filepath.Join(dir, files.Response)); err != nil {
			return nil, err
		}
		charts[key] = files
	}
	return charts, nil
}

type section struct {
	Key    string
	Charts output.ChartFiles
}

// WriteHTML renders a page listing the charts of a diff or a trend.
func WriteHTML(w io.Writer, title string, runs []*Run, keys []string, charts map[string]output.ChartFiles) error {
	data := struct {
		Title    string
		Runs     []*Run
		Sections []section
	}{Title: title, Runs: runs}
	for _, k := range keys {
		if files, ok := charts[k]; ok {
			data.Sections = append(data.Sections, section{Key: k, Charts: files})
		}
	}
	return pageTemplate.Execute(w, data)
}

var pageTemplate = template.Must(template.New("compare").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; background: #f5f7fa; color: #2c3e50; padding: 20px; }
        h1 { margin-bottom: 10px; }
        .charts { display: grid; grid-template-columns: repeat(auto-fit, minmax(480px, 1fr)); gap: 20px; margin-bottom: 30px; }
        .charts img { width: 100%; background: white; border: 1px solid #e5e7eb; border-radius: 6px; }
    </style>
</head>
<body>
    <h1>{{.Title}}</h1>
    <ol>
        {{range .Runs}}<li>{{.Name}}{{if .Start}} ({{.Start}}){{end}}</li>{{end}}
    </ol>
    {{range .Sections}}
    <h2>{{.Key}}</h2>
    <div class="charts">
        <img src="{{.Charts.PerSecond}}" alt="throughput">
        <img src="{{.Charts.Response}}" alt="response time">
    </div>
    {{end}}
</body>
</html>
`))
