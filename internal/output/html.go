package output

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/torosent/crankbench/internal/aggregate"
	"github.com/torosent/crankbench/internal/metrics"
	"github.com/torosent/crankbench/internal/telemetry"
	"github.com/torosent/crankbench/internal/threshold"
)

// HTMLReportData contains all data needed for the HTML report template.
type HTMLReportData struct {
	GeneratedAt      string
	Title            string
	Start            string
	Metadata         ReportMetadata
	Totals           Totals
	Cycles           []CycleRow
	Dimensions       []DimensionSection
	ThresholdSummary *ThresholdSummary
	Monitors         []MonitorChart
}

// ReportMetadata contains configuration information about the bench.
type ReportMetadata struct {
	TargetURL   string
	Description string
	Config      []telemetry.Field
}

// Totals sums the test records of every cycle.
type Totals struct {
	Records   int
	Tests     int64
	Successes int64
	Failures  int64
	Errors    int64
	Skipped   int
}

// CycleRow describes one cycle.
type CycleRow struct {
	Cycle    int
	CVUs     int
	Duration time.Duration
}

// DimensionSection renders every value of one dimension key.
type DimensionSection struct {
	Key    string
	Values []ValueSection
}

// ValueSection renders one dimension value: its charts and a row per cycle.
type ValueSection struct {
	Value       string
	Charts      *ChartFiles
	Percentiles []string
	Rows        []ValueRow
	Errors      []metrics.ErrorSummary
}

// ThresholdSummary counts passed and failed gates.
type ThresholdSummary struct {
	Total   int                   `json:"total"`
	Passed  int                   `json:"passed"`
	Failed  int                   `json:"failed"`
	Results []ThresholdResultJSON `json:"results"`
}

// ThresholdResultJSON is one evaluated gate.
type ThresholdResultJSON struct {
	Threshold string  `json:"threshold"`
	Metric    string  `json:"metric"`
	Aggregate string  `json:"aggregate"`
	Operator  string  `json:"operator"`
	Expected  float64 `json:"expected"`
	Value     string  `json:"value"`
	CVUs      int     `json:"cvus"`
	Actual    float64 `json:"actual"`
	Pass      bool    `json:"pass"`
	Message   string  `json:"message"`
}

// ValueRow is the statistics of one cycle.
type ValueRow struct {
	CVUs  int
	Stats metrics.Result
}

// GenerateHTMLReport generates a standalone HTML report. Chart files are
// referenced relative to the report.
func GenerateHTMLReport(w io.Writer, report *aggregate.Report, charts map[[2]string]ChartFiles, monitors []MonitorChart, thresholdResults []threshold.Result) error {
	data := HTMLReportData{
		GeneratedAt: time.Now().Format(time.RFC3339),
		Title:       report.ConfigValue(ConfigTestName),
		Start:       report.Start,
		Metadata: ReportMetadata{
			TargetURL:   report.ConfigValue(ConfigServerURL),
			Description: report.ConfigValue("description"),
			Config:      report.Config(),
		},
		Totals:           Totals{Records: report.Records, Skipped: report.SkippedStartup},
		ThresholdSummary: summarizeThresholds(thresholdResults),
		Monitors:         monitors,
	}
	if data.Title == "" {
		data.Title = "Bench"
	}

	for _, c := range report.Cycles() {
		data.Cycles = append(data.Cycles, CycleRow{Cycle: c, CVUs: report.CVUs(c), Duration: report.Boundary(c).Duration()})
	}
	for _, key := range report.Keys() {
		section := DimensionSection{Key: key}
		for _, value := range report.Values(key) {
			vs := ValueSection{Value: value}
			if files, ok := charts[[2]string{key, value}]; ok {
				vs.Charts = &files
			}
			for _, c := range report.Cycles() {
				r, ok := report.Result(aggregate.GroupKey{Key: key, Value: value, Cycle: c})
				if !ok {
					continue
				}
				if vs.Percentiles == nil {
					for _, p := range r.Percentiles {
						vs.Percentiles = append(vs.Percentiles, p.Label())
					}
				}
				vs.Rows = append(vs.Rows, ValueRow{CVUs: report.CVUs(c), Stats: r})
				vs.Errors = append(vs.Errors, r.Summaries...)
				if key == telemetry.KeyTest {
					data.Totals.Tests += r.Count
					data.Totals.Successes += r.Successes
					data.Totals.Failures += r.Failures
					data.Totals.Errors += r.Errors
				}
			}
			section.Values = append(section.Values, vs)
		}
		data.Dimensions = append(data.Dimensions, section)
	}

	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"formatDuration": func(d time.Duration) string {
			return d.Round(time.Millisecond).String()
		},
		"formatFloat": func(f float64) string {
			return fmt.Sprintf("%.2f", f)
		},
		"formatSeconds": func(ms float64) string {
			return fmt.Sprintf("%.3f", ms/1000)
		},
		"percentile": func(m map[string]float64, label string) float64 {
			return m[label]
		},
		"formatPercent": func(part, total int64) string {
			if total == 0 {
				return "0.0"
			}
			return fmt.Sprintf("%.1f", (float64(part)/float64(total))*100)
		},
	}).Parse(htmlTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	if err := tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}

	return nil
}

func summarizeThresholds(results []threshold.Result) *ThresholdSummary {
	if len(results) == 0 {
		return nil
	}
	summary := &ThresholdSummary{
		Total:   len(results),
		Results: make([]ThresholdResultJSON, len(results)),
	}
	for i, tr := range results {
		summary.Results[i] = ThresholdResultJSON{
			Threshold: tr.Threshold.Raw,
			Metric:    tr.Threshold.Metric,
			Aggregate: tr.Threshold.Aggregate,
			Operator:  tr.Threshold.Operator,
			Expected:  tr.Threshold.Value,
			Value:     tr.Group.Value,
			CVUs:      tr.CVUs,
			Actual:    tr.Actual,
			Pass:      tr.Pass,
			Message:   tr.Message,
		}
		if tr.Pass {
			summary.Passed++
		} else {
			summary.Failed++
		}
	}
	return summary
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}} - Bench Report</title>
    <style>
        * {
            margin: 0;
            padding: 0;
            box-sizing: border-box;
        }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
            background: #f5f7fa;
            color: #2c3e50;
            line-height: 1.6;
            padding: 20px;
        }
        .container {
            max-width: 1400px;
            margin: 0 auto;
            background: white;
            border-radius: 8px;
            box-shadow: 0 2px 8px rgba(0,0,0,0.1);
            overflow: hidden;
        }
        header {
            background: linear-gradient(135deg, #667eea 0%, #764ba2 100%);
            color: white;
            padding: 30px 40px;
        }
        header h1 {
            font-size: 2rem;
            margin-bottom: 10px;
        }
        header .meta {
            opacity: 0.9;
            font-size: 0.9rem;
        }
        .content {
            padding: 40px;
        }
        .grid {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(250px, 1fr));
            gap: 20px;
            margin-bottom: 40px;
        }
        .card {
            background: #f8f9fa;
            border-radius: 8px;
            padding: 20px;
            border-left: 4px solid #667eea;
        }
        .card h3 {
            font-size: 0.9rem;
            color: #6c757d;
            text-transform: uppercase;
            letter-spacing: 0.5px;
            margin-bottom: 10px;
        }
        .card .value {
            font-size: 2rem;
            font-weight: bold;
            color: #2c3e50;
        }
        .card .subvalue {
            font-size: 0.85rem;
            color: #6c757d;
            margin-top: 5px;
        }
        .card.success {
            border-left-color: #10b981;
        }
        .card.error {
            border-left-color: #ef4444;
        }
        .card.warning {
            border-left-color: #f59e0b;
        }
        .section {
            margin-bottom: 40px;
        }
        .section h2 {
            font-size: 1.5rem;
            margin-bottom: 20px;
            padding-bottom: 10px;
            border-bottom: 2px solid #e5e7eb;
        }
        .chart-container {
            background: white;
            border-radius: 8px;
            padding: 20px;
            margin-bottom: 30px;
            border: 1px solid #e5e7eb;
        }
        .chart-container h3 {
            font-size: 1.1rem;
            margin-bottom: 15px;
            color: #4b5563;
        }
        .chart {
            width: 100%;
            height: 300px;
        }
        table {
            width: 100%;
            border-collapse: collapse;
            background: white;
        }
        th, td {
            text-align: left;
            padding: 12px;
            border-bottom: 1px solid #e5e7eb;
        }
        th {
            background: #f8f9fa;
            font-weight: 600;
            color: #4b5563;
            font-size: 0.9rem;
            text-transform: uppercase;
            letter-spacing: 0.5px;
        }
        tr:hover {
            background: #f8f9fa;
        }
        .badge {
            display: inline-block;
            padding: 4px 12px;
            border-radius: 12px;
            font-size: 0.85rem;
            font-weight: 600;
        }
        .badge-success {
            background: #d1fae5;
            color: #065f46;
        }
        .badge-error {
            background: #fee2e2;
            color: #991b1b;
        }
        .latency-grid {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(150px, 1fr));
            gap: 15px;
            margin-top: 20px;
        }
        .latency-item {
            background: #f8f9fa;
            padding: 15px;
            border-radius: 6px;
            text-align: center;
        }
        .latency-item .label {
            font-size: 0.85rem;
            color: #6c757d;
            margin-bottom: 5px;
        }
        .latency-item .value {
            font-size: 1.3rem;
            font-weight: bold;
            color: #2c3e50;
        }
        .chart-row {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(480px, 1fr));
            gap: 20px;
            margin: 15px 0 30px;
        }
        .chart-row img {
            width: 100%;
            border: 1px solid #e5e7eb;
            border-radius: 6px;
        }
        td.num, th.num {
            text-align: right;
            font-variant-numeric: tabular-nums;
        }
        pre {
            white-space: pre-wrap;
            font-size: 0.8rem;
            background: #f8f9fa;
            padding: 10px;
            border-radius: 6px;
        }
        .no-data {
            text-align: center;
            padding: 40px;
            color: #6c757d;
            font-style: italic;
        }
    </style>
</head>
<body>
    <div class="container">
        <header>
            <h1>{{.Title}}</h1>
            {{if .Metadata.TargetURL}}
            <div class="meta" style="margin-top: 5px;">Target: <a href="{{.Metadata.TargetURL}}" style="color: white; text-decoration: underline;">{{.Metadata.TargetURL}}</a></div>
            {{end}}
            {{if .Metadata.Description}}<div class="meta">{{.Metadata.Description}}</div>{{end}}
            <div class="meta">Started: {{.Start}} | Generated: {{.GeneratedAt}}</div>
        </header>

        <div class="content">
            <div class="grid">
                <div class="card">
                    <h3>Tests</h3>
                    <div class="value">{{.Totals.Tests}}</div>
                    <div class="subvalue">{{.Totals.Records}} records{{if .Totals.Skipped}}, {{.Totals.Skipped}} during startup{{end}}</div>
                </div>
                <div class="card success">
                    <h3>Successful</h3>
                    <div class="value">{{.Totals.Successes}}</div>
                    <div class="subvalue">{{formatPercent .Totals.Successes .Totals.Tests}}%</div>
                </div>
                <div class="card warning">
                    <h3>Failures</h3>
                    <div class="value">{{.Totals.Failures}}</div>
                    <div class="subvalue">{{formatPercent .Totals.Failures .Totals.Tests}}%</div>
                </div>
                <div class="card error">
                    <h3>Errors</h3>
                    <div class="value">{{.Totals.Errors}}</div>
                    <div class="subvalue">{{formatPercent .Totals.Errors .Totals.Tests}}%</div>
                </div>
            </div>

            {{if .Cycles}}
            <div class="section">
                <h2>Cycles</h2>
                <table>
                    <thead>
                        <tr><th>Cycle</th><th class="num">CUs</th><th class="num">Duration</th></tr>
                    </thead>
                    <tbody>
                        {{range .Cycles}}
                        <tr><td>{{.Cycle}}</td><td class="num">{{.CVUs}}</td><td class="num">{{formatDuration .Duration}}</td></tr>
                        {{end}}
                    </tbody>
                </table>
            </div>
            {{end}}

            {{if .ThresholdSummary}}
            <div class="section">
                <h2>Thresholds ({{.ThresholdSummary.Passed}}/{{.ThresholdSummary.Total}} Passed)</h2>
                <table>
                    <thead>
                        <tr>
                            <th>Threshold</th>
                            <th>Value</th>
                            <th class="num">CUs</th>
                            <th>Expected</th>
                            <th class="num">Actual</th>
                            <th>Status</th>
                        </tr>
                    </thead>
                    <tbody>
                        {{range .ThresholdSummary.Results}}
                        <tr>
                            <td>{{.Threshold}}</td>
                            <td>{{.Value}}</td>
                            <td class="num">{{.CVUs}}</td>
                            <td>{{.Operator}} {{formatFloat .Expected}}</td>
                            <td class="num">{{formatFloat .Actual}}</td>
                            <td>
                                {{if .Pass}}
                                <span class="badge badge-success">✓ PASS</span>
                                {{else}}
                                <span class="badge badge-error">✗ FAIL</span>
                                {{end}}
                            </td>
                        </tr>
                        {{end}}
                    </tbody>
                </table>
            </div>
            {{end}}

            {{range .Dimensions}}
            <div class="section">
                <h2>{{.Key}}</h2>
                {{range .Values}}
                <div class="chart-container">
                    <h3>{{.Value}}</h3>
                    {{if .Charts}}
                    <div class="chart-row">
                        <img src="{{.Charts.PerSecond}}" alt="throughput">
                        <img src="{{.Charts.Response}}" alt="response time">
                    </div>
                    {{end}}
                    <table>
                        <thead>
                            <tr>
                                <th class="num">CUs</th>
                                <th class="num">Count</th>
                                <th class="num">Failures</th>
                                <th class="num">Errors</th>
                                <th class="num">RPS</th>
                                <th class="num">Apdex</th>
                                <th class="num">Min</th>
                                <th class="num">Avg</th>
                                <th class="num">Max</th>
                                {{range .Percentiles}}<th class="num">{{.}}</th>{{end}}
                            </tr>
                        </thead>
                        <tbody>
                            {{$pcts := .Percentiles}}
                            {{range .Rows}}
                            <tr>
                                <td class="num">{{.CVUs}}</td>
                                <td class="num">{{.Stats.Count}}</td>
                                <td class="num">{{.Stats.Failures}}</td>
                                <td class="num">{{.Stats.Errors}}</td>
                                <td class="num">{{formatFloat .Stats.RPS}}</td>
                                <td class="num" title="{{.Stats.ApdexRating}}">{{formatFloat .Stats.Apdex}}</td>
                                <td class="num">{{formatSeconds .Stats.MinMs}}</td>
                                <td class="num">{{formatSeconds .Stats.MeanMs}}</td>
                                <td class="num">{{formatSeconds .Stats.MaxMs}}</td>
                                {{$row := .}}
                                {{range $pcts}}<td class="num">{{formatSeconds (percentile $row.Stats.PercentilesMs .)}}</td>{{end}}
                            </tr>
                            {{end}}
                        </tbody>
                    </table>
                    {{range .Errors}}
                    <h3>{{.Title}} ({{.Count}})</h3>
                    {{if .Headers}}<pre>{{.Headers}}</pre>{{end}}
                    {{if .Body}}<pre>{{.Body}}</pre>{{end}}
                    {{if .Traceback}}<pre>{{.Traceback}}</pre>{{end}}
                    {{end}}
                </div>
                {{end}}
            </div>
            {{end}}

            {{if .Monitors}}
            <div class="section">
                <h2>Monitored hosts</h2>
                <div class="chart-row">
                    {{range .Monitors}}
                    <img src="{{.File}}" alt="{{.Host}} {{.Series}}">
                    {{end}}
                </div>
            </div>
            {{end}}

            {{if .Metadata.Config}}
            <div class="section">
                <h2>Configuration</h2>
                <table>
                    <tbody>
                        {{range .Metadata.Config}}
                        <tr><td><strong>{{.Name}}</strong></td><td>{{.Value}}</td></tr>
                        {{end}}
                    </tbody>
                </table>
            </div>
            {{end}}
        </div>
    </div>
</body>
</html>
`
