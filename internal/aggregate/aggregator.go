// Package aggregate turns telemetry logs into grouped statistics in a single
// streaming pass.
package aggregate

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/crankbench/internal/metrics"
	"github.com/torosent/crankbench/internal/telemetry"
)

// isRoot accepts the top-level element of current and legacy logs.
func isRoot(name string) bool {
	return name == telemetry.ElemRoot || name == telemetry.ElemLegacyRoot
}

// Options configure an aggregation pass.
type Options struct {
	Apdex          time.Duration
	Percentiles    []float64
	MeasureStartup bool
	Rules          []Rule
	Logger         *zap.Logger
}

// Aggregator consumes telemetry logs and routes every record into the
// accumulator of each (dimension key, dimension value, cycle) it declares.
type Aggregator struct {
	opts   Options
	log    *zap.Logger
	report *Report
}

// New returns an Aggregator with an empty report.
func New(opts Options) *Aggregator {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{opts: opts, log: log, report: newReport()}
}

// Report returns the statistics accumulated so far.
func (a *Aggregator) Report() *Report { return a.report }

// AggregateFiles aggregates one log, or several node logs merged into one
// stream.
func AggregateFiles(paths []string, opts Options) (*Report, error) {
	if len(paths) == 0 {
		return nil, errors.New("no result logs given")
	}
	a := New(opts)
	if len(paths) == 1 {
		f, err := os.Open(paths[0])
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if err := a.Consume(paths[0], f); err != nil {
			return nil, err
		}
		return a.Report(), nil
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(telemetry.MergeFiles(pw, paths))
	}()
	err := a.Consume(strings.Join(paths, "+"), pr)
	pr.Close()
	if err != nil {
		return nil, err
	}
	return a.Report(), nil
}

// Consume parses one log from r. name labels diagnostics.
func (a *Aggregator) Consume(name string, r io.Reader) error {
	dec := xml.NewDecoder(r)
	var stack []string
	root := telemetry.ElemRoot
	rootSeen := false
	rootClosed := false

	fail := func(kind FormatErrorKind, err error) error {
		line, _ := dec.InputPos()
		return &LogFormatError{Path: name, Kind: kind, Root: root, Line: line, Stack: append([]string(nil), stack...), Err: err}
	}
	classify := func(err error) error {
		switch {
		case !rootSeen:
			return fail(WrongShape, err)
		case isUnexpectedEOF(err) && !rootClosed:
			return fail(Truncated, err)
		}
		return fail(InvalidContent, err)
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			if !rootSeen {
				return fail(WrongShape, errors.New("no top-level element"))
			}
			if !rootClosed {
				return fail(Truncated, io.ErrUnexpectedEOF)
			}
			break
		}
		if err != nil {
			return classify(err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if len(stack) == 0 {
				if rootClosed || !isRoot(t.Name.Local) {
					return fail(WrongShape, fmt.Errorf("unexpected top-level element <%s>", t.Name.Local))
				}
				root = t.Name.Local
				rootSeen = true
				a.report.Version = attrValue(t.Attr, "version")
				a.report.Start = attrValue(t.Attr, "time")
				stack = append(stack, t.Name.Local)
				continue
			}
			stack = append(stack, t.Name.Local)
			if err := a.element(dec, t); err != nil {
				return classify(err)
			}
			stack = stack[:len(stack)-1]
		case xml.EndElement:
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				rootClosed = true
			}
		}
	}

	if a.report.Records == 0 {
		return fail(WrongShape, errors.New("no records found"))
	}
	return nil
}

func isUnexpectedEOF(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var serr *xml.SyntaxError
	return errors.As(err, &serr) && strings.Contains(serr.Msg, "unexpected EOF")
}

// element handles one child of the top-level element, consuming it entirely.
func (a *Aggregator) element(dec *xml.Decoder, start xml.StartElement) error {
	switch start.Name.Local {
	case telemetry.ElemConfig:
		key := attrValue(start.Attr, "key")
		a.report.setConfig(key, attrValue(start.Attr, "value"))
		return dec.Skip()
	case telemetry.ElemMonitor:
		a.monitor(start.Attr)
		return dec.Skip()
	case telemetry.ElemMonitorConfig:
		host := attrValue(start.Attr, "host")
		a.report.MonitorConfig[host] = append(a.report.MonitorConfig[host], telemetry.Field{
			Name:  attrValue(start.Attr, "key"),
			Value: attrValue(start.Attr, "value"),
		})
		return dec.Skip()
	case telemetry.ElemRecord, telemetry.ElemLegacyTest, telemetry.ElemLegacyResponse:
		var el recordElement
		if err := dec.DecodeElement(&el, &start); err != nil {
			return err
		}
		a.report.Records++
		a.record(start.Name.Local, &el)
		return nil
	}
	a.log.Debug("skipping unknown element", zap.String("element", start.Name.Local))
	return dec.Skip()
}

type recordElement struct {
	Attrs      []xml.Attr     `xml:",any,attr"`
	Aggregates []aggregateTag `xml:"aggregate"`
	Children   []childTag     `xml:",any"`
}

type aggregateTag struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type childTag struct {
	XMLName xml.Name
	Text    string `xml:",chardata"`
}

// field returns a record property, preferring a child element over an
// attribute of the same name.
func (el *recordElement) field(names ...string) string {
	for _, name := range names {
		for _, c := range el.Children {
			if c.XMLName.Local == name {
				return c.Text
			}
		}
	}
	for _, name := range names {
		if v := attrValue(el.Attrs, name); v != "" {
			return v
		}
	}
	return ""
}

func (a *Aggregator) record(shape string, el *recordElement) {
	r := a.report
	cycle := attrInt(el.Attrs, "cycle", telemetry.NoCycle)
	if cvus := attrInt(el.Attrs, "cvus", 0); cvus > r.cvus[cycle] {
		r.cvus[cycle] = cvus
	}

	if shape == telemetry.ElemRecord && !a.opts.MeasureStartup && attrValue(el.Attrs, "startup") == "True" {
		r.SkippedStartup++
		return
	}

	start, _ := telemetry.ParseTime(attrValue(el.Attrs, "time"))
	var duration time.Duration
	if f, err := strconv.ParseFloat(attrValue(el.Attrs, "duration"), 64); err == nil {
		duration = time.Duration(f * float64(time.Second))
	}

	outcome := telemetry.Outcome(el.field("result"))
	if outcome == "" {
		outcome = telemetry.Successful
	}
	sample := metrics.Sample{Duration: duration, Outcome: outcome}
	if outcome != telemetry.Successful {
		sample.Failure = telemetry.FailurePayload{
			ResponseCode: el.field("response_code", "code"),
			Headers:      el.field("headers"),
			Body:         el.field("body"),
			Traceback:    el.field("traceback"),
		}
	}

	boundary := r.boundaries[cycle]
	if boundary == nil {
		boundary = &metrics.CycleBoundary{}
		r.boundaries[cycle] = boundary
	}
	boundary.Observe(start, duration)

	add := func(key, value string) {
		value = Normalize(a.opts.Rules, key, value)
		g := GroupKey{Key: key, Value: value, Cycle: cycle}
		acc, ok := r.groups[g]
		if !ok {
			acc = metrics.NewAccumulator(boundary, metrics.Options{
				Apdex:       a.opts.Apdex,
				Percentiles: a.opts.Percentiles,
				Duration:    r.ConfiguredDuration(),
			})
			r.groups[g] = acc
		}
		acc.Add(sample)
	}

	switch shape {
	case telemetry.ElemRecord:
		for _, agg := range el.Aggregates {
			add(agg.Name, agg.Value)
		}
	case telemetry.ElemLegacyTest:
		add(telemetry.KeyTest, telemetry.TestValue(attrValue(el.Attrs, "name")))
	case telemetry.ElemLegacyResponse:
		url := attrValue(el.Attrs, "url")
		if !strings.HasPrefix(url, "http") {
			url = r.ConfigValue("server_url") + url
		}
		rtype := attrValue(el.Attrs, "type")
		desc := attrValue(el.Attrs, "description")
		step := attrInt(el.Attrs, "step", 0)
		number := attrInt(el.Attrs, "number", 0)
		add(telemetry.KeyResponseByStep, telemetry.ResponseByStep(step, number, rtype, url))
		add(telemetry.KeyResponseByDescription, telemetry.ResponseByDescription(rtype, url, desc))
		switch rtype {
		case "get", "post", "xmlrpc":
			add(telemetry.KeyPage, telemetry.ResponseByDescription(rtype, url, desc))
		}
	}
}

func (a *Aggregator) monitor(attrs []xml.Attr) {
	sample := telemetry.Sample{Host: attrValue(attrs, "host")}
	for _, at := range attrs {
		switch at.Name.Local {
		case "host":
		case "time":
			sample.Time, _ = telemetry.ParseTime(at.Value)
		default:
			sample.Fields = append(sample.Fields, telemetry.Field{Name: at.Name.Local, Value: at.Value})
		}
	}
	a.report.Monitors[sample.Host] = append(a.report.Monitors[sample.Host], sample)
}

func attrValue(attrs []xml.Attr, name string) string {
	for _, at := range attrs {
		if at.Name.Local == name {
			return at.Value
		}
	}
	return ""
}

func attrInt(attrs []xml.Attr, name string, def int) int {
	v := attrValue(attrs, name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
