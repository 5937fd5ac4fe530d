package aggregate_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/torosent/crankbench/internal/aggregate"
	"github.com/torosent/crankbench/internal/telemetry"
)

type pair struct{ key, value string }

func buildLog(t testing.TB, records [][]pair) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := telemetry.NewWriter(&buf)
	start := time.Unix(1700000000, 0)
	if err := w.Start("1.0.0", start); err != nil {
		t.Fatal(err)
	}
	if err := w.Config("duration", "10"); err != nil {
		t.Fatal(err)
	}
	for i, pairs := range records {
		rec := telemetry.Record{
			Identity: telemetry.Identity{TestName: "test_shop", Cycle: 0, CVUs: 2, ThreadID: i % 2, Bench: true},
			Start:    start.Add(time.Duration(i) * 100 * time.Millisecond),
			Duration: 50 * time.Millisecond,
			Outcome:  telemetry.Successful,
		}
		for _, p := range pairs {
			rec.Aggregates = append(rec.Aggregates, telemetry.Aggregate{Key: p.key, Value: p.value})
		}
		if err := w.WriteRecord(rec); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func aggregateBytes(t testing.TB, data []byte, opts aggregate.Options) *aggregate.Report {
	t.Helper()
	a := aggregate.New(opts)
	if err := a.Consume("test.xml", bytes.NewReader(data)); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	return a.Report()
}

func TestNormalizationCollapsesValues(t *testing.T) {
	rules, err := aggregate.ParseRules([]byte(`[["Page", "/item/\\d+", "/item/{id}"]]`))
	if err != nil {
		t.Fatalf("ParseRules: %v", err)
	}
	data := buildLog(t, [][]pair{
		{{"Page", "/item/12345"}},
		{{"Page", "/item/67890"}},
		{{"Page", "/item/12345"}},
	})
	report := aggregateBytes(t, data, aggregate.Options{Rules: rules})

	values := report.Values("Page")
	if len(values) != 1 || values[0] != "/item/{id}" {
		t.Fatalf("expected a single normalized value, got %v", values)
	}
	res, ok := report.Result(aggregate.GroupKey{Key: "Page", Value: "/item/{id}", Cycle: 0})
	if !ok {
		t.Fatal("normalized group missing")
	}
	if res.Count != 3 {
		t.Errorf("expected count 3, got %d", res.Count)
	}
}

func TestNormalizationRulesApplyInOrder(t *testing.T) {
	rules, err := aggregate.ParseRules([]byte(`
- ["Page", "/item/\\d+", "/item/N"]
- ["Pa", "/item/N", "/product"]
- ["Other", ".*", "x"]
`))
	if err != nil {
		t.Fatal(err)
	}
	if got := aggregate.Normalize(rules, "Page", "/item/7?x=1"); got != "/product?x=1" {
		t.Errorf("Normalize = %q", got)
	}
	if got := aggregate.Normalize(rules, "APage", "/item/7"); got != "/item/7" {
		t.Errorf("key pattern must match from the start, got %q", got)
	}
}

func TestParseRulesRejectsMalformedEntries(t *testing.T) {
	for _, in := range []string{`[["a", "b"]]`, `[["a", "(", "c"]]`, `{"a": 1}`} {
		if _, err := aggregate.ParseRules([]byte(in)); err == nil {
			t.Errorf("expected error for %s", in)
		}
	}
}

func TestStartupRecordsExcludedByDefault(t *testing.T) {
	log := `<crankbench version="1" time="x">
<record cycle="000" cvus="001" thread_id="000" time="1700000000.0" duration="0.1" startup="True"><aggregate name="Test">Test: a</aggregate><result>Successful</result></record>
<record cycle="000" cvus="001" thread_id="000" time="1700000001.0" duration="0.1"><aggregate name="Test">Test: a</aggregate><result>Successful</result></record>
</crankbench>`
	report := aggregateBytes(t, []byte(log), aggregate.Options{})
	res, _ := report.Result(aggregate.GroupKey{Key: "Test", Value: "Test: a", Cycle: 0})
	if res.Count != 1 || report.SkippedStartup != 1 {
		t.Fatalf("expected 1 routed record and 1 skipped, got %d and %d", res.Count, report.SkippedStartup)
	}

	report = aggregateBytes(t, []byte(log), aggregate.Options{MeasureStartup: true})
	res, _ = report.Result(aggregate.GroupKey{Key: "Test", Value: "Test: a", Cycle: 0})
	if res.Count != 2 {
		t.Fatalf("expected 2 records when measuring startup, got %d", res.Count)
	}
}

func TestLegacyShapesResolveToCanonicalGroups(t *testing.T) {
	log := `<crankbench version="1" time="x">
<config key="server_url" value="http://shop.local"/>
<testResult cycle="001" cvus="005" thread_id="002" suite_name="Shop" name="test_browse" time="1700000000.0" duration="1.5" result="Successful"/>
<response cycle="001" cvus="005" thread_id="002" suite_name="Shop" name="test_browse" step="001" number="000" type="get" result="Successful" url="/cart" code="200" description="View cart" time="1700000000.2" duration="0.3"/>
<response cycle="001" cvus="005" thread_id="002" suite_name="Shop" name="test_browse" step="001" number="001" type="link" result="Failure" url="http://cdn.local/a.css" code="404" description="View cart" time="1700000000.6" duration="0.1"><body>missing</body></response>
</crankbench>`
	report := aggregateBytes(t, []byte(log), aggregate.Options{})

	want := []aggregate.GroupKey{
		{Key: "Page", Value: "get http://shop.local/cart: View cart", Cycle: 1},
		{Key: "Response by description", Value: "get http://shop.local/cart: View cart", Cycle: 1},
		{Key: "Response by description", Value: "link http://cdn.local/a.css: View cart", Cycle: 1},
		{Key: "Response by step", Value: "Request 1.0: get - http://shop.local/cart", Cycle: 1},
		{Key: "Response by step", Value: "Request 1.1: link - http://cdn.local/a.css", Cycle: 1},
		{Key: "Test", Value: "Test: test_browse", Cycle: 1},
	}
	got := report.Groups()
	if len(got) != len(want) {
		t.Fatalf("expected %d groups, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("group %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	res, _ := report.Result(want[2])
	if res.Failures != 1 || len(res.Summaries) != 1 {
		t.Fatalf("expected one failure summary, got %+v", res)
	}
	if s := res.Summaries[0]; s.ResponseCode != "404" || s.Body != "missing" {
		t.Errorf("unexpected failure payload %+v", s)
	}
	if report.CVUs(1) != 5 {
		t.Errorf("expected 5 cvus for cycle 1, got %d", report.CVUs(1))
	}
}

func TestLegacyRootIsAccepted(t *testing.T) {
	log := `<funkload version="1.17.1" time="2013-05-02T10:00:00">
<config key="server_url" value="http://shop.local"/>
<testResult cycle="000" cvus="002" thread_id="001" suite_name="Shop" name="test_browse" time="1700000000.0" duration="1.0" result="Successful"/>
<response cycle="000" cvus="002" thread_id="001" suite_name="Shop" name="test_browse" step="001" number="000" type="get" result="Successful" url="/" code="200" description="Home" time="1700000000.1" duration="0.2"/>
</funkload>`
	report := aggregateBytes(t, []byte(log), aggregate.Options{})
	if report.Records != 2 {
		t.Fatalf("records = %d, want 2", report.Records)
	}
	res, ok := report.Result(aggregate.GroupKey{Key: "Page", Value: "get http://shop.local/: Home", Cycle: 0})
	if !ok || res.Count != 1 {
		t.Errorf("page result = %+v (found %v)", res, ok)
	}

	err := aggregate.New(aggregate.Options{}).Consume("legacy.xml", strings.NewReader(log[:strings.LastIndex(log, "</funkload>")]))
	var lfe *aggregate.LogFormatError
	if !errors.As(err, &lfe) || lfe.Kind != aggregate.Truncated {
		t.Fatalf("expected truncation diagnostic, got %v", err)
	}
	if !strings.Contains(err.Error(), "</funkload>") {
		t.Errorf("diagnostic should name the legacy root: %v", err)
	}
}

func TestCycleBoundaryCoversRecordsWithoutAggregates(t *testing.T) {
	log := `<crankbench version="1" time="x">
<record cycle="000" cvus="001" time="1700000000.0" duration="1.0"><aggregate name="Test">Test: a</aggregate></record>
<record cycle="000" cvus="001" time="1700000009.0" duration="1.0"></record>
</crankbench>`
	report := aggregateBytes(t, []byte(log), aggregate.Options{MeasureStartup: true})
	b := report.Boundary(0)
	if b == nil {
		t.Fatal("no boundary for cycle 0")
	}
	if got := b.Duration(); got != 10*time.Second {
		t.Errorf("cycle duration = %s, want 10s", got)
	}
	res, ok := report.Result(aggregate.GroupKey{Key: "Test", Value: "Test: a", Cycle: 0})
	if !ok || res.Count != 1 {
		t.Fatalf("test result = %+v (found %v)", res, ok)
	}
	if res.RPS != 0.1 {
		t.Errorf("rps = %v, want 0.1 over the whole cycle", res.RPS)
	}
}

func TestMissingCycleUsesSentinel(t *testing.T) {
	log := `<crankbench version="1" time="x"><record time="1700000000.0" duration="0.1"><aggregate name="Test">Test: a</aggregate></record></crankbench>`
	report := aggregateBytes(t, []byte(log), aggregate.Options{})
	if _, ok := report.Result(aggregate.GroupKey{Key: "Test", Value: "Test: a", Cycle: telemetry.NoCycle}); !ok {
		t.Fatal("expected record routed to the sentinel cycle")
	}
}

func TestMonitorElementsCollectedPerHost(t *testing.T) {
	log := `<crankbench version="1" time="x">
<monitorconfig host="web1" key="interface" value="eth0"/>
<monitor host="web1" time="1700000000.5" cvus="3" memFree="1024"/>
<monitor host="web2" time="1700000001.5" cvus="3"/>
<record cycle="000" time="1700000000.0" duration="0.1"><aggregate name="Test">Test: a</aggregate></record>
</crankbench>`
	report := aggregateBytes(t, []byte(log), aggregate.Options{})
	if hosts := report.Hosts(); len(hosts) != 2 || hosts[0] != "web1" {
		t.Fatalf("unexpected hosts %v", hosts)
	}
	samples := report.Monitors["web1"]
	if len(samples) != 1 || len(samples[0].Fields) != 2 || samples[0].Fields[1].Name != "memFree" {
		t.Fatalf("unexpected samples %+v", samples)
	}
	if cfg := report.MonitorConfig["web1"]; len(cfg) != 1 || cfg[0].Value != "eth0" {
		t.Fatalf("unexpected monitor config %+v", cfg)
	}
}

func TestDiagnostics(t *testing.T) {
	tests := []struct {
		name string
		log  string
		kind aggregate.FormatErrorKind
	}{
		{
			name: "missing closing element",
			log:  `<crankbench version="1"><record cycle="000" time="1" duration="1"><aggregate name="Test">Test: a</aggregate></record>`,
			kind: aggregate.Truncated,
		},
		{
			name: "truncated inside record",
			log:  `<crankbench version="1"><record cycle="000" time="1" duration="1"><aggregate name="Te`,
			kind: aggregate.Truncated,
		},
		{
			name: "no records",
			log:  `<crankbench version="1"><config key="a" value="b"/></crankbench>`,
			kind: aggregate.WrongShape,
		},
		{
			name: "unit test log",
			log:  `<testsuite name="x"><testcase/></testsuite>`,
			kind: aggregate.WrongShape,
		},
		{
			name: "not xml",
			log:  "",
			kind: aggregate.WrongShape,
		},
		{
			name: "undecodable bytes",
			log:  "<crankbench version=\"1\"><record cycle=\"000\"><body>\xff\xfe</body></record></crankbench>",
			kind: aggregate.InvalidContent,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := aggregate.New(aggregate.Options{}).Consume("bench.xml", strings.NewReader(tt.log))
			var lfe *aggregate.LogFormatError
			if !errors.As(err, &lfe) {
				t.Fatalf("expected LogFormatError, got %v", err)
			}
			if lfe.Kind != tt.kind {
				t.Fatalf("expected %s, got %s (%v)", tt.kind, lfe.Kind, err)
			}
			if !strings.HasPrefix(err.Error(), "bench.xml: ") {
				t.Errorf("diagnostic should name the log: %v", err)
			}
		})
	}
}

func TestAggregateFilesMergesNodes(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for n := 0; n < 2; n++ {
		path := filepath.Join(dir, fmt.Sprintf("node%d.xml", n))
		if err := os.WriteFile(path, buildLog(t, [][]pair{{{"Page", "/home"}}, {{"Page", "/home"}}}), 0o644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, path)
	}
	report, err := aggregate.AggregateFiles(paths, aggregate.Options{})
	if err != nil {
		t.Fatalf("AggregateFiles: %v", err)
	}
	res, _ := report.Result(aggregate.GroupKey{Key: "Page", Value: "/home", Cycle: 0})
	if res.Count != 4 {
		t.Errorf("expected 4 records, got %d", res.Count)
	}
	if report.CVUs(0) != 4 {
		t.Errorf("expected summed cvus 4, got %d", report.CVUs(0))
	}
	if report.ConfigValue("nodes") != "2" {
		t.Errorf("expected nodes config 2, got %q", report.ConfigValue("nodes"))
	}
}

var (
	keys   = []string{"Page", "Test", "Response by step"}
	values = []string{"/home", "/cart", "/item/1", "/item/2", "/checkout"}
)

func genRecords(t *rapid.T) [][]pair {
	pairGen := rapid.Custom(func(t *rapid.T) pair {
		return pair{
			key:   rapid.SampledFrom(keys).Draw(t, "key"),
			value: rapid.SampledFrom(values).Draw(t, "value"),
		}
	})
	return rapid.SliceOfN(rapid.SliceOfN(pairGen, 1, 4), 1, 30).Draw(t, "records")
}

func TestGroupCountsSumToRoutedRecords(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		records := genRecords(rt)
		report := aggregateBytes(t, buildLog(t, records), aggregate.Options{})

		declared := make(map[string]int64)
		for _, pairs := range records {
			for _, p := range pairs {
				declared[p.key]++
			}
		}
		for _, key := range report.Keys() {
			var sum int64
			for _, value := range report.Values(key) {
				res, _ := report.Result(aggregate.GroupKey{Key: key, Value: value, Cycle: 0})
				sum += res.Count
			}
			if sum != declared[key] {
				rt.Fatalf("key %q: groups sum to %d, %d pairs declared", key, sum, declared[key])
			}
			delete(declared, key)
		}
		if len(declared) != 0 {
			rt.Fatalf("declared keys without groups: %v", declared)
		}
	})
}

func TestAggregationIsDeterministic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		data := buildLog(t, genRecords(rt))
		first, err := json.Marshal(aggregateBytes(t, data, aggregate.Options{}).Snapshot())
		if err != nil {
			rt.Fatal(err)
		}
		second, err := json.Marshal(aggregateBytes(t, data, aggregate.Options{}).Snapshot())
		if err != nil {
			rt.Fatal(err)
		}
		if !bytes.Equal(first, second) {
			rt.Fatalf("aggregation differs between passes:\n%s\n%s", first, second)
		}
	})
}

func TestNormalizationPreservesTotals(t *testing.T) {
	rules, err := aggregate.ParseRules([]byte(`[[".*", "/item/\\d+", "/item/{id}"]]`))
	if err != nil {
		t.Fatal(err)
	}
	rapid.Check(t, func(rt *rapid.T) {
		data := buildLog(t, genRecords(rt))
		plain := aggregateBytes(t, data, aggregate.Options{})
		normalized := aggregateBytes(t, data, aggregate.Options{Rules: rules})

		for _, key := range plain.Keys() {
			var before, after int64
			for _, v := range plain.Values(key) {
				res, _ := plain.Result(aggregate.GroupKey{Key: key, Value: v, Cycle: 0})
				before += res.Count
			}
			for _, v := range normalized.Values(key) {
				if strings.HasPrefix(v, "/item/") && v != "/item/{id}" {
					rt.Fatalf("value %q escaped normalization", v)
				}
				res, _ := normalized.Result(aggregate.GroupKey{Key: key, Value: v, Cycle: 0})
				after += res.Count
			}
			if before != after {
				rt.Fatalf("key %q: %d records before normalization, %d after", key, before, after)
			}
		}
	})
}
