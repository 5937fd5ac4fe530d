package monitor_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/torosent/crankbench/internal/monitor"
	"github.com/torosent/crankbench/internal/telemetry"
)

type memorySink struct {
	mu      sync.Mutex
	samples []telemetry.Sample
	config  []telemetry.Field
}

func (m *memorySink) WriteRecord(telemetry.Record) error { return nil }

func (m *memorySink) WriteMonitor(s telemetry.Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, s)
	return nil
}

func (m *memorySink) WriteMonitorConfig(host, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = append(m.config, telemetry.Field{Name: host + "/" + key, Value: value})
	return nil
}

func (m *memorySink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.samples)
}

type failingPlugin struct{}

func (failingPlugin) Name() string { return "Broken" }

func (failingPlugin) GetStat(context.Context) ([]telemetry.Field, error) {
	return nil, errors.New("no /proc")
}

func (failingPlugin) ParseStats([]telemetry.Sample) []monitor.Series { return nil }

func sample(at time.Time, fields ...string) telemetry.Sample {
	s := telemetry.Sample{Host: "node1", Time: at}
	for i := 0; i+1 < len(fields); i += 2 {
		s.Fields = append(s.Fields, telemetry.Field{Name: fields[i], Value: fields[i+1]})
	}
	return s
}

func findSeries(t *testing.T, series []monitor.Series, name string) monitor.Series {
	t.Helper()
	for _, s := range series {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("series %q not found in %v", name, series)
	return monitor.Series{}
}

func TestRegistry(t *testing.T) {
	names := monitor.Names()
	want := []string{"CPU", "CUs", "MemFree", "Network"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names()[%d] = %s, want %s", i, names[i], want[i])
		}
	}
	if _, err := monitor.Build([]string{"Disk"}, monitor.Options{}); err == nil {
		t.Error("Build() should reject unknown plugins")
	}
}

func TestCUsPluginAndSampling(t *testing.T) {
	users := 7
	plugins, err := monitor.Build([]string{"CUs"}, monitor.Options{CUs: func() int { return users }})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	plugins = append(plugins, failingPlugin{})
	sink := &memorySink{}
	m := monitor.New(sink, "node1", 10*time.Millisecond, plugins, nil)

	if err := m.WriteConfig(); err != nil {
		t.Fatalf("WriteConfig() error = %v", err)
	}
	if sink.config[0].Name != "node1/interval" || sink.config[0].Value != "0.01" {
		t.Errorf("first config = %+v", sink.config[0])
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	deadline := time.After(2 * time.Second)
	for sink.count() < 3 {
		select {
		case <-deadline:
			t.Fatal("monitor did not sample")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	first := sink.samples[0]
	if first.Host != "node1" || len(first.Fields) != 1 || first.Fields[0].Value != "7" {
		t.Errorf("sample = %+v, want CUs=7 only", first)
	}
	series := monitor.Parse(plugins, sink.samples)
	if cus := findSeries(t, series, "CUs"); cus.Points[0].Value != 7 {
		t.Errorf("CUs series = %+v", cus.Points)
	}
}

func TestMemFreeDeltaFromFirstSample(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	samples := []telemetry.Sample{
		sample(t0, "MemFree", "1000", "SwapFree", "500"),
		sample(t0.Add(time.Second), "MemFree", "800", "SwapFree", "500"),
		sample(t0.Add(2*time.Second), "MemFree", "900", "SwapFree", "400"),
	}
	plugins, _ := monitor.Build([]string{"MemFree"}, monitor.Options{})
	series := monitor.Parse(plugins, samples)
	mem := findSeries(t, series, "Memory used delta")
	want := []float64{0, 200, 100}
	for i, p := range mem.Points {
		if p.Value != want[i] {
			t.Errorf("memory point %d = %g, want %g", i, p.Value, want[i])
		}
	}
	if swap := findSeries(t, series, "Swap used delta"); swap.Points[2].Value != 100 {
		t.Errorf("swap points = %+v", swap.Points)
	}
}

func TestCPUUsageFromJiffies(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	samples := []telemetry.Sample{
		sample(t0, "CPUTotalJiffies", "1000", "CPUIdleJiffies", "800", "loadAvg1min", "0.5"),
		sample(t0.Add(time.Second), "CPUTotalJiffies", "1100", "CPUIdleJiffies", "825", "loadAvg1min", "1.5"),
	}
	plugins, _ := monitor.Build([]string{"CPU"}, monitor.Options{})
	series := monitor.Parse(plugins, samples)
	usage := findSeries(t, series, "CPU usage")
	if len(usage.Points) != 1 || math.Abs(usage.Points[0].Value-75) > 1e-9 {
		t.Errorf("CPU usage = %+v, want one point at 75%%", usage.Points)
	}
	if load := findSeries(t, series, "Load average 1 min"); len(load.Points) != 2 {
		t.Errorf("load points = %+v", load.Points)
	}
}

func TestNetworkRates(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	samples := []telemetry.Sample{
		sample(t0, "receiveBytes", "0", "transmitBytes", "0"),
		sample(t0.Add(2*time.Second), "receiveBytes", "4096", "transmitBytes", "2048"),
	}
	plugins, _ := monitor.Build([]string{"Network"}, monitor.Options{Interface: "eth0"})
	series := monitor.Parse(plugins, samples)
	if in := findSeries(t, series, "Network in"); in.Points[0].Value != 2 {
		t.Errorf("in = %g kB/s, want 2", in.Points[0].Value)
	}
	if out := findSeries(t, series, "Network out"); out.Points[0].Value != 1 {
		t.Errorf("out = %g kB/s, want 1", out.Points[0].Value)
	}
}
