// Package monitor samples host resources during a bench and writes them into
// the telemetry log next to the records.
package monitor

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/crankbench/internal/telemetry"
)

// Plugin reads one family of host statistics.
type Plugin interface {
	Name() string
	// GetStat returns the current raw values. Field names must be valid XML
	// attribute names and unique across plugins.
	GetStat(ctx context.Context) ([]telemetry.Field, error)
	// ParseStats turns the samples of one host into chart series.
	ParseStats(samples []telemetry.Sample) []Series
}

// Configurer is implemented by plugins exposing settings in the log.
type Configurer interface {
	Config() []telemetry.Field
}

// Series is one charted measure of a host.
type Series struct {
	Name   string
	Unit   string
	Points []Point
}

// Point is one value of a series.
type Point struct {
	Time  time.Time
	Value float64
}

// Options are handed to plugin factories.
type Options struct {
	// Interface is the network interface sampled; empty sums all of them.
	Interface string
	// CUs reports the current number of concurrent users.
	CUs func() int
}

// Factory builds a plugin.
type Factory func(Options) Plugin

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a plugin available by name.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic("monitor: Register called twice for " + name)
	}
	registry[name] = f
}

// Names lists registered plugins in order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build instantiates the named plugins, all of them when names is empty.
func Build(names []string, opts Options) ([]Plugin, error) {
	if len(names) == 0 {
		names = Names()
	}
	registryMu.RLock()
	defer registryMu.RUnlock()
	plugins := make([]Plugin, 0, len(names))
	for _, name := range names {
		f, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("unknown monitor plugin %q", name)
		}
		plugins = append(plugins, f(opts))
	}
	return plugins, nil
}

// Parse returns the series of every plugin for the samples of one host.
func Parse(plugins []Plugin, samples []telemetry.Sample) []Series {
	var out []Series
	for _, p := range plugins {
		out = append(out, p.ParseStats(samples)...)
	}
	return out
}

// Monitor periodically writes one sample of all plugins to a sink.
type Monitor struct {
	host     string
	interval time.Duration
	plugins  []Plugin
	sink     telemetry.Sink
	log      *zap.Logger
	now      func() time.Time
}

// New returns a Monitor. An empty host uses the machine host name.
func New(sink telemetry.Sink, host string, interval time.Duration, plugins []Plugin, log *zap.Logger) *Monitor {
	if host == "" {
		host, _ = os.Hostname()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{
		host:     host,
		interval: interval,
		plugins:  plugins,
		sink:     sink,
		log:      log.Named("monitor"),
		now:      time.Now,
	}
}

// Host is the label written on samples.
func (m *Monitor) Host() string { return m.host }

// WriteConfig records the sampling settings of the host.
func (m *Monitor) WriteConfig() error {
	if err := m.sink.WriteMonitorConfig(m.host, "interval", strconv.FormatFloat(m.interval.Seconds(), 'f', -1, 64)); err != nil {
		return err
	}
	for _, p := range m.plugins {
		if err := m.sink.WriteMonitorConfig(m.host, "plugin", p.Name()); err != nil {
			return err
		}
		c, ok := p.(Configurer)
		if !ok {
			continue
		}
		for _, f := range c.Config() {
			if err := m.sink.WriteMonitorConfig(m.host, f.Name, f.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

// Sample writes one sample now. Failing plugins are logged and skipped.
func (m *Monitor) Sample(ctx context.Context) error {
	sample := telemetry.Sample{Host: m.host, Time: m.now()}
	for _, p := range m.plugins {
		fields, err := p.GetStat(ctx)
		if err != nil {
			m.log.Debug("plugin failed", zap.String("plugin", p.Name()), zap.Error(err))
			continue
		}
		sample.Fields = append(sample.Fields, fields...)
	}
	return m.sink.WriteMonitor(sample)
}

// Run samples every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	if m.interval <= 0 {
		return fmt.Errorf("monitor interval must be > 0")
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	if err := m.Sample(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.Sample(ctx); err != nil {
				return err
			}
		}
	}
}

// fieldValue returns a numeric field of a sample.
func fieldValue(s telemetry.Sample, name string) (float64, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			v, err := strconv.ParseFloat(f.Value, 64)
			return v, err == nil
		}
	}
	return 0, false
}

func formatUint(v uint64) string { return strconv.FormatUint(v, 10) }

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
