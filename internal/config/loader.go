package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader builds a Config from a configuration file and flags.
type Loader struct{}

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads the file named by the "config" flag, if any, then applies the
// flags that were set explicitly. The result is not validated.
func (Loader) Load(flagSet *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	configPath := ""
	if f := flagSet.Lookup("config"); f != nil {
		configPath = strings.TrimSpace(f.Value.String())
	}
	if configPath != "" {
		v := viper.New()
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
		if err := applyConfigSettings(&cfg, v.AllSettings()); err != nil {
			return nil, fmt.Errorf("%s: %w", configPath, err)
		}
		cfg.ConfigFile = configPath
	}

	if err := applyFlagOverrides(&cfg, flagSet); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}
	if raw, ok := lookupSetting(settings, "scenario"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("scenario: %w", err)
		}
		cfg.Scenario = strings.TrimSpace(val)
	}

	sections := []struct {
		name  string
		apply func(map[string]interface{}) error
	}{
		{"main", func(m map[string]interface{}) error { return applyMain(&cfg.Main, m) }},
		{"bench", func(m map[string]interface{}) error { return applyBench(&cfg.Bench, m) }},
		{"monitor", func(m map[string]interface{}) error { return applyMonitor(&cfg.Monitor, m) }},
		{"tracing", func(m map[string]interface{}) error { return applyTracing(&cfg.Tracing, m) }},
		{"logging", func(m map[string]interface{}) error { return applyLogging(&cfg.Logging, m) }},
	}
	for _, sec := range sections {
		raw, ok := lookupSetting(settings, sec.name)
		if !ok {
			continue
		}
		m, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", sec.name, err)
		}
		if err := sec.apply(m); err != nil {
			return fmt.Errorf("%s.%w", sec.name, err)
		}
	}
	return nil
}

// fieldError prefixes err with the setting name.
type fieldError struct {
	name string
	err  error
}

func (e *fieldError) Error() string { return e.name + ": " + e.err.Error() }

func (e *fieldError) Unwrap() error { return e.err }

// settingReader decodes typed values out of one section and keeps the
// first error.
type settingReader struct {
	settings map[string]interface{}
	err      error
}

func (r *settingReader) str(dst *string, keys ...string) {
	if raw, ok := r.lookup(keys); ok {
		v, err := asString(raw)
		r.set(keys[0], err)
		*dst = strings.TrimSpace(v)
	}
}

func (r *settingReader) integer(dst *int, keys ...string) {
	if raw, ok := r.lookup(keys); ok {
		v, err := asInt(raw)
		r.set(keys[0], err)
		*dst = v
	}
}

func (r *settingReader) float(dst *float64, keys ...string) {
	if raw, ok := r.lookup(keys); ok {
		v, err := asFloat64(raw)
		r.set(keys[0], err)
		*dst = v
	}
}

func (r *settingReader) boolean(dst *bool, keys ...string) {
	if raw, ok := r.lookup(keys); ok {
		v, err := asBool(raw)
		r.set(keys[0], err)
		*dst = v
	}
}

func (r *settingReader) duration(dst *time.Duration, keys ...string) {
	if raw, ok := r.lookup(keys); ok {
		v, err := asDuration(raw)
		r.set(keys[0], err)
		*dst = v
	}
}

func (r *settingReader) lookup(keys []string) (interface{}, bool) {
	if r.err != nil {
		return nil, false
	}
	return lookupSetting(r.settings, keys...)
}

func (r *settingReader) set(name string, err error) {
	if err != nil && r.err == nil {
		r.err = &fieldError{name: name, err: err}
	}
}

func applyMain(m *MainConfig, settings map[string]interface{}) error {
	r := &settingReader{settings: settings}
	r.str(&m.URL, "url")
	r.str(&m.Label, "label")
	r.str(&m.UserAgent, "user_agent", "user-agent")
	r.str(&m.Description, "description")
	return r.err
}

func applyBench(b *BenchConfig, settings map[string]interface{}) error {
	r := &settingReader{settings: settings}
	if raw, ok := r.lookup([]string{"cycles"}); ok {
		cycles, err := asIntList(raw)
		r.set("cycles", err)
		b.Cycles = cycles
	}
	r.duration(&b.Duration, "duration")
	r.duration(&b.StartupDelay, "startup_delay")
	r.duration(&b.SleepTime, "sleep_time")
	r.duration(&b.CycleTime, "cycle_time")
	r.duration(&b.SleepTimeMin, "sleep_time_min")
	r.duration(&b.SleepTimeMax, "sleep_time_max")
	r.duration(&b.Timeout, "timeout")
	if raw, ok := r.lookup([]string{"ok_codes"}); ok {
		codes, err := asIntList(raw)
		r.set("ok_codes", err)
		b.OKCodes = codes
	}
	r.boolean(&b.SimpleFetch, "simple_fetch")
	r.boolean(&b.AcceptInvalidLinks, "accept_invalid_links")
	r.str(&b.LogTo, "log_to")
	r.str(&b.LogPath, "log_path")
	r.str(&b.ResultPath, "result_path")
	r.str(&b.LoopSteps, "loop_steps")
	r.integer(&b.LoopNumber, "loop_number")
	r.boolean(&b.StopOnFail, "stop_on_fail")
	r.boolean(&b.Pause, "pause")
	return r.err
}

func applyMonitor(m *MonitorConfig, settings map[string]interface{}) error {
	r := &settingReader{settings: settings}
	r.boolean(&m.Enabled, "enabled")
	r.duration(&m.Interval, "interval")
	r.str(&m.Interface, "interface")
	r.str(&m.Host, "host")
	if raw, ok := r.lookup([]string{"plugins"}); ok {
		plugins, err := asStringSlice(raw)
		r.set("plugins", err)
		m.Plugins = plugins
	}
	return r.err
}

func applyTracing(t *TracingConfig, settings map[string]interface{}) error {
	r := &settingReader{settings: settings}
	r.str(&t.Endpoint, "endpoint")
	r.str(&t.Protocol, "protocol")
	r.str(&t.ServiceName, "service_name")
	r.float(&t.SampleRate, "sample_rate")
	r.boolean(&t.Insecure, "insecure")
	if raw, ok := r.lookup([]string{"propagate"}); ok {
		v, err := asBool(raw)
		r.set("propagate", err)
		t.Propagate = &v
	}
	return r.err
}

func applyLogging(l *LoggingConfig, settings map[string]interface{}) error {
	r := &settingReader{settings: settings}
	r.str(&l.Level, "level")
	r.str(&l.Format, "format")
	r.integer(&l.MaxSizeMB, "max_size_mb")
	r.integer(&l.MaxBackups, "max_backups")
	r.integer(&l.MaxAgeDays, "max_age_days")
	return r.err
}

// parseIntList reads "10:20:40", "10,20,40" or "10 20 40".
func parseIntList(raw string) ([]int, error) {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ':' || r == ',' || r == ' ' })
	if len(fields) == 0 {
		return nil, errors.New("at least one value is required")
	}
	out := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}
