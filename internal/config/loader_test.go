package config

import (
	"testing"
	"time"
)

func TestAsInt(t *testing.T) {
	tests := []struct {
		input interface{}
		want  int
	}{
		{123, 123},
		{"456", 456},
		{int64(789), 789},
		{float64(10.0), 10},
		{nil, 0},
	}

	for _, tt := range tests {
		got, err := asInt(tt.input)
		if err != nil {
			t.Errorf("asInt(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asInt(%v) = %d, want %d", tt.input, got, tt.want)
		}
	}
	if _, err := asInt(1.5); err == nil {
		t.Error("asInt(1.5) should fail")
	}
}

func TestAsBool(t *testing.T) {
	tests := []struct {
		input interface{}
		want  bool
	}{
		{true, true},
		{"true", true},
		{"1", true},
		{false, false},
		{"0", false},
		{nil, false},
	}

	for _, tt := range tests {
		got, err := asBool(tt.input)
		if err != nil {
			t.Errorf("asBool(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asBool(%v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestAsDuration(t *testing.T) {
	tests := []struct {
		input interface{}
		want  time.Duration
	}{
		{time.Second, time.Second},
		{"1m", time.Minute},
		{10, 10 * time.Second}, // numbers are seconds
		{0.25, 250 * time.Millisecond},
		{"0.5", 500 * time.Millisecond},
		{nil, 0},
	}

	for _, tt := range tests {
		got, err := asDuration(tt.input)
		if err != nil {
			t.Errorf("asDuration(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asDuration(%v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestAsIntList(t *testing.T) {
	tests := []struct {
		input interface{}
		want  []int
	}{
		{"10:20:40", []int{10, 20, 40}},
		{"1, 2", []int{1, 2}},
		{[]interface{}{5, float64(10)}, []int{5, 10}},
		{7, []int{7}},
	}
	for _, tt := range tests {
		got, err := asIntList(tt.input)
		if err != nil {
			t.Fatalf("asIntList(%v) error = %v", tt.input, err)
		}
		if len(got) != len(tt.want) {
			t.Fatalf("asIntList(%v) = %v, want %v", tt.input, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("asIntList(%v) = %v, want %v", tt.input, got, tt.want)
			}
		}
	}
	if _, err := asIntList("1:x"); err == nil {
		t.Error("asIntList(1:x) should fail")
	}
}

func TestApplyConfigSettings(t *testing.T) {
	cfg := Default()
	settings := map[string]interface{}{
		"scenario": "login.yaml",
		"main": map[string]interface{}{
			"URL":        "http://example.com",
			"user-agent": "bench/1.0",
		},
		"bench": map[interface{}]interface{}{
			"cycles":       []interface{}{1, 2},
			"simple_fetch": "true",
		},
		"logging": map[string]interface{}{
			"level":  "debug",
			"format": "json",
		},
	}

	if err := applyConfigSettings(&cfg, settings); err != nil {
		t.Fatalf("applyConfigSettings() error = %v", err)
	}
	if cfg.Scenario != "login.yaml" {
		t.Errorf("Scenario = %q", cfg.Scenario)
	}
	if cfg.Main.URL != "http://example.com" {
		t.Errorf("URL = %q, want http://example.com", cfg.Main.URL)
	}
	if cfg.Main.UserAgent != "bench/1.0" {
		t.Errorf("UserAgent = %q", cfg.Main.UserAgent)
	}
	if len(cfg.Bench.Cycles) != 2 || !cfg.Bench.SimpleFetch {
		t.Errorf("Bench = %+v", cfg.Bench)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}

	if err := applyConfigSettings(&cfg, map[string]interface{}{"bench": "nope"}); err == nil {
		t.Error("a scalar section should be rejected")
	}
}
