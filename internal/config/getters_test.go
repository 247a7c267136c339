package config

import (
	"log/slog"
	"reflect"
	"testing"
	"time"
)

func TestGetEnvStr(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("EVENTFLOW_TEST_STR", "value")

	if got := GetEnvStr("EVENTFLOW_TEST_STR", "fallback"); got != "value" {
		t.Errorf("GetEnvStr() = %q, want value", got)
	}

	if got := GetEnvStr("EVENTFLOW_TEST_STR_MISSING", "fallback"); got != "fallback" {
		t.Errorf("GetEnvStr() = %q, want fallback", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("EVENTFLOW_TEST_INT", "42")
	t.Setenv("EVENTFLOW_TEST_INT_BAD", "not-a-number")

	if got := GetEnvInt("EVENTFLOW_TEST_INT", 7); got != 42 {
		t.Errorf("GetEnvInt() = %d, want 42", got)
	}

	if got := GetEnvInt("EVENTFLOW_TEST_INT_BAD", 7); got != 7 {
		t.Errorf("GetEnvInt() = %d, want default on unparsable value", got)
	}

	if got := GetEnvInt("EVENTFLOW_TEST_INT_MISSING", 7); got != 7 {
		t.Errorf("GetEnvInt() = %d, want 7", got)
	}
}

func TestGetEnvInt64(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("EVENTFLOW_TEST_INT64", "2147483648")

	if got := GetEnvInt64("EVENTFLOW_TEST_INT64", 1); got != 2147483648 {
		t.Errorf("GetEnvInt64() = %d, want 2147483648", got)
	}
}

func TestGetEnvFloat(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("EVENTFLOW_TEST_FLOAT", "99.5")
	t.Setenv("EVENTFLOW_TEST_FLOAT_BAD", "ninety")

	if got := GetEnvFloat("EVENTFLOW_TEST_FLOAT", 1); got != 99.5 {
		t.Errorf("GetEnvFloat() = %v, want 99.5", got)
	}

	if got := GetEnvFloat("EVENTFLOW_TEST_FLOAT_BAD", 1000); got != 1000 {
		t.Errorf("GetEnvFloat() = %v, want default on unparsable value", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		value string
		want  bool
	}{
		{"true", true},
		{"1", true},
		{"YES", true},
		{"false", false},
		{"0", false},
		{"No", false},
	}

	for _, tt := range tests {
		t.Setenv("EVENTFLOW_TEST_BOOL", tt.value)

		if got := GetEnvBool("EVENTFLOW_TEST_BOOL", !tt.want); got != tt.want {
			t.Errorf("GetEnvBool(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}

	t.Setenv("EVENTFLOW_TEST_BOOL", "maybe")

	if got := GetEnvBool("EVENTFLOW_TEST_BOOL", true); !got {
		t.Error("GetEnvBool() should return the default for unrecognized values")
	}
}

func TestGetEnvDuration(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("EVENTFLOW_TEST_DURATION", "90s")
	t.Setenv("EVENTFLOW_TEST_DURATION_BAD", "soon")

	if got := GetEnvDuration("EVENTFLOW_TEST_DURATION", time.Second); got != 90*time.Second {
		t.Errorf("GetEnvDuration() = %v, want 90s", got)
	}

	if got := GetEnvDuration("EVENTFLOW_TEST_DURATION_BAD", time.Second); got != time.Second {
		t.Errorf("GetEnvDuration() = %v, want default on unparsable value", got)
	}
}

func TestGetEnvLogLevel(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		value string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo}, // Unrecognized falls back to the default
	}

	for _, tt := range tests {
		t.Setenv("EVENTFLOW_TEST_LOG_LEVEL", tt.value)

		if got := GetEnvLogLevel("EVENTFLOW_TEST_LOG_LEVEL", slog.LevelInfo); got != tt.want {
			t.Errorf("GetEnvLogLevel(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestParseCommaSeparatedList(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		input string
		want  []string
	}{
		{"a,b,c", []string{"a", "b", "c"}},
		{" a , b ", []string{"a", "b"}},
		{"a,,b", []string{"a", "b"}},
		{"", nil},
		{"   ", nil},
	}

	for _, tt := range tests {
		if got := ParseCommaSeparatedList(tt.input); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseCommaSeparatedList(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
