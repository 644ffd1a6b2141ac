package temporal

import (
	"testing"
	"time"
)

var testNow = time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)

func TestResolve_RawCron(t *testing.T) {
	res := Resolve("*/5 * * * *", testNow)
	if res.Kind != KindCron {
		t.Fatalf("kind = %q, want cron", res.Kind)
	}
	if res.Expr != "*/5 * * * *" {
		t.Errorf("expr = %q", res.Expr)
	}
}

func TestResolve_EveryDayAt(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"every day at 9am", "0 9 * * *"},
		{"every day at 5pm", "0 17 * * *"},
		{"every day at 12am", "0 0 * * *"},
		{"every day at 12pm", "0 12 * * *"},
		{"every day at 7:30pm", "30 19 * * *"},
		{"Every Day At 9AM", "0 9 * * *"},
		{"every day at 17:45", "45 17 * * *"},
	}
	for _, tt := range tests {
		res := Resolve(tt.in, testNow)
		if res.Kind != KindCron {
			t.Errorf("Resolve(%q) kind = %q, want cron", tt.in, res.Kind)
			continue
		}
		if res.Expr != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.in, res.Expr, tt.want)
		}
	}
}

func TestResolve_FixedRecurrences(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"every hour", "0 * * * *"},
		{"every morning", "0 9 * * *"},
		{"every evening", "0 18 * * *"},
		{"every 3 hours", "0 */3 * * *"},
		{"every 1 hour", "0 */1 * * *"},
		{"every weekday at 8:15am", "15 8 * * 1-5"},
	}
	for _, tt := range tests {
		res := Resolve(tt.in, testNow)
		if res.Kind != KindCron || res.Expr != tt.want {
			t.Errorf("Resolve(%q) = {%q %q}, want cron %q", tt.in, res.Kind, res.Expr, tt.want)
		}
	}
}

func TestResolve_InDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"in 5 minutes", 5 * time.Minute},
		{"in 1 minute", time.Minute},
		{"in 90 seconds", 90 * time.Second},
		{"in 2 hours", 2 * time.Hour},
		{"in 3 days", 72 * time.Hour},
	}
	for _, tt := range tests {
		res := Resolve(tt.in, testNow)
		if res.Kind != KindAt {
			t.Errorf("Resolve(%q) kind = %q, want at", tt.in, res.Kind)
			continue
		}
		if got := res.At.Sub(testNow); got != tt.want {
			t.Errorf("Resolve(%q) offset = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestResolve_ExplicitDates(t *testing.T) {
	res := Resolve("2025-12-24 18:00", testNow)
	want := time.Date(2025, 12, 24, 18, 0, 0, 0, time.UTC)
	if res.Kind != KindAt || !res.At.Equal(want) {
		t.Errorf("Resolve(date) = {%q %v}, want at %v", res.Kind, res.At, want)
	}

	res = Resolve("2025-12-24T18:00:00Z", testNow)
	if res.Kind != KindAt || !res.At.Equal(want) {
		t.Errorf("Resolve(rfc3339) = {%q %v}, want at %v", res.Kind, res.At, want)
	}

	res = Resolve("2025-12-24 6:00PM", testNow)
	if res.Kind != KindAt || !res.At.Equal(want) {
		t.Errorf("Resolve(clock date) = {%q %v}, want at %v", res.Kind, res.At, want)
	}

	res = Resolve("Dec 24 2025 18:00", testNow)
	if res.Kind != KindAt || !res.At.Equal(want) {
		t.Errorf("Resolve(month name date) = {%q %v}, want at %v", res.Kind, res.At, want)
	}
}

func TestResolve_ClockToday(t *testing.T) {
	// 5pm is still ahead of the 10:30 reference time.
	res := Resolve("at 5pm", testNow)
	want := time.Date(2025, 6, 15, 17, 0, 0, 0, time.UTC)
	if res.Kind != KindAt || !res.At.Equal(want) {
		t.Errorf("Resolve(at 5pm) = %v, want %v", res.At, want)
	}

	// 9am already passed, so it rolls to the next day.
	res = Resolve("at 9am", testNow)
	want = time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)
	if !res.At.Equal(want) {
		t.Errorf("Resolve(at 9am) = %v, want %v", res.At, want)
	}
}

func TestResolve_TomorrowAt(t *testing.T) {
	res := Resolve("tomorrow at 8am", testNow)
	want := time.Date(2025, 6, 16, 8, 0, 0, 0, time.UTC)
	if res.Kind != KindAt || !res.At.Equal(want) {
		t.Errorf("Resolve(tomorrow at 8am) = %v, want %v", res.At, want)
	}
}

func TestResolve_FallbackNeverFails(t *testing.T) {
	inputs := []string{
		"",
		"whenever you feel like it",
		"every blue moon",
		"in five minutes",
		"every 0 hours",
		"at 99:99",
	}
	for _, in := range inputs {
		res := Resolve(in, testNow)
		if res.Kind != KindAt {
			t.Errorf("Resolve(%q) kind = %q, want fallback at", in, res.Kind)
			continue
		}
		if got := res.At.Sub(testNow); got != fallbackDelay {
			t.Errorf("Resolve(%q) offset = %v, want %v", in, got, fallbackDelay)
		}
	}
}
