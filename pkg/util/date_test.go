package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.UTC().Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	got, ok := ParseTime(strconv.FormatInt(ts.Unix(), 10))
	if !ok || got.Unix() != ts.Unix() {
		t.Fatalf("unexpected unix %v", got)
	}
	got, ok = ParseTime(strconv.FormatInt(ts.UnixMilli(), 10))
	if !ok || !got.Equal(ts) {
		t.Fatalf("unexpected unix millis %v", got)
	}
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	if got := ParseTimeDefault("yesterday", def); !got.Equal(def) {
		t.Fatalf("expected default")
	}
}

func TestParseDurationDefault(t *testing.T) {
	cases := map[string]time.Duration{
		"":    time.Hour,
		"15m": 15 * time.Minute,
		"90":  90 * time.Second,
		"-5m": time.Hour,
		"abc": time.Hour,
	}
	for in, want := range cases {
		if got := ParseDurationDefault(in, time.Hour); got != want {
			t.Errorf("ParseDurationDefault(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSplitCSV(t *testing.T) {
	got := SplitCSV(" AAPL, ,MSFT ,")
	if len(got) != 2 || got[0] != "AAPL" || got[1] != "MSFT" {
		t.Fatalf("unexpected split %q", got)
	}
	if SplitCSV("") != nil {
		t.Fatalf("expected nil for empty input")
	}
}
