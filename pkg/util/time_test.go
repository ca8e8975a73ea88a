package util

import (
	"testing"
	"time"
)

func TestTimeRangeOf(t *testing.T) {
	day := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
	}

	tests := []struct {
		in    string
		start time.Time
		end   time.Time
		ok    bool
	}{
		{"2024-03-15", day(2024, 3, 15), day(2024, 3, 16), true},
		{"2024-03", day(2024, 3, 1), day(2024, 4, 1), true},
		{"2024", day(2024, 1, 1), day(2025, 1, 1), true},
		{"2024-03-01~2024-03-15", day(2024, 3, 1), day(2024, 3, 16), true},
		// 倒着写的区间也接受
		{"2024-03-15~2024-03-01", day(2024, 3, 1), day(2024, 3, 16), true},
		{"garbage", time.Time{}, time.Time{}, false},
	}
	for _, tt := range tests {
		start, end, ok := TimeRangeOf(tt.in)
		if ok != tt.ok {
			t.Errorf("TimeRangeOf(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if !ok {
			continue
		}
		if !start.Equal(tt.start) || !end.Equal(tt.end) {
			t.Errorf("TimeRangeOf(%q) = (%v, %v), want (%v, %v)", tt.in, start, end, tt.start, tt.end)
		}
	}
}

func TestTimeRangeOfEmptyMeansEverything(t *testing.T) {
	start, end, ok := TimeRangeOf("")
	if !ok || !start.IsZero() || !end.After(time.Now()) {
		t.Errorf("got (%v, %v, %v)", start, end, ok)
	}
}

func TestNormalizeUnixSeconds(t *testing.T) {
	if got := NormalizeUnixSeconds(1700000000); got != 1700000000 {
		t.Errorf("seconds changed: %d", got)
	}
	if got := NormalizeUnixSeconds(1700000000123); got != 1700000000 {
		t.Errorf("milliseconds not normalized: %d", got)
	}
}

func TestPerfectTimeFormat(t *testing.T) {
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, time.Local)
	if got := PerfectTimeFormat(day, day.Add(6*time.Hour)); got != "15:04:05" {
		t.Errorf("same day layout = %q", got)
	}
	if got := PerfectTimeFormat(day, day.AddDate(0, 1, 0)); got != "01-02 15:04:05" {
		t.Errorf("cross day layout = %q", got)
	}
}
