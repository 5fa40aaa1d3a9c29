package hourclock

import (
	"testing"
	"time"
)

func mk(h, m, s int) time.Time {
	return time.Date(2025, time.March, 14, h, m, s, 0, time.Local)
}

func TestTruncateZeroesSubHour(t *testing.T) {
	t.Parallel()
	got := Truncate(mk(9, 41, 27))
	want := mk(9, 0, 0)
	if !got.Equal(want) {
		t.Fatalf("Truncate = %v, want %v", got, want)
	}
	if !Truncate(got).Equal(got) {
		t.Fatal("Truncate is not idempotent")
	}
}

func TestDayBounds(t *testing.T) {
	t.Parallel()
	at := mk(14, 30, 5)
	if got := DayStart(at); !got.Equal(mk(0, 0, 0)) {
		t.Fatalf("DayStart = %v", got)
	}
	if got := DayEnd(at); !got.Equal(mk(23, 59, 59)) {
		t.Fatalf("DayEnd = %v", got)
	}
}

func TestNextCrossesMidnight(t *testing.T) {
	t.Parallel()
	got := Next(mk(23, 59, 0))
	want := time.Date(2025, time.March, 15, 0, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
}

func TestHours(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		from time.Time
		to   time.Time
		want int
	}{
		{name: "same hour", from: mk(9, 15, 0), to: mk(9, 45, 0), want: 1},
		{name: "span", from: mk(9, 0, 0), to: mk(13, 0, 0), want: 5},
		{name: "reversed", from: mk(13, 0, 0), to: mk(9, 0, 0), want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Hours(tt.from, tt.to)
			if len(got) != tt.want {
				t.Fatalf("len = %d, want %d", len(got), tt.want)
			}
			for i := 1; i < len(got); i++ {
				if got[i].Sub(got[i-1]) != time.Hour {
					t.Fatalf("gap between %v and %v", got[i-1], got[i])
				}
			}
		})
	}
}

func TestFormatRange(t *testing.T) {
	t.Parallel()
	if got := FormatRange(mk(9, 30, 0)); got != "9:00 AM - 10:00 AM" {
		t.Fatalf("FormatRange = %q", got)
	}
	if got := FormatRange(mk(23, 0, 0)); got != "11:00 PM - 12:00 AM" {
		t.Fatalf("FormatRange = %q", got)
	}
}
