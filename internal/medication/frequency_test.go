package medication

import (
	"testing"
	"time"
)

func TestResolveIntervalMenu(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want time.Duration
	}{
		{"Every 5 minutes", 5 * time.Minute},
		{"Every hour", time.Hour},
		{"Every 1 hour", time.Hour},
		{"Every 2 hours", 2 * time.Hour},
		{"Every 4 hours", 4 * time.Hour},
		{"Every 6 hours", 6 * time.Hour},
		{"Every 8 hours", 8 * time.Hour},
		{"Every 12 hours", 12 * time.Hour},
		{"Every 24 hours", 24 * time.Hour},
		{"Once daily", 24 * time.Hour},
		{"Twice daily", 12 * time.Hour},
		{"Three times daily", 8 * time.Hour},
		{"Four times daily", 6 * time.Hour},
		{"As needed", 24 * time.Hour},
		{"Weekly", 24 * time.Hour},
	}
	for _, tc := range cases {
		if got := ResolveInterval(tc.in); got != tc.want {
			t.Fatalf("ResolveInterval(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestResolveIntervalNormalizes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want time.Duration
	}{
		{"  twice   DAILY ", 12 * time.Hour},
		{"EVERY 8 HOURS.", 8 * time.Hour},
		{"6h", 6 * time.Hour},
		{"5 min", 5 * time.Minute},
		{"12hrs", 12 * time.Hour},
	}
	for _, tc := range cases {
		if got := ResolveInterval(tc.in); got != tc.want {
			t.Fatalf("ResolveInterval(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestResolveIntervalDefaultsUnknown(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "  ", "x", "sometimes", "every 3 hours", "every 0 hours", "2 hours or so", "q6h"} {
		if got := ResolveInterval(in); got != DefaultInterval {
			t.Fatalf("ResolveInterval(%q) = %v, want %v", in, got, DefaultInterval)
		}
		if k := ParseFrequency(in); k.Known() {
			t.Fatalf("ParseFrequency(%q) = %v, want unknown", in, k)
		}
	}
}

// "12 hours" contains "2 hours"; the parser must not read it as 2h.
func TestResolveIntervalNoSubstringShadowing(t *testing.T) {
	t.Parallel()

	if got := ParseFrequency("Every 12 hours"); got != EveryTwelveHours {
		t.Fatalf("ParseFrequency = %v, want %v", got, EveryTwelveHours)
	}
	if got := ParseFrequency("Every 24 hours"); got != EveryTwentyFourHours {
		t.Fatalf("ParseFrequency = %v, want %v", got, EveryTwentyFourHours)
	}
}

func TestFrequencyKindString(t *testing.T) {
	t.Parallel()

	if got := TwiceDaily.String(); got != "twice_daily" {
		t.Fatalf("String() = %q", got)
	}
	if got := FrequencyKind(99).String(); got != "unknown" {
		t.Fatalf("String() = %q, want unknown", got)
	}
	if got := FrequencyKind(99).Interval(); got != DefaultInterval {
		t.Fatalf("Interval() = %v, want %v", got, DefaultInterval)
	}
}
