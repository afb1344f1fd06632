package medication

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// FrequencyKind is the closed set of dosing frequencies the scheduler knows.
type FrequencyKind int

const (
	FrequencyUnknown FrequencyKind = iota
	EveryFiveMinutes
	Hourly
	EveryTwoHours
	EveryFourHours
	EverySixHours
	EveryEightHours
	EveryTwelveHours
	EveryTwentyFourHours
	OnceDaily
	TwiceDaily
	ThreeTimesDaily
	FourTimesDaily
	AsNeeded
	Weekly
)

// DefaultInterval applies to unknown, malformed and non-periodic frequencies.
const DefaultInterval = 24 * time.Hour

var kindNames = map[FrequencyKind]string{
	FrequencyUnknown:     "unknown",
	EveryFiveMinutes:     "every_5_minutes",
	Hourly:               "every_hour",
	EveryTwoHours:        "every_2_hours",
	EveryFourHours:       "every_4_hours",
	EverySixHours:        "every_6_hours",
	EveryEightHours:      "every_8_hours",
	EveryTwelveHours:     "every_12_hours",
	EveryTwentyFourHours: "every_24_hours",
	OnceDaily:            "once_daily",
	TwiceDaily:           "twice_daily",
	ThreeTimesDaily:      "three_times_daily",
	FourTimesDaily:       "four_times_daily",
	AsNeeded:             "as_needed",
	Weekly:               "weekly",
}

var kindIntervals = map[FrequencyKind]time.Duration{
	EveryFiveMinutes:     5 * time.Minute,
	Hourly:               time.Hour,
	EveryTwoHours:        2 * time.Hour,
	EveryFourHours:       4 * time.Hour,
	EverySixHours:        6 * time.Hour,
	EveryEightHours:      8 * time.Hour,
	EveryTwelveHours:     12 * time.Hour,
	EveryTwentyFourHours: 24 * time.Hour,
	OnceDaily:            24 * time.Hour,
	TwiceDaily:           12 * time.Hour,
	ThreeTimesDaily:      8 * time.Hour,
	FourTimesDaily:       6 * time.Hour,
	// AsNeeded and Weekly fall through to DefaultInterval.
}

// phrases are matched against the whole normalized text, never as substrings.
var phrases = map[string]FrequencyKind{
	"hourly":            Hourly,
	"every hour":        Hourly,
	"daily":             OnceDaily,
	"once daily":        OnceDaily,
	"once a day":        OnceDaily,
	"twice daily":       TwiceDaily,
	"twice a day":       TwiceDaily,
	"three times daily": ThreeTimesDaily,
	"three times a day": ThreeTimesDaily,
	"four times daily":  FourTimesDaily,
	"four times a day":  FourTimesDaily,
	"as needed":         AsNeeded,
	"weekly":            Weekly,
}

// everyN matches "every 6 hours", "6 hours", "6h", "every 5 min" and friends.
var everyN = regexp.MustCompile(`^(?:every\s*)?(\d{1,3})\s*(m|min|mins|minute|minutes|h|hr|hrs|hour|hours)$`)

var periodic = map[time.Duration]FrequencyKind{
	5 * time.Minute: EveryFiveMinutes,
	time.Hour:       Hourly,
	2 * time.Hour:   EveryTwoHours,
	4 * time.Hour:   EveryFourHours,
	6 * time.Hour:   EverySixHours,
	8 * time.Hour:   EveryEightHours,
	12 * time.Hour:  EveryTwelveHours,
	24 * time.Hour:  EveryTwentyFourHours,
}

// ParseFrequency maps free text onto a FrequencyKind. It never fails; text
// that matches nothing yields FrequencyUnknown.
func ParseFrequency(text string) FrequencyKind {
	norm := normalize(text)
	if norm == "" {
		return FrequencyUnknown
	}
	if k, ok := phrases[norm]; ok {
		return k
	}
	m := everyN.FindStringSubmatch(norm)
	if m == nil {
		return FrequencyUnknown
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return FrequencyUnknown
	}
	unit := time.Hour
	if strings.HasPrefix(m[2], "m") {
		unit = time.Minute
	}
	if k, ok := periodic[time.Duration(n)*unit]; ok {
		return k
	}
	return FrequencyUnknown
}

// ResolveInterval returns the dosing period for free-text frequency. Total:
// anything unrecognized resolves to DefaultInterval.
func ResolveInterval(text string) time.Duration {
	return ParseFrequency(text).Interval()
}

// Interval is the period between consecutive doses of this kind.
func (k FrequencyKind) Interval() time.Duration {
	if d, ok := kindIntervals[k]; ok {
		return d
	}
	return DefaultInterval
}

func (k FrequencyKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Known reports whether the text matched a recognized frequency.
func (k FrequencyKind) Known() bool { return k != FrequencyUnknown }

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, ".")
	return strings.Join(strings.Fields(s), " ")
}
