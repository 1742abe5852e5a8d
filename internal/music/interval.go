package music

import (
	"math"
	"strconv"
	"strings"
	"time"
)

var intervalUnits = map[string]time.Duration{
	"s":       time.Second,
	"sec":     time.Second,
	"secs":    time.Second,
	"second":  time.Second,
	"seconds": time.Second,
	"m":       time.Minute,
	"min":     time.Minute,
	"mins":    time.Minute,
	"minute":  time.Minute,
	"minutes": time.Minute,
	"hr":      time.Hour,
	"hrs":     time.Hour,
	"hour":    time.Hour,
	"hours":   time.Hour,
}

// ParseInterval parses human-readable intervals like "1s", "10 mins" or
// "3.5hours".
func ParseInterval(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	split := strings.IndexFunc(s, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})
	if split <= 0 {
		return 0, false
	}

	num, err := strconv.ParseFloat(s[:split], 64)
	if err != nil {
		return 0, false
	}

	unit, ok := intervalUnits[strings.ToLower(strings.TrimSpace(s[split:]))]
	if !ok {
		return 0, false
	}

	return durationOf(num * float64(unit))
}

// durationOf converts nanoseconds to a Duration. float64(math.MaxInt64) is
// 2^63, which no longer fits.
func durationOf(ns float64) (time.Duration, bool) {
	if ns >= math.MaxInt64 {
		return 0, false
	}
	return time.Duration(ns), true
}
