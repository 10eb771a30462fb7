package query

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// defaultPeriod applies when a duration has no unit.
const defaultPeriod = "days"

// dayUnits are measured in days.
var dayUnits = map[string]int{
	"day":       1,
	"week":      7,
	"fortnight": 14,
	"month":     30,
	"sam":       297,
	"year":      365,
	"decade":    3650,
}

// secondUnits are measured in seconds.
var secondUnits = map[string]float64{
	"second":         1,
	"minute":         60,
	"hour":           60 * 60,
	"microfortnight": 1.2,
}

// maxDays is the largest whole number of days a time.Duration can hold.
const maxDays = math.MaxInt64 / int64(24*time.Hour)

// ParseDuration parses "<integer> <period>", such as "2 weeks" or "90 seconds".
// The period may be singular or plural and defaults to days. Negative amounts
// are allowed and compare against date differences that run backwards.
// Amounts beyond the range of time.Duration are an error.
func ParseDuration(text string) (time.Duration, error) {
	text = strings.TrimSpace(text)
	amount, period := text, defaultPeriod
	if i := strings.LastIndex(text, " "); i >= 0 {
		amount, period = strings.TrimSpace(text[:i]), text[i+1:]
	}
	period = strings.TrimRight(strings.ToLower(period), "s")

	n, err := strconv.ParseInt(amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration amount %q", amount)
	}

	if days, ok := dayUnits[period]; ok {
		limit := maxDays / int64(days)
		if n > limit || n < -limit {
			return 0, fmt.Errorf("duration %q is out of range", text)
		}
		return time.Duration(n*int64(days)) * 24 * time.Hour, nil
	}
	if seconds, ok := secondUnits[period]; ok {
		ns := float64(n) * seconds * float64(time.Second)
		if math.Abs(ns) >= math.MaxInt64 {
			return 0, fmt.Errorf("duration %q is out of range", text)
		}
		return time.Duration(ns), nil
	}
	return 0, fmt.Errorf("unknown duration unit %q", period)
}
