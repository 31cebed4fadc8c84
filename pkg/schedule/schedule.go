// Package schedule computes recurring rule run dates.
package schedule

import (
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/ArionMiles/spendcycle/pkg/api"
)

// Frequency is a normalized recurrence interval.
type Frequency string

// Supported frequencies. Annually is accepted on input and treated as Yearly.
const (
	Daily    Frequency = "daily"
	Weekly   Frequency = "weekly"
	Biweekly Frequency = "biweekly"
	Monthly  Frequency = "monthly"
	Yearly   Frequency = "yearly"
	Annually Frequency = "annually"
)

// Known lists the accepted frequency names.
var Known = []Frequency{Daily, Weekly, Biweekly, Monthly, Yearly, Annually}

// ParseFrequency normalizes raw (trimmed, lower-cased). ok is false when the
// value is not one of Known, in which case Monthly is returned.
func ParseFrequency(raw string) (f Frequency, ok bool) {
	f = Frequency(strings.ToLower(strings.TrimSpace(raw)))
	switch f {
	case Daily, Weekly, Biweekly, Monthly, Yearly:
		return f, true
	case Annually:
		return Yearly, true
	default:
		return Monthly, false
	}
}

// Advance returns the date one period after d.
func (f Frequency) Advance(d api.Date) api.Date {
	switch f {
	case Daily:
		return d.AddDays(1)
	case Weekly:
		return d.AddDays(7)
	case Biweekly:
		return d.AddDays(14)
	case Yearly, Annually:
		return d.AddMonths(12)
	default:
		return d.AddMonths(1)
	}
}

// Next computes the run date following d for the raw frequency string.
// Unrecognized frequencies advance monthly; recognized reports which case applied.
func Next(d api.Date, raw string) (next api.Date, recognized bool) {
	f, ok := ParseFrequency(raw)
	return f.Advance(d), ok
}

// NextString is Next over YYYY-MM-DD strings.
func NextString(date, raw string) (string, error) {
	d, err := api.ParseDate(date)
	if err != nil {
		return "", err
	}
	next, _ := Next(d, raw)
	return next.String(), nil
}

// Suggest returns the known frequency closest to raw by edit distance,
// or "" when nothing is within two edits.
func Suggest(raw string) Frequency {
	norm := strings.ToLower(strings.TrimSpace(raw))
	best, bestDist := Frequency(""), 3
	for _, f := range Known {
		if d := levenshtein.ComputeDistance(norm, string(f)); d < bestDist {
			best, bestDist = f, d
		}
	}
	return best
}
