// Package recur projects a recurrence source forward into concrete local
// instants. Every instant keeps the source's wall-clock hour and minute and
// carries the UTC offset valid for its own date in the source's zone.
package recur

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	appLog "recurcal/internal/log"
	"recurcal/internal/model"
)

// maxOccurrences caps a single projection.
const maxOccurrences = 500

// ErrUnsupportedFrequency is returned for frequencies without a strategy.
var ErrUnsupportedFrequency = errors.New("unsupported frequency")

// Strategy projects src forward from start (its local instant, seconds
// zeroed) up to and including end. The source's own day is never emitted.
type Strategy func(src *model.RecurrenceSource, start, end time.Time) ([]time.Time, error)

var strategies = map[model.Frequency]Strategy{
	model.FrequencyDaily:  Daily,
	model.FrequencyWeekly: Weekly,
}

// For returns the strategy registered for f.
func For(f model.Frequency) (Strategy, bool) {
	s, ok := strategies[f]
	return s, ok
}

// Generate resolves the source's zone (def is the fallback zone) and runs the
// strategy for its frequency up to end.
func Generate(src *model.RecurrenceSource, def *time.Location, end time.Time) ([]time.Time, error) {
	strategy, ok := For(src.Frequency)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFrequency, src.Frequency)
	}
	if !src.HasDate() {
		return nil, model.ErrMissingDate
	}
	start := startOf(src.LocalStart(def))
	return strategy(src, start, end.In(start.Location()))
}

// Boundary is the inclusive end of the lookahead window: the end of the day
// that lies lookahead days (Daily) or weeks (Weekly) after now, in the
// source's zone.
func Boundary(src *model.RecurrenceSource, def *time.Location, now time.Time) time.Time {
	loc := src.Location(def)
	days := src.Lookahead
	if src.Frequency == model.FrequencyWeekly {
		days = 7 * src.Lookahead
	}
	d := now.In(loc).AddDate(0, 0, days)
	return time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 0, loc)
}

// Daily emits every cadence-th day after the source day.
func Daily(src *model.RecurrenceSource, start, end time.Time) ([]time.Time, error) {
	if src.Cadence < 1 {
		return nil, model.ErrCadence
	}
	r, err := rrule.NewRRule(rrule.ROption{
		Freq:     rrule.DAILY,
		Interval: src.Cadence,
		Dtstart:  start,
		Until:    end,
	})
	if err != nil {
		return nil, fmt.Errorf("daily rule: %w", err)
	}

	var out []time.Time
	for _, t := range r.All() {
		if daysBetween(start, t) <= 0 {
			continue
		}
		if len(out) == maxOccurrences {
			appLog.Warn("recur: projection truncated", "page_id", src.ID, "cap", maxOccurrences)
			break
		}
		out = append(out, t)
	}
	return out, nil
}

// Weekly emits allowed weekdays in weeks whose distance from the source day
// (in whole 7-day spans) is a positive multiple of cadence.
func Weekly(src *model.RecurrenceSource, start, end time.Time) ([]time.Time, error) {
	if src.Cadence < 1 {
		return nil, model.ErrCadence
	}
	if len(src.Days) == 0 {
		return nil, model.ErrWeeklyNoDays
	}
	byDay := make([]rrule.Weekday, 0, len(src.Days))
	for _, d := range src.Days {
		byDay = append(byDay, toRRuleWeekday(d))
	}
	// Candidate days come from rrule; the week arithmetic is relative to
	// the source day rather than calendar weeks, so it is applied here.
	r, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.DAILY,
		Interval:  1,
		Byweekday: byDay,
		Dtstart:   start,
		Until:     end,
	})
	if err != nil {
		return nil, fmt.Errorf("weekly rule: %w", err)
	}

	var out []time.Time
	for _, t := range r.All() {
		days := daysBetween(start, t)
		if days <= 0 {
			continue
		}
		weeks := days / 7
		if weeks == 0 || weeks%src.Cadence != 0 || !src.Days.Contains(t.Weekday()) {
			continue
		}
		if len(out) == maxOccurrences {
			appLog.Warn("recur: projection truncated", "page_id", src.ID, "cap", maxOccurrences)
			break
		}
		out = append(out, t)
	}
	return out, nil
}

// startOf zeroes seconds and sub-seconds.
func startOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, t.Location())
}

// daysBetween counts calendar days from a to b, ignoring clock time and DST.
func daysBetween(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

func toRRuleWeekday(d time.Weekday) rrule.Weekday {
	switch d {
	case time.Monday:
		return rrule.MO
	case time.Tuesday:
		return rrule.TU
	case time.Wednesday:
		return rrule.WE
	case time.Thursday:
		return rrule.TH
	case time.Friday:
		return rrule.FR
	case time.Saturday:
		return rrule.SA
	default:
		return rrule.SU
	}
}

// Preview projects src against the lookahead boundary for now and returns
// the occurrences it would materialize.
func Preview(src *model.RecurrenceSource, def *time.Location, now time.Time) ([]model.Occurrence, error) {
	dates, err := Generate(src, def, Boundary(src, def, now))
	if err != nil {
		return nil, err
	}
	out := make([]model.Occurrence, 0, len(dates))
	for _, d := range dates {
		out = append(out, model.NewOccurrence(src.SeriesID, "", src.Name, d, src.Duration, src.AllDay))
	}
	return out, nil
}
