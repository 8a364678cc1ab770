package model

import (
	"sort"
	"strings"
	"time"
)

// Frequency is the recurrence kind selected on a record. Only Daily and
// Weekly drive generation; other names are kept verbatim so they can be
// reported.
type Frequency string

const (
	FrequencyDaily  Frequency = "Daily"
	FrequencyWeekly Frequency = "Weekly"
)

// ParseFrequency normalizes case for the supported kinds and returns any
// other non-empty name unchanged.
func ParseFrequency(s string) Frequency {
	s = strings.TrimSpace(s)
	switch {
	case strings.EqualFold(s, string(FrequencyDaily)):
		return FrequencyDaily
	case strings.EqualFold(s, string(FrequencyWeekly)):
		return FrequencyWeekly
	default:
		return Frequency(s)
	}
}

// Supported reports whether a generation strategy exists for f.
func (f Frequency) Supported() bool {
	return f == FrequencyDaily || f == FrequencyWeekly
}

// Policy ceilings applied at construction.
const (
	MaxWeeklyCadence   = 4
	MaxWeeklyLookahead = 8 // weeks
	MaxDailyCadence    = 30
	MaxDailyLookahead  = 60 // days
)

// Weekdays is a set of allowed weekdays kept sorted Sunday..Saturday.
type Weekdays []time.Weekday

var weekdayByName = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeekdays maps English day names onto a set. Unknown names are ignored.
func ParseWeekdays(names []string) Weekdays {
	seen := make(map[time.Weekday]bool, len(names))
	out := Weekdays{}
	for _, n := range names {
		d, ok := weekdayByName[strings.ToLower(strings.TrimSpace(n))]
		if !ok || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (w Weekdays) Contains(d time.Weekday) bool {
	for _, x := range w {
		if x == d {
			return true
		}
	}
	return false
}

// Names returns the English day names in order.
func (w Weekdays) Names() []string {
	out := make([]string, len(w))
	for i, d := range w {
		out[i] = d.String()
	}
	return out
}

// AllWeekdayNames lists the multi-select options offered for the days field.
func AllWeekdayNames() []string {
	return []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}
}

// Occurrence represents a single concrete instance of a series, either
// already materialized (PageID set) or projected.
type Occurrence struct {
	SeriesID string
	PageID   string

	Summary string
	AllDay  bool

	// Start / End carry the offset valid for their own date.
	Start time.Time
	End   time.Time
}

// NewOccurrence builds an occurrence starting at start and lasting dur.
func NewOccurrence(seriesID, pageID, summary string, start time.Time, dur time.Duration, allDay bool) Occurrence {
	end := start.Add(dur)
	if allDay && dur == 0 {
		end = start.AddDate(0, 0, 1)
	}
	return Occurrence{
		SeriesID: seriesID,
		PageID:   pageID,
		Summary:  summary,
		AllDay:   allDay,
		Start:    start,
		End:      end,
	}
}
