// Package ics renders the occurrences of a series as an iCalendar feed so a
// projection can be inspected in any calendar client.
package ics

import (
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"recurcal/internal/model"
)

const productID = "-//recurcal//recurrence preview//EN"

// Feed is one calendar document.
type Feed struct {
	// Name becomes X-WR-CALNAME.
	Name string
	// Stamp is written as DTSTAMP on every event.
	Stamp       time.Time
	Occurrences []model.Occurrence
}

// Encode serializes f. Timed events are written in UTC; all-day events as
// dates in their own zone.
func Encode(f Feed) []byte {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if f.Name != "" {
		cal.SetXWRCalName(f.Name)
	}

	stamp := f.Stamp
	if stamp.IsZero() {
		stamp = time.Now()
	}

	for _, o := range f.Occurrences {
		ev := cal.AddEvent(UID(o))
		ev.SetDtStampTime(stamp.UTC())
		ev.SetSummary(o.Summary)
		if o.AllDay {
			ev.SetAllDayStartAt(o.Start)
			ev.SetAllDayEndAt(o.End)
		} else {
			ev.SetStartAt(o.Start)
			ev.SetEndAt(o.End)
		}
		if o.PageID != "" {
			ev.SetDescription("Notion page " + o.PageID)
		}
	}
	return []byte(cal.Serialize())
}

// UID is stable per series and local start, so re-exporting a projection
// updates events in place in subscribed clients.
func UID(o model.Occurrence) string {
	owner := o.SeriesID
	if owner == "" {
		owner = o.PageID
	}
	if owner == "" {
		owner = "unsaved"
	}
	key := o.Start.UTC().Format("20060102T150405Z")
	return fmt.Sprintf("%s-%s@recurcal", strings.ReplaceAll(owner, "-", ""), key)
}
