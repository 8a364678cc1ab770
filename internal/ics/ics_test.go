package ics

import (
	"bytes"
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recurcal/internal/model"
)

func TestEncode_TimedOccurrences(t *testing.T) {
	la, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)

	occ := []model.Occurrence{
		model.NewOccurrence("ab-cd", "", "Standup", time.Date(2025, 11, 1, 10, 0, 0, 0, la), 30*time.Minute, false),
		model.NewOccurrence("ab-cd", "", "Standup", time.Date(2025, 11, 2, 10, 0, 0, 0, la), 30*time.Minute, false),
	}
	body := Encode(Feed{Name: "Standup", Stamp: time.Date(2025, 10, 30, 0, 0, 0, 0, time.UTC), Occurrences: occ})

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	require.NoError(t, err)
	events := cal.Events()
	require.Len(t, events, 2)

	// 10:00 PDT and 10:00 PST
	start0, err := events[0].GetStartAt()
	require.NoError(t, err)
	assert.True(t, start0.Equal(time.Date(2025, 11, 1, 17, 0, 0, 0, time.UTC)))
	start1, err := events[1].GetStartAt()
	require.NoError(t, err)
	assert.True(t, start1.Equal(time.Date(2025, 11, 2, 18, 0, 0, 0, time.UTC)))

	end1, err := events[1].GetEndAt()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, end1.Sub(start1))

	assert.Equal(t, "abcd-20251101T170000Z@recurcal", events[0].Id())
	assert.Equal(t, "Standup", events[0].GetProperty(ical.ComponentPropertySummary).Value)
	assert.Contains(t, string(body), "X-WR-CALNAME:Standup")
}

func TestEncode_AllDay(t *testing.T) {
	start := time.Date(2025, 10, 15, 0, 0, 0, 0, time.UTC)
	body := string(Encode(Feed{Occurrences: []model.Occurrence{
		model.NewOccurrence("", "page-1", "Holiday", start, 0, true),
	}}))

	assert.Contains(t, body, "DTSTART;VALUE=DATE:20251015")
	assert.Contains(t, body, "DTEND;VALUE=DATE:20251016")
	assert.Contains(t, body, "Notion page page-1")
	assert.True(t, strings.Contains(body, "UID:page1-20251015T000000Z@recurcal"))
}

func TestUID_Fallbacks(t *testing.T) {
	at := time.Date(2025, 10, 15, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "unsaved-20251015T100000Z@recurcal", UID(model.Occurrence{Start: at}))
	assert.Equal(t, "s1-20251015T100000Z@recurcal", UID(model.Occurrence{SeriesID: "s1", PageID: "p", Start: at}))
}
