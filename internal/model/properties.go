package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"recurcal/internal/notion"
)

const (
	dateLayout      = "2006-01-02"
	wallClockLayout = "2006-01-02T15:04:05.000"
	offsetLayout    = "2006-01-02T15:04:05.000Z07:00"
)

// Date is a parsed date property value.
type Date struct {
	Start    time.Time
	Duration time.Duration
	AllDay   bool
	TimeZone string
}

// ParseDate reads a date property. Offsets are preserved; a named zone, when
// present, interprets an offset-less wall clock.
func ParseDate(v notion.DateValue) (Date, error) {
	var d Date
	if v.TimeZone != nil {
		d.TimeZone = strings.TrimSpace(*v.TimeZone)
	}
	var loc *time.Location
	if d.TimeZone != "" {
		l, err := time.LoadLocation(d.TimeZone)
		if err != nil {
			return Date{}, fmt.Errorf("unknown time zone %q: %w", d.TimeZone, err)
		}
		loc = l
	}

	start, allDay, err := parseInstant(v.Start, loc)
	if err != nil {
		return Date{}, err
	}
	d.Start = start
	d.AllDay = allDay

	if v.End != nil && *v.End != "" {
		end, _, err := parseInstant(*v.End, loc)
		if err == nil && end.After(start) {
			d.Duration = end.Sub(start)
		}
	}
	return d, nil
}

func parseInstant(s string, loc *time.Location) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false, errors.New("empty date")
	}
	if len(s) == len(dateLayout) {
		t, err := time.Parse(dateLayout, s)
		return t, true, err
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		if loc != nil {
			t = t.In(loc)
		}
		return t, false, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range []string{wallClockLayout, "2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, false, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("unrecognized date %q", s)
}

// FormatDate renders the write shape of a date. With a named zone the wall
// clock is sent alongside the zone; otherwise the instant carries its offset.
func FormatDate(start time.Time, dur time.Duration, allDay bool, tz string) notion.DateValue {
	var v notion.DateValue
	format := func(t time.Time) string {
		switch {
		case allDay:
			return t.Format(dateLayout)
		case tz != "":
			return t.Format(wallClockLayout)
		default:
			return t.Format(offsetLayout)
		}
	}
	v.Start = format(start)
	if dur > 0 {
		end := format(start.Add(dur))
		if allDay {
			end = start.AddDate(0, 0, int(dur/(24*time.Hour))).Format(dateLayout)
		}
		v.End = &end
	}
	if tz != "" && !allDay {
		zone := tz
		v.TimeZone = &zone
	}
	return v
}

// copiers maps each writable property kind onto its copy function. Kinds not
// listed here (formula, rollup, people, files, timestamps, unique_id, ...)
// are dropped when a payload is cloned.
var copiers = map[string]func(notion.Property) notion.Property{
	notion.TypeTitle: func(p notion.Property) notion.Property {
		return notion.Property{Type: notion.TypeTitle, Title: copyRichText(p.Title)}
	},
	notion.TypeRichText: func(p notion.Property) notion.Property {
		return notion.Property{Type: notion.TypeRichText, RichText: copyRichText(p.RichText)}
	},
	notion.TypeNumber: func(p notion.Property) notion.Property {
		out := notion.Property{Type: notion.TypeNumber}
		if p.Number != nil {
			n := *p.Number
			out.Number = &n
		}
		return out
	},
	notion.TypeSelect: func(p notion.Property) notion.Property {
		out := notion.Property{Type: notion.TypeSelect}
		if p.Select != nil {
			out.Select = &notion.SelectOption{Name: p.Select.Name}
		}
		return out
	},
	notion.TypeMultiSelect: func(p notion.Property) notion.Property {
		opts := make([]notion.SelectOption, 0, len(p.MultiSelect))
		for _, o := range p.MultiSelect {
			opts = append(opts, notion.SelectOption{Name: o.Name})
		}
		return notion.Property{Type: notion.TypeMultiSelect, MultiSelect: opts}
	},
	notion.TypeCheckbox: func(p notion.Property) notion.Property {
		b := p.Checkbox != nil && *p.Checkbox
		return notion.Property{Type: notion.TypeCheckbox, Checkbox: &b}
	},
	notion.TypeDate: func(p notion.Property) notion.Property {
		out := notion.Property{Type: notion.TypeDate}
		if p.Date != nil {
			d := *p.Date
			out.Date = &d
		}
		return out
	},
	notion.TypeURL: func(p notion.Property) notion.Property {
		out := notion.Property{Type: notion.TypeURL}
		if p.URL != nil {
			u := *p.URL
			out.URL = &u
		}
		return out
	},
	notion.TypeRelation: func(p notion.Property) notion.Property {
		rel := make([]notion.Relation, 0, len(p.Relation))
		for _, r := range p.Relation {
			rel = append(rel, notion.Relation{ID: r.ID})
		}
		return notion.Property{Type: notion.TypeRelation, Relation: rel}
	},
}

// CopyProperty maps a read property onto its write shape. ok is false for
// kinds that cannot be copied.
func CopyProperty(p notion.Property) (notion.Property, bool) {
	fn, ok := copiers[p.Type]
	if !ok {
		return notion.Property{}, false
	}
	return fn(p), true
}

func copyRichText(in []notion.RichText) []notion.RichText {
	out := make([]notion.RichText, 0, len(in))
	for _, rt := range in {
		content := rt.PlainText
		if content == "" && rt.Text != nil {
			content = rt.Text.Content
		}
		run := notion.RichText{Type: "text", Text: &notion.Text{Content: content}}
		if rt.Text != nil && rt.Text.Link != nil {
			run.Text.Link = &notion.Link{URL: rt.Text.Link.URL}
		} else if rt.Href != "" {
			run.Text.Link = &notion.Link{URL: rt.Href}
		}
		if rt.Annotations != nil {
			a := *rt.Annotations
			run.Annotations = &a
		}
		out = append(out, run)
	}
	return out
}

// Payload clones every copyable property except the date and "is source"
// flag, which callers set per occurrence.
func (s *RecurrenceSource) Payload() map[string]notion.Property {
	out := make(map[string]notion.Property, len(s.Properties))
	for name, p := range s.Properties {
		if name == s.names.Date || name == s.names.IsSource {
			continue
		}
		if cp, ok := CopyProperty(p); ok {
			out[name] = cp
		}
	}
	return out
}

// DateProperty renders an occurrence date with the source's duration,
// all-day flag and zone.
func (s *RecurrenceSource) DateProperty(start time.Time) notion.Property {
	v := FormatDate(start, s.Duration, s.AllDay, s.TimeZone)
	return notion.Property{Type: notion.TypeDate, Date: &v}
}

// SeriesProperty renders a series identity value.
func SeriesProperty(id string) notion.Property {
	return notion.Property{Type: notion.TypeRichText, RichText: notion.NewText(id)}
}

// CheckboxProperty renders a checkbox value.
func CheckboxProperty(v bool) notion.Property {
	return notion.Property{Type: notion.TypeCheckbox, Checkbox: &v}
}

// CopyIcon returns the icon in a shape that can be written to another page.
// Hosted files are dropped because their URLs expire.
func CopyIcon(icon *notion.Icon) *notion.Icon {
	if icon == nil {
		return nil
	}
	switch icon.Type {
	case "emoji":
		return &notion.Icon{Type: "emoji", Emoji: icon.Emoji}
	case "external":
		if icon.External == nil {
			return nil
		}
		return &notion.Icon{Type: "external", External: &notion.ExternalFile{URL: icon.External.URL}}
	default:
		return nil
	}
}
