package model

import (
	"errors"
	"math"
	"strings"
	"time"

	"recurcal/internal/notion"
)

// PropertyNames maps the logical recurrence fields onto the property names of
// the backing data source.
type PropertyNames struct {
	Title     string `yaml:"title" json:"title"`
	Date      string `yaml:"date" json:"date"`
	Frequency string `yaml:"frequency" json:"frequency"`
	Cadence   string `yaml:"cadence" json:"cadence"`
	Days      string `yaml:"days" json:"days"`
	Lookahead string `yaml:"lookahead" json:"lookahead"`
	IsSource  string `yaml:"is_source" json:"is_source"`
	SeriesID  string `yaml:"series_id" json:"series_id"`
}

func DefaultPropertyNames() PropertyNames {
	return PropertyNames{
		Title:     "Name",
		Date:      "Date",
		Frequency: "Frequency",
		Cadence:   "Cadence",
		Days:      "Days",
		Lookahead: "Lookahead",
		IsSource:  "Recurring Source",
		SeriesID:  "Series ID",
	}
}

// Normalize fills empty names with the defaults.
func (n *PropertyNames) Normalize() {
	d := DefaultPropertyNames()
	fill := func(dst *string, def string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = def
		}
	}
	fill(&n.Title, d.Title)
	fill(&n.Date, d.Date)
	fill(&n.Frequency, d.Frequency)
	fill(&n.Cadence, d.Cadence)
	fill(&n.Days, d.Days)
	fill(&n.Lookahead, d.Lookahead)
	fill(&n.IsSource, d.IsSource)
	fill(&n.SeriesID, d.SeriesID)
}

// RecurrenceSource is one record of the data source: either a template that
// drives generation (IsSource) or an occurrence generated earlier.
type RecurrenceSource struct {
	ID        string
	Name      string
	Frequency Frequency
	Cadence   int
	Days      Weekdays
	Lookahead int

	// Start is the local instant. It keeps the offset the record was
	// written with (or its named zone) and is never normalized to UTC.
	Start time.Time
	// Duration is End-Start when the date carries an end.
	Duration time.Duration
	AllDay   bool
	// TimeZone is the IANA zone attached to the date, if any.
	TimeZone string

	SeriesID string
	IsSource bool

	Icon       *notion.Icon
	Properties map[string]notion.Property

	names PropertyNames
}

// New extracts a RecurrenceSource from a page. Missing or mistyped fields
// become empty values; cadence and lookahead are clamped to policy ceilings.
func New(page notion.Page, names PropertyNames) *RecurrenceSource {
	names.Normalize()
	props := page.Properties
	if props == nil {
		props = map[string]notion.Property{}
	}

	s := &RecurrenceSource{
		ID:         page.ID,
		Icon:       page.Icon,
		Properties: props,
		names:      names,
	}

	s.Name = titleOf(props, names.Title)
	if p, ok := props[names.Frequency]; ok && p.Select != nil {
		s.Frequency = ParseFrequency(p.Select.Name)
	}
	s.Cadence = intOf(props[names.Cadence])
	s.Lookahead = intOf(props[names.Lookahead])
	if p, ok := props[names.Days]; ok {
		dayNames := make([]string, 0, len(p.MultiSelect))
		for _, o := range p.MultiSelect {
			dayNames = append(dayNames, o.Name)
		}
		s.Days = ParseWeekdays(dayNames)
	}
	if p, ok := props[names.IsSource]; ok && p.Checkbox != nil {
		s.IsSource = *p.Checkbox
	}
	if p, ok := props[names.SeriesID]; ok {
		s.SeriesID = strings.TrimSpace(notion.PlainTexts(p.RichText))
	}
	if p, ok := props[names.Date]; ok && p.Date != nil {
		if d, err := ParseDate(*p.Date); err == nil {
			s.Start = d.Start
			s.Duration = d.Duration
			s.AllDay = d.AllDay
			s.TimeZone = d.TimeZone
		}
	}

	s.clamp()
	return s
}

func titleOf(props map[string]notion.Property, name string) string {
	if p, ok := props[name]; ok && p.Type == notion.TypeTitle {
		return notion.PlainTexts(p.Title)
	}
	for _, p := range props {
		if p.Type == notion.TypeTitle {
			return notion.PlainTexts(p.Title)
		}
	}
	return ""
}

func intOf(p notion.Property) int {
	if p.Number == nil || math.IsNaN(*p.Number) || math.IsInf(*p.Number, 0) {
		return 0
	}
	// Clamp before converting so huge values cannot wrap around.
	n := math.Floor(*p.Number)
	switch {
	case n > math.MaxInt32:
		return math.MaxInt32
	case n < math.MinInt32:
		return math.MinInt32
	}
	return int(n)
}

// clamp caps cadence and lookahead for the frequency. It is idempotent.
func (s *RecurrenceSource) clamp() {
	var maxCadence, maxLookahead int
	switch s.Frequency {
	case FrequencyWeekly:
		maxCadence, maxLookahead = MaxWeeklyCadence, MaxWeeklyLookahead
	case FrequencyDaily:
		maxCadence, maxLookahead = MaxDailyCadence, MaxDailyLookahead
	default:
		return
	}
	if s.Cadence > maxCadence {
		s.Cadence = maxCadence
	}
	if s.Lookahead > maxLookahead {
		s.Lookahead = maxLookahead
	}
}

// Names returns the property names the record was extracted with.
func (s *RecurrenceSource) Names() PropertyNames {
	return s.names
}

// HasDate reports whether a local instant was present.
func (s *RecurrenceSource) HasDate() bool {
	return !s.Start.IsZero()
}

// Validation failures, checked in this order.
var (
	ErrMissingFrequency = errors.New("missing frequency")
	ErrMissingDate      = errors.New("missing date")
	ErrCadence          = errors.New("cadence must be at least 1")
	ErrLookahead        = errors.New("lookahead must be at least 1")
	ErrWeeklyNoDays     = errors.New("weekly frequency requires at least one day")
	ErrNotSource        = errors.New("not marked as recurring source")
)

var reasons = map[error]string{
	ErrMissingFrequency: "Missing frequency",
	ErrMissingDate:      "Missing date",
	ErrCadence:          "Cadence must be at least 1",
	ErrLookahead:        "Lookahead must be at least 1",
	ErrWeeklyNoDays:     "Weekly frequency requires at least one day",
	ErrNotSource:        "Not marked as recurring source",
}

// Validate returns the first failing check. requireSource controls whether
// the "is source" flag is part of the checks.
func (s *RecurrenceSource) Validate(requireSource bool) error {
	switch {
	case s.Frequency == "":
		return ErrMissingFrequency
	case !s.HasDate():
		return ErrMissingDate
	case s.Cadence < 1:
		return ErrCadence
	case s.Lookahead < 1:
		return ErrLookahead
	case s.Frequency == FrequencyWeekly && len(s.Days) == 0:
		return ErrWeeklyNoDays
	case requireSource && !s.IsSource:
		return ErrNotSource
	}
	return nil
}

// IsValid is the check used by manual sync.
func (s *RecurrenceSource) IsValid() bool {
	return s.Validate(true) == nil
}

// IsValidAutomatic omits the "is source" flag: automatic sync works on the
// latest occurrence of each series, whose flag has usually been cleared.
func (s *RecurrenceSource) IsValidAutomatic() bool {
	return s.Validate(false) == nil
}

// ValidationFailureReason describes why IsValid is false, or "" if it is true.
func (s *RecurrenceSource) ValidationFailureReason() string {
	return Reason(s.Validate(true))
}

// Reason renders a validation error for humans.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	if r, ok := reasons[err]; ok {
		return r
	}
	return err.Error()
}

// Location resolves the zone used to compute per-date offsets: the date's
// named zone, else def when it agrees with the record's offset, else the
// record's fixed offset.
func (s *RecurrenceSource) Location(def *time.Location) *time.Location {
	if s.TimeZone != "" {
		if loc, err := time.LoadLocation(s.TimeZone); err == nil {
			return loc
		}
	}
	_, offset := s.Start.Zone()
	if def != nil {
		if _, defOffset := s.Start.In(def).Zone(); defOffset == offset {
			return def
		}
	}
	// A start already built in a named zone keeps it.
	if loc := s.Start.Location(); loc != time.UTC && loc != time.Local && loc.String() != "" {
		return loc
	}
	return time.FixedZone("", offset)
}

// LocalStart returns Start expressed in Location(def).
func (s *RecurrenceSource) LocalStart(def *time.Location) time.Time {
	return s.Start.In(s.Location(def))
}
