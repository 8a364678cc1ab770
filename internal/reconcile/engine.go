// Package reconcile materializes recurring series: it stamps series identity
// on templates, moves already generated occurrences onto the template's
// current schedule, creates the missing ones and clears the template flag.
//
// A run processes records one at a time. Later steps read mutations made by
// earlier ones (a freshly stamped series id, a created occurrence), so the
// working set is shared by every template of the run.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	appLog "recurcal/internal/log"
	"recurcal/internal/model"
	"recurcal/internal/notion"
	"recurcal/internal/recur"
)

// Pages is the subset of the Notion client the engine writes through. The
// client owns retries; every call here either succeeds or fails for good.
type Pages interface {
	CreatePage(ctx context.Context, req notion.CreatePageRequest) (*notion.Page, error)
	UpdatePage(ctx context.Context, pageID string, req notion.UpdatePageRequest) (*notion.Page, error)
	GetBlockChildren(ctx context.Context, blockID string) ([]notion.Block, error)
	ReplaceBlockChildren(ctx context.Context, pageID string, blocks []notion.Block) error
}

// Options configures an Engine.
type Options struct {
	// DataSourceID receives created occurrences.
	DataSourceID string
	// Location is the zone used when a record's date names none.
	Location *time.Location
	// Cutoff: records dated before it are never processed.
	Cutoff time.Time
	// SyncContent copies the template's blocks onto updated occurrences
	// as well as created ones.
	SyncContent bool
	// NewSeriesID generates series identity tokens. Defaults to uuid v4.
	NewSeriesID func() string
}

type Engine struct {
	pages Pages
	opts  Options
}

func New(pages Pages, opts Options) *Engine {
	if opts.NewSeriesID == nil {
		opts.NewSeriesID = func() string { return uuid.NewString() }
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Engine{pages: pages, opts: opts}
}

// Result accumulates the outcome of a run. Errors are tagged with the id of
// the page they concern.
type Result struct {
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors"`
}

func (r *Result) fail(pageID string, err error, msg string) {
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %s: %v", pageID, msg, err))
	appLog.Error("reconcile: "+msg, err, "page_id", pageID)
}

func (r *Result) skip(src *model.RecurrenceSource, reason string) {
	r.Skipped++
	appLog.Info("reconcile: skipping record", "page_id", src.ID, "series_id", src.SeriesID, "reason", reason)
}

// Run is one pass over a working set.
type Run struct {
	engine *Engine
	now    time.Time
	events []*model.RecurrenceSource
	blocks map[string][]notion.Block

	Result Result
}

// NewRun starts a pass at now over events. The slice is owned by the run:
// records are updated in place and created occurrences are appended.
func (e *Engine) NewRun(events []*model.RecurrenceSource, now time.Time) *Run {
	return &Run{
		engine: e,
		now:    now,
		events: events,
		blocks: map[string][]notion.Block{},
		Result: Result{Errors: []string{}},
	}
}

// Events returns the current working set.
func (r *Run) Events() []*model.RecurrenceSource {
	return r.events
}

// ProcessAllSourcePages runs every flagged template of events.
func (e *Engine) ProcessAllSourcePages(ctx context.Context, events []*model.RecurrenceSource, now time.Time) Result {
	run := e.NewRun(events, now)
	run.ProcessAllSourcePages(ctx)
	return run.Result
}

// ProcessAllSourcePagesAutomatic runs the latest record of every series,
// whether or not it is still flagged.
func (e *Engine) ProcessAllSourcePagesAutomatic(ctx context.Context, events []*model.RecurrenceSource, now time.Time) Result {
	run := e.NewRun(events, now)
	run.ProcessAllSourcePagesAutomatic(ctx)
	return run.Result
}

// ProcessAllSourcePages processes the records of the working set whose
// source flag is set, in order.
func (r *Run) ProcessAllSourcePages(ctx context.Context) {
	templates := make([]*model.RecurrenceSource, 0, len(r.events))
	for _, ev := range r.events {
		if ev.IsSource {
			templates = append(templates, ev)
		}
	}
	for _, src := range templates {
		if r.eligible(src, true) {
			r.ProcessSourcePage(ctx, src)
		}
	}
}

// ProcessAllSourcePagesAutomatic processes one representative per series:
// its chronologically latest record. Records without a series id are only
// considered when flagged, each on its own.
func (r *Run) ProcessAllSourcePagesAutomatic(ctx context.Context) {
	for _, src := range latestPerSeries(r.events) {
		if r.eligible(src, false) {
			r.ProcessSourcePage(ctx, src)
		}
	}
}

func latestPerSeries(events []*model.RecurrenceSource) []*model.RecurrenceSource {
	var out []*model.RecurrenceSource
	index := map[string]int{}
	for _, ev := range events {
		if ev.SeriesID == "" {
			if ev.IsSource {
				out = append(out, ev)
			}
			continue
		}
		i, ok := index[ev.SeriesID]
		if !ok {
			index[ev.SeriesID] = len(out)
			out = append(out, ev)
			continue
		}
		if ev.Start.After(out[i].Start) {
			out[i] = ev
		}
	}
	return out
}

// eligible applies the cutoff and validation gates, counting a skip when
// src does not pass.
func (r *Run) eligible(src *model.RecurrenceSource, requireSource bool) bool {
	if src.HasDate() && src.Start.Before(r.engine.opts.Cutoff) {
		r.Result.skip(src, "before rollout cutoff")
		return false
	}
	if err := src.Validate(requireSource); err != nil {
		r.Result.skip(src, model.Reason(err))
		return false
	}
	if !src.Frequency.Supported() {
		r.Result.skip(src, "Unsupported frequency")
		return false
	}
	return true
}

// ProcessSourcePage reconciles one template: stamp identity, move existing
// future occurrences, create missing ones, clear the flag.
func (r *Run) ProcessSourcePage(ctx context.Context, src *model.RecurrenceSource) {
	if err := r.stampSeriesID(ctx, src); err != nil {
		r.Result.fail(src.ID, err, "stamp series id")
		return
	}
	r.UpdateAllFutureEvents(ctx, src)
	r.GenerateFutureEvents(ctx, src)
	r.markProcessed(ctx, src)
}

func (r *Run) stampSeriesID(ctx context.Context, src *model.RecurrenceSource) error {
	if src.SeriesID != "" {
		return nil
	}
	id := r.engine.opts.NewSeriesID()
	prop := model.SeriesProperty(id)
	name := src.Names().SeriesID
	if _, err := r.engine.pages.UpdatePage(ctx, src.ID, notion.UpdatePageRequest{
		Properties: map[string]notion.Property{name: prop},
	}); err != nil {
		return err
	}
	src.SeriesID = id
	if src.Properties == nil {
		src.Properties = map[string]notion.Property{}
	}
	src.Properties[name] = prop
	appLog.Info("reconcile: stamped series id", "page_id", src.ID, "series_id", id)
	return nil
}

// FutureEvents returns the records of src's series dated strictly after it,
// in chronological order.
func (r *Run) FutureEvents(src *model.RecurrenceSource) []*model.RecurrenceSource {
	var out []*model.RecurrenceSource
	for _, ev := range r.events {
		if ev.ID == src.ID || ev.SeriesID == "" || ev.SeriesID != src.SeriesID {
			continue
		}
		if ev.Start.After(src.Start) {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// ExpectedDates projects src's current rule to the lookahead boundary.
func (r *Run) ExpectedDates(src *model.RecurrenceSource) ([]time.Time, error) {
	loc := r.engine.opts.Location
	return recur.Generate(src, loc, recur.Boundary(src, loc, r.now))
}

// UpdateAllFutureEvents pairs existing future occurrences with the expected
// dates by position and rewrites each with the template's payload.
// Occurrences beyond the expected count are left alone.
func (r *Run) UpdateAllFutureEvents(ctx context.Context, src *model.RecurrenceSource) {
	existing := r.FutureEvents(src)
	if len(existing) == 0 {
		return
	}
	expected, err := r.ExpectedDates(src)
	if err != nil {
		r.Result.fail(src.ID, err, "generate dates")
		return
	}

	n := min(len(existing), len(expected))
	for i := 0; i < n; i++ {
		ev, at := existing[i], expected[i]
		props := src.Payload()
		props[src.Names().Date] = src.DateProperty(at)

		if _, err := r.engine.pages.UpdatePage(ctx, ev.ID, notion.UpdatePageRequest{
			Properties: props,
			Icon:       model.CopyIcon(src.Icon),
		}); err != nil {
			r.Result.fail(ev.ID, err, "update future event")
			continue
		}
		r.Result.Updated++
		ev.Start = at
		appLog.Debug("reconcile: updated occurrence", "page_id", ev.ID, "series_id", src.SeriesID, "start", at.Format(time.RFC3339))

		if !r.engine.opts.SyncContent {
			continue
		}
		blocks, ok := r.templateBlocks(ctx, src)
		if !ok {
			continue
		}
		if err := r.engine.pages.ReplaceBlockChildren(ctx, ev.ID, blocks); err != nil {
			r.Result.fail(ev.ID, err, "replace content")
		}
	}
}

// GenerateFutureEvents creates an occurrence for every expected date that no
// record of the series already occupies (compared to the minute).
func (r *Run) GenerateFutureEvents(ctx context.Context, src *model.RecurrenceSource) {
	expected, err := r.ExpectedDates(src)
	if err != nil {
		r.Result.fail(src.ID, err, "generate dates")
		return
	}

	for _, at := range expected {
		if r.occupied(src.SeriesID, at) {
			r.Result.Skipped++
			continue
		}

		props := src.Payload()
		props[src.Names().Date] = src.DateProperty(at)
		blocks, _ := r.templateBlocks(ctx, src)

		page, err := r.engine.pages.CreatePage(ctx, notion.CreatePageRequest{
			DataSourceID: r.engine.opts.DataSourceID,
			Properties:   props,
			Icon:         model.CopyIcon(src.Icon),
			Children:     blocks,
		})
		if err != nil {
			r.Result.fail(src.ID, err, "create occurrence "+at.Format(time.RFC3339))
			continue
		}
		r.Result.Created++
		appLog.Debug("reconcile: created occurrence", "page_id", page.ID, "series_id", src.SeriesID, "start", at.Format(time.RFC3339))

		occ := *src
		occ.ID = page.ID
		occ.Start = at
		occ.IsSource = false
		occ.Properties = props
		r.events = append(r.events, &occ)
	}
}

func (r *Run) occupied(seriesID string, at time.Time) bool {
	want := at.Truncate(time.Minute)
	for _, ev := range r.events {
		if ev.SeriesID == seriesID && ev.Start.Truncate(time.Minute).Equal(want) {
			return true
		}
	}
	return false
}

// templateBlocks fetches the template's copyable blocks once per run. A
// failed fetch is recorded and reported as unavailable.
func (r *Run) templateBlocks(ctx context.Context, src *model.RecurrenceSource) ([]notion.Block, bool) {
	if blocks, ok := r.blocks[src.ID]; ok {
		return blocks, blocks != nil
	}
	all, err := r.engine.pages.GetBlockChildren(ctx, src.ID)
	if err != nil {
		r.blocks[src.ID] = nil
		r.Result.fail(src.ID, err, "fetch content")
		return nil, false
	}
	blocks := make([]notion.Block, 0, len(all))
	for _, b := range all {
		if !b.Copyable() {
			appLog.Warn("reconcile: block not copied", "page_id", src.ID, "block_id", b.ID, "type", b.Type)
			continue
		}
		blocks = append(blocks, notion.Block{Type: b.Type, Content: b.Content})
	}
	r.blocks[src.ID] = blocks
	return blocks, true
}

func (r *Run) markProcessed(ctx context.Context, src *model.RecurrenceSource) {
	if !src.IsSource {
		return
	}
	if _, err := r.engine.pages.UpdatePage(ctx, src.ID, notion.UpdatePageRequest{
		Properties: map[string]notion.Property{src.Names().IsSource: model.CheckboxProperty(false)},
	}); err != nil {
		r.Result.fail(src.ID, err, "clear source flag")
		return
	}
	src.IsSource = false
}

// Preview returns the occurrences src would project at now without touching
// the backend.
func (e *Engine) Preview(src *model.RecurrenceSource, now time.Time) ([]model.Occurrence, error) {
	if err := src.Validate(false); err != nil {
		return nil, err
	}
	return recur.Preview(src, e.opts.Location, now)
}
