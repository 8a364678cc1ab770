// Package syncer drives a full synchronization pass against one Notion
// database: it resolves the data source, makes sure the recurrence columns
// exist, fetches the candidate records of the window and hands them to the
// reconciliation engine.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	appLog "recurcal/internal/log"
	"recurcal/internal/metrics"
	"recurcal/internal/model"
	"recurcal/internal/notion"
	"recurcal/internal/reconcile"
)

// Mode selects how templates are chosen.
type Mode string

const (
	// ModeManual processes records whose source flag is set.
	ModeManual Mode = "manual"
	// ModeAutomatic processes the latest record of every series.
	ModeAutomatic Mode = "automatic"
)

// ParseMode maps a request value onto a Mode. Empty means manual.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeManual:
		return ModeManual, nil
	case ModeAutomatic:
		return ModeAutomatic, nil
	default:
		return "", fmt.Errorf("unknown sync mode %q", s)
	}
}

const queryPageSize = 100

var (
	ErrNoDatabase       = errors.New("notion database id is not configured")
	ErrNoDataSource     = errors.New("database has no queryable collection")
	ErrPageNotFound     = errors.New("page not found")
	errRecoveredFromRun = errors.New("sync run panicked")
)

// Client is the part of the Notion API a sync pass uses.
type Client interface {
	reconcile.Pages
	GetDatabase(ctx context.Context, databaseID string) (*notion.Database, error)
	GetDataSource(ctx context.Context, dataSourceID string) (*notion.DataSource, error)
	UpdateDataSource(ctx context.Context, dataSourceID string, props map[string]notion.PropertySchema) error
	QueryDataSource(ctx context.Context, dataSourceID string, q notion.Query) (*notion.QueryResult, error)
	GetPage(ctx context.Context, pageID string) (*notion.Page, error)
}

type Options struct {
	DatabaseID  string
	Names       model.PropertyNames
	Lookback    time.Duration
	Lookahead   time.Duration
	Location    *time.Location
	Cutoff      time.Time
	SyncContent bool
	NewSeriesID func() string
}

type Syncer struct {
	client Client
	opts   Options
}

func New(client Client, opts Options) *Syncer {
	opts.Names.Normalize()
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Syncer{client: client, opts: opts}
}

// Summary is what a run reports to its trigger.
type Summary struct {
	Success bool     `json:"success"`
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors"`
	// Error is set when the run could not start.
	Error string `json:"error,omitempty"`
}

// MarshalJSON renders a run that could not start as {success, error} only.
func (s Summary) MarshalJSON() ([]byte, error) {
	if s.Error != "" {
		return json.Marshal(struct {
			Success bool   `json:"success"`
			Error   string `json:"error"`
		}{s.Success, s.Error})
	}
	type plain Summary
	p := plain(s)
	if p.Errors == nil {
		p.Errors = []string{}
	}
	return json.Marshal(p)
}

func failed(err error) Summary {
	return Summary{Success: false, Error: err.Error()}
}

func fromResult(r reconcile.Result) Summary {
	return Summary{
		Success: true,
		Created: r.Created,
		Updated: r.Updated,
		Skipped: r.Skipped,
		Errors:  r.Errors,
	}
}

// ResolveDataSource returns the first data source of the configured database.
func (s *Syncer) ResolveDataSource(ctx context.Context) (string, error) {
	if s.opts.DatabaseID == "" {
		return "", ErrNoDatabase
	}
	db, err := s.client.GetDatabase(ctx, s.opts.DatabaseID)
	if err != nil {
		return "", fmt.Errorf("get database: %w", err)
	}
	for _, ds := range db.DataSources {
		if ds.ID != "" {
			return ds.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNoDataSource, s.opts.DatabaseID)
}

// RequiredSchema lists the recurrence columns a data source must declare.
func RequiredSchema(names model.PropertyNames) map[string]notion.PropertySchema {
	names.Normalize()
	options := func(values ...string) []notion.SelectOption {
		out := make([]notion.SelectOption, len(values))
		for i, v := range values {
			out[i] = notion.SelectOption{Name: v}
		}
		return out
	}
	return map[string]notion.PropertySchema{
		names.Frequency: {Type: notion.TypeSelect, Options: options(string(model.FrequencyDaily), string(model.FrequencyWeekly))},
		names.Cadence:   {Type: notion.TypeNumber, NumberFormat: "number"},
		names.Days:      {Type: notion.TypeMultiSelect, Options: options(model.AllWeekdayNames()...)},
		names.Lookahead: {Type: notion.TypeNumber, NumberFormat: "number"},
		names.IsSource:  {Type: notion.TypeCheckbox},
		names.SeriesID:  {Type: notion.TypeRichText},
	}
}

// EnsureSchema adds the missing recurrence columns in one request. Existing
// columns are left as they are.
func (s *Syncer) EnsureSchema(ctx context.Context, dataSourceID string) error {
	ds, err := s.client.GetDataSource(ctx, dataSourceID)
	if err != nil {
		return fmt.Errorf("get data source: %w", err)
	}
	missing := map[string]notion.PropertySchema{}
	for name, schema := range RequiredSchema(s.opts.Names) {
		if _, ok := ds.Properties[name]; !ok {
			missing[name] = schema
		}
	}
	if len(missing) == 0 {
		appLog.Debug("syncer: schema up to date", "data_source_id", dataSourceID)
		return nil
	}
	names := make([]string, 0, len(missing))
	for name := range missing {
		names = append(names, name)
	}
	appLog.Info("syncer: adding recurrence properties", "data_source_id", dataSourceID, "properties", names)
	if err := s.client.UpdateDataSource(ctx, dataSourceID, missing); err != nil {
		return fmt.Errorf("update data source schema: %w", err)
	}
	return nil
}

// FetchSourcePages returns every record with a frequency whose date falls in
// [now-lookback, now+lookahead], oldest first.
func (s *Syncer) FetchSourcePages(ctx context.Context, dataSourceID string, now time.Time) ([]*model.RecurrenceSource, error) {
	q := notion.Query{
		Filter: &notion.Filter{And: []notion.Filter{
			{Property: s.opts.Names.Date, Date: &notion.DateCondition{OnOrAfter: now.Add(-s.opts.Lookback).Format(time.RFC3339)}},
			{Property: s.opts.Names.Date, Date: &notion.DateCondition{OnOrBefore: now.Add(s.opts.Lookahead).Format(time.RFC3339)}},
			{Property: s.opts.Names.Frequency, Select: &notion.SelectCondition{IsNotEmpty: true}},
		}},
		Sorts:    []notion.Sort{{Property: s.opts.Names.Date, Direction: "ascending"}},
		PageSize: queryPageSize,
	}

	var out []*model.RecurrenceSource
	for {
		res, err := s.client.QueryDataSource(ctx, dataSourceID, q)
		if err != nil {
			return nil, fmt.Errorf("query data source: %w", err)
		}
		for _, p := range res.Results {
			if p.InTrash {
				continue
			}
			out = append(out, model.New(p, s.opts.Names))
		}
		if !res.HasMore || res.NextCursor == nil || *res.NextCursor == "" {
			break
		}
		q.StartCursor = *res.NextCursor
	}
	return out, nil
}

func (s *Syncer) engine(dataSourceID string) *reconcile.Engine {
	return reconcile.New(s.client, reconcile.Options{
		DataSourceID: dataSourceID,
		Location:     s.opts.Location,
		Cutoff:       s.opts.Cutoff,
		SyncContent:  s.opts.SyncContent,
		NewSeriesID:  s.opts.NewSeriesID,
	})
}

// Run performs one pass. Failures before reconciliation starts are fatal
// and reported in Summary.Error; later failures are per record. A panic
// during reconciliation ends the run with the partial counts.
func (s *Syncer) Run(ctx context.Context, mode Mode, now time.Time) (sum Summary) {
	started := time.Now()
	appLog.Info("syncer: run started", "mode", string(mode), "now", now.Format(time.RFC3339))

	var run *reconcile.Run
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("%w: %v", errRecoveredFromRun, rec)
			appLog.Error("syncer: run aborted", err, "mode", string(mode))
			sum = Summary{Success: false, Errors: []string{err.Error()}}
			if run != nil {
				sum.Created = run.Result.Created
				sum.Updated = run.Result.Updated
				sum.Skipped = run.Result.Skipped
				sum.Errors = append(append([]string{}, run.Result.Errors...), err.Error())
			}
		}
		s.observe(mode, sum, time.Since(started))
	}()

	dsID, err := s.ResolveDataSource(ctx)
	if err != nil {
		appLog.Error("syncer: resolve data source", err)
		return failed(err)
	}
	if err := s.EnsureSchema(ctx, dsID); err != nil {
		appLog.Error("syncer: ensure schema", err, "data_source_id", dsID)
		return failed(err)
	}
	events, err := s.FetchSourcePages(ctx, dsID, now)
	if err != nil {
		appLog.Error("syncer: fetch source pages", err, "data_source_id", dsID)
		return failed(err)
	}
	appLog.Debug("syncer: fetched records", "count", len(events))

	run = s.engine(dsID).NewRun(events, now)
	switch mode {
	case ModeAutomatic:
		run.ProcessAllSourcePagesAutomatic(ctx)
	default:
		run.ProcessAllSourcePages(ctx)
	}
	return fromResult(run.Result)
}

func (s *Syncer) observe(mode Mode, sum Summary, took time.Duration) {
	outcome := "success"
	switch {
	case !sum.Success:
		outcome = "failure"
	case len(sum.Errors) > 0:
		outcome = "partial"
	}
	metrics.SyncRuns.WithLabelValues(string(mode), outcome).Inc()
	metrics.SyncDuration.WithLabelValues(string(mode)).Observe(took.Seconds())
	metrics.RecordOutcome(sum.Created, sum.Updated, sum.Skipped, len(sum.Errors))

	if sum.Error != "" {
		return
	}
	appLog.Info("syncer: run finished",
		"mode", string(mode),
		"outcome", outcome,
		"created", sum.Created,
		"updated", sum.Updated,
		"skipped", sum.Skipped,
		"errors", len(sum.Errors),
		"took", took.String(),
	)
}

// Preview loads a template page and projects it without writing anything.
func (s *Syncer) Preview(ctx context.Context, pageID string, now time.Time) (*model.RecurrenceSource, []model.Occurrence, error) {
	if pageID == "" {
		return nil, nil, ErrPageNotFound
	}
	page, err := s.client.GetPage(ctx, pageID)
	if err != nil {
		var apiErr *notion.APIError
		if errors.As(err, &apiErr) && apiErr.Status == 404 {
			return nil, nil, fmt.Errorf("%w: %s", ErrPageNotFound, pageID)
		}
		return nil, nil, fmt.Errorf("get page: %w", err)
	}
	src := model.New(*page, s.opts.Names)
	occ, err := s.engine("").Preview(src, now)
	if err != nil {
		return src, nil, err
	}
	return src, occ, nil
}
