package web

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recurcal/internal/config"
	"recurcal/internal/model"
	"recurcal/internal/recur"
	"recurcal/internal/scheduler"
	"recurcal/internal/syncer"
)

type fakeTrigger struct {
	sum   syncer.Summary
	err   error
	modes []syncer.Mode
}

func (f *fakeTrigger) Trigger(_ context.Context, mode syncer.Mode) (syncer.Summary, error) {
	f.modes = append(f.modes, mode)
	return f.sum, f.err
}

func (f *fakeTrigger) Status() scheduler.Status {
	return scheduler.Status{LastMode: syncer.ModeAutomatic}
}

type fakePreview struct {
	src *model.RecurrenceSource
	occ []model.Occurrence
	err error
}

func (f *fakePreview) Preview(_ context.Context, _ string, _ time.Time) (*model.RecurrenceSource, []model.Occurrence, error) {
	return f.src, f.occ, f.err
}

func newTestServer(cfg *config.Config, tr Trigger, pv Previewer) *Server {
	if cfg == nil {
		cfg = &config.Config{Listen: "127.0.0.1:0"}
	}
	s := NewServer(cfg, tr, pv)
	s.now = func() time.Time { return time.Date(2025, 10, 8, 12, 0, 0, 0, time.UTC) }
	return s
}

func do(t *testing.T, h http.Handler, method, target string, setup func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if setup != nil {
		setup(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(nil, &fakeTrigger{}, &fakePreview{})
	rec := do(t, s.Handler(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestSync_ReturnsSummary(t *testing.T) {
	tr := &fakeTrigger{sum: syncer.Summary{Success: true, Created: 3, Skipped: 1, Errors: []string{}}}
	s := newTestServer(nil, tr, &fakePreview{})

	rec := do(t, s.Handler(), http.MethodPost, "/api/sync?mode=automatic", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []syncer.Mode{syncer.ModeAutomatic}, tr.modes)

	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 3, body["created"])
	assert.EqualValues(t, 0, body["updated"])
	assert.EqualValues(t, 1, body["skipped"])
}

func TestSync_DefaultsToManual(t *testing.T) {
	tr := &fakeTrigger{sum: syncer.Summary{Success: true}}
	s := newTestServer(nil, tr, &fakePreview{})
	rec := do(t, s.Handler(), http.MethodPost, "/api/sync", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []syncer.Mode{syncer.ModeManual}, tr.modes)
}

func TestSync_Errors(t *testing.T) {
	tests := []struct {
		name   string
		target string
		tr     *fakeTrigger
		status int
		msg    string
	}{
		{"bad mode", "/api/sync?mode=hourly", &fakeTrigger{}, http.StatusBadRequest, "hourly"},
		{"busy", "/api/sync", &fakeTrigger{err: scheduler.ErrBusy}, http.StatusConflict, "sync already in progress"},
		{"fatal", "/api/sync", &fakeTrigger{sum: syncer.Summary{Error: "database has no queryable collection"}}, http.StatusInternalServerError, "queryable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(nil, tt.tr, &fakePreview{})
			rec := do(t, s.Handler(), http.MethodPost, tt.target, nil)
			assert.Equal(t, tt.status, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, false, body["success"])
			assert.Contains(t, body["error"], tt.msg)
		})
	}
}

func TestSync_MethodNotAllowed(t *testing.T) {
	s := newTestServer(nil, &fakeTrigger{}, &fakePreview{})
	rec := do(t, s.Handler(), http.MethodGet, "/api/sync", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSyncStatus(t *testing.T) {
	s := newTestServer(nil, &fakeTrigger{}, &fakePreview{})
	rec := do(t, s.Handler(), http.MethodGet, "/api/sync/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["running"])
	assert.Equal(t, "automatic", body["last_mode"])
}

func TestBasicAuth(t *testing.T) {
	cfg := &config.Config{
		Listen:    "127.0.0.1:0",
		BasicAuth: &config.BasicAuthConfig{Username: "admin", Password: "s3cret"},
	}
	s := newTestServer(cfg, &fakeTrigger{sum: syncer.Summary{Success: true}}, &fakePreview{})
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/sync", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	rec = do(t, h, http.MethodPost, "/api/sync", func(r *http.Request) { r.SetBasicAuth("admin", "wrong") })
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/sync", func(r *http.Request) { r.SetBasicAuth("admin", "s3cret") })
	assert.Equal(t, http.StatusOK, rec.Code)

	// health and metrics stay open for probes and scrapers
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/metrics", nil).Code)
}

func TestBasicAuth_EmptyCredentialsDisable(t *testing.T) {
	cfg := &config.Config{BasicAuth: &config.BasicAuthConfig{Username: "admin"}}
	s := newTestServer(cfg, &fakeTrigger{sum: syncer.Summary{Success: true}}, &fakePreview{})
	assert.False(t, s.basicAuthEnabled())
	assert.Equal(t, http.StatusOK, do(t, s.Handler(), http.MethodPost, "/api/sync", nil).Code)
}

func TestSync_RateLimited(t *testing.T) {
	s := newTestServer(nil, &fakeTrigger{sum: syncer.Summary{Success: true}}, &fakePreview{})
	h := s.Handler()
	for i := 0; i < syncRequestsPerMinute; i++ {
		require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/sync", nil).Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, do(t, h, http.MethodPost, "/api/sync", nil).Code)
	// other endpoints are not limited
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/sync/status", nil).Code)
}

func TestSecureCompare(t *testing.T) {
	assert.True(t, secureCompare("abc", "abc"))
	assert.False(t, secureCompare("abc", "abd"))
	assert.False(t, secureCompare("abc", "abcd"))
}

func weeklyPreview() *fakePreview {
	start := time.Date(2025, 10, 6, 9, 0, 0, 0, time.UTC)
	src := &model.RecurrenceSource{
		ID:        "page-1",
		Name:      "Standup",
		Frequency: model.FrequencyWeekly,
		Cadence:   1,
		Days:      model.Weekdays{time.Monday, time.Wednesday},
		Lookahead: 1,
		Start:     start,
		Duration:  15 * time.Minute,
		SeriesID:  "series-1",
	}
	return &fakePreview{
		src: src,
		occ: []model.Occurrence{
			model.NewOccurrence("series-1", "", "Standup", start.AddDate(0, 0, 2), 15*time.Minute, false),
			model.NewOccurrence("series-1", "", "Standup", start.AddDate(0, 0, 7), 15*time.Minute, false),
		},
	}
}

func TestPreview_JSON(t *testing.T) {
	s := newTestServer(nil, &fakeTrigger{}, weeklyPreview())
	rec := do(t, s.Handler(), http.MethodGet, "/api/preview?page_id=page-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp previewResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "page-1", resp.PageID)
	assert.Equal(t, "Weekly", resp.Frequency)
	assert.Equal(t, []string{"Monday", "Wednesday"}, resp.Days)
	require.Len(t, resp.Occurrences, 2)
	assert.Equal(t, "2025-10-08T09:00:00Z", resp.Occurrences[0].Start)
	assert.Equal(t, "2025-10-08T09:15:00Z", resp.Occurrences[0].End)
}

func TestPreview_ICS(t *testing.T) {
	s := newTestServer(nil, &fakeTrigger{}, weeklyPreview())
	rec := do(t, s.Handler(), http.MethodGet, "/api/preview.ics?page_id=page-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/calendar"))
	body := rec.Body.String()
	assert.Contains(t, body, "BEGIN:VCALENDAR")
	assert.Equal(t, 2, strings.Count(body, "BEGIN:VEVENT"))
	assert.Contains(t, body, "X-WR-CALNAME:Standup")
}

func TestPreview_Errors(t *testing.T) {
	tests := []struct {
		name   string
		target string
		err    error
		status int
		msg    string
	}{
		{"missing page id", "/api/preview", nil, http.StatusBadRequest, "page_id is required"},
		{"not found", "/api/preview?page_id=x", fmt.Errorf("%w: x", syncer.ErrPageNotFound), http.StatusNotFound, "page not found"},
		{"invalid", "/api/preview?page_id=x", model.ErrWeeklyNoDays, http.StatusUnprocessableEntity, "Weekly frequency requires at least one day"},
		{"unsupported", "/api/preview.ics?page_id=x", fmt.Errorf("%w: Monthly", recur.ErrUnsupportedFrequency), http.StatusUnprocessableEntity, "Unsupported frequency"},
		{"upstream", "/api/preview?page_id=x", fmt.Errorf("get page: boom"), http.StatusBadGateway, "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(nil, &fakeTrigger{}, &fakePreview{err: tt.err})
			rec := do(t, s.Handler(), http.MethodGet, tt.target, nil)
			assert.Equal(t, tt.status, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, false, body["success"])
			assert.Contains(t, body["error"], tt.msg)
		})
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	s := newTestServer(&config.Config{Listen: "127.0.0.1:0"}, &fakeTrigger{}, &fakePreview{})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
