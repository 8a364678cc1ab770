package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"recurcal/internal/config"
	"recurcal/internal/ics"
	appLog "recurcal/internal/log"
	"recurcal/internal/model"
	"recurcal/internal/recur"
	"recurcal/internal/scheduler"
	"recurcal/internal/syncer"
)

// Trigger starts sync runs; implemented by scheduler.Scheduler.
type Trigger interface {
	Trigger(ctx context.Context, mode syncer.Mode) (syncer.Summary, error)
	Status() scheduler.Status
}

// Previewer projects a single template; implemented by syncer.Syncer.
type Previewer interface {
	Preview(ctx context.Context, pageID string, now time.Time) (*model.RecurrenceSource, []model.Occurrence, error)
}

// Manual triggers per client address per minute.
const syncRequestsPerMinute = 10

// Server exposes the sync trigger and previews over HTTP.
type Server struct {
	cfg     *config.Config
	trigger Trigger
	preview Previewer
	now     func() time.Time
	router  chi.Router
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, trigger Trigger, preview Previewer) *Server {
	s := &Server{
		cfg:     cfg,
		trigger: trigger,
		preview: preview,
		now:     time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the router with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) String() string { return "http-server" }

// Serve listens on cfg.Listen until ctx is done, then shuts down gracefully.
// It satisfies suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen, "basic_auth", s.basicAuthEnabled())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		appLog.Info("shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if s.basicAuthEnabled() {
			r.Use(s.basicAuth)
		}
		r.With(httprate.LimitByIP(syncRequestsPerMinute, time.Minute)).Post("/sync", s.handleSync)
		r.Get("/sync/status", s.handleSyncStatus)
		r.Get("/preview", s.handlePreview)
		r.Get("/preview.ics", s.handlePreviewICS)
	})
	s.router = r
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials are treated as disabled.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="recurcal", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"took", time.Since(start).String(),
			"remote", r.RemoteAddr,
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleSync runs a pass and answers with its summary. The run is detached
// from the request so a dropped client does not abort it halfway.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	mode, err := syncer.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, syncer.Summary{Success: false, Error: err.Error()})
		return
	}

	sum, err := s.trigger.Trigger(context.WithoutCancel(r.Context()), mode)
	if errors.Is(err, scheduler.ErrBusy) {
		writeJSON(w, http.StatusConflict, syncer.Summary{Success: false, Error: err.Error()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, syncer.Summary{Success: false, Error: err.Error()})
		return
	}

	status := http.StatusOK
	if !sum.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, sum)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.trigger.Status())
}

type previewOccurrence struct {
	Start  string `json:"start"`
	End    string `json:"end"`
	AllDay bool   `json:"all_day"`
}

type previewResponse struct {
	PageID      string              `json:"page_id"`
	Name        string              `json:"name"`
	SeriesID    string              `json:"series_id,omitempty"`
	Frequency   string              `json:"frequency"`
	Cadence     int                 `json:"cadence"`
	Days        []string            `json:"days,omitempty"`
	Lookahead   int                 `json:"lookahead"`
	Occurrences []previewOccurrence `json:"occurrences"`
}

// loadPreview resolves page_id and writes the error response itself when it
// cannot produce occurrences.
func (s *Server) loadPreview(w http.ResponseWriter, r *http.Request) (*model.RecurrenceSource, []model.Occurrence, bool) {
	pageID := r.URL.Query().Get("page_id")
	if pageID == "" {
		writeError(w, http.StatusBadRequest, "page_id is required")
		return nil, nil, false
	}
	src, occ, err := s.preview.Preview(r.Context(), pageID, s.now())
	switch {
	case err == nil:
		return src, occ, true
	case errors.Is(err, syncer.ErrPageNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, recur.ErrUnsupportedFrequency):
		writeError(w, http.StatusUnprocessableEntity, "Unsupported frequency")
	case isValidationError(err):
		writeError(w, http.StatusUnprocessableEntity, model.Reason(err))
	default:
		appLog.Error("preview failed", err, "page_id", pageID)
		writeError(w, http.StatusBadGateway, err.Error())
	}
	return nil, nil, false
}

func isValidationError(err error) bool {
	for _, target := range []error{
		model.ErrMissingFrequency,
		model.ErrMissingDate,
		model.ErrCadence,
		model.ErrLookahead,
		model.ErrWeeklyNoDays,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	src, occ, ok := s.loadPreview(w, r)
	if !ok {
		return
	}
	resp := previewResponse{
		PageID:      src.ID,
		Name:        src.Name,
		SeriesID:    src.SeriesID,
		Frequency:   string(src.Frequency),
		Cadence:     src.Cadence,
		Lookahead:   src.Lookahead,
		Occurrences: make([]previewOccurrence, 0, len(occ)),
	}
	if src.Frequency == model.FrequencyWeekly {
		resp.Days = src.Days.Names()
	}
	for _, o := range occ {
		layout := time.RFC3339
		if o.AllDay {
			layout = time.DateOnly
		}
		resp.Occurrences = append(resp.Occurrences, previewOccurrence{
			Start:  o.Start.Format(layout),
			End:    o.End.Format(layout),
			AllDay: o.AllDay,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePreviewICS(w http.ResponseWriter, r *http.Request) {
	src, occ, ok := s.loadPreview(w, r)
	if !ok {
		return
	}
	body := ics.Encode(ics.Feed{Name: src.Name, Stamp: s.now(), Occurrences: occ})
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s.ics"`, src.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
