package api

import (
	"context"
	"embed"
	"encoding/csv"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"ghostwall/internal/classify"
	"ghostwall/internal/filter"
	"ghostwall/internal/logger"
	"ghostwall/internal/models"
	"ghostwall/internal/observability"
	"ghostwall/internal/ratelimit"
	"ghostwall/internal/session"
	"ghostwall/internal/storage"
	"ghostwall/internal/version"
)

//go:embed assets
var assets embed.FS

var templates = template.Must(template.ParseFS(assets, "assets/*.html"))

// maxTrackBody bounds the callback payload.
const maxTrackBody = 4 << 10

// Handlers contains HTTP handlers for the visitor-facing page, the callback
// endpoint and the dashboard.
type Handlers struct {
	classifier classify.ServiceInterface
	store      storage.Store
	sessions   *session.Manager
	config     *models.Config
	metrics    *observability.Metrics
	version    version.Info
	faults     *filter.FaultCounter
	log        *slog.Logger
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handlers)

// WithMetrics attaches classification counters.
func WithMetrics(m *observability.Metrics) HandlerOption {
	return func(h *Handlers) { h.metrics = m }
}

// WithFaultCounter shares the inbound filter's fault counter, so dropped
// page view and callback writes show up alongside dropped denial records.
func WithFaultCounter(c *filter.FaultCounter) HandlerOption {
	return func(h *Handlers) { h.faults = c }
}

// NewHandlers creates a new handlers instance
func NewHandlers(classifier classify.ServiceInterface, store storage.Store, sessions *session.Manager, config *models.Config, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		classifier: classifier,
		store:      store,
		sessions:   sessions,
		config:     config,
		version:    version.GetInfo(),
		log:        logger.Component("api"),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.faults == nil {
		h.faults = filter.NewFaultCounter(h.metrics)
	}
	return h
}

type pageData struct {
	Title        string
	SessionKey   string
	HoneypotPath string
}

// Home renders the protected page and opens a pending visit for it.
// GET /
func (h *Handlers) Home(w http.ResponseWriter, r *http.Request) {
	key := h.sessions.Issue(w, r)

	ctx, cancel := h.storeContext(r)
	defer cancel()

	addr := ratelimit.ClientAddress(r, h.config.Security.TrustForwardedFor)
	if _, err := h.classifier.BeginVisit(ctx, key, addr, r.UserAgent()); err != nil {
		// Serve the page anyway; an unrecorded visit only skips classification.
		h.classifyFailed(ctx, filter.OpBeginVisit, err, "client_address", addr)
	}

	w.Header().Set("Cache-Control", "no-store")
	h.render(w, "index.html", pageData{
		Title:        "Hello",
		SessionKey:   key,
		HoneypotPath: h.config.Detection.HoneypotPath,
	})
}

// Script serves the client confirmation script.
// GET /static/ghost.js
func (h *Handlers) Script(w http.ResponseWriter, r *http.Request) {
	data, err := assets.ReadFile("assets/ghost.js")
	if err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "script unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.Write(data)
}

// Track receives the client callback and resolves the pending visit. The
// response is always 204 and reveals nothing about the outcome.
// POST /track
func (h *Handlers) Track(w http.ResponseWriter, r *http.Request) {
	var req models.TrackRequest
	body := http.MaxBytesReader(w, r.Body, maxTrackBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.log.Debug("malformed track body", "error", err)
		req = models.TrackRequest{}
	}

	key := req.SessionKey
	if key == "" {
		key, _ = h.sessions.KeyFromRequest(r)
	}

	signal := classify.Signal{SessionKey: key, ContinuityToken: req.ContinuityToken}
	if headless, ok := req.Headless(); ok {
		signal.Headless = &headless
	}

	ctx, cancel := h.storeContext(r)
	defer cancel()

	outcome, err := h.classifier.HandleSignal(ctx, signal)
	switch {
	case err != nil:
		h.classifyFailed(ctx, filter.OpResolve, err, "session_key", key)
	case outcome.Resolved:
		h.metrics.RecordVerdict(ctx, outcome.Verdict, "callback")
	}

	w.WriteHeader(http.StatusNoContent)
}

type logPage struct {
	Records []*models.VisitRecord
	Stats   *models.StatsResponse
}

// Log renders the visit log, newest first.
// GET /log
func (h *Handlers) Log(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, err.Error())
		return
	}

	records, err := h.store.Query(r.Context(), filter)
	if err != nil {
		h.storeFailure(w, "failed to query visit log", err)
		return
	}
	all, err := h.store.Query(r.Context(), storage.Filter{})
	if err != nil {
		h.storeFailure(w, "failed to query visit log", err)
		return
	}

	h.render(w, "log.html", logPage{Records: records, Stats: models.NewStatsResponse(all)})
}

// LogJSON returns the visit log as a JSON array, newest first.
// GET /log.json
func (h *Handlers) LogJSON(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, err.Error())
		return
	}

	records, err := h.store.Query(r.Context(), filter)
	if err != nil {
		h.storeFailure(w, "failed to query visit log", err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, records)
}

// LogCSV exports every record, oldest first.
// GET /log.csv
func (h *Handlers) LogCSV(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.Query(r.Context(), storage.Filter{Oldest: true})
	if err != nil {
		h.storeFailure(w, "failed to query visit log", err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="ghostwall-log.csv"`)

	cw := csv.NewWriter(w)
	cw.Write([]string{"timestamp", "ip", "user_agent", "visitor_type", "details", "session_key"})
	for _, rec := range records {
		cw.Write([]string{
			rec.Timestamp.Format(time.RFC3339Nano),
			rec.ClientAddress,
			rec.UserAgent,
			string(rec.VisitorType),
			rec.Details,
			rec.SessionKey,
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.log.Warn("csv export interrupted", "error", err)
	}
}

// Stats counts records by visitor type.
// GET /stats
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.Query(r.Context(), storage.Filter{})
	if err != nil {
		h.storeFailure(w, "failed to query visit log", err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, models.NewStatsResponse(records))
}

// ClearLog deletes every record.
// POST /admin/clear
func (h *Handlers) ClearLog(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Clear(r.Context()); err != nil {
		h.storeFailure(w, "failed to clear visit log", err)
		return
	}
	h.log.Info("visit log cleared", "remote_addr", r.RemoteAddr)
	w.WriteHeader(http.StatusNoContent)
}

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	Status      string    `json:"status"`
	Version     string    `json:"version"`
	InstanceID  string    `json:"instance_id"`
	Uptime      string    `json:"uptime"`
	Storage     string    `json:"storage"`
	StoreFaults int64     `json:"store_faults"`
	Timestamp   time.Time `json:"timestamp"`
}

// HealthCheck pings the store.
// GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	now := time.Now()
	resp := HealthResponse{
		Status:      "healthy",
		Version:     h.version.Version,
		InstanceID:  h.version.InstanceID,
		Uptime:      h.version.Uptime(now).Round(time.Second).String(),
		Storage:     "ok",
		StoreFaults: h.faults.Count(),
		Timestamp:   now.UTC(),
	}

	status := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		h.log.Warn("health check: store unreachable", "error", err)
		resp.Status = "unhealthy"
		resp.Storage = "unreachable"
		status = http.StatusServiceUnavailable
	}
	h.writeJSONResponse(w, status, resp)
}

// classifyFailed counts store outages against the fail-open fault counter.
// Other classifier errors are bad input and only logged.
func (h *Handlers) classifyFailed(ctx context.Context, operation string, err error, attrs ...any) {
	var svcErr *classify.ServiceError
	if errors.As(err, &svcErr) && svcErr.Code == models.ErrorCodeServiceUnavailable {
		h.faults.Record(ctx, operation, err, attrs...)
		return
	}
	h.log.Debug("classification request rejected", append([]any{"operation", operation, "error", err}, attrs...)...)
}

func (h *Handlers) storeContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), h.config.Classification.StoreTimeout)
}

func (h *Handlers) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.ExecuteTemplate(w, name, data); err != nil {
		h.log.Error("template render failed", "template", name, "error", err)
	}
}

func (h *Handlers) storeFailure(w http.ResponseWriter, message string, err error) {
	h.log.Error(message, "error", err)
	h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable, message)
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written; nothing more can be sent.
		h.log.Warn("failed to encode JSON response", "error", err)
	}
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	h.writeJSONResponse(w, statusCode, models.NewErrorResponse(message, errorCode))
}

// parseFilter reads the optional type and limit query parameters.
func parseFilter(r *http.Request) (storage.Filter, error) {
	var filter storage.Filter
	q := r.URL.Query()

	if t := q.Get("type"); t != "" {
		vt, err := models.ParseVisitorType(t)
		if err != nil {
			return filter, err
		}
		filter.Type = vt
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			return filter, errors.New("limit must be a non-negative integer")
		}
		filter.Limit = n
	}
	return filter, nil
}
