package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/logsync/internal/core/channelstate"
	"github.com/vietddude/logsync/internal/core/domain"
	"github.com/vietddude/logsync/internal/indexing/codec"
	"github.com/vietddude/logsync/internal/indexing/syncer"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultMessageLimit = 100
	maxImportBytes      = 256 << 20
)

// Server provides HTTP endpoints for health monitoring and the channel API.
type Server struct {
	engine  Engine
	monitor *Monitor
	server  *http.Server
	base    context.Context
	runs    *runTable
	log     *slog.Logger
}

// NewServer creates a new health server listening on addr.
func NewServer(engine Engine, monitor *Monitor, addr string) *Server {
	s := &Server{
		engine:  engine,
		monitor: monitor,
		base:    context.Background(),
		runs:    newRunTable(),
		log:     slog.Default().With("component", "api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/detailed", s.handleDetailed)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/channels/{channel}/scan", s.handleScan)
	mux.HandleFunc("GET /api/channels/{channel}/messages", s.handleMessages)
	mux.HandleFunc("POST /api/channels/{channel}/sync", s.handleSync)
	mux.HandleFunc("POST /api/channels/{channel}/fill", s.handleFill)
	mux.HandleFunc("DELETE /api/channels/{channel}", s.handlePurge)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleRun)
	mux.HandleFunc("DELETE /api/runs/{id}", s.handleCancelRun)
	mux.HandleFunc("GET /api/export", s.handleExport)
	mux.HandleFunc("POST /api/import", s.handleImport)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server. Background runs started through the API
// are bound to ctx.
func (s *Server) Start(ctx context.Context) error {
	s.base = ctx
	s.log.Info("API server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := Aggregate(s.monitor.CheckHealth(r.Context()))

	code := http.StatusOK
	if status == StatusCritical {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": string(status)})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.Report(r.Context()))
}

type scanResponse struct {
	Channel     string         `json:"channel"`
	Ranges      []domain.Range `json:"ranges"`
	Gaps        []domain.Range `json:"gaps"`
	LastUpdated time.Time      `json:"last_updated"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	ch := domain.NormalizeChannel(r.PathValue("channel"))

	meta, err := s.engine.GetScanMeta(r.Context(), ch)
	if err != nil {
		writeError(w, err)
		return
	}
	gaps, err := s.engine.Gaps(r.Context(), ch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scanResponse{
		Channel:     ch,
		Ranges:      nonNil(meta.Ranges),
		Gaps:        nonNil(gaps),
		LastUpdated: meta.LastUpdated,
	})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	limit := defaultMessageLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, badRequest("invalid limit %q", v))
			return
		}
		limit = n
	}

	msgs, err := s.engine.GetMessages(r.Context(), r.PathValue("channel"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	s.startRun(w, r.PathValue("channel"), domain.TipAndBackfill())
}

func (s *Server) handleFill(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := strconv.ParseUint(q.Get("start"), 10, 64)
	if err != nil {
		writeError(w, badRequest("invalid start %q", q.Get("start")))
		return
	}
	end, err := strconv.ParseUint(q.Get("end"), 10, 64)
	if err != nil {
		writeError(w, badRequest("invalid end %q", q.Get("end")))
		return
	}
	s.startRun(w, r.PathValue("channel"), domain.TargetedGap(start, end))
}

func (s *Server) startRun(w http.ResponseWriter, channel string, mode domain.SyncMode) {
	run, err := s.engine.Start(s.base, channel, mode)
	if err != nil {
		writeError(w, err)
		return
	}
	s.runs.add(run, mode)
	s.log.Info("Run started via API", "run_id", run.ID, "channel", run.Channel, "mode", mode.String())
	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id":  run.ID,
		"channel": run.Channel,
		"mode":    mode.String(),
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.runs.list())
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	t, err := s.runs.get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t.view())
}

// handleCancelRun requests cancellation. The run stops after its current
// chunk, so the returned view may still report it as running.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	t, err := s.runs.get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	t.run.Cancel()
	s.log.Info("Run cancelled via API", "run_id", t.run.ID, "channel", t.run.Channel)
	writeJSON(w, http.StatusAccepted, t.view())
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.PurgeChannel(r.Context(), r.PathValue("channel")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	compress := q.Get("zstd") == "1" || q.Get("zstd") == "true"

	data, err := s.engine.ExportPackage(r.Context(), q["channel"], compress)
	if err != nil {
		writeError(w, err)
		return
	}

	name := "logsync-export.json"
	w.Header().Set("Content-Type", "application/json")
	if compress {
		name += ".zst"
		w.Header().Set("Content-Type", "application/zstd")
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		writeError(w, badRequest("read body: %v", err))
		return
	}
	res, err := s.engine.ImportPackage(r.Context(), data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type requestError struct{ msg string }

func (e requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return requestError{msg: fmt.Sprintf(format, args...)}
}

func statusFor(err error) int {
	var reqErr requestError
	switch {
	case errors.As(err, &reqErr),
		errors.Is(err, codec.ErrImportFormat),
		errors.Is(err, syncer.ErrInvalidRange):
		return http.StatusBadRequest
	case errors.Is(err, errRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, channelstate.ErrAlreadyRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func nonNil(r []domain.Range) []domain.Range {
	if r == nil {
		return []domain.Range{}
	}
	return r
}
