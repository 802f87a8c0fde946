package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"quill/internal/config"
	"quill/internal/logging"
	"quill/internal/objectstore"
	"quill/internal/pipeline"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

type submitRequest struct {
	UserID       string `json:"userId"`
	ManuscriptID string `json:"manuscriptId"`
	Tier         string `json:"tier,omitempty"`
}

type submitResponse struct {
	ReportID string `json:"reportId"`
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api"),
		daemon: d,
	}

	token := cfg.Paths.APIToken
	mux := http.NewServeMux()
	mux.HandleFunc("/api/submit", authMiddleware(token, srv.handleSubmit))
	mux.HandleFunc("/api/status/", authMiddleware(token, srv.handleStatus))
	mux.HandleFunc("/api/cancel/", authMiddleware(token, srv.handleCancel))
	mux.HandleFunc("/api/result/", authMiddleware(token, srv.handleResult))
	mux.HandleFunc("/api/health", srv.handleHealth)

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Args(logging.Error(err))...)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.Args(
		logging.String("address", listener.Addr().String()),
	)...)
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" || req.ManuscriptID == "" {
		s.writeError(w, http.StatusBadRequest, "userId and manuscriptId are required")
		return
	}

	reportID, err := s.daemon.Service().Submit(r.Context(), pipeline.SubmitRequest{
		UserID:       req.UserID,
		ManuscriptID: req.ManuscriptID,
		Tier:         req.Tier,
	})
	switch {
	case errors.Is(err, pipeline.ErrManuscriptMissing):
		s.writeError(w, http.StatusNotFound, "manuscript not found")
	case errors.Is(err, pipeline.ErrDuplicateReport):
		s.writeError(w, http.StatusConflict, "report already exists")
	case errors.Is(err, pipeline.ErrBudgetExceeded):
		s.writeError(w, http.StatusPaymentRequired, "monthly budget exceeded")
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	default:
		s.writeJSON(w, http.StatusAccepted, submitResponse{ReportID: reportID})
	}
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	reportID := pathSegment(r.URL.Path, "/api/status/")
	if reportID == "" {
		s.writeError(w, http.StatusNotFound, "report not found")
		return
	}
	record, err := s.daemon.Service().Status(r.Context(), reportID)
	if errors.Is(err, objectstore.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "report not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	reportID := pathSegment(r.URL.Path, "/api/cancel/")
	if reportID == "" {
		s.writeError(w, http.StatusNotFound, "report not found")
		return
	}
	err := s.daemon.Service().Cancel(r.Context(), reportID)
	if errors.Is(err, objectstore.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "report not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *apiServer) handleResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/result/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		s.writeError(w, http.StatusNotFound, "result not found")
		return
	}
	payload, err := s.daemon.Service().Result(r.Context(), parts[0], parts[1])
	if errors.Is(err, objectstore.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "result not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Results are stored as validated JSON; pass them through untouched.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.daemon.Healthy(r.Context()); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	status := s.daemon.Status(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"workers":     status.Workers,
		"ready":       status.Queue.Ready,
		"leased":      status.Queue.Leased,
		"deadLetters": status.Queue.DeadLetters,
	})
}

func pathSegment(path, prefix string) string {
	segment := strings.TrimPrefix(path, prefix)
	if segment == "" || strings.Contains(segment, "/") {
		return ""
	}
	return segment
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Args(logging.Error(err))...)
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
