package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"

	"github.com/audiolibrelab/vizcapture/internal/config"
	"github.com/audiolibrelab/vizcapture/internal/media"
	"github.com/audiolibrelab/vizcapture/internal/service"
)

// Server represents the web server for controlling VizCapture
type Server struct {
	service service.Service
	cfg     *config.Config
	port    string
	router  *mux.Router
	logger  *slog.Logger
}

// StopResponse is returned by the stop endpoint
type StopResponse struct {
	Success    bool           `json:"success"`
	Message    string         `json:"message"`
	FrameCount int            `json:"frame_count"`
	Strategy   string         `json:"strategy,omitempty"`
	Failures   []string       `json:"failures,omitempty"`
	Artifacts  []ArtifactLink `json:"artifacts,omitempty"`
}

// ArtifactLink describes one exported artifact and where to fetch it
type ArtifactLink struct {
	Name        string `json:"name"`
	MIMEType    string `json:"mime_type"`
	Primary     bool   `json:"primary"`
	DownloadURL string `json:"download_url"`
}

// New creates a new web server instance around svc
func New(svc service.Service, port string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		service: svc,
		cfg:     svc.GetConfig(),
		port:    port,
		logger:  logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/recording/start", s.handleStartRecording).Methods(http.MethodPost)
	api.HandleFunc("/recording/stop", s.handleStopRecording).Methods(http.MethodPost)
	api.HandleFunc("/recording/capture", s.handleCaptureFrame).Methods(http.MethodPost)
	api.HandleFunc("/recording/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/frame", s.handleDownloadFrame).Methods(http.MethodGet)
	api.HandleFunc("/artifacts", s.handleArtifacts).Methods(http.MethodGet)
	api.HandleFunc("/artifacts/{name}", s.handleArtifactDownload).Methods(http.MethodGet)

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{
			"success": false,
			"error":   "Method not allowed",
		})
	})
	return r
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down and tears the service down.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	localIP := getLocalIP()
	s.logger.Info("Starting VizCapture Web Server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.service.Teardown(context.Background())
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down web server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("Web server shutdown failed", "error", err)
	}
	s.service.Teardown(shutdownCtx)

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleIndex serves the control page
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	io.WriteString(w, indexHTML)
}

// handleStartRecording starts a session. An empty body selects the configured defaults.
func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	var opts media.Options
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
			s.sendErrorResponse(w, http.StatusBadRequest,
				fmt.Sprintf("Invalid request body: %v", err), "", "operation", "start_recording")
			return
		}
	}

	if err := s.service.StartRecording(opts); err != nil {
		s.sendError(w, err, "start_recording")
		return
	}

	status := s.service.GetStatus()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"message":    "Recording started",
		"session_id": status.SessionID,
		"options":    status.Options,
	})
}

// handleStopRecording stops the session and reports the exported artifacts
func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.StopRecording(r.Context())

	resp := StopResponse{
		Success:    result.Success && err == nil,
		Message:    result.Message,
		FrameCount: result.FrameCount,
		Strategy:   result.Strategy,
		Failures:   result.Failures,
	}
	for _, a := range result.Artifacts {
		resp.Artifacts = append(resp.Artifacts, ArtifactLink{
			Name:        a.Name,
			MIMEType:    a.MIMEType,
			Primary:     a.Primary,
			DownloadURL: "/api/artifacts/" + a.Name,
		})
	}

	if err != nil {
		code := statusCode(err)
		s.logger.Error("Sending error response to client", "error_message", err.Error(), "status_code", code, "operation", "stop_recording")
		writeJSON(w, code, map[string]interface{}{
			"success": false,
			"error":   err.Error(),
			"kind":    media.KindOf(err),
			"result":  resp,
		})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCaptureFrame takes one frame immediately
func (s *Server) handleCaptureFrame(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CaptureFrame(r.Context()); err != nil {
		s.sendError(w, err, "capture_frame")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"frame_count": s.service.GetStatus().FrameCount,
	})
}

// handleStatus returns the current status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.GetStatus())
}

// handleDownloadFrame captures a single frame and returns it as a PNG download
func (s *Server) handleDownloadFrame(w http.ResponseWriter, r *http.Request) {
	path, err := s.service.DownloadFrame(r.Context(), r.URL.Query().Get("surface"))
	if err != nil {
		s.sendError(w, err, "download_frame")
		return
	}
	s.serveFile(w, path)
}

// handleArtifacts lists the output directory
func (s *Server) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	artifacts, err := s.service.ListArtifacts()
	if err != nil {
		s.sendError(w, err, "list_artifacts")
		return
	}
	if artifacts == nil {
		artifacts = []service.ArtifactInfo{}
	}

	var total int64
	for _, a := range artifacts {
		total += a.Size
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"artifacts":  artifacts,
		"count":      len(artifacts),
		"total_size": humanize.Bytes(uint64(total)),
		"directory":  s.cfg.Output.Directory,
	})
}

// handleArtifactDownload serves one file from the output directory
func (s *Server) handleArtifactDownload(w http.ResponseWriter, r *http.Request) {
	path, err := s.service.ArtifactPath(mux.Vars(r)["name"])
	if err != nil {
		s.sendError(w, err, "download_artifact")
		return
	}
	s.serveFile(w, path)
}

func (s *Server) serveFile(w http.ResponseWriter, path string) {
	file, err := os.Open(path)
	if err != nil {
		s.sendErrorResponse(w, http.StatusNotFound, "File not found", "", "path", path)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, "Error accessing file", "", "path", path)
		return
	}

	name := filepath.Base(path)
	contentType := service.MIMEType(name)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", name))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size()))

	if _, err := io.Copy(w, file); err != nil {
		s.logger.Error("Error serving file download", "file", name, "error", err)
	}
}

// sendError maps err to a status code and error kind
func (s *Server) sendError(w http.ResponseWriter, err error, operation string) {
	s.sendErrorResponse(w, statusCode(err), err.Error(), media.KindOf(err), "operation", operation)
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg, kind string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	s.logger.Error("Sending error response to client", logFields...)

	body := map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	}
	if kind != "" {
		body["kind"] = kind
	}
	writeJSON(w, statusCode, body)
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, media.ErrInvalidOptions):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrArtifactNotFound):
		return http.StatusNotFound
	case errors.Is(err, media.ErrEmptyBuffer),
		errors.Is(err, media.ErrAlreadyRecording),
		errors.Is(err, media.ErrNotRecording),
		errors.Is(err, media.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, media.ErrCaptureUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func getLocalIP() string {
	// Dialing UDP sends nothing; it only selects the outbound interface
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
