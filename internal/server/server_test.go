package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/vizcapture/internal/config"
	"github.com/audiolibrelab/vizcapture/internal/service"
	"github.com/audiolibrelab/vizcapture/internal/surface"
)

func testServer(t *testing.T, mutate ...func(*config.Config)) (*Server, service.Service) {
	t.Helper()
	cfg := config.Default()
	cfg.Subject = "bubble sort"
	cfg.Capture.Host = config.HostNone
	cfg.Capture.PlaceholderWidth = 160
	cfg.Capture.PlaceholderHeight = 120
	cfg.Recording.FrameRate = 1
	cfg.Encoder.Strategies = []string{config.StrategyDump}
	cfg.Output.Directory = t.TempDir()
	for _, m := range mutate {
		m(cfg)
	}

	svc := service.New(cfg, surface.NoHost{}, nil)
	t.Cleanup(func() { svc.Teardown(context.Background()) })
	return New(svc, "0", nil), svc
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestIndex(t *testing.T) {
	s, _ := testServer(t)
	rec := do(t, s, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "/api/recording/start")
}

func TestRecordingFlow(t *testing.T) {
	s, _ := testServer(t)

	rec := do(t, s, http.MethodPost, "/api/recording/start", `{"subject":"quick sort","format":"gif"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode(t, rec)["success"])

	for i := 0; i < 2; i++ {
		rec = do(t, s, http.MethodPost, "/api/recording/capture", "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = do(t, s, http.MethodGet, "/api/recording/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode(t, rec)
	assert.Equal(t, "RECORDING", status["status"])
	assert.Equal(t, true, status["is_recording"])

	rec = do(t, s, http.MethodPost, "/api/recording/stop", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var stop StopResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stop))
	assert.True(t, stop.Success)
	assert.Equal(t, "dump", stop.Strategy)
	assert.GreaterOrEqual(t, stop.FrameCount, 2)
	require.NotEmpty(t, stop.Artifacts)

	var primary ArtifactLink
	for _, a := range stop.Artifacts {
		assert.True(t, strings.HasPrefix(a.Name, "quick_sort_"))
		if a.Primary {
			primary = a
		}
	}
	require.NotEmpty(t, primary.Name)

	rec = do(t, s, http.MethodGet, primary.DownloadURL, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), primary.Name)
	assert.Contains(t, rec.Body.String(), "ffmpeg")

	rec = do(t, s, http.MethodGet, "/api/artifacts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)
	assert.EqualValues(t, len(stop.Artifacts)+1, list["count"])
}

func TestErrorResponses(t *testing.T) {
	s, _ := testServer(t)

	tests := []struct {
		name   string
		method string
		target string
		body   string
		code   int
		kind   string
	}{
		{"stop while idle", http.MethodPost, "/api/recording/stop", "", http.StatusConflict, "NotRecording"},
		{"capture while idle", http.MethodPost, "/api/recording/capture", "", http.StatusConflict, "NotRecording"},
		{"rate out of range", http.MethodPost, "/api/recording/start", `{"frameRate":90}`, http.StatusBadRequest, "InvalidOptions"},
		{"unknown format", http.MethodPost, "/api/recording/start", `{"format":"webm"}`, http.StatusBadRequest, "InvalidOptions"},
		{"malformed body", http.MethodPost, "/api/recording/start", `{`, http.StatusBadRequest, ""},
		{"unknown artifact", http.MethodGet, "/api/artifacts/missing.gif", "", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, tt.method, tt.target, tt.body)
			require.Equal(t, tt.code, rec.Code, rec.Body.String())
			body := decode(t, rec)
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["error"])
			if tt.kind != "" {
				assert.Equal(t, tt.kind, body["kind"])
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s, _ := testServer(t)
	rec := do(t, s, http.MethodGet, "/api/recording/start", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])
}

func TestStopEmptyBuffer(t *testing.T) {
	s, _ := testServer(t)

	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/api/recording/start", `{"format":"mp4"}`).Code)
	rec := do(t, s, http.MethodPost, "/api/recording/stop", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "EmptyBuffer", decode(t, rec)["kind"])

	rec = do(t, s, http.MethodGet, "/api/recording/status", "")
	assert.Equal(t, "IDLE", decode(t, rec)["status"])
}

func TestStopEncodeFailed(t *testing.T) {
	s, _ := testServer(t, func(cfg *config.Config) {
		cfg.Encoder.Strategies = nil
	})

	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/api/recording/start", "").Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/api/recording/capture", "").Code)

	rec := do(t, s, http.MethodPost, "/api/recording/stop", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "EncodeFailed", body["kind"])
	result, ok := body["result"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, result["success"])
}

func TestDownloadFrame(t *testing.T) {
	s, _ := testServer(t)

	rec := do(t, s, http.MethodGet, "/api/frame?surface=%23chart", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "bubble_sort_")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "\x89PNG"))
}
