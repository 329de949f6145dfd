package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/zkceremony/contributor/x/status"
)

func TestOpsEndpoints(t *testing.T) {
	t.Parallel()

	tracker := NewTracker("cer1")
	tracker.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }

	reg := prometheus.NewRegistry()
	srv := NewServer(DefaultConfig(), zerolog.Nop())
	srv.RegisterOps(tracker.State, reg)

	t.Run("healthz", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("status reflects sink emissions", func(t *testing.T) {
		tracker.Emit(status.Update{Message: "Downloading circ_16_00003.zkey", Busy: true})
		tracker.Emit(status.Update{Message: "All done", AttestationRef: "https://example.com/a"})

		rec := httptest.NewRecorder()
		srv.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var state SessionState
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
		require.True(t, state.Attached)
		require.Equal(t, "cer1", state.Ceremony)
		require.Equal(t, "All done", state.LastMessage)
		require.Equal(t, "https://example.com/a", state.Attestation)
	})

	t.Run("metrics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestCORSFollowsConfiguredOrigins(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.CORSOrigins = []string{"https://dashboard.example.org"}
	srv := NewServer(cfg, zerolog.Nop())
	srv.RegisterOps(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://dashboard.example.org")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://dashboard.example.org", rec.Header().Get("Access-Control-Allow-Origin"))

	// Unlisted origins get no CORS grant.
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://other.example.org")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	// Without configured origins no CORS layer is installed at all.
	bare := NewServer(DefaultConfig(), zerolog.Nop())
	bare.RegisterOps(nil, nil)
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://dashboard.example.org")
	rec = httptest.NewRecorder()
	bare.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusWithoutSource(t *testing.T) {
	t.Parallel()

	srv := NewServer(DefaultConfig(), zerolog.Nop())
	srv.RegisterOps(nil, nil)

	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
