package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"escrowkit/config"
	"escrowkit/observability/logging"
)

func TestBuildHandlerSeedsConfiguredUsers(t *testing.T) {
	cfg := config.Default()
	cfg.Sandbox.Users = []config.SandboxUser{
		{ID: "U1", FullName: "Ada Obi", Username: "ada", PIN: "123456"},
		{ID: "U2", FullName: "Bayo Eze", Username: "bayo", PIN: "222222"},
	}
	handler, obs, err := buildHandler(cfg, logging.Discard())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/verifyTxPin", strings.NewReader(`{"userId":"U1","pin":"123456"}`))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/escrow/create", strings.NewReader(`{"payerId":"U1","payeeId":"U2","amount":"50"}`))
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusBadRequest, res.Code)
	require.Contains(t, res.Body.String(), "Minimum escrow amount is 100.")

	metrics := httptest.NewRecorder()
	obs.MetricsHandler().ServeHTTP(metrics, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Contains(t, metrics.Body.String(), "sandbox_requests_total")
}
