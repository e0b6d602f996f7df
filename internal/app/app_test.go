package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwttoken "presence/internal/jwt_token"
	"presence/internal/platform/config"
	"presence/internal/platform/logger"
	"presence/internal/reconcile"
)

func buildApp(t *testing.T, vars map[string]string) (*App, error) {
	t.Helper()
	cfg, err := config.Parse(env.Options{Environment: vars})
	require.NoError(t, err)
	return Build(context.Background(), cfg, logger.Discard(), prometheus.NewRegistry())
}

func TestBuild_InMemoryBackends(t *testing.T) {
	a, err := buildApp(t, map[string]string{
		"ATTENDANCE_TIME_ZONE": "Asia/Jakarta",
		"RECONCILE_MODE":       "enforce",
	})
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, reconcile.ModeEnforce, a.Mode)
	assert.Equal(t, "Asia/Jakarta", a.Location.String())

	handler := a.Handler(nil)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	token, err := a.JWT.GenerateToken("ops-1", jwttoken.RoleAdmin, time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/admin/reconcile/ghosts", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"scanned_bindings":0`)
}

func TestBuild_RejectsUnknownReconcileMode(t *testing.T) {
	_, err := buildApp(t, map[string]string{"RECONCILE_MODE": "sometimes"})
	require.Error(t, err)
}
