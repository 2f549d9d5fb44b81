package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/stayline/stayline/internal/app"
	"github.com/stayline/stayline/internal/database/testutil"
	"github.com/stayline/stayline/internal/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouterForTest(t *testing.T) *gin.Engine {
	t.Helper()

	db := testutil.MustOpenTestDB(t)

	tokens, err := services.NewVerificationTokenService(db)
	require.NoError(t, err)

	registration, err := services.NewRegistrationService(db, tokens, nil)
	require.NoError(t, err)

	cfg := &app.Config{}
	cfg.Monitoring.Health.Enabled = true
	cfg.Monitoring.Prometheus.Enabled = true
	cfg.Monitoring.Prometheus.Endpoint = "/metrics"

	router, err := NewRouter(db, registration, cfg)
	require.NoError(t, err)
	return router
}

func TestRouterRequiresDependencies(t *testing.T) {
	_, err := NewRouter(nil, nil, nil)
	require.Error(t, err)
}

func TestHealthRoute(t *testing.T) {
	router := newRouterForTest(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	router := newRouterForTest(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRegistrationRoutesMounted(t *testing.T) {
	router := newRouterForTest(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/verify", nil))
	// Missing token parameter means the route exists but rejects the request.
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
