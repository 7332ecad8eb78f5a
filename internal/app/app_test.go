package app

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-pay/client/internal/config"
	authmodel "github.com/zhouzirui/z-pay/client/internal/model/auth"
	"github.com/zhouzirui/z-pay/client/internal/navigation"
	"github.com/zhouzirui/z-pay/client/internal/storage"
)

func testConfig() config.APIConfig {
	return config.APIConfig{
		BaseURL:   "http://localhost:8080",
		V2BaseURL: "http://localhost:8080/v2",
		Timeout:   time.Second,
		V2Timeout: time.Second,
	}
}

func TestNewWiresSessionGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := New(testConfig(), storage.NewMemoryStorage(), Options{Navigator: navigation.NewRecorder(), Registerer: reg})
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, "localhost:8080", a.API.BaseURL().Host)
	assert.Equal(t, "/v2", a.APIV2.BaseURL().Path)

	a.Sessions.Login(authmodel.User{ID: "u1", Name: "A"}, "tok")
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Metrics.SessionAuthenticated))

	a.Sessions.Logout()
	assert.Equal(t, 0.0, testutil.ToFloat64(a.Metrics.SessionAuthenticated))
}

func TestNewRejectsBadURL(t *testing.T) {
	cfg := testConfig()
	cfg.V2BaseURL = "not a url"
	_, err := New(cfg, storage.NewMemoryStorage(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api v2 client")
}
