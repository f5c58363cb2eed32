package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{"json info", "info", "json", false},
		{"text debug", "debug", "text", false},
		{"upper case level", "WARN", "json", false},
		{"invalid level", "loud", "json", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.level, tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.RateLimitFallback.Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(a.RateLimitFallback))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.RateLimitFallback))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.PoolCapacity.WithLabelValues("basic", "cpu").Set(100)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `governance_pool_capacity{kind="cpu",plan="basic"} 100`)
}

func TestInitTracing_Disabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{Enabled: false}, zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
