package main

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upb/tenant-governance/config"
)

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{"default json logger", "info", "json", false},
		{"development text logger", "debug", "text", false},
		{"invalid log level", "invalid", "json", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Environment: "test"}
			cfg.Observability.LogLevel = tt.level
			cfg.Observability.LogFormat = tt.format
			cfg.Observability.ServiceName = "tenant-governance"

			logger, err := initLogger(cfg)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, logger)
				assert.Contains(t, err.Error(), "invalid log level")
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
			_ = logger.Sync()
		})
	}
}

func TestNewServer(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 9090
	cfg.Server.ReadTimeout = 3 * time.Second
	cfg.Server.WriteTimeout = 4 * time.Second

	srv := newServer(cfg, http.NotFoundHandler())
	assert.Equal(t, "127.0.0.1:9090", srv.Addr)
	assert.Equal(t, 3*time.Second, srv.ReadTimeout)
	assert.Equal(t, 3*time.Second, srv.ReadHeaderTimeout)
	assert.Equal(t, 4*time.Second, srv.WriteTimeout)
	assert.NotNil(t, srv.Handler)
}
