package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YaganovValera/market-feed/common/logger"
)

func TestInitTracer_DisabledIsNoop(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), Config{}, logger.Nop())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestValidateConfig(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"no endpoint", Config{ServiceName: "s", ServiceVersion: "v"}, true},
		{"no name", Config{Endpoint: "e", ServiceVersion: "v"}, true},
		{"no version", Config{Endpoint: "e", ServiceName: "s"}, true},
		{"ok", Config{Endpoint: "e", ServiceName: "s", ServiceVersion: "v"}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := validateConfig(c.cfg)
			assert.Equal(t, c.wantErr, err != nil, "err=%v", err)
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{SamplerRatio: 5}
	applyDefaults(&cfg)
	assert.Equal(t, 1.0, cfg.SamplerRatio)
	assert.NotZero(t, cfg.Timeout)
	assert.NotZero(t, cfg.ReconnectPeriod)
}
