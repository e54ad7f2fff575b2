package telemetry

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/uniguide/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func TestNew_DisabledIsNoop(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	assert.NotNil(t, tel.Tracer("x"))
	assert.NotNil(t, tel.Meter("x"))
	degraded, _ := tel.Degraded()
	assert.False(t, degraded)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "disabled skips checks", mutate: func(c *Config) { c.Endpoint = "" }},
		{name: "enabled local", mutate: func(c *Config) { c.Enabled = true }},
		{
			name:    "insecure remote",
			mutate:  func(c *Config) { c.Enabled = true; c.Endpoint = "otel.example.com:4317" },
			wantErr: "insecure",
		},
		{
			name:    "bad protocol",
			mutate:  func(c *Config) { c.Enabled = true; c.Protocol = "udp" },
			wantErr: "protocol",
		},
		{
			name:    "bad sample rate",
			mutate:  func(c *Config) { c.Enabled = true; c.SampleRate = 2 },
			wantErr: "sample rate",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFromObservability(t *testing.T) {
	cfg := FromObservability(config.ObservabilityConfig{
		EnableTelemetry: true,
		OTLPEndpoint:    "127.0.0.1:4317",
		ServiceName:     "advisor",
	})
	assert.True(t, cfg.Enabled)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, "advisor", cfg.ServiceName)

	remote := FromObservability(config.ObservabilityConfig{OTLPEndpoint: "collector.internal:4317"})
	assert.False(t, remote.Insecure)
}

func TestTestTelemetry_RecordsSpansAndMetrics(t *testing.T) {
	ctx := context.Background()
	tel := NewTestTelemetry()

	_, span := tel.Tracer("test").Start(ctx, "work")
	span.SetAttributes(attribute.String("stage", "rank"))
	span.End()

	counter, err := tel.Meter("test").Int64Counter("work.count")
	require.NoError(t, err)
	counter.Add(ctx, 2, metric.WithAttributes(attribute.String("stage", "rank")))
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", "fees")))

	assert.Equal(t, []string{"work"}, tel.SpanNames())
	tel.AssertSpanAttribute(t, "work", "stage", "rank")

	total, err := tel.Int64Sum(ctx, "work.count")
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	rank, err := tel.Int64Sum(ctx, "work.count", attribute.String("stage", "rank"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), rank)
}
