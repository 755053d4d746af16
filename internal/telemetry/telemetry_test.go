package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/satori/internal/config"
	"github.com/CodeMonkeyCybersecurity/satori/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDisabledReturnsNoop(t *testing.T) {
	tel, err := New(context.Background(), config.TelemetryConfig{Enabled: false})
	require.NoError(t, err)

	tel.RecordRun(time.Second, "ok")
	tel.RecordPlugin("nova", types.PhaseControlPlane, time.Millisecond, "match")
	assert.NoError(t, tel.Close())
}

func TestNewRejectsUnknownExporter(t *testing.T) {
	_, err := New(context.Background(), config.TelemetryConfig{
		Enabled:      true,
		ServiceName:  "satori-test",
		ExporterType: "zipkin",
	})
	assert.Error(t, err)
}

func TestNewOTLP(t *testing.T) {
	tel, err := New(context.Background(), config.TelemetryConfig{
		Enabled:      true,
		ServiceName:  "satori-test",
		ExporterType: "otlp",
		Endpoint:     "127.0.0.1:4318",
		SampleRate:   0,
	})
	require.NoError(t, err)

	tel.RecordRun(2*time.Second, "ok")
	tel.RecordPlugin("ec2", types.PhaseControlPlane, 10*time.Millisecond, "no_match")
	_ = tel.Close()
}
