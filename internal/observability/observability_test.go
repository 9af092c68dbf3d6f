package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "json")

	logger.Info("dropped")
	logger.Warn("kept", "key", "cfe_nom")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "cfe_nom", line["key"])
	assert.Equal(t, "datastream-explorer", line["service"])
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "debug", "TEXT")
	logger.Debug("visible")
	assert.Contains(t, buf.String(), "msg=visible")
}

func TestMetrics_RegisterInFreshRegistry(t *testing.T) {
	m := NewMetricsForTesting()
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(m.LoadsRejected))

	m.LoadsRejected.Inc()
	m.CacheLookups.WithLabelValues("hit").Inc()
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.LoadsRejected), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")), 1e-9)
	assert.Len(t, m.collectors(), 14)
}

func TestSetupTracing_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), "")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
	assert.NotNil(t, Tracer())
}
