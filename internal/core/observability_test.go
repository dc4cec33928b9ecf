package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpvarMetricsRecorder(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	require.NotNil(t, expvar.Get(rec.Name()))
	ctx := context.Background()

	rec.Observe(ctx, "submit_migration", true, 2*time.Millisecond)
	rec.Observe(ctx, "submit_migration", false, 3*time.Millisecond)
	rec.Observe(ctx, "", true, time.Second)

	snap := rec.Snapshot()
	assert.InDelta(t, 5.0, snap.DurationsMS["submit_migration"], 0.001)
	assert.Equal(t, map[string]int64{"success": 1, "error": 1}, snap.Results["submit_migration"])
	assert.Len(t, snap.Results, 1)

	snap.Results["submit_migration"]["success"] = 100
	assert.Equal(t, int64(1), rec.Snapshot().Results["submit_migration"]["success"])

	var published ExpvarMetricsSnapshot
	require.NoError(t, json.Unmarshal([]byte(expvar.Get(rec.Name()).String()), &published))
	assert.Equal(t, int64(1), published.Results["submit_migration"]["error"])
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	require.NoError(t, err)
	ctx := context.Background()

	rec.Observe(ctx, "upload_clinical", true, 10*time.Millisecond)
	rec.Observe(ctx, "upload_clinical", true, 20*time.Millisecond)
	rec.Observe(ctx, "upload_clinical", false, time.Millisecond)

	assert.Equal(t, 2.0, promtest.ToFloat64(rec.results.WithLabelValues("upload_clinical", "success")))
	assert.Equal(t, 1.0, promtest.ToFloat64(rec.results.WithLabelValues("upload_clinical", "error")))
	assert.Equal(t, 1, promtest.CollectAndCount(rec.durations))

	_, err = NewPrometheusMetricsRecorder(reg)
	require.Error(t, err, "collectors cannot be registered twice")
}

func TestMultiMetricsRecorder(t *testing.T) {
	a, b := &captureMetricsRecorder{}, &captureMetricsRecorder{}
	MultiMetricsRecorder{a, b}.Observe(context.Background(), "settings", true, 0)
	assert.True(t, a.has("settings", true))
	assert.True(t, b.has("settings", true))
}

func TestJSONTracer(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	ctx := context.Background()

	_, span := tracer.Start(ctx, "probe_upgrade")
	span.End(nil)
	_, span = tracer.Start(ctx, "get_migration")
	span.End(errors.New("migration m1 not found"))

	entries := tracer.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "success", entries[0].Status)
	assert.Equal(t, "error", entries[1].Status)
	assert.Equal(t, "migration m1 not found", entries[1].Error)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var decoded JSONTraceEntry
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &decoded))
	assert.Equal(t, "get_migration", decoded.Operation)

	silent := NewJSONTracer(nil)
	_, span = silent.Start(ctx, "settings")
	span.End(nil)
	assert.Len(t, silent.Entries(), 1)
}

func TestServiceUsesTracerAndRecorder(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	tracer := NewJSONTracer(nil)
	f := newFixture(t)
	svc := NewService(f.svc.Store(), f.svc.provider, WithMetricsRecorder(rec), WithTracer(tracer))

	_, err := svc.Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Snapshot().Results["settings"]["success"])
	require.Len(t, tracer.Entries(), 1)
	assert.Equal(t, "settings", tracer.Entries()[0].Operation)
}
