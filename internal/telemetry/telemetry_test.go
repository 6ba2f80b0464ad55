package telemetry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.SetIdentifiers(3)
	m.TrailScanned()
	m.TrailScanned()
	m.TrailMatched()
	m.EventEmitted()
	m.EventEmitted()
	m.EventEmitted()
	m.ObserveStore(0.01)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.IdentifiersRequested))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TrailsScanned))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TrailsMatched))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.EventsEmitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoresProcessed))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StoreDuration))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.SetIdentifiers(1)
	m.TrailScanned()
	m.TrailMatched()
	m.EventEmitted()
	m.ObserveStore(1)
	assert.NoError(t, m.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")))
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := New()
	m.TrailMatched()
	path := filepath.Join(t.TempDir(), "gettrail.prom")

	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "gettrail_trails_matched_total 1")
	assert.Contains(t, string(data), "# TYPE gettrail_store_duration_seconds histogram")
}

func TestMetrics_WriteTextfileBadPath(t *testing.T) {
	m := New()
	err := m.WriteTextfile(filepath.Join(t.TempDir(), "missing", "dir", "x.prom"))
	require.Error(t, err)
}
