// ABOUTME: Tests for sync core Prometheus metrics
// ABOUTME: Covers registration reuse, counters by result, and nil safety

package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.RecordsAppended(3)
	m.RecordsAppended(0)
	m.DuplicatesDropped(2)
	m.StaleDelivery()
	m.HistoryFetch(nil)
	m.HistoryFetch(errors.New("boom"))
	m.HistoryFetch(nil)
	m.Send(nil)
	m.SessionActivated()
	m.SessionActivated()
	m.SessionDeactivated()

	assert.Equal(t, 3.0, testutil.ToFloat64(m.recordsAppended))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.duplicatesDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.staleDeliveries))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.historyFetches.WithLabelValues(ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.historyFetches.WithLabelValues(ResultError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sends.WithLabelValues(ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeSessions))
}

func TestMetrics_NewTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := New(reg)
	require.NoError(t, err)
	second, err := New(reg)
	require.NoError(t, err)

	first.StaleDelivery()
	second.StaleDelivery()
	assert.Equal(t, 2.0, testutil.ToFloat64(first.staleDeliveries))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordsAppended(1)
		m.DuplicatesDropped(1)
		m.StaleDelivery()
		m.HistoryFetch(nil)
		m.Send(errors.New("x"))
		m.SessionActivated()
		m.SessionDeactivated()
	})
}
