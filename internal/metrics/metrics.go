// ABOUTME: Prometheus counters and gauges for conversation sync activity
// ABOUTME: Nil-safe recording helpers used by pagination, bridge and session

package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chatsync"

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics holds the sync core collectors.
type Metrics struct {
	recordsAppended   prometheus.Counter
	duplicatesDropped prometheus.Counter
	staleDeliveries   prometheus.Counter
	historyFetches    *prometheus.CounterVec
	sends             *prometheus.CounterVec
	activeSessions    prometheus.Gauge
}

// New creates and registers the collectors. Pass nil to use the default
// registerer. Collectors already registered (by an earlier New on the same
// registerer) are reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		recordsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_appended_total",
			Help:      "Records inserted into conversation event logs.",
		}),
		duplicatesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_dropped_total",
			Help:      "Engine events ignored because the log already held them.",
		}),
		staleDeliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_deliveries_total",
			Help:      "Notifications dropped because their session was detached or replaced.",
		}),
		historyFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_fetches_total",
			Help:      "History page fetches issued to the engine.",
		}, []string{"result"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Text messages submitted to the engine.",
		}, []string{"result"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Conversation sessions currently activated.",
		}),
	}

	var err error
	if m.recordsAppended, err = register(reg, m.recordsAppended); err != nil {
		return nil, err
	}
	if m.duplicatesDropped, err = register(reg, m.duplicatesDropped); err != nil {
		return nil, err
	}
	if m.staleDeliveries, err = register(reg, m.staleDeliveries); err != nil {
		return nil, err
	}
	if m.historyFetches, err = register(reg, m.historyFetches); err != nil {
		return nil, err
	}
	if m.sends, err = register(reg, m.sends); err != nil {
		return nil, err
	}
	if m.activeSessions, err = register(reg, m.activeSessions); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, returning the existing collector if one with the
// same descriptor is already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("registering collector: %w", err)
	}
	return c, nil
}

// RecordsAppended adds n inserted records.
func (m *Metrics) RecordsAppended(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recordsAppended.Add(float64(n))
}

// DuplicatesDropped adds n ignored duplicates.
func (m *Metrics) DuplicatesDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.duplicatesDropped.Add(float64(n))
}

// StaleDelivery counts one dropped notification.
func (m *Metrics) StaleDelivery() {
	if m == nil {
		return
	}
	m.staleDeliveries.Inc()
}

// HistoryFetch counts one fetch by outcome.
func (m *Metrics) HistoryFetch(err error) {
	if m == nil {
		return
	}
	m.historyFetches.WithLabelValues(result(err)).Inc()
}

// Send counts one send by outcome.
func (m *Metrics) Send(err error) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(result(err)).Inc()
}

// SessionActivated increments the active session gauge.
func (m *Metrics) SessionActivated() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// SessionDeactivated decrements the active session gauge.
func (m *Metrics) SessionDeactivated() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
