package poller

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	fetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hubdeck",
			Name:      "fetch_total",
			Help:      "Subscription fetches by column type and outcome",
		},
		[]string{"column_type", "outcome"},
	)

	fetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hubdeck",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of GitHub page fetches in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"column_type"},
	)

	fetchedItems = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hubdeck",
			Name:      "fetched_items",
			Help:      "Items returned per fetched page",
			Buckets:   []float64{0, 1, 5, 10, 25, 50},
		},
		[]string{"column_type"},
	)

	purgedItems = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hubdeck",
			Name:      "purged_items_total",
			Help:      "Items dropped after the retention TTL",
		},
	)

	watchedColumns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hubdeck",
			Name:      "watched_columns",
			Help:      "Columns with a running poll timer",
		},
	)
)

const (
	outcomeUpdated   = "updated"
	outcomeUnchanged = "unchanged"
	outcomeErrored   = "errored"
	outcomeSkipped   = "skipped"
)

type pollMetrics struct {
	mu            sync.Mutex
	totalSelected int
	updated       int
	unchanged     int
	errored       int
	skipped       int
}

func (m *pollMetrics) record(columnType, outcome string) {
	fetchTotal.WithLabelValues(columnType, outcome).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalSelected++
	switch outcome {
	case outcomeUpdated:
		m.updated++
	case outcomeUnchanged:
		m.unchanged++
	case outcomeErrored:
		m.errored++
	case outcomeSkipped:
		m.skipped++
	}
}

func (m *pollMetrics) log(log *zap.Logger, columnID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.totalSelected == 0 {
		return
	}

	args := []any{"column_id", columnID}
	if m.errored != 0 {
		args = append(args, "errored", m.errored)
	}
	if m.updated != 0 {
		args = append(args, "updated", m.updated)
	}
	if m.unchanged != 0 {
		args = append(args, "unchanged", m.unchanged)
	}
	if m.skipped != 0 {
		args = append(args, "skipped", m.skipped)
	}
	log.Sugar().Infow(fmt.Sprintf("Processed %d subscriptions", m.totalSelected), args...)
}
