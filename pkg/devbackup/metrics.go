package devbackup

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus instruments the orchestrator updates over
// the lifetime of a run. Kept deliberately small: counts and totals only.
type Metrics struct {
	RunsTotal           *prometheus.CounterVec
	BytesTransferred    prometheus.Counter
	RetentionDeletions  prometheus.Counter
	RetentionFreedBytes prometheus.Counter
}

// NewMetrics builds a Metrics instance and, if reg is non-nil, registers
// its instruments with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devbackup_runs_total",
			Help: "Total number of orchestrator runs, labeled by outcome.",
		}, []string{"result"}),
		BytesTransferred: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "devbackup_bytes_transferred_total",
			Help: "Total bytes the replicator reported as sent.",
		}),
		RetentionDeletions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "devbackup_retention_deletions_total",
			Help: "Total snapshots removed by the retention manager.",
		}),
		RetentionFreedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "devbackup_retention_freed_bytes_total",
			Help: "Total bytes freed by the retention manager.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.RunsTotal, m.BytesTransferred, m.RetentionDeletions, m.RetentionFreedBytes)
	}
	return m
}

// RecordRun increments the run counter for the given outcome label.
func (m *Metrics) RecordRun(result string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(result).Inc()
}

// RecordBytes adds n to the bytes-transferred counter.
func (m *Metrics) RecordBytes(n uint64) {
	if m == nil {
		return
	}
	m.BytesTransferred.Add(float64(n))
}

// RecordRetention adds deletions and freedBytes to their counters.
func (m *Metrics) RecordRetention(deletions int, freedBytes int64) {
	if m == nil {
		return
	}
	m.RetentionDeletions.Add(float64(deletions))
	m.RetentionFreedBytes.Add(float64(freedBytes))
}
