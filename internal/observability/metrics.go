package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
)

// Metrics holds the counters and timings of the order desk.
type Metrics struct {
	// Database metrics
	dbTransactionBegin   *Histogram
	dbTransactionCommit  *Histogram
	dbActiveTransactions *Gauge

	// Request metrics
	handleDuration *Histogram
	outcomes       *CounterVec // by outcome
	replans        *Counter

	// Workflow metrics
	stepDuration *HistogramVec // by step kind
	stepResults  *CounterVec   // by "kind/result"
	stepRetries  *CounterVec   // by step kind

	// Ledger metrics
	ledgerCommits       *CounterVec // committed / conflict / rejected
	ledgerCompensations *Counter

	// Classifier metrics
	classifierAttempts *CounterVec // ok / unavailable
	classifierDegraded *Counter
	classifierLatency  *Histogram

	// Job metrics
	jobsProcessed *CounterVec // by "kind/state"
	jobQueueDepth *Gauge
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
func NewMetrics() *Metrics {
	return &Metrics{
		dbTransactionBegin:   NewHistogram(),
		dbTransactionCommit:  NewHistogram(),
		dbActiveTransactions: NewGauge(),

		handleDuration: NewHistogram(),
		outcomes:       NewCounterVec(),
		replans:        NewCounter(),

		stepDuration: NewHistogramVec(),
		stepResults:  NewCounterVec(),
		stepRetries:  NewCounterVec(),

		ledgerCommits:       NewCounterVec(),
		ledgerCompensations: NewCounter(),

		classifierAttempts: NewCounterVec(),
		classifierDegraded: NewCounter(),
		classifierLatency:  NewHistogram(),

		jobsProcessed: NewCounterVec(),
		jobQueueDepth: NewGauge(),
	}
}

func (m *Metrics) DBTransactionBegin() *Histogram  { return m.dbTransactionBegin }
func (m *Metrics) DBTransactionCommit() *Histogram { return m.dbTransactionCommit }
func (m *Metrics) DBActiveTransactions() *Gauge    { return m.dbActiveTransactions }

func (m *Metrics) HandleDuration() *Histogram { return m.handleDuration }
func (m *Metrics) Outcomes() *CounterVec      { return m.outcomes }
func (m *Metrics) Replans() *Counter          { return m.replans }

func (m *Metrics) StepDuration() *HistogramVec { return m.stepDuration }
func (m *Metrics) StepResults() *CounterVec    { return m.stepResults }
func (m *Metrics) StepRetries() *CounterVec    { return m.stepRetries }

func (m *Metrics) LedgerCommits() *CounterVec    { return m.ledgerCommits }
func (m *Metrics) LedgerCompensations() *Counter { return m.ledgerCompensations }

func (m *Metrics) ClassifierAttempts() *CounterVec { return m.classifierAttempts }
func (m *Metrics) ClassifierDegraded() *Counter    { return m.classifierDegraded }
func (m *Metrics) ClassifierLatency() *Histogram   { return m.classifierLatency }

func (m *Metrics) JobsProcessed() *CounterVec { return m.jobsProcessed }
func (m *Metrics) JobQueueDepth() *Gauge      { return m.jobQueueDepth }

// Snapshot returns a snapshot of all metrics for reporting.
func (m *Metrics) Snapshot() *MetricsSnapshot {
	return &MetricsSnapshot{
		DBTransactionBegin:   m.dbTransactionBegin.Snapshot(),
		DBTransactionCommit:  m.dbTransactionCommit.Snapshot(),
		DBActiveTransactions: m.dbActiveTransactions.Get(),

		HandleDuration: m.handleDuration.Snapshot(),
		Outcomes:       m.outcomes.Snapshot(),
		Replans:        m.replans.Get(),

		StepDuration: m.stepDuration.Snapshot(),
		StepResults:  m.stepResults.Snapshot(),
		StepRetries:  m.stepRetries.Snapshot(),

		LedgerCommits:       m.ledgerCommits.Snapshot(),
		LedgerCompensations: m.ledgerCompensations.Get(),

		ClassifierAttempts: m.classifierAttempts.Snapshot(),
		ClassifierDegraded: m.classifierDegraded.Get(),
		ClassifierLatency:  m.classifierLatency.Snapshot(),

		JobsProcessed: m.jobsProcessed.Snapshot(),
		JobQueueDepth: m.jobQueueDepth.Get(),
	}
}

// MetricsSnapshot holds a point-in-time snapshot of all metrics.
type MetricsSnapshot struct {
	DBTransactionBegin   HistogramSnapshot `json:"db_transaction_begin"`
	DBTransactionCommit  HistogramSnapshot `json:"db_transaction_commit"`
	DBActiveTransactions int64             `json:"db_active_transactions"`

	HandleDuration HistogramSnapshot `json:"handle_duration"`
	Outcomes       map[string]int64  `json:"outcomes"`
	Replans        int64             `json:"replans"`

	StepDuration map[string]HistogramSnapshot `json:"step_duration"`
	StepResults  map[string]int64             `json:"step_results"`
	StepRetries  map[string]int64             `json:"step_retries"`

	LedgerCommits       map[string]int64 `json:"ledger_commits"`
	LedgerCompensations int64            `json:"ledger_compensations"`

	ClassifierAttempts map[string]int64  `json:"classifier_attempts"`
	ClassifierDegraded int64             `json:"classifier_degraded"`
	ClassifierLatency  HistogramSnapshot `json:"classifier_latency"`

	JobsProcessed map[string]int64 `json:"jobs_processed"`
	JobQueueDepth int64            `json:"job_queue_depth"`
}

// ServeHTTP implements http.Handler for metrics exposition.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snapshot := m.Snapshot()

	if r.URL.Query().Get("format") == "json" || r.Header.Get("Accept") == "application/json" {
		w.Header().Set("Content-Type", "application/json")
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		encoder.Encode(snapshot)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "# o2c-lite metrics\n\n")

	fmt.Fprintf(w, "## Requests\n\n")
	writeHistogram(w, "Handle duration", snapshot.HandleDuration)
	writeCounters(w, "Outcomes", snapshot.Outcomes)
	fmt.Fprintf(w, "Re-plans after conflict: %d\n\n", snapshot.Replans)

	fmt.Fprintf(w, "## Workflow\n\n")
	for _, label := range sortedKeys(snapshot.StepDuration) {
		writeHistogram(w, "Step "+label, snapshot.StepDuration[label])
	}
	writeCounters(w, "Step results", snapshot.StepResults)
	writeCounters(w, "Step retries", snapshot.StepRetries)

	fmt.Fprintf(w, "## Ledger\n\n")
	writeCounters(w, "Commits", snapshot.LedgerCommits)
	fmt.Fprintf(w, "Compensations: %d\n\n", snapshot.LedgerCompensations)

	fmt.Fprintf(w, "## Classifier\n\n")
	writeHistogram(w, "Classifier latency", snapshot.ClassifierLatency)
	writeCounters(w, "Classifier attempts", snapshot.ClassifierAttempts)
	fmt.Fprintf(w, "Degraded to unknown: %d\n\n", snapshot.ClassifierDegraded)

	fmt.Fprintf(w, "## Jobs\n\n")
	writeCounters(w, "Jobs processed", snapshot.JobsProcessed)
	fmt.Fprintf(w, "Queue depth: %d\n\n", snapshot.JobQueueDepth)

	fmt.Fprintf(w, "## Database\n\n")
	writeHistogram(w, "Transaction begin", snapshot.DBTransactionBegin)
	writeHistogram(w, "Transaction commit", snapshot.DBTransactionCommit)
	fmt.Fprintf(w, "Active transactions: %d\n", snapshot.DBActiveTransactions)
}

func writeHistogram(w io.Writer, name string, h HistogramSnapshot) {
	if h.Count == 0 {
		fmt.Fprintf(w, "%s: no data\n", name)
		return
	}
	fmt.Fprintf(w, "%s (n=%d): mean=%v p50=%v p95=%v p99=%v max=%v\n",
		name, h.Count, h.Mean, h.P50, h.P95, h.P99, h.Max)
}

func writeCounters(w io.Writer, name string, counters map[string]int64) {
	if len(counters) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", name)
	for _, label := range sortedKeys(counters) {
		fmt.Fprintf(w, "  %s: %d\n", label, counters[label])
	}
	fmt.Fprintln(w)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
