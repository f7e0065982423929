// Package metrics records batch and status metrics in a private Prometheus
// registry and exports them in the node_exporter textfile format.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/projtrack/internal/batch"
	"github.com/sells-group/projtrack/internal/model"
	"github.com/sells-group/projtrack/internal/status"
	"github.com/sells-group/projtrack/internal/store"
)

const namespace = "projtrack"

var projectsDesc = prometheus.NewDesc(
	namespace+"_projects",
	"Projects by current status and silence class",
	[]string{"status", "silence"},
	nil,
)

// StatusLister reads status records for the status collector.
type StatusLister interface {
	ListStatuses(ctx context.Context, filter store.ProjectFilter) ([]model.ProjectStatus, error)
}

// StatusCollector is a custom collector that reads the status table on each
// gather.
type StatusCollector struct {
	store StatusLister
	now   func() time.Time
}

// Describe implements prometheus.Collector.
func (c *StatusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- projectsDesc
}

// Collect implements prometheus.Collector.
func (c *StatusCollector) Collect(ch chan<- prometheus.Metric) {
	statuses, err := c.store.ListStatuses(context.Background(), store.ProjectFilter{})
	if err != nil {
		zap.L().Error("failed to collect status metrics", zap.Error(err))
		return
	}
	type key struct{ status, silence string }
	counts := make(map[key]int)
	for _, row := range status.SilenceReport(statuses, c.now()) {
		cur := string(row.StatusCurrent)
		if cur == "" {
			cur = "unevaluated"
		}
		counts[key{cur, string(row.Silence)}]++
	}
	for k, n := range counts {
		ch <- prometheus.MustNewConstMetric(projectsDesc, prometheus.GaugeValue, float64(n), k.status, k.silence)
	}
}

// Recorder holds the metrics of one CLI invocation.
type Recorder struct {
	reg         *prometheus.Registry
	processed   *prometheus.CounterVec
	remaining   *prometheus.GaugeVec
	partial     *prometheus.GaugeVec
	duration    *prometheus.GaugeVec
	lastRun     *prometheus.GaugeVec
	transitions *prometheus.CounterVec
	imported    *prometheus.CounterVec
	resolved    *prometheus.CounterVec
	now         func() time.Time
}

// NewRecorder creates a Recorder with its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "batch_items_processed_total",
			Help: "Items processed by batch jobs",
		}, []string{"job"}),
		remaining: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "batch_items_remaining",
			Help: "Items left in the checkpoint after the last run",
		}, []string{"job"}),
		partial: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "batch_partial",
			Help: "1 if the last run stopped before finishing",
		}, []string{"job"}),
		duration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "batch_duration_seconds",
			Help: "Wall-clock duration of the last run",
		}, []string{"job"}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "batch_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		}, []string{"job"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "status_transitions_total",
			Help: "Status changes written by inference",
		}, []string{"from", "to"}),
		imported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ingest_records_total",
			Help: "Records read by imports, by outcome",
		}, []string{"kind", "outcome"}),
		resolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "resolve_outcomes_total",
			Help: "Projects created or skipped and cards attached by the resolver",
		}, []string{"outcome"}),
		now: time.Now,
	}
	r.reg.MustRegister(r.processed, r.remaining, r.partial, r.duration, r.lastRun, r.transitions, r.imported, r.resolved)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// WatchStatuses adds the status table gauge to the registry.
func (r *Recorder) WatchStatuses(s StatusLister) error {
	err := r.reg.Register(&StatusCollector{store: s, now: r.now})
	return eris.Wrap(err, "metrics: register status collector")
}

// ObserveBatch records the outcome of one batch run.
func (r *Recorder) ObserveBatch(res *batch.Result) {
	if res == nil {
		return
	}
	r.processed.WithLabelValues(res.Job).Add(float64(res.Processed))
	r.remaining.WithLabelValues(res.Job).Set(float64(res.Remaining))
	partial := 0.0
	if res.Partial {
		partial = 1
	}
	r.partial.WithLabelValues(res.Job).Set(partial)
	r.duration.WithLabelValues(res.Job).Set(res.Elapsed.Seconds())
	r.lastRun.WithLabelValues(res.Job).Set(float64(r.now().Unix()))
}

// ObserveTransitions counts status changes.
func (r *Recorder) ObserveTransitions(ts []status.Transition) {
	for _, t := range ts {
		from := string(t.From)
		if from == "" {
			from = "unevaluated"
		}
		r.transitions.WithLabelValues(from, string(t.To)).Inc()
	}
}

// ObserveImport records an import's counts. Only records that reached the
// store count as written.
func (r *Recorder) ObserveImport(kind string, written, rejected int) {
	r.imported.WithLabelValues(kind, "written").Add(float64(written))
	r.imported.WithLabelValues(kind, "rejected").Add(float64(rejected))
}

// ObserveResolve records the resolver's persisted outcomes.
func (r *Recorder) ObserveResolve(created, attached, skipped int) {
	r.resolved.WithLabelValues("created").Add(float64(created))
	r.resolved.WithLabelValues("attached").Add(float64(attached))
	r.resolved.WithLabelValues("skipped").Add(float64(skipped))
}

// WriteTextfile writes the registry to path atomically. An empty path is a
// no-op.
func (r *Recorder) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	return eris.Wrapf(prometheus.WriteToTextfile(path, r.reg), "metrics: write textfile %s", path)
}
