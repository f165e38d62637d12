// Package metrics keeps per-instance Prometheus collectors for command
// execution. Each opened database owns its own registry, so instances never
// share counters.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/talon/internal/ir"
)

const namespace = "talon"

// Outcome labels.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics holds one instance's collectors.
type Metrics struct {
	reg      *prometheus.Registry
	commands *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inflight prometheus.Gauge
	rejected prometheus.Counter
}

// New creates collectors registered on a fresh registry. constLabels are
// attached to every series (for example the instance id).
func New(constLabels prometheus.Labels) *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "commands_total",
			Help:        "Commands executed, by module, action and outcome.",
			ConstLabels: constLabels,
		}, []string{"module", "action", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "command_duration_seconds",
			Help:        "Command execution latency by module.",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"module"}),
		inflight: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "inflight_commands",
			Help:        "Commands admitted and not yet finished.",
			ConstLabels: constLabels,
		}),
		rejected: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "rejected_commands_total",
			Help:        "Commands refused because the instance was closing or closed.",
			ConstLabels: constLabels,
		}),
	}
}

// Registry exposes the registry for scraping or inspection.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Begin records an admitted command and returns a func that records its
// completion.
func (m *Metrics) Begin(mod, action string) func(err error, elapsed time.Duration) {
	m.inflight.Inc()
	return func(err error, elapsed time.Duration) {
		m.inflight.Dec()
		outcome := OutcomeOK
		if err != nil {
			outcome = OutcomeError
		}
		m.commands.WithLabelValues(mod, action, outcome).Inc()
		m.duration.WithLabelValues(mod).Observe(elapsed.Seconds())
	}
}

// Rejected counts a command refused at admission.
func (m *Metrics) Rejected() { m.rejected.Inc() }

// Snapshot summarizes the counters as an IR object:
//
//	{"total": n, "ok": n, "error": n, "rejected": n, "by_module": {"kv": n, ...}}
func (m *Metrics) Snapshot() (ir.IRObject, error) {
	families, err := m.reg.Gather()
	if err != nil {
		return nil, err
	}

	var total, ok, failed, rejected int64
	byModule := ir.IRObject{}
	for _, fam := range families {
		switch fam.GetName() {
		case namespace + "_commands_total":
			for _, metric := range fam.GetMetric() {
				n := int64(metric.GetCounter().GetValue())
				total += n
				var mod string
				for _, lp := range metric.GetLabel() {
					switch lp.GetName() {
					case "module":
						mod = lp.GetValue()
					case "outcome":
						if lp.GetValue() == OutcomeOK {
							ok += n
						} else {
							failed += n
						}
					}
				}
				prev, _ := byModule[mod].(ir.IRInt)
				byModule[mod] = prev + ir.IRInt(n)
			}
		case namespace + "_rejected_commands_total":
			for _, metric := range fam.GetMetric() {
				rejected += int64(metric.GetCounter().GetValue())
			}
		}
	}

	return ir.IRObject{
		"total":     ir.IRInt(total),
		"ok":        ir.IRInt(ok),
		"error":     ir.IRInt(failed),
		"rejected":  ir.IRInt(rejected),
		"by_module": byModule,
	}, nil
}
