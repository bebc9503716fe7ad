package execute

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/grafana/morsel/pkg/engine/internal/graph"
)

// Metrics is a container of metrics for graph executions. A nil *Metrics
// records nothing.
type Metrics struct {
	// registry to collect metrics as a unit.
	reg *prometheus.Registry

	phasesTotal                prometheus.Counter
	memoryIntensivePhasesTotal prometheus.Counter
	nodesSpawnedTotal          *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	return &Metrics{
		reg: reg,

		phasesTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "morsel_engine_phases_total",
			Help: "Total number of execution phases run",
		}),
		memoryIntensivePhasesTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "morsel_engine_memory_intensive_phases_total",
			Help: "Total number of execution phases running a memory-intensive pipeline blocker",
		}),
		nodesSpawnedTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "morsel_engine_nodes_spawned_total",
			Help: "Total number of operator instantiations by kind",
		}, []string{"kind"}),
	}
}

// Register registers metrics to report to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error { return reg.Register(m.reg) }

// Unregister unregisters metrics from the provided Registerer.
func (m *Metrics) Unregister(reg prometheus.Registerer) { reg.Unregister(m.reg) }

func (m *Metrics) observePhase(g *graph.Graph, info PhaseInfo) {
	if m == nil {
		return
	}
	m.phasesTotal.Inc()
	if info.MemoryIntensive > 0 {
		m.memoryIntensivePhasesTotal.Inc()
	}
	for _, key := range info.SpawnOrder {
		m.nodesSpawnedTotal.WithLabelValues(g.Nodes.MustGet(key).Compute.Name()).Inc()
	}
}
