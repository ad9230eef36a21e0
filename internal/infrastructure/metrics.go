package infrastructure

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the engine. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	nodeExecutions     *prometheus.CounterVec
	flowReplies        *prometheus.CounterVec
	broadcastDelivered *prometheus.CounterVec
	broadcastJobs      *prometheus.CounterVec
	warmerMessages     *prometheus.CounterVec
	loopRestarts       *prometheus.CounterVec
	sessionDrops       *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		nodeExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "waflow",
			Subsystem: "flow",
			Name:      "node_executions_total",
			Help:      "Flow nodes executed, by kind and outcome",
		}, []string{"kind", "outcome"}),

		flowReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "waflow",
			Subsystem: "flow",
			Name:      "replies_total",
			Help:      "Replies sent by chatbots",
		}, []string{"result"}),

		broadcastDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "waflow",
			Subsystem: "broadcast",
			Name:      "deliveries_total",
			Help:      "Broadcast log entries moved to a terminal status",
		}, []string{"status"}),

		broadcastJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "waflow",
			Subsystem: "broadcast",
			Name:      "jobs_finished_total",
			Help:      "Broadcast jobs that left PENDING",
		}, []string{"status"}),

		warmerMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "waflow",
			Subsystem: "warmer",
			Name:      "messages_total",
			Help:      "Warm-up messages exchanged between instances",
		}, []string{"result"}),

		loopRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "waflow",
			Name:      "loop_restarts_total",
			Help:      "Supervised loop restarts after an error or panic",
		}, []string{"loop"}),

		sessionDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "waflow",
			Subsystem: "whatsapp",
			Name:      "session_drops_total",
			Help:      "Sessions removed from the registry",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.nodeExecutions,
		m.flowReplies,
		m.broadcastDelivered,
		m.broadcastJobs,
		m.warmerMessages,
		m.loopRestarts,
		m.sessionDrops,
	)
	return m
}

func (m *Metrics) NodeExecuted(kind, outcome string) {
	if m == nil {
		return
	}
	m.nodeExecutions.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ReplySent(ok bool) {
	if m == nil {
		return
	}
	m.flowReplies.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) Delivery(status string) {
	if m == nil {
		return
	}
	m.broadcastDelivered.WithLabelValues(status).Inc()
}

func (m *Metrics) JobFinished(status string) {
	if m == nil {
		return
	}
	m.broadcastJobs.WithLabelValues(status).Inc()
}

func (m *Metrics) WarmerMessage(ok bool) {
	if m == nil {
		return
	}
	m.warmerMessages.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) LoopRestart(loop string) {
	if m == nil {
		return
	}
	m.loopRestarts.WithLabelValues(loop).Inc()
}

func (m *Metrics) SessionDropped(reason string) {
	if m == nil {
		return
	}
	m.sessionDrops.WithLabelValues(reason).Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
