package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(agentTurns, agentRepairs, agentActions, inspectorSize) }

var (
	agentTurns = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docqa_agent_turns",
			Help:    "Model turns used per finished agent run.",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)

	agentRepairs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_agent_repairs_total",
			Help: "Repair prompts sent after a schema violation, by outcome.",
		},
		[]string{"outcome"}, // 'recovered', 'exhausted'
	)

	agentActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_agent_actions_total",
			Help: "Validated actions returned by the model.",
		},
		[]string{"type"},
	)

	inspectorSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "docqa_inspector_traces",
			Help: "Traces held by the inspector ring buffer.",
		},
	)
)

func ObserveAgentTurns(n int) { agentTurns.Observe(float64(n)) }

func IncAgentRepair(outcome string) { agentRepairs.WithLabelValues(norm(outcome)).Inc() }

func IncAgentAction(actionType string) { agentActions.WithLabelValues(norm(actionType)).Inc() }

func SetInspectorSize(n int) { inspectorSize.Set(float64(n)) }
