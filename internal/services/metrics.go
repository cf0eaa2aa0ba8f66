package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline counters, exposed alongside the HTTP metrics at /metrics.
var (
	turnsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "introspect_turns_total",
		Help: "Chat turns by final state",
	}, []string{"state"})

	extractionJobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "introspect_extraction_jobs_total",
		Help: "Extraction jobs by outcome",
	}, []string{"outcome"})

	graphNodesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "introspect_graph_nodes_created_total",
		Help: "New knowledge graph nodes",
	})

	graphEdgesMerged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "introspect_graph_edges_merged_total",
		Help: "Knowledge graph edge merges (creations and reinforcements)",
	})

	insightsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "introspect_insights_created_total",
		Help: "Synthesized insights",
	})

	contextDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "introspect_context_degraded_total",
		Help: "Context bundles built without semantic retrieval",
	})
)
