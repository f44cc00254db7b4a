package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingestion and retrieval counters. These are a pure side channel:
// nothing in the pipeline reads them back.
var (
	NodesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quarry",
		Subsystem: "ingest",
		Name:      "nodes_processed_total",
		Help:      "Node jobs finished, labeled by node type and final status.",
	}, []string{"node_type", "status"})

	EmbeddingsInserted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quarry",
		Subsystem: "ingest",
		Name:      "embeddings_inserted_total",
		Help:      "Embedding records written to the vector store.",
	})

	ChunksSplit = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quarry",
		Subsystem: "ingest",
		Name:      "chunks_split_total",
		Help:      "Chunks produced by the splitter.",
	})

	QueriesServed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quarry",
		Subsystem: "retrieval",
		Name:      "queries_served_total",
		Help:      "Retrieval queries answered.",
	})

	QueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "quarry",
		Subsystem: "retrieval",
		Name:      "query_duration_seconds",
		Help:      "End-to-end retrieval latency.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	RerankFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quarry",
		Subsystem: "retrieval",
		Name:      "rerank_fallbacks_total",
		Help:      "Queries served with distance ordering because reranking failed.",
	})
)
