package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChunksCommitted tracks committed chunks per channel and sync phase
	ChunksCommitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logsync_chunks_committed_total",
			Help: "Total number of block chunks committed",
		},
		[]string{"channel", "phase"},
	)

	// MessagesAdded tracks newly stored messages per channel
	MessagesAdded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logsync_messages_added_total",
			Help: "Total number of new messages stored",
		},
		[]string{"channel"},
	)

	// DecodeDropped tracks log entries that failed to decode
	DecodeDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logsync_decode_dropped_total",
			Help: "Total number of log entries dropped during decoding",
		},
		[]string{"channel"},
	)

	// SyncRuns tracks finished sync runs by final state
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logsync_sync_runs_total",
			Help: "Total number of synchronization runs",
		},
		[]string{"channel", "state"},
	)

	// ChunkDuration tracks fetch+decode+commit time of one chunk
	ChunkDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "logsync_chunk_duration_seconds",
			Help:    "Time to fetch, decode and commit one chunk",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	// ScanTip tracks the highest scanned block per channel
	ScanTip = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "logsync_scan_tip",
			Help: "Highest block covered by scanned ranges",
		},
		[]string{"channel"},
	)

	// ChainHead tracks the latest chain head observed
	ChainHead = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "logsync_chain_head",
			Help: "Latest block height of the chain",
		},
	)

	// GapBlocks tracks unscanned blocks between the lower bound and the tip
	GapBlocks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "logsync_gap_blocks",
			Help: "Number of unscanned blocks below the scan tip",
		},
		[]string{"channel"},
	)

	// RPCCallsTotal tracks RPC calls per provider
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logsync_rpc_calls_total",
			Help: "Total number of RPC calls",
		},
		[]string{"provider", "method"},
	)

	// RPCErrorsTotal tracks RPC errors per provider
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logsync_rpc_errors_total",
			Help: "Total number of RPC errors",
		},
		[]string{"provider", "error_type"},
	)

	// RPCLatency tracks RPC call latency
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "logsync_rpc_latency_seconds",
			Help:    "RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "method"},
	)

	// DBConnectionPoolUsage tracks open database connections
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "logsync_db_connection_pool_usage",
			Help: "Number of open database connections",
		},
	)
)
