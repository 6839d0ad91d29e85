package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for VaultLedger.
type Metrics struct {
	// --- Processor pipeline ---
	EventsApplied  *prometheus.CounterVec
	EventsRejected *prometheus.CounterVec
	EventDuration  *prometheus.HistogramVec
	LedgerEntries  *prometheus.CounterVec
	Sequence       prometheus.Gauge

	// --- Latency ---
	IngestToApply     *prometheus.HistogramVec
	QueryFreshnessLag *prometheus.HistogramVec
	PersistBatchDur   prometheus.Histogram

	// --- Channel & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency & ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	SequenceGaps          *prometheus.CounterVec
	OutOfOrder            *prometheus.CounterVec
	PriceGaps             *prometheus.CounterVec

	// --- Vault balance sheet ---
	PoolBalance      *prometheus.GaugeVec
	DebtBalance      *prometheus.GaugeVec
	FeeReserve       *prometheus.GaugeVec
	AUM              prometheus.Gauge
	SharePriceGauge  prometheus.Gauge
	BreakerActive    prometheus.Gauge
	PayoutsSettled   *prometheus.CounterVec
	PayinsSettled    *prometheus.CounterVec
	SwapsExecuted    *prometheus.CounterVec
	LiquidityEvents  *prometheus.CounterVec
	ReferralCapTrips *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten  prometheus.Counter
	PersistEntriesWritten prometheus.Counter
	PersistBatchSize      prometheus.Histogram
	PersistErrors         *prometheus.CounterVec
	PersistRetry          prometheus.Counter
	PersistLastSequence   prometheus.Gauge

	// --- Snapshots ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		EventsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_events_applied_total",
			Help: "Events successfully applied by the processor",
		}, []string{"event_type"}),

		EventsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_events_rejected_total",
			Help: "Events rejected (dedup, gap, validation)",
		}, []string{"event_type", "reason"}),

		EventDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_event_apply_duration_seconds",
			Help:    "Time to apply a single event",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		LedgerEntries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_ledger_entries_total",
			Help: "Balance sheet entries generated",
		}, []string{"field"}),

		Sequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_sequence",
			Help: "Current global sequence number",
		}),

		IngestToApply: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_ingest_to_apply_seconds",
			Help:    "NATS receive to processor apply complete",
			Buckets: ingestBuckets,
		}, []string{"event_type"}),

		QueryFreshnessLag: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_query_freshness_lag_seconds",
			Help:    "Processor sequence minus projection sequence (in time)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.2, 0.5, 1.0},
		}, []string{"endpoint"}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_projection_drops_total",
			Help: "Events dropped due to full projection channel",
		}, []string{"projection"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_backpressure_total",
			Help: "Times the processor blocked on the persist channel",
		}),

		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"event_type", "tier"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupLRUEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_dedup_lru_evictions_total",
			Help: "LRU evictions",
		}),

		SequenceGaps: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_sequence_gap_total",
			Help: "Source sequence gaps",
		}, []string{"partition"}),

		OutOfOrder: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_out_of_order_total",
			Help: "Out-of-order rejections",
		}, []string{"partition"}),

		PriceGaps: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_price_gap_total",
			Help: "Oracle price sequence gaps (tolerated)",
		}, []string{"asset"}),

		PoolBalance: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_pool_balance",
			Help: "Pool amount per asset (native decimals)",
		}, []string{"asset"}),

		DebtBalance: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_debt_balance",
			Help: "USDW debt per asset (18 decimals)",
		}, []string{"asset"}),

		FeeReserve: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_fee_reserve",
			Help: "Uncollected fee reserves per asset",
		}, []string{"asset", "kind"}),

		AUM: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_aum_usd",
			Help: "Assets under management (30-decimal USD, scaled down)",
		}),

		SharePriceGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_share_price",
			Help: "WLP share price (30-decimal USD, scaled down)",
		}),

		BreakerActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_breaker_active",
			Help: "1 when the circuit breaker is tripped",
		}),

		PayoutsSettled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_payouts_settled_total",
			Help: "Payouts settled",
		}, []string{"asset", "outcome"}),

		PayinsSettled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_payins_settled_total",
			Help: "Payins settled",
		}, []string{"asset"}),

		SwapsExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_swaps_executed_total",
			Help: "Swaps executed",
		}, []string{"asset_in", "asset_out"}),

		LiquidityEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_liquidity_events_total",
			Help: "Liquidity adds and removes",
		}, []string{"direction"}),

		ReferralCapTrips: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_referral_cap_trips_total",
			Help: "Referral reserve sweeps zeroed by the cap",
		}, []string{"asset"}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistEntriesWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_entries_written_total",
			Help: "Ledger entries written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
