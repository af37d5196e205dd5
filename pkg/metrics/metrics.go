package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sink is the metrics interface injected into each component so tests can
// substitute a no-op or recording implementation.
type Sink interface {
	QuoteInserted(chainID string)
	WorkerReady(chainID string, address string, ready bool)
	JobRepaired(chainID string, address string)
	SignedQuoteNotFound(chainID string)
	ExpiryTooSoon(chainID string)
	BalanceCheckFailed(chainID string, address string)
	SignatureFailed(chainID string)
	LastLookDeclined(chainID string)
	LastLookDeclinedToPriceDeltaBps(chainID string, deltaBps float64)
	JobCompleted(chainID string, address string)
	JobCompletedWithError(chainID string, address string, errorType string)
	ReceiptInvariantViolation(chainID string)
	MiningLatency(chainID string, seconds float64)
	ProcessLatency(chainID string, seconds float64)
	GasPriceGwei(chainID string, gwei float64)
}

// Prometheus collectors backing the default sink
var (
	quotesInserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_quotes_inserted_total",
		Help: "The total number of firm quotes accepted into jobs",
	}, []string{"chain_id"})

	workerReady = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "settler_worker_ready",
		Help: "Whether the worker passed its readiness checks (1 ready, 0 not ready)",
	}, []string{"chain_id", "address"})

	jobsRepaired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_jobs_repaired_total",
		Help: "The total number of unresolved jobs re-entered after a crash",
	}, []string{"chain_id", "address"})

	signedQuotesNotFound = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_signed_quotes_not_found_total",
		Help: "Taker submissions that matched no previously issued quote",
	}, []string{"chain_id"})

	expiryTooSoon = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_quote_expiry_too_soon_total",
		Help: "Quotes discarded because expiry fell inside the minimum buffer",
	}, []string{"chain_id"})

	balanceChecksFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_balance_checks_failed_total",
		Help: "Pre-sign balance or allowance validations that failed",
	}, []string{"chain_id", "address"})

	signaturesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_signatures_failed_total",
		Help: "Maker signature requests that failed after retries",
	}, []string{"chain_id"})

	lastLookDeclined = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_last_look_declined_total",
		Help: "Makers that declined to sign during last look",
	}, []string{"chain_id"})

	lastLookDeclinedDelta = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settler_last_look_declined_price_delta_bps",
		Help:    "Price movement in bps between quote time and post-decline re-check",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"chain_id"})

	jobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_jobs_completed_total",
		Help: "Jobs that reached a terminal status without processing error",
	}, []string{"chain_id", "address"})

	jobsCompletedWithError = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_jobs_completed_with_error_total",
		Help: "Processing cycles that exited through the error boundary",
	}, []string{"chain_id", "address", "error_type"})

	receiptInvariantViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_receipt_invariant_violations_total",
		Help: "Jobs observed with more than one mined receipt for one nonce",
	}, []string{"chain_id"})

	miningLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settler_mining_latency_seconds",
		Help:    "Time from first submission to the mined receipt's block timestamp",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	}, []string{"chain_id"})

	processLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settler_process_latency_seconds",
		Help:    "Time taken by one full job processing cycle",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	}, []string{"chain_id"})

	gasPriceGwei = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "settler_gas_price_gwei",
		Help: "Current fast gas price estimate in gwei",
	}, []string{"chain_id"})
)

// Prom is the production Sink backed by the package's Prometheus collectors
type Prom struct{}

var _ Sink = (*Prom)(nil)

func NewProm() *Prom { return &Prom{} }

func (p *Prom) QuoteInserted(chainID string) { quotesInserted.WithLabelValues(chainID).Inc() }

func (p *Prom) WorkerReady(chainID, address string, ready bool) {
	v := 0.0
	if ready {
		v = 1.0
	}
	workerReady.WithLabelValues(chainID, address).Set(v)
}

func (p *Prom) JobRepaired(chainID, address string) {
	jobsRepaired.WithLabelValues(chainID, address).Inc()
}

func (p *Prom) SignedQuoteNotFound(chainID string) {
	signedQuotesNotFound.WithLabelValues(chainID).Inc()
}

func (p *Prom) ExpiryTooSoon(chainID string) { expiryTooSoon.WithLabelValues(chainID).Inc() }

func (p *Prom) BalanceCheckFailed(chainID, address string) {
	balanceChecksFailed.WithLabelValues(chainID, address).Inc()
}

func (p *Prom) SignatureFailed(chainID string) { signaturesFailed.WithLabelValues(chainID).Inc() }

func (p *Prom) LastLookDeclined(chainID string) { lastLookDeclined.WithLabelValues(chainID).Inc() }

func (p *Prom) LastLookDeclinedToPriceDeltaBps(chainID string, deltaBps float64) {
	lastLookDeclinedDelta.WithLabelValues(chainID).Observe(deltaBps)
}

func (p *Prom) JobCompleted(chainID, address string) {
	jobsCompleted.WithLabelValues(chainID, address).Inc()
}

func (p *Prom) JobCompletedWithError(chainID, address, errorType string) {
	jobsCompletedWithError.WithLabelValues(chainID, address, errorType).Inc()
}

func (p *Prom) ReceiptInvariantViolation(chainID string) {
	receiptInvariantViolations.WithLabelValues(chainID).Inc()
}

func (p *Prom) MiningLatency(chainID string, seconds float64) {
	miningLatency.WithLabelValues(chainID).Observe(seconds)
}

func (p *Prom) ProcessLatency(chainID string, seconds float64) {
	processLatency.WithLabelValues(chainID).Observe(seconds)
}

func (p *Prom) GasPriceGwei(chainID string, gwei float64) {
	gasPriceGwei.WithLabelValues(chainID).Set(gwei)
}
