package metrics

import "sync"

// Noop is a Sink that discards everything
type Noop struct{}

var _ Sink = (*Noop)(nil)

func (n *Noop) QuoteInserted(string)                              {}
func (n *Noop) WorkerReady(string, string, bool)                  {}
func (n *Noop) JobRepaired(string, string)                        {}
func (n *Noop) SignedQuoteNotFound(string)                        {}
func (n *Noop) ExpiryTooSoon(string)                              {}
func (n *Noop) BalanceCheckFailed(string, string)                 {}
func (n *Noop) SignatureFailed(string)                            {}
func (n *Noop) LastLookDeclined(string)                           {}
func (n *Noop) LastLookDeclinedToPriceDeltaBps(string, float64)   {}
func (n *Noop) JobCompleted(string, string)                       {}
func (n *Noop) JobCompletedWithError(string, string, string)      {}
func (n *Noop) ReceiptInvariantViolation(string)                  {}
func (n *Noop) MiningLatency(string, float64)                     {}
func (n *Noop) ProcessLatency(string, float64)                    {}
func (n *Noop) GasPriceGwei(string, float64)                      {}

// Recording is a Sink for tests that counts every event by name
type Recording struct {
	mu           sync.Mutex
	Counts       map[string]int
	Observations map[string][]float64
}

var _ Sink = (*Recording)(nil)

func NewRecording() *Recording {
	return &Recording{
		Counts:       make(map[string]int),
		Observations: make(map[string][]float64),
	}
}

func (r *Recording) inc(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Counts[name]++
}

func (r *Recording) observe(name string, v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Observations[name] = append(r.Observations[name], v)
}

// Count returns the number of recorded events for a name
func (r *Recording) Count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Counts[name]
}

// ObservationCount returns the number of recorded observations for a name
func (r *Recording) ObservationCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Observations[name])
}

func (r *Recording) QuoteInserted(string)            { r.inc("quote_inserted") }
func (r *Recording) WorkerReady(_, _ string, ready bool) {
	if ready {
		r.inc("worker_ready")
	} else {
		r.inc("worker_not_ready")
	}
}
func (r *Recording) JobRepaired(string, string)                 { r.inc("job_repaired") }
func (r *Recording) SignedQuoteNotFound(string)                 { r.inc("signed_quote_not_found") }
func (r *Recording) ExpiryTooSoon(string)                       { r.inc("expiry_too_soon") }
func (r *Recording) BalanceCheckFailed(string, string)          { r.inc("balance_check_failed") }
func (r *Recording) SignatureFailed(string)                     { r.inc("signature_failed") }
func (r *Recording) LastLookDeclined(string)                    { r.inc("last_look_declined") }
func (r *Recording) LastLookDeclinedToPriceDeltaBps(_ string, v float64) {
	r.observe("last_look_declined_delta_bps", v)
}
func (r *Recording) JobCompleted(string, string) { r.inc("job_completed") }
func (r *Recording) JobCompletedWithError(_, _, errorType string) {
	r.inc("job_completed_with_error")
	r.inc("job_completed_with_error:" + errorType)
}
func (r *Recording) ReceiptInvariantViolation(string)   { r.inc("receipt_invariant_violation") }
func (r *Recording) MiningLatency(_ string, v float64)  { r.observe("mining_latency", v) }
func (r *Recording) ProcessLatency(_ string, v float64) { r.observe("process_latency", v) }
func (r *Recording) GasPriceGwei(_ string, v float64)   { r.observe("gas_price_gwei", v) }
