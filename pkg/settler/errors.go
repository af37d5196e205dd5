package settler

import (
	"errors"
	"strings"
)

var (
	// ErrNonceAlreadyUsed marks a resubmission losing the race to an
	// earlier submission that already landed. Benign.
	ErrNonceAlreadyUsed = errors.New("nonce already used")

	// ErrDuplicateReceipt marks more than one mined receipt observed for
	// one job's nonce. This is an invariant violation, never expected.
	ErrDuplicateReceipt = errors.New("duplicate mined receipt for job")

	// ErrMakerDeclined marks a maker withholding its signature at last look
	ErrMakerDeclined = errors.New("maker declined to sign")
)

// IsNonceAlreadyUsed reports whether a broadcast failure means an earlier
// submission with the same nonce already landed
func IsNonceAlreadyUsed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNonceAlreadyUsed) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "nonce too low") ||
		strings.Contains(errStr, "already known") ||
		strings.Contains(errStr, "transaction already imported")
}

// ClassifyError maps an error to a coarse type label for metrics and for
// retry decisions. Returns (shouldRetry, errorType).
func ClassifyError(err error) (bool, string) {
	// A decline is the maker's prerogative, never retried
	if errors.Is(err, ErrMakerDeclined) {
		return false, "last_look_declined"
	}

	errStr := err.Error()

	// Network/RPC errors - retry is appropriate
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "context deadline exceeded") ||
		strings.Contains(errStr, "timed out") ||
		strings.Contains(errStr, "no response") ||
		strings.Contains(errStr, "EOF") {
		return true, "network_error"
	}

	// RPC node state errors - retry with longer backoff
	if strings.Contains(errStr, "missing trie node") ||
		strings.Contains(errStr, "layer stale") ||
		strings.Contains(errStr, "receipt not found") ||
		strings.Contains(errStr, "block not found") {
		return true, "node_state_error"
	}

	// Gas-related errors - retry may help if gas prices change
	if strings.Contains(errStr, "gas required exceeds allowance") ||
		strings.Contains(errStr, "insufficient funds for gas") ||
		strings.Contains(errStr, "gas price too low") {
		return true, "gas_error"
	}

	// Nonce-related errors - benign race, handled by the watch loop
	if IsNonceAlreadyUsed(err) ||
		strings.Contains(errStr, "replacement transaction underpriced") {
		return true, "nonce_error"
	}

	// Balance-related errors - permanent failures
	if strings.Contains(errStr, "insufficient balance") ||
		strings.Contains(errStr, "insufficient funds") {
		return false, "insufficient_balance"
	}

	// Contract-related errors - permanent failures
	if strings.Contains(errStr, "execution reverted") ||
		strings.Contains(errStr, "invalid opcode") ||
		strings.Contains(errStr, "out of gas") {
		return false, "contract_error"
	}

	return true, "unknown_error"
}
