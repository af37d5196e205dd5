package queue

import (
	"context"

	"github.com/otcdesk/rfq-settler/pkg/models"
)

// Queue hands settlement jobs from the intake path to workers. Payloads
// carry only the order hash; the store is the source of truth for job
// state, so redelivery of an already-settled hash is harmless.
type Queue interface {
	// Enqueue publishes a job payload. groupKey names the serialization
	// domain (the settlement sender) and travels with the message so a
	// partitioned consumer topology can route by it; dedupeKey is the
	// broker-side idempotency key.
	Enqueue(ctx context.Context, groupKey, dedupeKey string, payload models.QueuePayload) error
	// Consume delivers payloads until ctx is cancelled. handle returning
	// nil acks the message; an error requeues it once and then drops.
	Consume(ctx context.Context, handle func(ctx context.Context, payload models.QueuePayload) error) error
	// Close releases the broker connection
	Close() error
}
