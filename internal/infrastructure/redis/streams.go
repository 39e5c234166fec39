package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cassiomorais/paygate/internal/completion"
	"github.com/redis/go-redis/v9"
)

// Streams consumed by the order service.
const (
	SettlementStream  = "payments:settlements"
	DiscrepancyStream = "payments:discrepancies"
	DLQStream         = "payments:dlq"
)

// StreamFor routes a completion event type to its stream.
func StreamFor(eventType string) string {
	if eventType == string(completion.EventDiscrepancy) {
		return DiscrepancyStream
	}
	return SettlementStream
}

// StreamMaxLen caps each stream; XADD trims approximately.
const StreamMaxLen = 100_000

type StreamProducer struct {
	client redis.UniversalClient
}

func NewStreamProducer(client redis.UniversalClient) *StreamProducer {
	return &StreamProducer{client: client}
}

// PublishCompletion appends a completion event to the stream for its type and
// returns the stream message ID.
func (p *StreamProducer) PublishCompletion(ctx context.Context, eventID, orderReference, eventType string, data map[string]any) (string, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event data: %w", err)
	}

	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamFor(eventType),
		MaxLen: StreamMaxLen,
		Approx: true,
		Values: map[string]any{
			"event_id":        eventID,
			"order_reference": orderReference,
			"event_type":      eventType,
			"payload":         string(payload),
			"timestamp":       time.Now().Unix(),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish %s event: %w", eventType, err)
	}
	return id, nil
}

// PublishToDLQ parks an event the outbox gave up on.
func (p *StreamProducer) PublishToDLQ(ctx context.Context, eventID, reason string, originalData map[string]any) error {
	payload, err := json.Marshal(originalData)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ data: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: DLQStream,
		Values: map[string]any{
			"event_id":  eventID,
			"reason":    reason,
			"payload":   string(payload),
			"timestamp": time.Now().Unix(),
		},
	}

	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}
	return nil
}
