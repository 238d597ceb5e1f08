package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/pkg/models"
	"github.com/redis/go-redis/v9"
)

// GlobalStream receives every optimization result regardless of sport
const GlobalStream = "slips.optimized"

// StreamKey returns the sport-specific results stream
func StreamKey(sportKey string) string {
	return fmt.Sprintf("%s.%s", GlobalStream, sportKey)
}

// StreamPublisher publishes optimization results to Redis Streams
type StreamPublisher struct {
	client *redis.Client
	maxLen int64
}

// NewStreamPublisher creates a new stream publisher. maxLen trims each stream
// approximately; 0 keeps every entry.
func NewStreamPublisher(client *redis.Client, maxLen int64) *StreamPublisher {
	return &StreamPublisher{
		client: client,
		maxLen: maxLen,
	}
}

// PublishResult publishes a result to both the sport-specific and the global stream
func (p *StreamPublisher) PublishResult(ctx context.Context, sportKey string, response *models.OptimizeResponse) error {
	// Convert result to JSON
	resultJSON, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	values := map[string]interface{}{
		"run_id":  response.RunID,
		"profile": response.Profile,
		"slips":   len(response.Slips),
		"result":  string(resultJSON),
	}

	if sportKey != "" {
		if err := p.add(ctx, StreamKey(sportKey), values); err != nil {
			return err
		}
	}

	// Also publish to global stream
	return p.add(ctx, GlobalStream, values)
}

func (p *StreamPublisher) add(ctx context.Context, stream string, values map[string]interface{}) error {
	args := &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	if _, err := p.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", stream, err)
	}
	return nil
}
