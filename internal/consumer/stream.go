package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/pkg/models"
	"github.com/redis/go-redis/v9"
)

// StreamKey returns the stream carrying predicted leg pools for a sport
func StreamKey(sportKey string) string {
	return fmt.Sprintf("legs.predicted.%s", sportKey)
}

// StreamConsumer consumes optimization requests from Redis Streams
type StreamConsumer struct {
	client     *redis.Client
	consumerID string
	groupName  string
	block      time.Duration
}

// Message represents a stream message carrying one leg pool
type Message struct {
	ID        string
	StreamKey string
	SportKey  string
	Request   models.OptimizeRequest
}

// NewStreamConsumer creates a new stream consumer
func NewStreamConsumer(client *redis.Client, consumerID, groupName string) *StreamConsumer {
	return &StreamConsumer{
		client:     client,
		consumerID: consumerID,
		groupName:  groupName,
		block:      1 * time.Second,
	}
}

// ConsumeStream starts consuming from a sport's stream and returns channels for messages and errors
func (c *StreamConsumer) ConsumeStream(ctx context.Context, sportKey string) (<-chan Message, <-chan error) {
	streamKey := StreamKey(sportKey)
	messageCh := make(chan Message, 16)
	errorCh := make(chan error, 10)

	// Create consumer group if it doesn't exist
	err := c.client.XGroupCreateMkStream(ctx, streamKey, c.groupName, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		errorCh <- fmt.Errorf("failed to create consumer group: %w", err)
		close(messageCh)
		close(errorCh)
		return messageCh, errorCh
	}

	go func() {
		defer close(messageCh)
		defer close(errorCh)

		for {
			if ctx.Err() != nil {
				return
			}

			// Read from stream
			streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    c.groupName,
				Consumer: c.consumerID,
				Streams:  []string{streamKey, ">"},
				Count:    10,
				Block:    c.block,
			}).Result()

			if err != nil {
				if err == redis.Nil {
					// No messages, continue
					continue
				}
				if ctx.Err() != nil {
					return
				}
				c.sendError(ctx, errorCh, fmt.Errorf("error reading from stream: %w", err))
				time.Sleep(c.block)
				continue
			}

			for _, stream := range streams {
				for _, message := range stream.Messages {
					msg, err := parseMessage(streamKey, sportKey, message)
					if err != nil {
						c.sendError(ctx, errorCh, fmt.Errorf("error parsing message %s: %w", message.ID, err))
						// A malformed entry would otherwise stay pending forever
						_ = c.AckMessage(ctx, streamKey, message.ID)
						continue
					}

					select {
					case messageCh <- msg:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return messageCh, errorCh
}

func (c *StreamConsumer) sendError(ctx context.Context, errorCh chan<- error, err error) {
	select {
	case errorCh <- err:
	case <-ctx.Done():
	default:
	}
}

// parseMessage parses a Redis stream message into a Message
func parseMessage(streamKey, sportKey string, xmsg redis.XMessage) (Message, error) {
	// Producers publish the leg pool under the "data" field
	data, ok := xmsg.Values["data"].(string)
	if !ok {
		return Message{}, fmt.Errorf("missing 'data' field in message")
	}

	var req models.OptimizeRequest
	if err := json.Unmarshal([]byte(data), &req); err != nil {
		return Message{}, fmt.Errorf("failed to parse request JSON: %w", err)
	}

	return Message{
		ID:        xmsg.ID,
		StreamKey: streamKey,
		SportKey:  sportKey,
		Request:   req,
	}, nil
}

// AckMessage acknowledges a message as processed
func (c *StreamConsumer) AckMessage(ctx context.Context, streamKey, messageID string) error {
	return c.client.XAck(ctx, streamKey, c.groupName, messageID).Err()
}
