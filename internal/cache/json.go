package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/pkg/contracts"
)

// GetJSON decodes a cached value into dst. A nil cache is always a miss.
func GetJSON(ctx context.Context, c contracts.Cache, key string, dst interface{}) (bool, error) {
	if c == nil {
		return false, nil
	}

	data, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("decoding cached %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes and stores value. A nil cache is a no-op.
func SetJSON(ctx context.Context, c contracts.Cache, key string, value interface{}, ttl time.Duration) error {
	if c == nil {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	return c.Set(ctx, key, data, ttl)
}
