package contracts

import (
	"context"
	"time"

	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/pkg/models"
)

// Cache is an optional key-value store consulted for correlation matrices and
// simulation results. Every component must work with a nil Cache.
type Cache interface {
	// Get returns the stored bytes and whether the key was present
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores bytes under key for ttl (0 = no expiry)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// HistoryProvider supplies historical residuals for empirical correlation
type HistoryProvider interface {
	// Residuals returns observations per leg id; legs without history are omitted
	Residuals(ctx context.Context, legs []models.Leg) (models.ResidualHistory, error)
}

// SlipPublisher fans optimization results out to downstream services
type SlipPublisher interface {
	PublishResult(ctx context.Context, sportKey string, response *models.OptimizeResponse) error
}
