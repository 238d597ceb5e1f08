package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/consumer"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/engine"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/metrics"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/pkg/contracts"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Source delivers leg-pool messages and accepts acknowledgements
type Source interface {
	ConsumeStream(ctx context.Context, sportKey string) (<-chan consumer.Message, <-chan error)
	AckMessage(ctx context.Context, streamKey, messageID string) error
}

// Optimizer runs one optimization request
type Optimizer interface {
	Optimize(ctx context.Context, req models.OptimizeRequest, progress func(models.ProgressEvent)) (*models.OptimizeResponse, error)
}

// Worker turns predicted leg pools into published slips
type Worker struct {
	source    Source
	optimizer Optimizer
	publisher contracts.SlipPublisher
	timeout   time.Duration
	logger    *zap.Logger

	processed atomic.Int64
	failed    atomic.Int64
}

// NewWorker creates a stream worker. timeout bounds each optimization; 0 disables it.
func NewWorker(source Source, optimizer Optimizer, publisher contracts.SlipPublisher, timeout time.Duration, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		source:    source,
		optimizer: optimizer,
		publisher: publisher,
		timeout:   timeout,
		logger:    logger,
	}
}

// Run consumes every sport concurrently until ctx is cancelled
func (w *Worker) Run(ctx context.Context, sports []string) error {
	if len(sports) == 0 {
		return fmt.Errorf("no sports configured for stream worker")
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, sport := range sports {
		g.Go(func() error {
			return w.Start(ctx, sport)
		})
	}
	return g.Wait()
}

// Start begins processing leg pools for a sport
func (w *Worker) Start(ctx context.Context, sportKey string) error {
	w.logger.Info("starting stream worker", zap.String("stream", consumer.StreamKey(sportKey)))

	messageCh, errorCh := w.source.ConsumeStream(ctx, sportKey)

	for {
		select {
		case <-ctx.Done():
			return nil

		case err, ok := <-errorCh:
			if !ok {
				errorCh = nil
				continue
			}
			w.logger.Warn("stream error", zap.String("sport", sportKey), zap.Error(err))

		case msg, ok := <-messageCh:
			if !ok {
				return nil
			}

			outcome := "ok"
			if err := w.process(ctx, msg); err != nil {
				outcome = "error"
				if engine.IsClientError(err) {
					outcome = "rejected"
				}
				w.failed.Add(1)
				w.logger.Error("error processing message",
					zap.String("id", msg.ID),
					zap.String("sport", sportKey),
					zap.Error(err))
			} else {
				w.processed.Add(1)
			}
			metrics.StreamMessages.WithLabelValues(sportKey, outcome).Inc()

			// Acknowledge the message
			if err := w.source.AckMessage(ctx, msg.StreamKey, msg.ID); err != nil {
				w.logger.Warn("error acknowledging message", zap.String("id", msg.ID), zap.Error(err))
			}
		}
	}
}

func (w *Worker) process(ctx context.Context, msg consumer.Message) error {
	runCtx := ctx
	if w.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	response, err := w.optimizer.Optimize(runCtx, msg.Request, nil)
	if err != nil {
		return fmt.Errorf("optimize: %w", err)
	}

	if len(response.Slips) == 0 {
		w.logger.Info("no viable slips", zap.String("id", msg.ID), zap.Int("rejected", len(response.Rejected)))
	}

	if err := w.publisher.PublishResult(ctx, msg.SportKey, response); err != nil {
		return err
	}

	w.logger.Info("published slips",
		zap.String("run_id", response.RunID),
		zap.String("sport", msg.SportKey),
		zap.Int("slips", len(response.Slips)),
		zap.Float64("total_stake", response.TotalStake),
		zap.Bool("truncated", response.Truncated))
	return nil
}

// GetMetrics returns processed and failed message counts
func (w *Worker) GetMetrics() (processed, failed int64) {
	return w.processed.Load(), w.failed.Load()
}
