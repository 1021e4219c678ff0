package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/verifid/webhook-relay/internal/config"
	"github.com/verifid/webhook-relay/internal/delivery"
	"github.com/verifid/webhook-relay/internal/metrics"
	"github.com/verifid/webhook-relay/internal/models"
	"github.com/verifid/webhook-relay/internal/store"
)

// MaxBatchSize bounds one pass regardless of the requested batch size.
const MaxBatchSize = 50

// Summary reports exactly what one pass attempted. Succeeded, Failed and
// Exhausted add up to Processed.
type Summary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Exhausted int `json:"exhausted"`
}

// Scheduler runs single retry passes over due outbound deliveries. It keeps
// no state of its own; every pass is a pure function over the tracker's rows.
// The periodic clock lives outside this service (an operator cron hitting the
// manual trigger), so there is deliberately no loop here.
type Scheduler struct {
	store     *store.DeliveryStore
	deliverer *delivery.Deliverer
	cfg       *config.DeliveryConfig
	logger    *zap.Logger
}

func NewScheduler(
	s *store.DeliveryStore,
	d *delivery.Deliverer,
	cfg *config.DeliveryConfig,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		store:     s,
		deliverer: d,
		cfg:       cfg,
		logger:    logger,
	}
}

// RunPass fetches up to batchSize due deliveries (oldest-due first), claims
// each, and attempts them with bounded concurrency. Items fail independently:
// one bad delivery never aborts the rest of the batch. Rows claimed by a
// concurrent pass are skipped and not counted.
func (s *Scheduler) RunPass(ctx context.Context, batchSize int) (Summary, error) {
	start := time.Now()

	if batchSize <= 0 || batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}

	// Leases abandoned by a crashed holder would otherwise keep their rows
	// out of the due set forever.
	staleAfter := 2 * time.Duration(s.cfg.HTTPTimeout) * time.Second
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	released, err := s.store.ReleaseStaleLeases(ctx, staleAfter)
	if err != nil {
		s.logger.Error("Failed to release stale delivery leases", zap.Error(err))
	} else if released > 0 {
		s.logger.Warn("Released stale delivery leases",
			zap.Int64("released", released),
		)
	}

	due, err := s.store.DueForRetry(ctx, batchSize)
	if err != nil {
		return Summary{}, fmt.Errorf("retry pass: %w", err)
	}

	concurrency := s.cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	var (
		mu      sync.Mutex
		summary Summary
		wg      sync.WaitGroup
	)
	sem := make(chan struct{}, concurrency)

	// Claim sequentially so attempts start in due order.
	for _, row := range due {
		claimed, err := s.store.Claim(ctx, row.ID)
		if err != nil {
			s.logger.Error("Failed to claim due delivery",
				zap.String("delivery_id", row.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if !claimed {
			s.logger.Debug("Delivery already claimed by a concurrent pass, skipping",
				zap.String("delivery_id", row.ID.String()),
			)
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(row models.OutboundDelivery) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome, err := s.deliverer.Attempt(ctx, row)

			mu.Lock()
			defer mu.Unlock()
			summary.Processed++
			switch {
			case err != nil:
				// The attempt itself could not be recorded; the row's lease
				// was not released cleanly, so surface loudly.
				s.logger.Error("Delivery attempt failed to record",
					zap.String("delivery_id", row.ID.String()),
					zap.Error(err),
				)
				summary.Failed++
			case outcome == delivery.OutcomeSucceeded:
				summary.Succeeded++
			case outcome == delivery.OutcomeExhausted:
				summary.Exhausted++
			default:
				summary.Failed++
			}
		}(row)
	}

	wg.Wait()

	metrics.ObserveRetryPass(time.Since(start).Seconds())
	s.logger.Info("Retry pass finished",
		zap.Int("due", len(due)),
		zap.Int("processed", summary.Processed),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("exhausted", summary.Exhausted),
		zap.Duration("elapsed", time.Since(start)),
	)

	return summary, nil
}
