// Package sweeper runs the two-phase expiry batch job: tombstoning
// deliveries whose timer has elapsed, then garbage-collecting ciphertext for
// messages with no live recipient left.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/profullstack/qryptchat-web-sub004/internal/metrics"
	"github.com/profullstack/qryptchat-web-sub004/internal/models"
	"github.com/profullstack/qryptchat-web-sub004/internal/store"
)

// Summary reports one sweep's outcome. Errors holds row-level failures that
// were skipped; they retry on the next run.
type Summary struct {
	Tombstoned int      `json:"tombstoned_count"`
	Reclaimed  int      `json:"gc_count"`
	DurationMS int64    `json:"duration_ms"`
	Errors     []string `json:"errors"`
}

// Sweeper is the periodic batch job. It contends with live traffic only at
// the storage layer, never at the in-memory registry.
type Sweeper struct {
	store     store.DataStore
	logger    zerolog.Logger
	interval  time.Duration
	batchSize int
}

// New creates a sweeper; interval and batchSize fall back to sane defaults.
func New(st store.DataStore, logger zerolog.Logger, interval time.Duration, batchSize int) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Sweeper{store: st, logger: logger, interval: interval, batchSize: batchSize}
}

// Run sweeps on a ticker until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Int("batch_size", s.batchSize).Msg("expiry sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("expiry sweeper stopped")
			return
		case <-ticker.C:
			summary := s.Sweep(ctx)
			if summary.Tombstoned > 0 || summary.Reclaimed > 0 || len(summary.Errors) > 0 {
				s.logger.Info().
					Int("tombstoned", summary.Tombstoned).
					Int("reclaimed", summary.Reclaimed).
					Int64("duration_ms", summary.DurationMS).
					Int("errors", len(summary.Errors)).
					Msg("sweep completed")
			}
		}
	}
}

// Sweep runs both phases once and returns the summary. Each row or message
// operation is isolated: a failure is logged, counted, and skipped.
func (s *Sweeper) Sweep(ctx context.Context) Summary {
	start := time.Now()
	summary := Summary{Errors: []string{}}

	s.tombstonePhase(ctx, &summary)
	s.gcPhase(ctx, &summary)

	summary.DurationMS = time.Since(start).Milliseconds()
	metrics.SweepDuration.Observe(time.Since(start).Seconds())

	return summary
}

// tombstonePhase marks deliveries past their expiry as terminally deleted.
// The conditional update makes each row idempotent under concurrent sweeps.
func (s *Sweeper) tombstonePhase(ctx context.Context, summary *Summary) {
	now := time.Now().UTC()

	keys, err := s.store.ListExpiredDeliveries(ctx, now, s.batchSize)
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("list expired: %v", err))
		metrics.SweepErrors.Inc()
		return
	}

	for _, k := range keys {
		updated, err := s.store.TombstoneDelivery(ctx, k.MessageID, k.RecipientID, models.ReasonExpired, now)
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("message_id", k.MessageID).
				Str("recipient_id", k.RecipientID.String()).
				Msg("tombstone failed, will retry next sweep")
			summary.Errors = append(summary.Errors, fmt.Sprintf("tombstone %s/%s: %v", k.MessageID, k.RecipientID, err))
			metrics.SweepErrors.Inc()
			continue
		}
		if updated {
			summary.Tombstoned++
			metrics.SweepTombstoned.Inc()
		}
	}
}

// gcPhase clears ciphertext for messages whose deliveries are all terminal.
// New deliveries created after the candidate scan simply won't appear in it.
func (s *Sweeper) gcPhase(ctx context.Context, summary *Summary) {
	ids, err := s.store.ListReclaimableMessages(ctx, s.batchSize)
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("list reclaimable: %v", err))
		metrics.SweepErrors.Inc()
		return
	}

	for _, id := range ids {
		if err := s.store.ReclaimMessage(ctx, id); err != nil {
			s.logger.Warn().
				Err(err).
				Str("message_id", id).
				Msg("reclaim failed, will retry next sweep")
			summary.Errors = append(summary.Errors, fmt.Sprintf("reclaim %s: %v", id, err))
			metrics.SweepErrors.Inc()
			continue
		}
		summary.Reclaimed++
		metrics.SweepReclaimed.Inc()
	}
}
