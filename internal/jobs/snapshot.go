package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/nftmarket/internal/metrics"
	"github.com/Checker-Finance/nftmarket/pkg/model"
)

// LedgerSource yields a consistent copy of the marketplace ledger.
type LedgerSource interface {
	Snapshot() ([]model.ListingEntry, []model.ProceedsEntry)
}

// SnapshotWriter persists a full ledger copy.
type SnapshotWriter interface {
	SaveSnapshot(ctx context.Context, listings []model.ListingEntry, balances []model.ProceedsEntry) error
}

// RawPublisher publishes an arbitrary JSON payload.
type RawPublisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// SnapshotJob periodically writes the whole ledger to the store, repairing
// any drift left by failed write-through updates, and announces completion.
type SnapshotJob struct {
	logger    *zap.Logger
	source    LedgerSource
	writer    SnapshotWriter
	publisher RawPublisher
	subject   string
	interval  time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewSnapshotJob builds the job. publisher may be nil.
func NewSnapshotJob(logger *zap.Logger, source LedgerSource, writer SnapshotWriter, pub RawPublisher, subject string, interval time.Duration) *SnapshotJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotJob{
		logger:    logger,
		source:    source,
		writer:    writer,
		publisher: pub,
		subject:   subject,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start runs the snapshot loop until Stop is called or ctx is done.
func (j *SnapshotJob) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("snapshot_job.started", zap.Duration("interval", j.interval))

	for {
		select {
		case <-ticker.C:
			_ = j.RunOnce(ctx)
		case <-j.stopCh:
			j.logger.Info("snapshot_job.stopped", zap.String("reason", "manual stop"))
			return
		case <-ctx.Done():
			j.logger.Info("snapshot_job.stopped", zap.String("reason", "context canceled"))
			return
		}
	}
}

func (j *SnapshotJob) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
}

// RunOnce takes and persists one snapshot.
func (j *SnapshotJob) RunOnce(ctx context.Context) error {
	start := time.Now()
	listings, balances := j.source.Snapshot()

	if err := j.writer.SaveSnapshot(ctx, listings, balances); err != nil {
		j.logger.Error("snapshot_job.save_failed", zap.Error(err))
		metrics.IncError("snapshot_job", "save_failed")
		return err
	}

	total := decimal.Zero
	for _, b := range balances {
		total = total.Add(b.Balance)
	}
	metrics.SetLastSnapshot(time.Now())
	metrics.SetLedgerGauges(len(listings), total)

	if j.publisher != nil {
		event := map[string]any{
			"event":          j.subject,
			"timestamp":      time.Now().UTC(),
			"listings":       len(listings),
			"accounts":       len(balances),
			"total_proceeds": total.String(),
			"duration_ms":    time.Since(start).Milliseconds(),
		}
		if err := j.publisher.Publish(ctx, j.subject, event); err != nil {
			j.logger.Warn("snapshot_job.publish_failed", zap.Error(err))
		}
	}

	j.logger.Info("snapshot_job.success",
		zap.Int("listings", len(listings)),
		zap.Int("accounts", len(balances)),
		zap.Duration("duration", time.Since(start)))
	return nil
}
