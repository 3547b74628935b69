package cleanup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MadarauchiaM/rouzer3.0/internal/domain/model"
	"github.com/MadarauchiaM/rouzer3.0/internal/services/blobstore"
)

const (
	defaultGrace     = 24 * time.Hour
	defaultBatchSize = 100
)

type PurgeStore interface {
	ListPurgeable(ctx context.Context, backend string, before time.Time, limit int) ([]model.MediaAsset, error)
	MarkPurged(ctx context.Context, id string, at time.Time) error
}

// Job deletes the blobs of removed media once the grace period has passed.
// Rows stay behind as tombstones. Backends that keep blobs externally are
// left untouched.
type Job struct {
	store     PurgeStore
	blobs     blobstore.Store
	grace     time.Duration
	batchSize int
	now       func() time.Time
	logger    *zap.Logger
}

func NewPurgeJob(store PurgeStore, blobs blobstore.Store, grace time.Duration, batchSize int, logger *zap.Logger) *Job {
	if grace <= 0 {
		grace = defaultGrace
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Job{
		store:     store,
		blobs:     blobs,
		grace:     grace,
		batchSize: batchSize,
		now:       time.Now,
		logger:    logger,
	}
}

func (j *Job) Run(ctx context.Context) error {
	if j.store == nil || j.blobs == nil || j.blobs.External() {
		return nil
	}
	deleter, ok := j.blobs.(blobstore.Deleter)
	if !ok {
		return nil
	}

	cutoff := j.now().Add(-j.grace)
	assets, err := j.store.ListPurgeable(ctx, j.blobs.Name(), cutoff, j.batchSize)
	if err != nil {
		return fmt.Errorf("list purgeable media: %w", err)
	}
	if len(assets) == 0 {
		return nil
	}

	purged := 0
	for _, asset := range assets {
		if !j.deleteBlobs(ctx, deleter, asset) {
			continue
		}
		if err := j.store.MarkPurged(ctx, asset.ID, j.now().UTC()); err != nil {
			return fmt.Errorf("mark media purged: %w", err)
		}
		purged++
	}

	j.logger.Info("purge removed media completed", zap.Int("purged", purged), zap.Int("candidates", len(assets)))
	return nil
}

// deleteBlobs reports whether every blob of asset is gone. Failures are
// retried on the next run.
func (j *Job) deleteBlobs(ctx context.Context, deleter blobstore.Deleter, asset model.MediaAsset) bool {
	if asset.Remote == nil {
		return true
	}

	ok := true
	for _, token := range asset.Remote.Tokens() {
		err := deleter.Delete(ctx, token)
		if err == nil || errors.Is(err, blobstore.ErrNotFound) {
			continue
		}
		ok = false
		j.logger.Warn("failed to delete removed media blob",
			zap.Error(err),
			zap.String("digest", asset.ID),
			zap.String("token", token),
		)
	}
	return ok
}

// Loop runs the job right away and then on every tick until ctx is done.
func (j *Job) Loop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := j.Run(ctx); err != nil && ctx.Err() == nil {
			j.logger.Warn("purge removed media failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
