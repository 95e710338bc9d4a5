package replay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/orderless/internal/storage"
)

// Checkpointer periodically persists snapshots of a NonceHistory so a
// restarted process keeps rejecting nonces it admitted before going down.
//
// It only reads the history; the decision path never waits on it.
type Checkpointer struct {
	lastSave time.Time          // Time of the last successful save
	history  *NonceHistory      // History being persisted
	store    storage.Checkpoint // Destination of snapshots
	logger   *zap.Logger        // Structured logger
	ctx      context.Context    // Context for cancellation
	cancel   context.CancelFunc // Cancel function for shutdown
	interval time.Duration      // How often to save
	timeout  time.Duration      // Deadline for a single save
	wg       sync.WaitGroup     // Wait group for graceful shutdown
	mu       sync.Mutex         // Serializes saves and guards lastSave
	stopOnce sync.Once
	failures int // Consecutive failed saves
}

// NewCheckpointer creates a checkpointer saving h to store every interval
func NewCheckpointer(h *NonceHistory, store storage.Checkpoint, interval time.Duration, logger *zap.Logger) *Checkpointer {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Checkpointer{
		history:  h,
		store:    store,
		logger:   logger,
		interval: interval,
		timeout:  10 * time.Second,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start runs the save loop until ctx or Stop cancels it. It blocks, so run
// it in its own goroutine.
func (c *Checkpointer) Start(ctx context.Context) {
	c.wg.Add(1)
	defer c.wg.Done()

	if ctx == nil {
		ctx = c.ctx
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info("checkpointer started", zap.Duration("interval", c.interval))

	for {
		select {
		case <-ticker.C:
			if err := c.SaveNow(ctx); err != nil {
				c.logger.Warn("checkpoint failed", zap.Error(err))
			}
		case <-ctx.Done():
			c.logger.Info("checkpointer stopping due to context cancellation")
			return
		case <-c.ctx.Done():
			c.logger.Info("checkpointer stopping due to internal cancellation")
			return
		}
	}
}

// Stop ends the save loop and writes one final checkpoint
func (c *Checkpointer) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		c.cancel()
		c.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		err = c.SaveNow(ctx)
		c.logger.Info("checkpointer stopped")
	})
	return err
}

// SaveNow snapshots the history and writes it to the store
func (c *Checkpointer) SaveNow(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	snap := c.history.Snapshot()
	if err := c.store.Save(ctx, snap); err != nil {
		c.failures++
		return fmt.Errorf("save checkpoint (attempt %d): %w", c.failures, err)
	}

	c.failures = 0
	c.lastSave = time.Now()
	c.logger.Debug("checkpoint saved",
		zap.Int("buckets", len(snap.Buckets)),
		zap.Int("keys", snap.Keys()),
		zap.Duration("took", time.Since(start)))
	return nil
}

// LastSave returns when the last successful save finished, zero if none
func (c *Checkpointer) LastSave() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSave
}

// LoadCheckpoint restores h from store. h must be empty.
func LoadCheckpoint(ctx context.Context, h *NonceHistory, store storage.Checkpoint) error {
	snap, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	return h.Restore(snap)
}
