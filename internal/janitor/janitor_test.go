package janitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/avvvet/tcg-companion/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memLedger keeps orphans in memory and behaves like the postgres ledger:
// claimed rows stay pending unless remove succeeds.
type memLedger struct {
	mu      sync.Mutex
	pending []models.OrphanedUpload
	sweeps  int
	err     error
}

func (l *memLedger) Sweep(ctx context.Context, limit int, remove func(context.Context, models.OrphanedUpload) error) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweeps++
	if l.err != nil {
		return 0, l.err
	}

	n := min(limit, len(l.pending))
	var keep []models.OrphanedUpload
	deleted := 0
	for i, o := range l.pending {
		if i >= n {
			keep = append(keep, o)
			continue
		}
		if err := remove(ctx, o); err != nil {
			keep = append(keep, o)
			continue
		}
		deleted++
	}
	l.pending = keep
	return deleted, nil
}

func (l *memLedger) left() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, o := range l.pending {
		out = append(out, o.ImagePath)
	}
	return out
}

func (l *memLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweeps
}

type fakeBucket struct {
	mu      sync.Mutex
	deleted []string
	fail    map[string]bool
}

func (b *fakeBucket) DeleteObject(ctx context.Context, imagePath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail[imagePath] {
		return errors.New("access denied")
	}
	b.deleted = append(b.deleted, imagePath)
	return nil
}

func orphans(paths ...string) []models.OrphanedUpload {
	out := make([]models.OrphanedUpload, 0, len(paths))
	for i, p := range paths {
		out = append(out, models.OrphanedUpload{ID: int64(i + 1), ImagePath: p})
	}
	return out
}

func TestSweepOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("Deletes one batch", func(t *testing.T) {
		ledger := &memLedger{pending: orphans("cards/a.png", "cards/b.png", "cards/c.png")}
		bucket := &fakeBucket{}
		j := New(ledger, bucket, time.Minute, 2)

		n, err := j.SweepOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, []string{"cards/a.png", "cards/b.png"}, bucket.deleted)
		assert.Equal(t, []string{"cards/c.png"}, ledger.left())
	})

	t.Run("Failed delete stays pending", func(t *testing.T) {
		ledger := &memLedger{pending: orphans("cards/a.png", "cards/b.png")}
		bucket := &fakeBucket{fail: map[string]bool{"cards/a.png": true}}
		j := New(ledger, bucket, time.Minute, 10)

		n, err := j.SweepOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, []string{"cards/a.png"}, ledger.left())
	})

	t.Run("Ledger error", func(t *testing.T) {
		ledger := &memLedger{err: errors.New("db down")}
		j := New(ledger, &fakeBucket{}, time.Minute, 10)

		_, err := j.SweepOnce(ctx)
		assert.Error(t, err)
	})

	t.Run("Defaults", func(t *testing.T) {
		j := New(&memLedger{}, &fakeBucket{}, 0, 0)
		assert.Equal(t, DefaultInterval, j.interval)
		assert.Equal(t, DefaultBatch, j.batch)
	})
}

func TestRun(t *testing.T) {
	ledger := &memLedger{pending: orphans("cards/a.png", "cards/b.png", "cards/c.png")}
	bucket := &fakeBucket{}
	j := New(ledger, bucket, 10*time.Millisecond, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	assert.Eventually(t, func() bool { return len(ledger.left()) == 0 }, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, ledger.count(), 3)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
