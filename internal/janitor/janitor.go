// Package janitor deletes uploaded images whose card record was never
// created.
package janitor

import (
	"context"
	"time"

	"github.com/avvvet/tcg-companion/internal/models"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultInterval = time.Minute
	DefaultBatch    = 50
)

type ObjectDeleter interface {
	DeleteObject(ctx context.Context, imagePath string) error
}

// Ledger hands out pending orphans. Sweep marks the ones remove succeeded
// for as deleted.
type Ledger interface {
	Sweep(ctx context.Context, limit int, remove func(context.Context, models.OrphanedUpload) error) (int, error)
}

type Janitor struct {
	ledger   Ledger
	objects  ObjectDeleter
	interval time.Duration
	batch    int
}

func New(ledger Ledger, objects ObjectDeleter, interval time.Duration, batch int) *Janitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if batch <= 0 {
		batch = DefaultBatch
	}
	return &Janitor{ledger: ledger, objects: objects, interval: interval, batch: batch}
}

// SweepOnce removes up to one batch of orphaned objects.
func (j *Janitor) SweepOnce(ctx context.Context) (int, error) {
	return j.ledger.Sweep(ctx, j.batch, func(ctx context.Context, o models.OrphanedUpload) error {
		return j.objects.DeleteObject(ctx, o.ImagePath)
	})
}

// Run sweeps right away and then on every tick until ctx is done.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		n, err := j.SweepOnce(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			log.Errorf("sweep failed: %v", err)
		case n > 0:
			log.Infof("removed %d orphaned uploads", n)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
