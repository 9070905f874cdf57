package store

import (
	"context"
	"fmt"

	"github.com/avvvet/tcg-companion/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

// OrphanStore is the ledger of uploaded objects that never got a card.
type OrphanStore struct {
	db *pgxpool.Pool
}

func NewOrphanStore(db *pgxpool.Pool) *OrphanStore {
	return &OrphanStore{db: db}
}

func (s *OrphanStore) RecordOrphan(ctx context.Context, o models.OrphanedUpload) error {
	var id int64
	err := s.db.QueryRow(ctx, `
        INSERT INTO orphaned_uploads (image_path, user_id, reason)
        VALUES ($1, $2, $3)
        RETURNING id
    `, o.ImagePath, o.UserID, o.Reason).Scan(&id)
	if err != nil {
		return fmt.Errorf("insert orphaned upload: %w", err)
	}

	log.WithFields(log.Fields{"id": id, "image_path": o.ImagePath}).Warn("orphaned upload recorded")
	return nil
}

func (s *OrphanStore) Pending(ctx context.Context, limit int) ([]models.OrphanedUpload, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id, image_path, user_id, reason, created_at, deleted_at
        FROM orphaned_uploads
        WHERE deleted_at IS NULL
        ORDER BY created_at, id
        LIMIT $1
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending orphans: %w", err)
	}
	defer rows.Close()

	var out []models.OrphanedUpload
	for rows.Next() {
		var o models.OrphanedUpload
		if err := rows.Scan(&o.ID, &o.ImagePath, &o.UserID, &o.Reason, &o.CreatedAt, &o.DeletedAt); err != nil {
			return nil, fmt.Errorf("scan orphan row: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// Sweep claims up to limit pending orphans and calls remove for each. Rows
// remove succeeded for are marked deleted; the others stay pending. Claimed
// rows are locked, so concurrent sweepers never see the same orphan.
func (s *OrphanStore) Sweep(ctx context.Context, limit int, remove func(context.Context, models.OrphanedUpload) error) (int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
        SELECT id, image_path, user_id, reason, created_at
        FROM orphaned_uploads
        WHERE deleted_at IS NULL
        ORDER BY created_at, id
        LIMIT $1
        FOR UPDATE SKIP LOCKED
    `, limit)
	if err != nil {
		return 0, fmt.Errorf("select pending orphans: %w", err)
	}

	var claimed []models.OrphanedUpload
	for rows.Next() {
		var o models.OrphanedUpload
		if err := rows.Scan(&o.ID, &o.ImagePath, &o.UserID, &o.Reason, &o.CreatedAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan orphan row: %w", err)
		}
		claimed = append(claimed, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("rows error: %w", err)
	}

	deleted := 0
	for _, o := range claimed {
		if err := remove(ctx, o); err != nil {
			log.WithFields(log.Fields{"id": o.ID, "image_path": o.ImagePath}).Errorf("orphan cleanup failed: %s", err)
			continue
		}
		if _, err := tx.Exec(ctx, `
            UPDATE orphaned_uploads
            SET deleted_at = now()
            WHERE id = $1
        `, o.ID); err != nil {
			return 0, fmt.Errorf("mark orphan %d deleted: %w", o.ID, err)
		}
		deleted++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return deleted, nil
}
