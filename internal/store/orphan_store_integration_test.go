//go:build postgres

package store

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/avvvet/tcg-companion/internal/db"
	"github.com/avvvet/tcg-companion/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openOrphanStoreForTest(t *testing.T) (*OrphanStore, *pgxpool.Pool) {
	t.Helper()

	dsn := os.Getenv("TCG_TEST_POSTGRES_DSN")
	if strings.TrimSpace(dsn) == "" {
		t.Skip("TCG_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, db.Migrate(ctx, pool))
	_, err = pool.Exec(ctx, `TRUNCATE TABLE orphaned_uploads`)
	require.NoError(t, err)

	return NewOrphanStore(pool), pool
}

func TestOrphanStoreSweep(t *testing.T) {
	s, _ := openOrphanStoreForTest(t)
	ctx := context.Background()

	for _, p := range []string{"cards/a.png", "cards/b.png", "cards/c.png"} {
		require.NoError(t, s.RecordOrphan(ctx, models.OrphanedUpload{ImagePath: p, UserID: "user_1", Reason: "create card: status 502"}))
	}

	pending, err := s.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "cards/a.png", pending[0].ImagePath)
	assert.Nil(t, pending[0].DeletedAt)

	var seen []string
	n, err := s.Sweep(ctx, 2, func(_ context.Context, o models.OrphanedUpload) error {
		seen = append(seen, o.ImagePath)
		if o.ImagePath == "cards/b.png" {
			return errors.New("storage unavailable")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"cards/a.png", "cards/b.png"}, seen)

	pending, err = s.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "cards/b.png", pending[0].ImagePath)
	assert.Equal(t, "cards/c.png", pending[1].ImagePath)
}
