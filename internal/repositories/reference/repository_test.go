package reference

import (
	"context"
	"testing"
	"time"

	"github.com/Ramsey-B/heather/internal/testutil"
	"github.com/Ramsey-B/heather/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistinct(t *testing.T) {
	assert.Equal(t, []string{"Oslo", "oslo", "Bergen"}, distinct([]string{"Oslo", "", "oslo", "Oslo", "Bergen"}))
}

func TestRepository(t *testing.T) {
	db := testutil.Postgres(t, database.DriverPostgres)
	logger := testutil.Logger()
	ctx := context.Background()
	at := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

	t.Run("should insert names once", func(t *testing.T) {
		testutil.Truncate(t, db)
		cities := NewCityRepository(db, logger)

		inserted, err := cities.InsertNames(ctx, []string{"Oslo", "Bergen", "Oslo"}, at)
		require.NoError(t, err)
		assert.Equal(t, 2, inserted)

		inserted, err = cities.InsertNames(ctx, []string{"Oslo", "Trondheim"}, at)
		require.NoError(t, err)
		assert.Equal(t, 1, inserted)

		rows, err := cities.ListByNames(ctx, []string{"Oslo", "Trondheim", "Stavanger"})
		require.NoError(t, err)
		assert.Len(t, rows, 2)
	})

	t.Run("should match names exactly", func(t *testing.T) {
		testutil.Truncate(t, db)
		types := NewHousingTypeRepository(db, logger)

		_, err := types.InsertNames(ctx, []string{"Studio"}, at)
		require.NoError(t, err)

		rows, err := types.ListByNames(ctx, []string{"studio", "Studio "})
		require.NoError(t, err)
		assert.Empty(t, rows)

		inserted, err := types.InsertNames(ctx, []string{"studio"}, at)
		require.NoError(t, err)
		assert.Equal(t, 1, inserted)
	})

	t.Run("should stamp last_imported_at only", func(t *testing.T) {
		testutil.Truncate(t, db)
		cities := NewCityRepository(db, logger)

		_, err := cities.InsertNames(ctx, []string{"Oslo"}, at)
		require.NoError(t, err)
		rows, err := cities.ListByNames(ctx, []string{"Oslo"})
		require.NoError(t, err)
		require.Len(t, rows, 1)

		later := at.Add(24 * time.Hour)
		require.NoError(t, cities.TouchImported(ctx, []int64{rows[0].ID}, later))

		rows, err = cities.ListByNames(ctx, []string{"Oslo"})
		require.NoError(t, err)
		assert.True(t, rows[0].LastImportedAt.Equal(later))
		assert.True(t, rows[0].LastModifiedAt.Equal(at))
	})

	t.Run("should do nothing for no names", func(t *testing.T) {
		rows, err := NewCityRepository(db, logger).ListByNames(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
}
