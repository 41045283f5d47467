package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/Ramsey-B/heather/internal/repositories/district"
	"github.com/Ramsey-B/heather/internal/repositories/housing"
	"github.com/Ramsey-B/heather/internal/repositories/importrun"
	"github.com/Ramsey-B/heather/internal/repositories/reference"
	"github.com/Ramsey-B/heather/internal/testutil"
	"github.com/Ramsey-B/heather/pkg/database"
	"github.com/Ramsey-B/heather/pkg/models"
	"github.com/Ramsey-B/heather/pkg/reconcile"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listings []models.Listing

func (l *listings) Fetch(ctx context.Context) ([]models.Listing, error) { return *l, nil }

type entries []models.AvailabilityEntry

func (e *entries) Fetch(ctx context.Context) ([]models.AvailabilityEntry, error) { return *e, nil }

func TestReconcilers_Postgres(t *testing.T) {
	db := testutil.Postgres(t, database.DriverPgx)
	logger := testutil.Logger()
	ctx := context.Background()

	runs := importrun.NewRepository(db, logger)
	housings := housing.NewRepository(db, logger)
	catalogFeed := &listings{{
		RentalObjectID: "A-1",
		Name:           "Studio A-1",
		Address:        "Kongens gate 1",
		HousingType:    "Studio",
		City:           "Oslo",
		District:       "Sentrum",
		Area:           decimal.NewNullDecimal(decimal.RequireFromString("18.50")),
		Price:          9000,
	}}
	availabilityFeed := &entries{}

	catalog := reconcile.NewCatalogReconciler(catalogFeed, db, reconcile.CatalogStores{
		Cities:       reference.NewCityRepository(db, logger),
		HousingTypes: reference.NewHousingTypeRepository(db, logger),
		Districts:    district.NewRepository(db, logger),
		Housings:     housings,
	}, logger, reconcile.WithRunRecorder(runs))
	availability := reconcile.NewAvailabilityReconciler(availabilityFeed, db, housings, logger, reconcile.WithRunRecorder(runs))

	t.Run("should skip availability before the first catalog import", func(t *testing.T) {
		result, err := availability.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, result.Fetched)

		history, err := runs.List(ctx, models.ImportRunFilter{Limit: 50})
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("should create the housing and its references", func(t *testing.T) {
		result, err := catalog.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Created)

		views, err := housings.ListByIDs(ctx, []string{"A-1"})
		require.NoError(t, err)
		require.Len(t, views, 1)
		assert.Equal(t, "Sentrum", views[0].DistrictName)
		assert.False(t, views[0].IsAvailable)
	})

	t.Run("should leave an identical snapshot unchanged", func(t *testing.T) {
		(*catalogFeed)[0].Area = decimal.NewNullDecimal(decimal.RequireFromString("18.5"))

		result, err := catalog.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, result.Created)
		assert.Equal(t, 0, result.Updated)
		assert.Equal(t, 1, result.Unchanged)
	})

	t.Run("should update a changed price", func(t *testing.T) {
		(*catalogFeed)[0].Price = 9500

		result, err := catalog.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Updated)

		views, err := housings.ListByIDs(ctx, []string{"A-1"})
		require.NoError(t, err)
		assert.Equal(t, 9500, views[0].PricePerMonth)
	})

	t.Run("should follow the availability snapshot", func(t *testing.T) {
		from := models.NewDate(2025, time.September, 1)
		*availabilityFeed = entries{{RentalObjectID: "A-1", AvailableFrom: &from}}

		result, err := availability.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, result.MadeAvailable)
		assert.Equal(t, 1, result.DatesUpdated)

		*availabilityFeed = entries{}
		result, err = availability.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, result.MadeUnavailable)

		rows, err := housings.ListAvailability(ctx, []string{"A-1"})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.True(t, rows[0].IsAvailable)
		require.NotNil(t, rows[0].AvailableFrom)

		*availabilityFeed = entries{{RentalObjectID: "Z-9"}}
		result, err = availability.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, result.MadeUnavailable)

		rows, err = housings.ListAvailability(ctx, []string{"A-1"})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.False(t, rows[0].IsAvailable)
		assert.Nil(t, rows[0].AvailableFrom)
	})

	t.Run("should record every run", func(t *testing.T) {
		history, err := runs.List(ctx, models.ImportRunFilter{Limit: 50})
		require.NoError(t, err)
		assert.Len(t, history, 6)
		for _, run := range history {
			assert.Equal(t, models.RunStatusSucceeded, run.Status)
			assert.Equal(t, models.TriggerManual, run.Trigger)
		}
	})
}
