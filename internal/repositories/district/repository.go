package district

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/heather/pkg/database"
	"github.com/Ramsey-B/heather/pkg/models"
	"github.com/Ramsey-B/heather/pkg/tracing"
	"github.com/lib/pq"
)

// Repository handles district persistence. A district is unique per (city_id, name).
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// ListByCityIDs returns every district of the given cities.
func (r *Repository) ListByCityIDs(ctx context.Context, cityIDs []int64) ([]models.District, error) {
	ctx, span := tracing.StartSpan(ctx, "district.Repository.ListByCityIDs")
	defer span.End()

	if len(cityIDs) == 0 {
		return nil, nil
	}

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	sb := districtStruct.SelectFrom(districtsTable)
	sb.Where(fmt.Sprintf("city_id = ANY(%s)", sb.Var(pq.Array(cityIDs))))
	query, args := sb.Build()

	var districts []models.District
	if err := tx.SelectContext(ctx, &districts, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"cities": len(cityIDs)}).Error("failed to list districts")
		return nil, fmt.Errorf("failed to list districts: %w", err)
	}

	return districts, tx.Commit(ctx)
}

// Insert adds the given districts. Existing (city_id, name) pairs are left alone.
func (r *Repository) Insert(ctx context.Context, keys []models.DistrictKey, at time.Time) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "district.Repository.Insert")
	defer span.End()

	if len(keys) == 0 {
		return 0, nil
	}

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	inserted := 0
	for _, chunk := range database.Chunk(keys, database.BatchSize) {
		ib := database.NewInsertBuilder()
		ib.InsertInto(districtsTable)
		ib.Cols("city_id", "name", "created_at", "last_modified_at", "last_imported_at")
		for _, key := range chunk {
			ib.Values(key.CityID, key.Name, at, at, at)
		}
		ib.OnConflictDoNothing()
		query, args := ib.Build()

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"count": len(chunk)}).Error("failed to insert districts")
			return 0, fmt.Errorf("failed to insert districts: %w", err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}

	return inserted, tx.Commit(ctx)
}

// TouchImported stamps last_imported_at on the given districts.
func (r *Repository) TouchImported(ctx context.Context, ids []int64, at time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "district.Repository.TouchImported")
	defer span.End()

	if len(ids) == 0 {
		return nil
	}

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	ub := database.NewUpdateBuilder()
	ub.Update(districtsTable)
	ub.Set(ub.Assign("last_imported_at", at))
	ub.Where(fmt.Sprintf("id = ANY(%s)", ub.Var(pq.Array(ids))))
	query, args := ub.Build()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"count": len(ids)}).Error("failed to touch districts")
		return fmt.Errorf("failed to touch districts: %w", err)
	}

	return tx.Commit(ctx)
}
