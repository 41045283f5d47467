package reference

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

// Repository stores a reference table keyed by its exact, case-sensitive name.
// Cities and housing types share this shape.
type Repository[T Entity] struct {
	db     database.DB
	logger ectologger.Logger
	table  string
}

func NewCityRepository(db database.DB, logger ectologger.Logger) *Repository[models.City] {
	return &Repository[models.City]{db: db, logger: logger, table: citiesTable}
}

func NewHousingTypeRepository(db database.DB, logger ectologger.Logger) *Repository[models.HousingType] {
	return &Repository[models.HousingType]{db: db, logger: logger, table: housingTypesTable}
}

// ListByNames returns the rows whose name is in names.
func (r *Repository[T]) ListByNames(ctx context.Context, names []string) ([]T, error) {
	ctx, span := tracing.StartSpan(ctx, r.table+".Repository.ListByNames")
	defer span.End()

	names = distinct(names)
	if len(names) == 0 {
		return nil, nil
	}

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(r.table)
	sb.Where(fmt.Sprintf("name = ANY(%s)", sb.Var(pq.Array(names))))
	query, args := sb.Build()

	var rows []T
	if err := tx.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": r.table, "names": len(names)}).Error("failed to list by names")
		return nil, fmt.Errorf("failed to list %s by name: %w", r.table, err)
	}

	return rows, tx.Commit(ctx)
}

// InsertNames adds one row per name. Names that already exist are left alone.
func (r *Repository[T]) InsertNames(ctx context.Context, names []string, at time.Time) (int, error) {
	ctx, span := tracing.StartSpan(ctx, r.table+".Repository.InsertNames")
	defer span.End()

	names = distinct(names)
	if len(names) == 0 {
		return 0, nil
	}

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	inserted := 0
	for _, chunk := range database.Chunk(names, database.BatchSize) {
		ib := database.NewInsertBuilder()
		ib.InsertInto(r.table)
		ib.Cols("name", "created_at", "last_modified_at", "last_imported_at")
		for _, name := range chunk {
			ib.Values(name, at, at, at)
		}
		ib.OnConflictDoNothing()
		query, args := ib.Build()

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": r.table, "count": len(chunk)}).Error("failed to insert names")
			return 0, fmt.Errorf("failed to insert %s: %w", r.table, err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"table": r.table, "inserted": inserted}).Debug("inserted reference rows")
	return inserted, tx.Commit(ctx)
}

// TouchImported stamps last_imported_at on the given rows.
func (r *Repository[T]) TouchImported(ctx context.Context, ids []int64, at time.Time) error {
	ctx, span := tracing.StartSpan(ctx, r.table+".Repository.TouchImported")
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
	ub.Update(r.table)
	ub.Set(ub.Assign("last_imported_at", at))
	ub.Where(fmt.Sprintf("id = ANY(%s)", ub.Var(pq.Array(ids))))
	query, args := ub.Build()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": r.table, "count": len(ids)}).Error("failed to touch imported rows")
		return fmt.Errorf("failed to touch %s: %w", r.table, err)
	}

	return tx.Commit(ctx)
}
