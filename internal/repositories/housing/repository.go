package housing

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

// Count returns the number of stored housings.
func (r *Repository) Count(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "housing.Repository.Count")
	defer span.End()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	sb := database.NewSelectBuilder()
	sb.Select("count(*)")
	sb.From(housingsTable)
	query, args := sb.Build()

	var count int
	if err := tx.GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to count housings")
		return 0, fmt.Errorf("failed to count housings: %w", err)
	}

	return count, tx.Commit(ctx)
}

// ListByIDs returns the stored housings among ids, joined with their association names.
func (r *Repository) ListByIDs(ctx context.Context, ids []string) ([]models.HousingView, error) {
	ctx, span := tracing.StartSpan(ctx, "housing.Repository.ListByIDs")
	defer span.End()

	if len(ids) == 0 {
		return nil, nil
	}

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	sb := database.NewSelectBuilder()
	sb.Select(viewColumns...)
	sb.From(sb.As(housingsTable, "h"))
	sb.Join(sb.As(housingTypesTable, "ht"), "ht.id = h.housing_type_id")
	sb.Join(sb.As(districtsTable, "d"), "d.id = h.district_id")
	sb.Join(sb.As(citiesTable, "c"), "c.id = d.city_id")
	sb.Where(fmt.Sprintf("h.rental_object_id = ANY(%s)", sb.Var(pq.Array(ids))))
	query, args := sb.Build()

	var housings []models.HousingView
	if err := tx.SelectContext(ctx, &housings, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"ids": len(ids)}).Error("failed to list housings")
		return nil, fmt.Errorf("failed to list housings: %w", err)
	}

	return housings, tx.Commit(ctx)
}

// Insert stores new housings in batches.
func (r *Repository) Insert(ctx context.Context, housings []models.Housing) error {
	ctx, span := tracing.StartSpan(ctx, "housing.Repository.Insert")
	defer span.End()

	if len(housings) == 0 {
		return nil
	}

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, chunk := range database.Chunk(housings, database.BatchSize) {
		ib := database.NewInsertBuilder()
		ib.InsertInto(housingsTable)
		ib.Cols(insertColumns...)
		for _, h := range chunk {
			ib.Values(insertValues(h)...)
		}
		query, args := ib.Build()

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"count": len(chunk)}).Error("failed to insert housings")
			return fmt.Errorf("failed to insert housings: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// Update overwrites the business fields and associations of one housing and stamps
// last_modified_at and last_imported_at.
func (r *Repository) Update(ctx context.Context, h models.Housing) error {
	ctx, span := tracing.StartSpan(ctx, "housing.Repository.Update")
	defer span.End()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	ub := database.NewUpdateBuilder()
	ub.Update(housingsTable)
	ub.Set(
		ub.Assign("name", h.Name),
		ub.Assign("address", h.Address),
		ub.Assign("housing_type_id", h.HousingTypeID),
		ub.Assign("district_id", h.DistrictID),
		ub.Assign("area_sqm", h.Area),
		ub.Assign("price_per_month", h.PricePerMonth),
		ub.Assign("last_modified_at", h.LastModifiedAt),
		ub.Assign("last_imported_at", h.LastImportedAt),
	)
	ub.Where(ub.Equal("rental_object_id", h.RentalObjectID))
	query, args := ub.Build()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"rental_object_id": h.RentalObjectID}).Error("failed to update housing")
		return fmt.Errorf("failed to update housing %s: %w", h.RentalObjectID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("housing %s not found", h.RentalObjectID)
	}

	return tx.Commit(ctx)
}

// TouchImported stamps last_imported_at on the given housings.
func (r *Repository) TouchImported(ctx context.Context, ids []string, at time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "housing.Repository.TouchImported")
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
	ub.Update(housingsTable)
	ub.Set(ub.Assign("last_imported_at", at))
	ub.Where(fmt.Sprintf("rental_object_id = ANY(%s)", ub.Var(pq.Array(ids))))
	query, args := ub.Build()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"count": len(ids)}).Error("failed to touch housings")
		return fmt.Errorf("failed to touch housings: %w", err)
	}

	return tx.Commit(ctx)
}

// MarkAvailable flips the unavailable housings among ids to available.
func (r *Repository) MarkAvailable(ctx context.Context, ids []string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "housing.Repository.MarkAvailable")
	defer span.End()

	if len(ids) == 0 {
		return 0, nil
	}

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	ub := database.NewUpdateBuilder()
	ub.Update(housingsTable)
	ub.Set(ub.Assign("is_available", true))
	ub.Where(
		ub.Equal("is_available", false),
		fmt.Sprintf("rental_object_id = ANY(%s)", ub.Var(pq.Array(ids))),
	)
	query, args := ub.Build()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"count": len(ids)}).Error("failed to mark housings available")
		return 0, fmt.Errorf("failed to mark housings available: %w", err)
	}
	n, _ := res.RowsAffected()

	return int(n), tx.Commit(ctx)
}

// MarkUnavailableExcept flips every available housing outside ids to unavailable and clears
// its available-from date. An empty ids flips all of them.
func (r *Repository) MarkUnavailableExcept(ctx context.Context, ids []string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "housing.Repository.MarkUnavailableExcept")
	defer span.End()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if ids == nil {
		ids = []string{}
	}

	ub := database.NewUpdateBuilder()
	ub.Update(housingsTable)
	ub.Set(
		ub.Assign("is_available", false),
		ub.Assign("available_from_date", nil),
	)
	ub.Where(
		ub.Equal("is_available", true),
		fmt.Sprintf("rental_object_id <> ALL(%s)", ub.Var(pq.Array(ids))),
	)
	query, args := ub.Build()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"kept": len(ids)}).Error("failed to mark housings unavailable")
		return 0, fmt.Errorf("failed to mark housings unavailable: %w", err)
	}
	n, _ := res.RowsAffected()

	return int(n), tx.Commit(ctx)
}

// ListAvailability returns the availability projection of the stored housings among ids.
func (r *Repository) ListAvailability(ctx context.Context, ids []string) ([]models.HousingAvailability, error) {
	ctx, span := tracing.StartSpan(ctx, "housing.Repository.ListAvailability")
	defer span.End()

	if len(ids) == 0 {
		return nil, nil
	}

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	sb := database.NewSelectBuilder()
	sb.Select("rental_object_id", "is_available", "available_from_date")
	sb.From(housingsTable)
	sb.Where(fmt.Sprintf("rental_object_id = ANY(%s)", sb.Var(pq.Array(ids))))
	query, args := sb.Build()

	var rows []models.HousingAvailability
	if err := tx.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"ids": len(ids)}).Error("failed to list availability")
		return nil, fmt.Errorf("failed to list availability: %w", err)
	}

	return rows, tx.Commit(ctx)
}

// UpdateAvailableFrom sets the available-from date of one housing. A nil date clears it.
func (r *Repository) UpdateAvailableFrom(ctx context.Context, id string, date *models.Date) error {
	ctx, span := tracing.StartSpan(ctx, "housing.Repository.UpdateAvailableFrom")
	defer span.End()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var value any
	if date != nil {
		value = *date
	}

	ub := database.NewUpdateBuilder()
	ub.Update(housingsTable)
	ub.Set(ub.Assign("available_from_date", value))
	ub.Where(ub.Equal("rental_object_id", id))
	query, args := ub.Build()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"rental_object_id": id}).Error("failed to update available-from date")
		return fmt.Errorf("failed to update available-from date of %s: %w", id, err)
	}

	return tx.Commit(ctx)
}
