package reconcile

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/heather/pkg/metrics"
	"github.com/Ramsey-B/heather/pkg/models"
	"github.com/Ramsey-B/heather/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// AvailabilityReconciler applies the availability snapshot to the stored catalog. Presence in
// the snapshot means available and absence means unavailable. An empty snapshot changes
// nothing. Only is_available and available_from_date are written.
type AvailabilityReconciler struct {
	lifecycle
	source   AvailabilitySource
	housings AvailabilityHousingStore
}

// NewAvailabilityReconciler builds a reconciler that writes through housings inside uow.
func NewAvailabilityReconciler(source AvailabilitySource, uow UnitOfWork, housings AvailabilityHousingStore, logger ectologger.Logger, opts ...Option) *AvailabilityReconciler {
	return &AvailabilityReconciler{
		lifecycle: newLifecycle(models.FeedAvailability, uow, logger, opts),
		source:    source,
		housings:  housings,
	}
}

// Run performs one availability import. It does nothing, and records no history, while the
// catalog is empty.
func (r *AvailabilityReconciler) Run(ctx context.Context) (models.AvailabilityResult, error) {
	if !r.guard.TryAcquire() {
		r.skipped(ctx)
		return models.AvailabilityResult{Skipped: true}, nil
	}
	defer r.guard.Release()

	ctx, span := tracing.StartSpan(ctx, "reconcile.AvailabilityReconciler.Run")
	defer span.End()

	count, err := r.housings.Count(ctx)
	if err == nil && count == 0 {
		r.logger.WithContext(ctx).WithFields(map[string]any{"feed": string(r.feed)}).Warn("no housing records; run the catalog import first")
		return models.AvailabilityResult{}, nil
	}

	metrics.SetImportInProgress(string(r.feed), true)
	defer metrics.SetImportInProgress(string(r.feed), false)

	ctx, run := r.begin(ctx)
	start := r.clock()

	var result models.AvailabilityResult
	if err == nil {
		result, err = r.reconcile(ctx)
	}
	if err != nil {
		result = models.AvailabilityResult{Fetched: result.Fetched}
	}
	result.Duration = r.clock().Sub(start)
	err = classify(err, "unexpected error during availability import")

	tracing.RecordError(span, err)
	span.SetAttributes(
		attribute.Int("fetched", result.Fetched),
		attribute.Int("made_available", result.MadeAvailable),
		attribute.Int("made_unavailable", result.MadeUnavailable),
	)
	r.finish(ctx, run, result, err)
	return result, err
}

func (r *AvailabilityReconciler) reconcile(ctx context.Context) (models.AvailabilityResult, error) {
	var result models.AvailabilityResult

	entries, err := r.source.Fetch(ctx)
	if err != nil {
		return result, err
	}
	result.Fetched = len(entries)
	if len(entries) == 0 {
		r.logger.WithContext(ctx).Warn("no available housings in the snapshot; leaving availability unchanged")
		return result, nil
	}

	ids, dates := collapse(entries)

	ctx, tx, err := r.uow.GetTx(ctx, nil)
	if err != nil {
		return result, err
	}
	defer tx.Rollback(ctx)

	if result.MadeAvailable, err = r.housings.MarkAvailable(ctx, ids); err != nil {
		return result, err
	}
	if result.MadeUnavailable, err = r.housings.MarkUnavailableExcept(ctx, ids); err != nil {
		return result, err
	}
	if result.DatesUpdated, err = r.syncDates(ctx, ids, dates); err != nil {
		return result, err
	}

	return result, tx.Commit(ctx)
}

// syncDates writes the available-from dates that differ from the stored ones. Ids that are
// not in the catalog are ignored.
func (r *AvailabilityReconciler) syncDates(ctx context.Context, ids []string, dates map[string]*models.Date) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "reconcile.AvailabilityReconciler.syncDates")
	defer span.End()

	stored, err := r.housings.ListAvailability(ctx, ids)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, h := range stored {
		want := dates[h.RentalObjectID]
		if models.DatesEqual(h.AvailableFrom, want) {
			continue
		}
		if err := r.housings.UpdateAvailableFrom(ctx, h.RentalObjectID, want); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// collapse returns the distinct ids of the snapshot in first-seen order and the date of the
// last entry seen for each.
func collapse(entries []models.AvailabilityEntry) ([]string, map[string]*models.Date) {
	ids := make([]string, 0, len(entries))
	dates := make(map[string]*models.Date, len(entries))
	for _, e := range entries {
		if _, ok := dates[e.RentalObjectID]; !ok {
			ids = append(ids, e.RentalObjectID)
		}
		dates[e.RentalObjectID] = e.AvailableFrom
	}
	return ids, dates
}
