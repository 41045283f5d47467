package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/heather/pkg/metrics"
	"github.com/Ramsey-B/heather/pkg/models"
	"github.com/Ramsey-B/heather/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// CatalogReconciler brings the stored catalog in line with the upstream listing snapshot.
// Listings absent from the snapshot are left untouched.
type CatalogReconciler struct {
	lifecycle
	source    CatalogSource
	cities    NameStore[models.City]
	types     NameStore[models.HousingType]
	districts DistrictStore
	housings  CatalogHousingStore
}

// CatalogStores are the tables a catalog run reads and writes.
type CatalogStores struct {
	Cities       NameStore[models.City]
	HousingTypes NameStore[models.HousingType]
	Districts    DistrictStore
	Housings     CatalogHousingStore
}

// NewCatalogReconciler builds a reconciler whose stores share the transaction opened by uow.
func NewCatalogReconciler(source CatalogSource, uow UnitOfWork, stores CatalogStores, logger ectologger.Logger, opts ...Option) *CatalogReconciler {
	return &CatalogReconciler{
		lifecycle: newLifecycle(models.FeedCatalog, uow, logger, opts),
		source:    source,
		cities:    stores.Cities,
		types:     stores.HousingTypes,
		districts: stores.Districts,
		housings:  stores.Housings,
	}
}

// Run performs one catalog import. A call made while another run is in progress returns a
// skipped result and no error.
func (r *CatalogReconciler) Run(ctx context.Context) (models.CatalogResult, error) {
	if !r.guard.TryAcquire() {
		r.skipped(ctx)
		return models.CatalogResult{Skipped: true}, nil
	}
	defer r.guard.Release()

	ctx, span := tracing.StartSpan(ctx, "reconcile.CatalogReconciler.Run")
	defer span.End()

	metrics.SetImportInProgress(string(r.feed), true)
	defer metrics.SetImportInProgress(string(r.feed), false)

	ctx, run := r.begin(ctx)
	start := r.clock()

	result, err := r.reconcile(ctx, start)
	if err != nil {
		// the unit of work was rolled back
		result = models.CatalogResult{Fetched: result.Fetched, Invalid: result.Invalid}
	}
	result.Duration = r.clock().Sub(start)
	err = classify(err, "unexpected error during catalog import")

	tracing.RecordError(span, err)
	span.SetAttributes(
		attribute.Int("fetched", result.Fetched),
		attribute.Int("created", result.Created),
		attribute.Int("updated", result.Updated),
	)
	r.finish(ctx, run, result, err)
	return result, err
}

func (r *CatalogReconciler) reconcile(ctx context.Context, now time.Time) (models.CatalogResult, error) {
	var result models.CatalogResult

	listings, err := r.source.Fetch(ctx)
	if err != nil {
		return result, err
	}
	result.Fetched = len(listings)

	listings, result.Invalid = r.prepare(ctx, listings)
	if len(listings) == 0 {
		r.logger.WithContext(ctx).WithFields(map[string]any{"fetched": result.Fetched}).Info("catalog snapshot has no usable listings")
		return result, nil
	}

	ctx, tx, err := r.uow.GetTx(ctx, nil)
	if err != nil {
		return result, err
	}
	defer tx.Rollback(ctx)

	cityIDs, err := resolveNames(ctx, r.cities, "city", namesOf(listings, func(l models.Listing) string { return l.City }), now, func(c models.City) (string, int64) {
		return c.Name, c.ID
	})
	if err != nil {
		return result, err
	}

	districtIDs, err := r.resolveDistricts(ctx, listings, cityIDs, now)
	if err != nil {
		return result, err
	}

	typeIDs, err := resolveNames(ctx, r.types, "housing type", namesOf(listings, func(l models.Listing) string { return l.HousingType }), now, func(t models.HousingType) (string, int64) {
		return t.Name, t.ID
	})
	if err != nil {
		return result, err
	}

	if err := r.upsertHousings(ctx, listings, cityIDs, districtIDs, typeIDs, now, &result); err != nil {
		return result, err
	}

	return result, tx.Commit(ctx)
}

// prepare drops listings that cannot be linked to a city, district and housing type and
// collapses repeated ids so that the last occurrence wins.
func (r *CatalogReconciler) prepare(ctx context.Context, listings []models.Listing) ([]models.Listing, int) {
	invalid := 0
	positions := make(map[string]int, len(listings))
	out := make([]models.Listing, 0, len(listings))
	for _, l := range listings {
		if !l.HasReferences() {
			invalid++
			r.logger.WithContext(ctx).WithFields(map[string]any{
				"rental_object_id": l.RentalObjectID,
				"city":             l.City,
				"district":         l.District,
				"housing_type":     l.HousingType,
			}).Warn("skipping listing without city, district or housing type")
			continue
		}
		if i, ok := positions[l.RentalObjectID]; ok {
			out[i] = l
			continue
		}
		positions[l.RentalObjectID] = len(out)
		out = append(out, l)
	}
	return out, invalid
}

func (r *CatalogReconciler) resolveDistricts(ctx context.Context, listings []models.Listing, cityIDs map[string]int64, now time.Time) (map[models.DistrictKey]int64, error) {
	ctx, span := tracing.StartSpan(ctx, "reconcile.CatalogReconciler.resolveDistricts")
	defer span.End()

	seen := make(map[models.DistrictKey]struct{})
	var keys []models.DistrictKey
	var cities []int64
	seenCity := make(map[int64]struct{})
	for _, l := range listings {
		key := models.DistrictKey{CityID: cityIDs[l.City], Name: l.District}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
		if _, ok := seenCity[key.CityID]; !ok {
			seenCity[key.CityID] = struct{}{}
			cities = append(cities, key.CityID)
		}
	}

	existing, err := r.districts.ListByCityIDs(ctx, cities)
	if err != nil {
		return nil, err
	}

	ids := make(map[models.DistrictKey]int64, len(keys))
	var touch []int64
	for _, d := range existing {
		if _, wanted := seen[d.Key()]; wanted {
			ids[d.Key()] = d.ID
			touch = append(touch, d.ID)
		}
	}
	if err := r.districts.TouchImported(ctx, touch, now); err != nil {
		return nil, err
	}

	var missing []models.DistrictKey
	var missingCities []int64
	missingCity := make(map[int64]struct{})
	for _, key := range keys {
		if _, ok := ids[key]; ok {
			continue
		}
		missing = append(missing, key)
		if _, ok := missingCity[key.CityID]; !ok {
			missingCity[key.CityID] = struct{}{}
			missingCities = append(missingCities, key.CityID)
		}
	}
	if len(missing) == 0 {
		return ids, nil
	}

	if _, err := r.districts.Insert(ctx, missing, now); err != nil {
		return nil, err
	}

	reloaded, err := r.districts.ListByCityIDs(ctx, missingCities)
	if err != nil {
		return nil, err
	}
	for _, d := range reloaded {
		if _, wanted := seen[d.Key()]; wanted {
			ids[d.Key()] = d.ID
		}
	}
	for _, key := range missing {
		if _, ok := ids[key]; !ok {
			return nil, fmt.Errorf("district %q of city %d could not be resolved", key.Name, key.CityID)
		}
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"inserted": len(missing)}).Debug("inserted districts")
	return ids, nil
}

func (r *CatalogReconciler) upsertHousings(
	ctx context.Context,
	listings []models.Listing,
	cityIDs map[string]int64,
	districtIDs map[models.DistrictKey]int64,
	typeIDs map[string]int64,
	now time.Time,
	result *models.CatalogResult,
) error {
	ctx, span := tracing.StartSpan(ctx, "reconcile.CatalogReconciler.upsertHousings")
	defer span.End()

	ids := make([]string, len(listings))
	for i, l := range listings {
		ids[i] = l.RentalObjectID
	}

	stored, err := r.housings.ListByIDs(ctx, ids)
	if err != nil {
		return err
	}
	byID := make(map[string]models.HousingView, len(stored))
	for _, h := range stored {
		byID[h.RentalObjectID] = h
	}

	var created []models.Housing
	var touched []string
	for _, l := range listings {
		typeID := typeIDs[l.HousingType]
		districtID := districtIDs[models.DistrictKey{CityID: cityIDs[l.City], Name: l.District}]

		current, exists := byID[l.RentalObjectID]
		if !exists {
			created = append(created, models.Housing{
				RentalObjectID: l.RentalObjectID,
				Name:           l.Name,
				Address:        l.Address,
				HousingTypeID:  typeID,
				DistrictID:     districtID,
				Area:           l.Area,
				PricePerMonth:  l.Price,
				IsAvailable:    false,
				CreatedAt:      now,
				LastModifiedAt: now,
				LastImportedAt: now,
			})
			continue
		}

		touched = append(touched, l.RentalObjectID)
		if !current.DiffersFrom(l) {
			result.Unchanged++
			continue
		}

		updated := current.Housing
		updated.Name = l.Name
		updated.Address = l.Address
		updated.HousingTypeID = typeID
		updated.DistrictID = districtID
		updated.Area = l.Area
		updated.PricePerMonth = l.Price
		updated.LastModifiedAt = now
		updated.LastImportedAt = now
		if err := r.housings.Update(ctx, updated); err != nil {
			return err
		}
		result.Updated++
	}

	if err := r.housings.TouchImported(ctx, touched, now); err != nil {
		return err
	}
	if err := r.housings.Insert(ctx, created); err != nil {
		return err
	}
	result.Created = len(created)
	return nil
}

// resolveNames maps every name to the id of its reference row, inserting the missing ones.
// Existing rows that the snapshot names get last_imported_at = now.
func resolveNames[T any](ctx context.Context, store NameStore[T], entity string, names []string, now time.Time, key func(T) (string, int64)) (map[string]int64, error) {
	ctx, span := tracing.StartSpan(ctx, "reconcile.resolveNames", attribute.String("entity", entity))
	defer span.End()

	existing, err := store.ListByNames(ctx, names)
	if err != nil {
		return nil, err
	}

	ids := make(map[string]int64, len(names))
	touch := make([]int64, 0, len(existing))
	for _, e := range existing {
		name, id := key(e)
		ids[name] = id
		touch = append(touch, id)
	}
	if err := store.TouchImported(ctx, touch, now); err != nil {
		return nil, err
	}

	var missing []string
	for _, name := range names {
		if _, ok := ids[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return ids, nil
	}

	if _, err := store.InsertNames(ctx, missing, now); err != nil {
		return nil, err
	}
	inserted, err := store.ListByNames(ctx, missing)
	if err != nil {
		return nil, err
	}
	for _, e := range inserted {
		name, id := key(e)
		ids[name] = id
	}
	for _, name := range missing {
		if _, ok := ids[name]; !ok {
			return nil, fmt.Errorf("%s %q could not be resolved", entity, name)
		}
	}
	return ids, nil
}

// namesOf returns the distinct values of field in first-seen order.
func namesOf(listings []models.Listing, field func(models.Listing) string) []string {
	seen := make(map[string]struct{}, len(listings))
	var names []string
	for _, l := range listings {
		name := field(l)
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}
