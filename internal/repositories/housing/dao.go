package housing

import (
	"time"

	"github.com/Ramsey-B/heather/pkg/models"
)

const (
	housingsTable     = "housings"
	housingTypesTable = "housing_types"
	districtsTable    = "districts"
	citiesTable       = "cities"
)

var insertColumns = []string{
	"rental_object_id",
	"name",
	"address",
	"housing_type_id",
	"district_id",
	"area_sqm",
	"price_per_month",
	"is_available",
	"available_from_date",
	"created_at",
	"last_modified_at",
	"last_imported_at",
}

// viewColumns selects a housing with the names of its type, district and city.
var viewColumns = []string{
	"h.rental_object_id",
	"h.name",
	"h.address",
	"h.housing_type_id",
	"h.district_id",
	"h.area_sqm",
	"h.price_per_month",
	"h.is_available",
	"h.available_from_date",
	"h.created_at",
	"h.last_modified_at",
	"h.last_imported_at",
	"ht.name AS housing_type_name",
	"d.name AS district_name",
	"c.name AS city_name",
}

func insertValues(h models.Housing) []any {
	return []any{
		h.RentalObjectID,
		h.Name,
		h.Address,
		h.HousingTypeID,
		h.DistrictID,
		h.Area,
		h.PricePerMonth,
		h.IsAvailable,
		h.AvailableFrom,
		h.CreatedAt,
		h.LastModifiedAt,
		h.LastImportedAt,
	}
}

// Now returns the current time in UTC
func Now() time.Time {
	return time.Now().UTC()
}
