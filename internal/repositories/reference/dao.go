package reference

import (
	"time"

	"github.com/Ramsey-B/heather/pkg/models"
)

const (
	citiesTable       = "cities"
	housingTypesTable = "housing_types"
)

var columns = []string{"id", "name", "created_at", "last_modified_at", "last_imported_at"}

// Entity is a name-keyed reference row.
type Entity interface {
	models.City | models.HousingType
}

// Now returns the current time in UTC
func Now() time.Time {
	return time.Now().UTC()
}

// distinct drops blanks and repeats, keeping first-seen order.
func distinct(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
