package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type City struct {
	ID             int64     `json:"id" db:"id"`
	Name           string    `json:"name" db:"name"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	LastModifiedAt time.Time `json:"last_modified_at" db:"last_modified_at"`
	LastImportedAt time.Time `json:"last_imported_at" db:"last_imported_at"`
}

// District is unique on (CityID, Name).
type District struct {
	ID             int64     `json:"id" db:"id"`
	CityID         int64     `json:"city_id" db:"city_id"`
	Name           string    `json:"name" db:"name"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	LastModifiedAt time.Time `json:"last_modified_at" db:"last_modified_at"`
	LastImportedAt time.Time `json:"last_imported_at" db:"last_imported_at"`
}

// DistrictKey is the natural key of a district.
type DistrictKey struct {
	CityID int64
	Name   string
}

func (d District) Key() DistrictKey {
	return DistrictKey{CityID: d.CityID, Name: d.Name}
}

type HousingType struct {
	ID             int64     `json:"id" db:"id"`
	Name           string    `json:"name" db:"name"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	LastModifiedAt time.Time `json:"last_modified_at" db:"last_modified_at"`
	LastImportedAt time.Time `json:"last_imported_at" db:"last_imported_at"`
}

type Housing struct {
	RentalObjectID string              `json:"rental_object_id" db:"rental_object_id"`
	Name           string              `json:"name" db:"name"`
	Address        string              `json:"address" db:"address"`
	HousingTypeID  int64               `json:"housing_type_id" db:"housing_type_id"`
	DistrictID     int64               `json:"district_id" db:"district_id"`
	Area           decimal.NullDecimal `json:"area_sqm" db:"area_sqm"`
	PricePerMonth  int                 `json:"price_per_month" db:"price_per_month"`
	IsAvailable    bool                `json:"is_available" db:"is_available"`
	AvailableFrom  *Date               `json:"available_from_date,omitempty" db:"available_from_date"`
	CreatedAt      time.Time           `json:"created_at" db:"created_at"`
	LastModifiedAt time.Time           `json:"last_modified_at" db:"last_modified_at"`
	LastImportedAt time.Time           `json:"last_imported_at" db:"last_imported_at"`
}

// HousingView is a stored housing joined with the names of its associations.
type HousingView struct {
	Housing
	HousingTypeName string `json:"housing_type" db:"housing_type_name"`
	DistrictName    string `json:"district" db:"district_name"`
	CityName        string `json:"city" db:"city_name"`
}

// DiffersFrom reports whether any business field of l differs from the stored housing.
// Area is compared numerically so 18.50 and 18.5 are the same value.
func (h HousingView) DiffersFrom(l Listing) bool {
	return h.Name != l.Name ||
		h.Address != l.Address ||
		h.HousingTypeName != l.HousingType ||
		h.DistrictName != l.District ||
		h.CityName != l.City ||
		h.PricePerMonth != l.Price ||
		!AreasEqual(h.Area, l.Area)
}

// AreasEqual treats two nulls as equal.
func AreasEqual(a, b decimal.NullDecimal) bool {
	if !a.Valid || !b.Valid {
		return a.Valid == b.Valid
	}
	return a.Decimal.Equal(b.Decimal)
}

// HousingAvailability is the availability projection of a stored housing.
type HousingAvailability struct {
	RentalObjectID string `db:"rental_object_id"`
	IsAvailable    bool   `db:"is_available"`
	AvailableFrom  *Date  `db:"available_from_date"`
}
