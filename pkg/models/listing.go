package models

import (
	"github.com/shopspring/decimal"
)

// Listing is one record of the catalog feed after mapping.
type Listing struct {
	RentalObjectID string              `json:"rental_object_id"`
	Name           string              `json:"name"`
	Address        string              `json:"address"`
	HousingType    string              `json:"housing_type"`
	City           string              `json:"city"`
	District       string              `json:"district"`
	Area           decimal.NullDecimal `json:"area"`
	Price          int                 `json:"price"`
}

// HasReferences reports whether the listing names a city, district and housing type.
func (l Listing) HasReferences() bool {
	return l.City != "" && l.District != "" && l.HousingType != ""
}

// AvailabilityEntry is one record of the availability feed. Presence in the snapshot means available.
type AvailabilityEntry struct {
	RentalObjectID string `json:"rental_object_id"`
	AvailableFrom  *Date  `json:"available_from,omitempty"`
}
