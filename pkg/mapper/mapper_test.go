package mapper

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	importerrors "github.com/Ramsey-B/heather/pkg/errors"
	"github.com/Ramsey-B/heather/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMapper(t *testing.T) *Mapper {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Oslo")
	require.NoError(t, err)
	m, err := NewMapper(ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}), loc)
	require.NoError(t, err)
	return m
}

const catalogResponse = `{
  "data": {
    "sanity_allEnhet": [
      {
        "rentalObjectId": "A-1",
        "name": "Studio 101",
        "building": {"address": "Storgata 1"},
        "area": 18.5,
        "price": 5400,
        "category": {"displayName": {"no": "Hybel", "en": "Studio"}},
        "studentby": {"name": "Sentrum", "studiested": {"name": "Oslo"}},
        "kollektiv": null
      },
      {
        "rentalObjectId": "",
        "name": "no id"
      },
      "not an object",
      {
        "rentalObjectId": "B-2",
        "name": "Shared 2",
        "area": -4,
        "price": -100,
        "category": {"displayName": {"en": "Shared"}},
        "studentby": {"name": "Moholt", "studiested": {"name": "Trondheim"}}
      },
      {
        "rentalObjectId": "C-3",
        "name": "No numbers",
        "area": "big",
        "category": {"displayName": {"en": "Studio"}},
        "studentby": {"name": "Sentrum", "studiested": {"name": "Oslo"}}
      }
    ]
  }
}`

func TestMapListings(t *testing.T) {
	m := newTestMapper(t)

	t.Run("should map valid records and skip malformed ones", func(t *testing.T) {
		listings, err := m.MapListings(context.Background(), catalogResponse)
		require.NoError(t, err)
		require.Len(t, listings, 3)

		first := listings[0]
		assert.Equal(t, "A-1", first.RentalObjectID)
		assert.Equal(t, "Studio 101", first.Name)
		assert.Equal(t, "Storgata 1", first.Address)
		assert.Equal(t, "Studio", first.HousingType)
		assert.Equal(t, "Oslo", first.City)
		assert.Equal(t, "Sentrum", first.District)
		require.True(t, first.Area.Valid)
		assert.True(t, first.Area.Decimal.Equal(decimal.RequireFromString("18.50")))
		assert.Equal(t, 5400, first.Price)
	})

	t.Run("should null negative area and zero negative price", func(t *testing.T) {
		listings, err := m.MapListings(context.Background(), catalogResponse)
		require.NoError(t, err)

		second := listings[1]
		assert.Equal(t, "B-2", second.RentalObjectID)
		assert.False(t, second.Area.Valid)
		assert.Equal(t, 0, second.Price)
		assert.Equal(t, "", second.Address)
	})

	t.Run("should treat non-numeric values as missing", func(t *testing.T) {
		listings, err := m.MapListings(context.Background(), catalogResponse)
		require.NoError(t, err)

		third := listings[2]
		assert.Equal(t, "C-3", third.RentalObjectID)
		assert.False(t, third.Area.Valid)
		assert.Equal(t, 0, third.Price)
	})

	t.Run("should accept an empty item list", func(t *testing.T) {
		listings, err := m.MapListings(context.Background(), `{"data":{"sanity_allEnhet":[]}}`)
		require.NoError(t, err)
		assert.Empty(t, listings)
	})
}

func TestMapListings_PriceBounds(t *testing.T) {
	m := newTestMapper(t)

	tests := []struct {
		name  string
		price string
		want  int
	}{
		{name: "largest integer column value", price: `2147483647`, want: 2147483647},
		{name: "fraction is truncated", price: `5400.75`, want: 5400},
		{name: "beyond the integer column", price: `3000000000`, want: 0},
		{name: "beyond int64", price: `1e30`, want: 0},
		{name: "very negative", price: `-1e30`, want: 0},
		{name: "NaN string", price: `"NaN"`, want: 0},
		{name: "infinite string", price: `"Infinity"`, want: 0},
		{name: "negative infinite string", price: `"-Inf"`, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := `{"data":{"sanity_allEnhet":[{"rentalObjectId":"A-1","price":` + tt.price + `,"area":"Inf"}]}}`

			listings, err := m.MapListings(context.Background(), raw)

			require.NoError(t, err)
			require.Len(t, listings, 1)
			assert.Equal(t, tt.want, listings[0].Price)
			assert.False(t, listings[0].Area.Valid)
		})
	}
}

func TestMapListings_NumericIDs(t *testing.T) {
	m := newTestMapper(t)

	raw := `{"data":{"sanity_allEnhet":[
		{"rentalObjectId": 9007199254740993},
		{"rentalObjectId": 9007199254740992},
		{"rentalObjectId": 1e3}
	]}}`

	listings, err := m.MapListings(context.Background(), raw)

	require.NoError(t, err)
	require.Len(t, listings, 3)
	assert.Equal(t, "9007199254740993", listings[0].RentalObjectID)
	assert.Equal(t, "9007199254740992", listings[1].RentalObjectID)
	assert.Equal(t, "1000", listings[2].RentalObjectID)
}

func TestMapListings_Errors(t *testing.T) {
	m := newTestMapper(t)

	tests := []struct {
		name string
		raw  string
		want error
	}{
		{name: "blank input", raw: "  ", want: importerrors.ErrInvalidArgument},
		{name: "not json", raw: "<html>", want: importerrors.ErrMalformedResponse},
		{name: "trailing data", raw: `{"data":{"sanity_allEnhet":[]}} {}`, want: importerrors.ErrMalformedResponse},
		{name: "graphql errors", raw: `{"errors":[{"message":"x"}],"data":{"sanity_allEnhet":[]}}`, want: importerrors.ErrMalformedResponse},
		{name: "missing data", raw: `{"foo":1}`, want: importerrors.ErrMalformedResponse},
		{name: "null data", raw: `{"data":null}`, want: importerrors.ErrMalformedResponse},
		{name: "missing items", raw: `{"data":{"other":[]}}`, want: importerrors.ErrMalformedResponse},
		{name: "items not an array", raw: `{"data":{"sanity_allEnhet":{}}}`, want: importerrors.ErrMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.MapListings(context.Background(), tt.raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestMapAvailability(t *testing.T) {
	m := newTestMapper(t)

	raw := `{
	  "data": {
	    "housings": {
	      "housingRentalObjects": [
	        {"rentalObjectId": "A-1", "availableFrom": "2025-09-01T00:00:00.000+02:00"},
	        {"rentalObjectId": "B-2", "availableFrom": null},
	        {"rentalObjectId": "C-3", "availableFrom": "soon"},
	        {"availableFrom": "2025-09-01T00:00:00.000+02:00"},
	        42
	      ]
	    }
	  }
	}`

	entries, err := m.MapAvailability(context.Background(), raw)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "A-1", entries[0].RentalObjectID)
	require.NotNil(t, entries[0].AvailableFrom)
	assert.Equal(t, "2025-09-01", entries[0].AvailableFrom.String())

	assert.Equal(t, "B-2", entries[1].RentalObjectID)
	assert.Nil(t, entries[1].AvailableFrom)

	assert.Equal(t, "C-3", entries[2].RentalObjectID)
	assert.Nil(t, entries[2].AvailableFrom)
}

func TestMapAvailability_MissingEnvelope(t *testing.T) {
	m := newTestMapper(t)

	_, err := m.MapAvailability(context.Background(), `{"data":{"housings":{}}}`)
	assert.ErrorIs(t, err, importerrors.ErrMalformedResponse)
	assert.Equal(t, importerrors.KindMalformedResponse, importerrors.KindOf(err))
}

func TestParseAvailableFrom(t *testing.T) {
	oslo, err := time.LoadLocation("Europe/Oslo")
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "local midnight", raw: "2025-09-01T00:00:00.000+02:00", want: "2025-09-01"},
		{name: "utc evening is next day in oslo summer", raw: "2025-08-31T22:30:00Z", want: "2025-09-01"},
		{name: "spring forward night", raw: "2025-03-30T00:30:00+01:00", want: "2025-03-30"},
		{name: "just before spring forward in utc", raw: "2025-03-29T23:30:00Z", want: "2025-03-30"},
		{name: "fall back night", raw: "2025-10-26T01:30:00+00:00", want: "2025-10-26"},
		{name: "utc before winter midnight", raw: "2025-10-26T22:59:00Z", want: "2025-10-26"},
		{name: "utc after winter midnight", raw: "2025-10-26T23:00:00Z", want: "2025-10-27"},
		{name: "bare date", raw: "2025-12-24", want: "2025-12-24"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAvailableFrom(tt.raw, oslo)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}

	_, err = ParseAvailableFrom("tomorrow", oslo)
	assert.Error(t, err)
}

func TestListing_HasReferences(t *testing.T) {
	assert.True(t, models.Listing{City: "Oslo", District: "Sentrum", HousingType: "Studio"}.HasReferences())
	assert.False(t, models.Listing{City: "Oslo", HousingType: "Studio"}.HasReferences())
}
