package mapper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	importerrors "github.com/Ramsey-B/heather/pkg/errors"
	"github.com/Ramsey-B/heather/pkg/expressions"
	"github.com/Ramsey-B/heather/pkg/mapper/schemas"
	"github.com/Ramsey-B/heather/pkg/metrics"
	"github.com/Ramsey-B/heather/pkg/models"
	"github.com/Ramsey-B/heather/pkg/tracing"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"
)

const (
	catalogItemsPath      = "data.sanity_allEnhet"
	availabilityItemsPath = "data.housings.housingRentalObjects"

	fieldRentalObjectID = "rentalObjectId"
	fieldName           = "name"
	fieldAddress        = "building.address"
	fieldHousingType    = "category.displayName.en"
	fieldDistrict       = "studentby.name"
	fieldCity           = "studentby.studiested.name"
	fieldArea           = "area"
	fieldPrice          = "price"
	fieldAvailableFrom  = "availableFrom"
)

// maxArea is the largest value a numeric(6,2) column holds.
var maxArea = decimal.RequireFromString("9999.99")

// maxPrice is the largest value an integer column holds.
const maxPrice = math.MaxInt32

// Mapper turns raw feed responses into domain records. One malformed record never fails a batch.
type Mapper struct {
	evaluator *expressions.Evaluator
	schemas   map[models.Feed]*jsonschema.Schema
	location  *time.Location
	logger    ectologger.Logger
}

// NewMapper compiles the envelope schemas. Availability dates are taken as calendar dates in loc.
func NewMapper(logger ectologger.Logger, loc *time.Location) (*Mapper, error) {
	if loc == nil {
		return nil, fmt.Errorf("mapper requires a time zone")
	}

	compiler := jsonschema.NewCompiler()
	compiled := make(map[models.Feed]*jsonschema.Schema)
	for _, feed := range []models.Feed{models.FeedCatalog, models.FeedAvailability} {
		name := string(feed) + ".json"
		file, err := schemas.FS.Open(name)
		if err != nil {
			return nil, fmt.Errorf("missing schema %s: %w", name, err)
		}
		err = compiler.AddResource(name, file)
		file.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to add schema %s: %w", name, err)
		}
		schema, err := compiler.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
		}
		compiled[feed] = schema
	}

	return &Mapper{
		evaluator: expressions.NewEvaluator(),
		schemas:   compiled,
		location:  loc,
		logger:    logger,
	}, nil
}

// MapListings maps a GetHousingItems response.
func (m *Mapper) MapListings(ctx context.Context, raw string) ([]models.Listing, error) {
	ctx, span := tracing.StartSpan(ctx, "mapper.Mapper.MapListings")
	defer span.End()

	items, err := m.items(models.FeedCatalog, raw, catalogItemsPath)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	listings := make([]models.Listing, 0, len(items))
	skipped := 0
	for i, item := range items {
		listing, ok := m.mapListing(ctx, i, item)
		if !ok {
			skipped++
			continue
		}
		listings = append(listings, listing)
	}

	m.logOutcome(ctx, models.FeedCatalog, len(listings), skipped)
	return listings, nil
}

// MapAvailability maps a GetHousingIds response.
func (m *Mapper) MapAvailability(ctx context.Context, raw string) ([]models.AvailabilityEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "mapper.Mapper.MapAvailability")
	defer span.End()

	items, err := m.items(models.FeedAvailability, raw, availabilityItemsPath)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	entries := make([]models.AvailabilityEntry, 0, len(items))
	skipped := 0
	for i, item := range items {
		entry, ok := m.mapAvailability(ctx, i, item)
		if !ok {
			skipped++
			continue
		}
		entries = append(entries, entry)
	}

	m.logOutcome(ctx, models.FeedAvailability, len(entries), skipped)
	return entries, nil
}

// items decodes raw, rejects GraphQL errors and a broken envelope, and returns the record array.
func (m *Mapper) items(feed models.Feed, raw string, path string) ([]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, importerrors.InvalidArgument("response must not be blank").AddFeed(string(feed))
	}

	decoder := json.NewDecoder(strings.NewReader(raw))
	decoder.UseNumber()
	var doc any
	if err := decoder.Decode(&doc); err != nil {
		return nil, importerrors.MalformedResponse("response is not valid JSON", err).AddFeed(string(feed))
	}
	if _, err := decoder.Token(); err != io.EOF {
		return nil, importerrors.MalformedResponse("response has trailing data after the JSON document", err).AddFeed(string(feed))
	}

	if root, ok := doc.(map[string]any); ok {
		if errs, present := root["errors"]; present && !emptyErrors(errs) {
			return nil, importerrors.MalformedResponse("response contains GraphQL errors", nil).AddFeed(string(feed))
		}
	}

	if err := m.schemas[feed].Validate(doc); err != nil {
		return nil, importerrors.MalformedResponse(fmt.Sprintf("response is missing %s", path), err).AddFeed(string(feed))
	}

	items, ok, err := m.evaluator.Slice(path, doc)
	if err != nil || !ok {
		return nil, importerrors.MalformedResponsef("response is missing %s", path).AddFeed(string(feed))
	}
	return items, nil
}

func (m *Mapper) mapListing(ctx context.Context, index int, item any) (models.Listing, bool) {
	record, ok := item.(map[string]any)
	if !ok {
		m.skip(ctx, models.FeedCatalog, index, "record is not an object")
		return models.Listing{}, false
	}

	id := rentalObjectID(record)
	if id == "" {
		m.skip(ctx, models.FeedCatalog, index, "record has no rentalObjectId")
		return models.Listing{}, false
	}

	return models.Listing{
		RentalObjectID: id,
		Name:           m.str(fieldName, record),
		Address:        m.str(fieldAddress, record),
		HousingType:    m.str(fieldHousingType, record),
		City:           m.str(fieldCity, record),
		District:       m.str(fieldDistrict, record),
		Area:           m.area(ctx, id, record),
		Price:          m.price(ctx, id, record),
	}, true
}

func (m *Mapper) mapAvailability(ctx context.Context, index int, item any) (models.AvailabilityEntry, bool) {
	record, ok := item.(map[string]any)
	if !ok {
		m.skip(ctx, models.FeedAvailability, index, "record is not an object")
		return models.AvailabilityEntry{}, false
	}

	id := rentalObjectID(record)
	if id == "" {
		m.skip(ctx, models.FeedAvailability, index, "record has no rentalObjectId")
		return models.AvailabilityEntry{}, false
	}

	entry := models.AvailabilityEntry{RentalObjectID: id}
	if raw := m.str(fieldAvailableFrom, record); raw != "" {
		date, err := ParseAvailableFrom(raw, m.location)
		if err != nil {
			m.logger.WithContext(ctx).WithFields(map[string]any{
				"rental_object_id": id,
				"available_from":   raw,
			}).Warn("unparseable availableFrom; keeping entry without a date")
		} else {
			entry.AvailableFrom = &date
		}
	}
	return entry, true
}

// ParseAvailableFrom reads an RFC 3339 instant and returns its calendar date in loc.
// A bare yyyy-mm-dd date is taken as is.
func ParseAvailableFrom(raw string, loc *time.Location) (models.Date, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return models.DateIn(t, loc), nil
	}
	return models.ParseDate(raw)
}

func (m *Mapper) str(path string, record map[string]any) string {
	v, err := m.evaluator.String(path, record)
	if err != nil {
		return ""
	}
	return v
}

// area is null when missing, non-numeric, not finite, negative or too large for the column.
func (m *Mapper) area(ctx context.Context, id string, record map[string]any) decimal.NullDecimal {
	v, ok, err := m.evaluator.Number(fieldArea, record)
	if err != nil || !ok {
		return decimal.NullDecimal{}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		m.logger.WithContext(ctx).WithFields(map[string]any{"rental_object_id": id, "area": fmt.Sprint(v)}).Warn("area is not finite; storing null")
		return decimal.NullDecimal{}
	}

	d := decimal.NewFromFloat(v).Round(2)
	if d.IsNegative() || d.GreaterThan(maxArea) {
		m.logger.WithContext(ctx).WithFields(map[string]any{"rental_object_id": id, "area": v}).Warn("area out of range; storing null")
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// price is 0 when missing, non-numeric, not finite, negative or too large for the column.
// Fractions are truncated.
func (m *Mapper) price(ctx context.Context, id string, record map[string]any) int {
	v, ok, err := m.evaluator.Number(fieldPrice, record)
	if err != nil || !ok {
		return 0
	}
	if math.IsNaN(v) || v < 0 || v >= maxPrice+1 {
		m.logger.WithContext(ctx).WithFields(map[string]any{"rental_object_id": id, "price": fmt.Sprint(v)}).Warn("price out of range; storing 0")
		return 0
	}
	return int(v)
}

func (m *Mapper) skip(ctx context.Context, feed models.Feed, index int, reason string) {
	m.logger.WithContext(ctx).WithFields(map[string]any{
		"feed":  string(feed),
		"index": index,
	}).Warnf("skipping feed record: %s", reason)
}

func (m *Mapper) logOutcome(ctx context.Context, feed models.Feed, processed, skipped int) {
	metrics.RecordMapperSkips(string(feed), skipped)
	m.logger.WithContext(ctx).WithFields(map[string]any{
		"feed":      string(feed),
		"processed": processed,
		"skipped":   skipped,
	}).Info("mapped feed response")
}

// rentalObjectID accepts string ids and numeric ids. Integral numbers keep their exact digits.
func rentalObjectID(record map[string]any) string {
	switch v := record[fieldRentalObjectID].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		if !strings.ContainsAny(v.String(), ".eE") {
			return v.String()
		}
		f, err := v.Float64()
		if err != nil {
			return ""
		}
		return strconv.FormatFloat(f, 'f', -1, 64)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func emptyErrors(v any) bool {
	switch e := v.(type) {
	case nil:
		return true
	case []any:
		return len(e) == 0
	case map[string]any:
		return len(e) == 0
	case string:
		return e == ""
	default:
		return false
	}
}
