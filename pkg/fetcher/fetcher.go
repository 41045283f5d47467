package fetcher

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	importerrors "github.com/Ramsey-B/heather/pkg/errors"
	"github.com/Ramsey-B/heather/pkg/feed"
	"github.com/Ramsey-B/heather/pkg/metrics"
	"github.com/Ramsey-B/heather/pkg/models"
	"github.com/Ramsey-B/heather/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
)

type ListingMapper interface {
	MapListings(ctx context.Context, raw string) ([]models.Listing, error)
}

type AvailabilityMapper interface {
	MapAvailability(ctx context.Context, raw string) ([]models.AvailabilityEntry, error)
}

type Option func(*base)

// WithSleeper replaces the wait between attempts.
func WithSleeper(s Sleeper) Option {
	return func(b *base) {
		b.sleep = s
	}
}

type base struct {
	executor feed.Executor
	policy   RetryPolicy
	logger   ectologger.Logger
	sleep    Sleeper
}

func newBase(executor feed.Executor, policy RetryPolicy, logger ectologger.Logger, opts []Option) base {
	b := base{
		executor: executor,
		policy:   policy.normalized(),
		logger:   logger,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// CatalogFetcher fetches and maps the full listing snapshot.
type CatalogFetcher struct {
	base
	mapper ListingMapper
	query  feed.Query
}

func NewCatalogFetcher(executor feed.Executor, mapper ListingMapper, policy RetryPolicy, logger ectologger.Logger, opts ...Option) *CatalogFetcher {
	return &CatalogFetcher{
		base:   newBase(executor, policy, logger, opts),
		mapper: mapper,
		query:  feed.CatalogQuery(),
	}
}

func (f *CatalogFetcher) Fetch(ctx context.Context) ([]models.Listing, error) {
	return fetch(ctx, f.base, models.FeedCatalog, f.query, f.mapper.MapListings)
}

// AvailabilityFetcher fetches and maps the availability snapshot.
type AvailabilityFetcher struct {
	base
	mapper AvailabilityMapper
	query  feed.Query
}

func NewAvailabilityFetcher(executor feed.Executor, mapper AvailabilityMapper, policy RetryPolicy, logger ectologger.Logger, opts ...Option) *AvailabilityFetcher {
	return &AvailabilityFetcher{
		base:   newBase(executor, policy, logger, opts),
		mapper: mapper,
		query:  feed.AvailabilityQuery(),
	}
}

func (f *AvailabilityFetcher) Fetch(ctx context.Context) ([]models.AvailabilityEntry, error) {
	return fetch(ctx, f.base, models.FeedAvailability, f.query, f.mapper.MapAvailability)
}

// fetch runs execute+map under the retry policy. Non-transient errors return at once and
// unchanged. Exhausting the attempts returns an error of the last transient kind.
func fetch[T any](ctx context.Context, b base, name models.Feed, query feed.Query, mapFn func(context.Context, string) ([]T, error)) ([]T, error) {
	ctx, span := tracing.StartSpan(ctx, "fetcher.fetch", attribute.String("feed", string(name)))
	defer span.End()

	body, err := query.Body()
	if err != nil {
		return nil, importerrors.InvalidArgument(err.Error()).AddFeed(string(name))
	}

	log := b.logger.WithContext(ctx).WithFields(map[string]any{"feed": string(name)})

	var last *importerrors.ImportError
	for attempt := 1; attempt <= b.policy.MaxAttempts; attempt++ {
		records, err := attemptOnce(ctx, b.executor, body, mapFn)
		if err == nil {
			metrics.RecordFetchAttempt(string(name), "success")
			span.SetAttributes(attribute.Int("attempts", attempt), attribute.Int("records", len(records)))
			log.WithFields(map[string]any{"attempt": attempt, "records": len(records)}).Info("fetched feed snapshot")
			return records, nil
		}

		if !importerrors.IsTransient(err) {
			metrics.RecordFetchAttempt(string(name), "error")
			tracing.RecordError(span, err)
			log.WithError(err).Error("feed fetch failed with a non-retryable error")
			return nil, err
		}

		metrics.RecordFetchAttempt(string(name), "transient_error")
		last, _ = importerrors.AsImportError(err)

		if attempt == b.policy.MaxAttempts {
			break
		}

		delay := CalculateBackoff(b.policy, attempt)
		log.WithError(err).Warnf("Retrying in %v (attempt %d/%d)", delay, attempt, b.policy.MaxAttempts)
		if sleepErr := b.sleep(ctx, delay); sleepErr != nil {
			cancelled := importerrors.Transport(fmt.Sprintf("%s fetch cancelled after %d attempts", name, attempt), sleepErr).
				AddFeed(string(name)).
				AddAttempts(attempt)
			tracing.RecordError(span, cancelled)
			return nil, cancelled
		}
	}

	exhausted := &importerrors.ImportError{
		Kind:     last.Kind,
		Message:  fmt.Sprintf("%s fetch failed after %d attempts", name, b.policy.MaxAttempts),
		Feed:     string(name),
		Attempts: b.policy.MaxAttempts,
		Cause:    last,
	}
	tracing.RecordError(span, exhausted)
	log.WithError(last).Errorf("feed fetch failed after %d attempts", b.policy.MaxAttempts)
	return nil, exhausted
}

func attemptOnce[T any](ctx context.Context, executor feed.Executor, body string, mapFn func(context.Context, string) ([]T, error)) ([]T, error) {
	raw, err := executor.Execute(ctx, body)
	if err != nil {
		return nil, err
	}
	return mapFn(ctx, raw)
}
