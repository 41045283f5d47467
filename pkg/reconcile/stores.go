package reconcile

import (
	"context"
	"database/sql"
	"time"

	"github.com/Ramsey-B/heather/pkg/database"
	"github.com/Ramsey-B/heather/pkg/models"
)

// UnitOfWork opens the transaction a reconciliation runs in. Stores called with the
// returned context join it.
type UnitOfWork interface {
	GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, database.Tx, error)
}

// NameStore is a reference table keyed by name.
type NameStore[T any] interface {
	ListByNames(ctx context.Context, names []string) ([]T, error)
	InsertNames(ctx context.Context, names []string, at time.Time) (int, error)
	TouchImported(ctx context.Context, ids []int64, at time.Time) error
}

// DistrictStore holds districts keyed by name within a city.
type DistrictStore interface {
	ListByCityIDs(ctx context.Context, cityIDs []int64) ([]models.District, error)
	Insert(ctx context.Context, keys []models.DistrictKey, at time.Time) (int, error)
	TouchImported(ctx context.Context, ids []int64, at time.Time) error
}

// CatalogHousingStore is the housing table as the catalog run sees it.
type CatalogHousingStore interface {
	ListByIDs(ctx context.Context, ids []string) ([]models.HousingView, error)
	Insert(ctx context.Context, housings []models.Housing) error
	Update(ctx context.Context, h models.Housing) error
	TouchImported(ctx context.Context, ids []string, at time.Time) error
}

// AvailabilityHousingStore is the housing table as the availability run sees it.
type AvailabilityHousingStore interface {
	Count(ctx context.Context) (int, error)
	MarkAvailable(ctx context.Context, ids []string) (int, error)
	MarkUnavailableExcept(ctx context.Context, ids []string) (int, error)
	ListAvailability(ctx context.Context, ids []string) ([]models.HousingAvailability, error)
	UpdateAvailableFrom(ctx context.Context, id string, date *models.Date) error
}

// CatalogSource yields the full listing snapshot.
type CatalogSource interface {
	Fetch(ctx context.Context) ([]models.Listing, error)
}

// AvailabilitySource yields the availability snapshot.
type AvailabilitySource interface {
	Fetch(ctx context.Context) ([]models.AvailabilityEntry, error)
}

// RunRecorder keeps run history.
type RunRecorder interface {
	Create(ctx context.Context, feed models.Feed, trigger models.Trigger) (*models.ImportRun, error)
	Finish(ctx context.Context, run *models.ImportRun, status models.RunStatus, counts map[string]int, runErr error) error
}

// EventPublisher announces finished runs.
type EventPublisher interface {
	PublishImportEvent(ctx context.Context, evt *models.ImportEvent) error
}
