package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/heather/pkg/database"
	"github.com/Ramsey-B/heather/pkg/models"
	"github.com/jmoiron/sqlx"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// memState is the content of the in-memory store.
type memState struct {
	nextID    int64
	cities    map[string]models.City
	types     map[string]models.HousingType
	districts map[models.DistrictKey]models.District
	housings  map[string]models.Housing
}

func (s memState) copy() memState {
	c := memState{
		nextID:    s.nextID,
		cities:    make(map[string]models.City, len(s.cities)),
		types:     make(map[string]models.HousingType, len(s.types)),
		districts: make(map[models.DistrictKey]models.District, len(s.districts)),
		housings:  make(map[string]models.Housing, len(s.housings)),
	}
	for k, v := range s.cities {
		c.cities[k] = v
	}
	for k, v := range s.types {
		c.types[k] = v
	}
	for k, v := range s.districts {
		c.districts[k] = v
	}
	for k, v := range s.housings {
		c.housings[k] = v
	}
	return c
}

// memDB is an in-memory stand-in for the relational store. GetTx snapshots the state and a
// rollback restores it.
type memDB struct {
	mu     sync.Mutex
	state  memState
	writes int
	failOn map[string]error

	begun      int
	committed  int
	rolledBack int
}

func newMemDB() *memDB {
	return &memDB{
		state:  memState{}.copy(),
		failOn: map[string]error{},
	}
}

func (db *memDB) fail(op string) error {
	return db.failOn[op]
}

func (db *memDB) id() int64 {
	db.state.nextID++
	return db.state.nextID
}

func (db *memDB) GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, database.Tx, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.fail("GetTx"); err != nil {
		return ctx, nil, err
	}
	db.begun++
	return ctx, &memTx{db: db, snapshot: db.state.copy()}, nil
}

type memTx struct {
	db       *memDB
	snapshot memState
	closed   bool
}

var errNotSupported = errors.New("not supported by the in-memory store")

func (t *memTx) IsOpen() bool  { return !t.closed }
func (t *memTx) IsOwner() bool { return true }

func (t *memTx) Commit(ctx context.Context) error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.committed++
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.state = t.snapshot
	t.db.rolledBack++
	return nil
}

func (t *memTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return nil, errNotSupported
}

func (t *memTx) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	return errNotSupported
}

func (t *memTx) QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error) {
	return nil, errNotSupported
}

func (t *memTx) Rebind(query string) string { return query }

func (t *memTx) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	return errNotSupported
}

type memCities struct{ db *memDB }

func (s memCities) ListByNames(ctx context.Context, names []string) ([]models.City, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.City
	for _, n := range names {
		if c, ok := s.db.state.cities[n]; ok {
			out = append(out, c)
		}
	}
	return out, s.db.fail("cities.ListByNames")
}

func (s memCities) InsertNames(ctx context.Context, names []string, at time.Time) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail("cities.InsertNames"); err != nil {
		return 0, err
	}
	n := 0
	for _, name := range names {
		if _, ok := s.db.state.cities[name]; ok {
			continue
		}
		s.db.state.cities[name] = models.City{ID: s.db.id(), Name: name, CreatedAt: at, LastModifiedAt: at, LastImportedAt: at}
		s.db.writes++
		n++
	}
	return n, nil
}

func (s memCities) TouchImported(ctx context.Context, ids []int64, at time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for k, c := range s.db.state.cities {
		if containsID(ids, c.ID) {
			c.LastImportedAt = at
			s.db.state.cities[k] = c
		}
	}
	return nil
}

type memTypes struct{ db *memDB }

func (s memTypes) ListByNames(ctx context.Context, names []string) ([]models.HousingType, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.HousingType
	for _, n := range names {
		if t, ok := s.db.state.types[n]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s memTypes) InsertNames(ctx context.Context, names []string, at time.Time) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	n := 0
	for _, name := range names {
		if _, ok := s.db.state.types[name]; ok {
			continue
		}
		s.db.state.types[name] = models.HousingType{ID: s.db.id(), Name: name, CreatedAt: at, LastModifiedAt: at, LastImportedAt: at}
		s.db.writes++
		n++
	}
	return n, nil
}

func (s memTypes) TouchImported(ctx context.Context, ids []int64, at time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for k, t := range s.db.state.types {
		if containsID(ids, t.ID) {
			t.LastImportedAt = at
			s.db.state.types[k] = t
		}
	}
	return nil
}

type memDistricts struct{ db *memDB }

func (s memDistricts) ListByCityIDs(ctx context.Context, cityIDs []int64) ([]models.District, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.District
	for _, d := range s.db.state.districts {
		if containsID(cityIDs, d.CityID) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s memDistricts) Insert(ctx context.Context, keys []models.DistrictKey, at time.Time) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	n := 0
	for _, key := range keys {
		if _, ok := s.db.state.districts[key]; ok {
			continue
		}
		s.db.state.districts[key] = models.District{ID: s.db.id(), CityID: key.CityID, Name: key.Name, CreatedAt: at, LastModifiedAt: at, LastImportedAt: at}
		s.db.writes++
		n++
	}
	return n, nil
}

func (s memDistricts) TouchImported(ctx context.Context, ids []int64, at time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for k, d := range s.db.state.districts {
		if containsID(ids, d.ID) {
			d.LastImportedAt = at
			s.db.state.districts[k] = d
		}
	}
	return nil
}

type memHousings struct{ db *memDB }

func (s memHousings) Count(ctx context.Context) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return len(s.db.state.housings), nil
}

func (s memHousings) ListByIDs(ctx context.Context, ids []string) ([]models.HousingView, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.HousingView
	for _, id := range ids {
		h, ok := s.db.state.housings[id]
		if !ok {
			continue
		}
		view := models.HousingView{Housing: h}
		for _, t := range s.db.state.types {
			if t.ID == h.HousingTypeID {
				view.HousingTypeName = t.Name
			}
		}
		for _, d := range s.db.state.districts {
			if d.ID == h.DistrictID {
				view.DistrictName = d.Name
				for _, c := range s.db.state.cities {
					if c.ID == d.CityID {
						view.CityName = c.Name
					}
				}
			}
		}
		out = append(out, view)
	}
	return out, nil
}

func (s memHousings) Insert(ctx context.Context, housings []models.Housing) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, h := range housings {
		if _, ok := s.db.state.housings[h.RentalObjectID]; ok {
			return errors.New("duplicate key value violates unique constraint")
		}
		s.db.state.housings[h.RentalObjectID] = h
		s.db.writes++
	}
	return nil
}

func (s memHousings) Update(ctx context.Context, h models.Housing) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail("housings.Update"); err != nil {
		return err
	}
	current, ok := s.db.state.housings[h.RentalObjectID]
	if !ok {
		return errors.New("not found")
	}
	current.Name = h.Name
	current.Address = h.Address
	current.HousingTypeID = h.HousingTypeID
	current.DistrictID = h.DistrictID
	current.Area = h.Area
	current.PricePerMonth = h.PricePerMonth
	current.LastModifiedAt = h.LastModifiedAt
	current.LastImportedAt = h.LastImportedAt
	s.db.state.housings[h.RentalObjectID] = current
	s.db.writes++
	return nil
}

func (s memHousings) TouchImported(ctx context.Context, ids []string, at time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, id := range ids {
		if h, ok := s.db.state.housings[id]; ok {
			h.LastImportedAt = at
			s.db.state.housings[id] = h
		}
	}
	return nil
}

func (s memHousings) MarkAvailable(ctx context.Context, ids []string) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	n := 0
	for _, id := range ids {
		if h, ok := s.db.state.housings[id]; ok && !h.IsAvailable {
			h.IsAvailable = true
			s.db.state.housings[id] = h
			s.db.writes++
			n++
		}
	}
	return n, nil
}

func (s memHousings) MarkUnavailableExcept(ctx context.Context, ids []string) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail("housings.MarkUnavailableExcept"); err != nil {
		return 0, err
	}
	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}
	n := 0
	for id, h := range s.db.state.housings {
		if _, ok := keep[id]; ok || !h.IsAvailable {
			continue
		}
		h.IsAvailable = false
		h.AvailableFrom = nil
		s.db.state.housings[id] = h
		s.db.writes++
		n++
	}
	return n, nil
}

func (s memHousings) ListAvailability(ctx context.Context, ids []string) ([]models.HousingAvailability, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.HousingAvailability
	for _, id := range ids {
		if h, ok := s.db.state.housings[id]; ok {
			out = append(out, models.HousingAvailability{RentalObjectID: id, IsAvailable: h.IsAvailable, AvailableFrom: h.AvailableFrom})
		}
	}
	return out, nil
}

func (s memHousings) UpdateAvailableFrom(ctx context.Context, id string, date *models.Date) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	h := s.db.state.housings[id]
	h.AvailableFrom = date
	s.db.state.housings[id] = h
	s.db.writes++
	return nil
}

func (db *memDB) housing(id string) models.Housing {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.state.housings[id]
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// catalogFeed serves a scripted snapshot. When block is set, Fetch waits on it.
type catalogFeed struct {
	mu       sync.Mutex
	listings []models.Listing
	err      error
	calls    int
	started  chan struct{}
	block    chan struct{}
}

func (f *catalogFeed) Fetch(ctx context.Context) ([]models.Listing, error) {
	f.mu.Lock()
	f.calls++
	started := f.started
	f.started = nil
	f.mu.Unlock()
	if started != nil {
		close(started)
	}
	if f.block != nil {
		<-f.block
	}
	return f.listings, f.err
}

type availabilityFeed struct {
	entries []models.AvailabilityEntry
	err     error
	calls   int
}

func (f *availabilityFeed) Fetch(ctx context.Context) ([]models.AvailabilityEntry, error) {
	f.calls++
	return f.entries, f.err
}

type recordedRun struct {
	status models.RunStatus
	counts map[string]int
	err    error
}

type memRuns struct {
	mu       sync.Mutex
	created  []*models.ImportRun
	finished []recordedRun
}

func (m *memRuns) Create(ctx context.Context, feed models.Feed, trigger models.Trigger) (*models.ImportRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := &models.ImportRun{ID: "run-" + string(feed), Feed: feed, Trigger: trigger, Status: models.RunStatusRunning}
	m.created = append(m.created, run)
	return run, nil
}

func (m *memRuns) Finish(ctx context.Context, run *models.ImportRun, status models.RunStatus, counts map[string]int, runErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run.Status = status
	m.finished = append(m.finished, recordedRun{status: status, counts: counts, err: runErr})
	return nil
}

type memEvents struct {
	events []*models.ImportEvent
	err    error
}

func (m *memEvents) PublishImportEvent(ctx context.Context, evt *models.ImportEvent) error {
	m.events = append(m.events, evt)
	return m.err
}

// stepClock returns t0 and then advances by step on every call.
func stepClock(t0 time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	next := t0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := next
		next = next.Add(step)
		return now
	}
}

func newCatalog(db *memDB, feed CatalogSource, opts ...Option) *CatalogReconciler {
	return NewCatalogReconciler(feed, db, CatalogStores{
		Cities:       memCities{db},
		HousingTypes: memTypes{db},
		Districts:    memDistricts{db},
		Housings:     memHousings{db},
	}, testLogger(), opts...)
}

func newAvailability(db *memDB, feed AvailabilitySource, opts ...Option) *AvailabilityReconciler {
	return NewAvailabilityReconciler(feed, db, memHousings{db}, testLogger(), opts...)
}
