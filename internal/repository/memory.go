package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"seawatch/internal/model"

	"github.com/google/uuid"
	"github.com/paulmach/orb/geo"
)

// MemoryReportRepository keeps reports in process memory. It serves the
// memory storage driver and the service tests.
type MemoryReportRepository struct {
	mu      sync.RWMutex
	reports map[uuid.UUID]model.Report
	now     func() time.Time
	last    time.Time
}

func NewMemoryReportRepository() *MemoryReportRepository {
	return &MemoryReportRepository{
		reports: make(map[uuid.UUID]model.Report),
		now:     time.Now,
	}
}

func (r *MemoryReportRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

// tick returns a timestamp strictly after the previous one so that
// createdAt ordering is total. Callers hold mu.
func (r *MemoryReportRepository) tick() time.Time {
	t := r.now().UTC()
	if !t.After(r.last) {
		t = r.last.Add(time.Microsecond)
	}
	r.last = t
	return t
}

func (r *MemoryReportRepository) Create(ctx context.Context, report *model.Report) (*model.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	created := *report
	if created.ID == uuid.Nil {
		created.ID = uuid.New()
	}
	created.Submitter = nil
	created.DistanceMeters = nil
	created.CreatedAt = r.tick()
	created.UpdatedAt = created.CreatedAt

	r.reports[created.ID] = created
	return cloneReport(created), nil
}

func (r *MemoryReportRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	report, ok := r.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneReport(report), nil
}

func (r *MemoryReportRepository) Find(ctx context.Context, filter model.ReportFilter) ([]model.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	var reports []model.Report
	for _, report := range r.reports {
		if filter.Type != nil && report.Type() != *filter.Type {
			continue
		}
		if filter.Severity != nil && report.Severity != *filter.Severity {
			continue
		}
		if filter.SubmittedBy != nil && report.SubmittedBy != *filter.SubmittedBy {
			continue
		}
		if !filter.IncludeInactive && !report.IsActive {
			continue
		}
		reports = append(reports, *cloneReport(report))
	}
	r.mu.RUnlock()

	sort.Slice(reports, func(i, j int) bool {
		if filter.Sort == model.SortOldest {
			return reports[i].CreatedAt.Before(reports[j].CreatedAt)
		}
		return reports[i].CreatedAt.After(reports[j].CreatedAt)
	})
	if filter.Limit > 0 && len(reports) > filter.Limit {
		reports = reports[:filter.Limit]
	}
	return reports, nil
}

// FindNear measures great-circle distance with the haversine formula.
func (r *MemoryReportRepository) FindNear(ctx context.Context, q model.NearQuery) ([]model.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	origin := q.Location.Point()

	r.mu.RLock()
	var reports []model.Report
	for _, report := range r.reports {
		if q.ActiveOnly && !report.IsActive {
			continue
		}
		distance := geo.DistanceHaversine(origin, report.Location.Point())
		if distance > q.MaxDistanceMeters {
			continue
		}
		found := cloneReport(report)
		found.DistanceMeters = &distance
		reports = append(reports, *found)
	}
	r.mu.RUnlock()

	sort.SliceStable(reports, func(i, j int) bool {
		return *reports[i].DistanceMeters < *reports[j].DistanceMeters
	})
	if q.Limit > 0 && len(reports) > q.Limit {
		reports = reports[:q.Limit]
	}
	return reports, nil
}

func (r *MemoryReportRepository) Update(ctx context.Context, id uuid.UUID, patch model.ReportPatch) (*model.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	report, ok := r.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	patch.Apply(&report)
	report.UpdatedAt = r.tick()
	r.reports[id] = report
	return cloneReport(report), nil
}

func (r *MemoryReportRepository) ToggleActive(ctx context.Context, id uuid.UUID) (*model.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	report, ok := r.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	report.IsActive = !report.IsActive
	report.UpdatedAt = r.tick()
	r.reports[id] = report
	return cloneReport(report), nil
}

func (r *MemoryReportRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.reports[id]; !ok {
		return false, nil
	}
	delete(r.reports, id)
	return true, nil
}

func cloneReport(report model.Report) *model.Report {
	if report.ImageURL != nil {
		url := *report.ImageURL
		report.ImageURL = &url
	}
	return &report
}

// MemoryUserDirectory is an in-process identity lookup.
type MemoryUserDirectory struct {
	mu    sync.RWMutex
	users map[uuid.UUID]model.User
}

func NewMemoryUserDirectory(users ...model.User) *MemoryUserDirectory {
	d := &MemoryUserDirectory{users: make(map[uuid.UUID]model.User)}
	for _, u := range users {
		d.Add(u)
	}
	return d
}

func (d *MemoryUserDirectory) Add(user model.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[user.ID] = user
}

func (d *MemoryUserDirectory) FindByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	user, ok := d.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &user, nil
}

func (d *MemoryUserDirectory) FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	users := make(map[uuid.UUID]*model.User, len(ids))
	for _, id := range ids {
		if user, ok := d.users[id]; ok {
			u := user
			users[id] = &u
		}
	}
	return users, nil
}
