package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"seawatch/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var reportColumnNames = []string{
	"id", "type", "st_x", "st_y", "title", "description", "species", "severity", "image_url",
	"submitted_by", "vessel_name", "vessel_type", "is_active", "created_at", "updated_at",
}

func newMockRepo(t *testing.T) (*ReportRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewReportRepository(db, NewOutboxRepository(db)), mock, db
}

func hotspotRow(id, owner uuid.UUID, at time.Time) []driver.Value {
	return []driver.Value{
		id.String(), "hotspot", -121.75, 36.25, "Whales", "Feeding", "Humpback Whale", "medium", nil,
		owner.String(), "Sea Breeze", "sailboat", true, at, at,
	}
}

func TestReportRepository_Create(t *testing.T) {
	repo, mock, _ := newMockRepo(t)
	now := time.Now().UTC()

	report := &model.Report{
		Body:        model.Hotspot{Species: "Humpback Whale"},
		Location:    model.NewLocation(-121.75, 36.25),
		Title:       "Whales",
		Description: "Feeding",
		Severity:    model.SeverityMedium,
		SubmittedBy: uuid.New(),
		VesselInfo:  model.VesselInfo{VesselName: "Sea Breeze", VesselType: "sailboat"},
		IsActive:    true,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO reports")).
		WithArgs(sqlmock.AnyArg(), "hotspot", -121.75, 36.25, "Whales", "Feeding",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "Sea Breeze", "sailboat", true).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox_messages")).
		WithArgs(sqlmock.AnyArg(), model.EventReportCreated, sqlmock.AnyArg(), OutboxPending).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	created, err := repo.Create(context.Background(), report)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, now, created.CreatedAt)
	assert.Equal(t, uuid.Nil, report.ID, "input must not be mutated")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepository_Create_OutboxFailureRollsBack(t *testing.T) {
	repo, mock, _ := newMockRepo(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO reports").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec("INSERT INTO outbox_messages").WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	_, err := repo.Create(context.Background(), &model.Report{
		Body:        model.Pollution{},
		Location:    model.NewLocation(1, 1),
		Title:       "Oil",
		Description: "Sheen",
		Severity:    model.SeverityLow,
		SubmittedBy: uuid.New(),
	})
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepository_GetByID(t *testing.T) {
	repo, mock, _ := newMockRepo(t)
	id, owner := uuid.New(), uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT .+ FROM reports WHERE id = \\$1").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(reportColumnNames).AddRow(hotspotRow(id, owner, now)...))

	report, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, id, report.ID)
	assert.Equal(t, model.Hotspot{Species: "Humpback Whale"}, report.Body)
	assert.Equal(t, [2]float64{-121.75, 36.25}, report.Location.Coordinates)
	assert.Equal(t, owner, report.SubmittedBy)
	assert.Nil(t, report.ImageURL)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepository_GetByID_NotFound(t *testing.T) {
	repo, mock, _ := newMockRepo(t)

	mock.ExpectQuery("SELECT .+ FROM reports").WillReturnRows(sqlmock.NewRows(reportColumnNames))

	_, err := repo.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReportRepository_Find(t *testing.T) {
	repo, mock, _ := newMockRepo(t)
	hotspot := model.TypeHotspot
	high := model.SeverityHigh

	mock.ExpectQuery(regexp.QuoteMeta("WHERE type = $1 AND severity = $2 AND is_active = TRUE ORDER BY created_at DESC LIMIT $3")).
		WithArgs(hotspot, high, 100).
		WillReturnRows(sqlmock.NewRows(reportColumnNames).
			AddRow(hotspotRow(uuid.New(), uuid.New(), time.Now())...))

	reports, err := repo.Find(context.Background(), model.ReportFilter{
		Type:     &hotspot,
		Severity: &high,
		Limit:    100,
	})
	require.NoError(t, err)
	assert.Len(t, reports, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepository_Find_BySubmitter(t *testing.T) {
	repo, mock, _ := newMockRepo(t)
	owner := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM reports WHERE submitted_by = $1 ORDER BY created_at DESC")).
		WithArgs(owner).
		WillReturnRows(sqlmock.NewRows(reportColumnNames))

	reports, err := repo.Find(context.Background(), model.ReportFilter{
		SubmittedBy:     &owner,
		IncludeInactive: true,
	})
	require.NoError(t, err)
	assert.Empty(t, reports)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepository_FindNear(t *testing.T) {
	repo, mock, _ := newMockRepo(t)
	now := time.Now()
	near, far := uuid.New(), uuid.New()

	columns := append(append([]string{}, reportColumnNames...), "distance")
	mock.ExpectQuery("ST_DWithin\\(location, .+, \\$3\\) AND is_active = TRUE\\s+ORDER BY distance ASC\\s+LIMIT \\$4").
		WithArgs(-121.76, 36.26, 5000.0, 20).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(append(hotspotRow(near, uuid.New(), now), 120.5)...).
			AddRow(append(hotspotRow(far, uuid.New(), now), 4000.0)...))

	reports, err := repo.FindNear(context.Background(), model.NearQuery{
		Location:          model.NewLocation(-121.76, 36.26),
		MaxDistanceMeters: 5000,
		Limit:             20,
		ActiveOnly:        true,
	})
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, near, reports[0].ID)
	assert.Equal(t, 120.5, *reports[0].DistanceMeters)
	assert.Equal(t, 4000.0, *reports[1].DistanceMeters)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepository_Update(t *testing.T) {
	repo, mock, _ := newMockRepo(t)
	id, owner := uuid.New(), uuid.New()
	title, species := "New title", "Orca"

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(
		"UPDATE reports SET updated_at = NOW(), title = $1, species = CASE WHEN type = 'hotspot' THEN $2 ELSE species END WHERE id = $3 RETURNING")).
		WithArgs(title, species, id).
		WillReturnRows(sqlmock.NewRows(reportColumnNames).AddRow(hotspotRow(id, owner, time.Now())...))
	mock.ExpectExec("INSERT INTO outbox_messages").
		WithArgs(sqlmock.AnyArg(), model.EventReportUpdated, sqlmock.AnyArg(), OutboxPending).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	_, err := repo.Update(context.Background(), id, model.ReportPatch{Title: &title, Species: &species})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepository_ToggleActive(t *testing.T) {
	repo, mock, _ := newMockRepo(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SET is_active = NOT is_active, updated_at = NOW() WHERE id = $1")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(reportColumnNames).AddRow(hotspotRow(id, uuid.New(), time.Now())...))
	mock.ExpectExec("INSERT INTO outbox_messages").
		WithArgs(sqlmock.AnyArg(), model.EventReportStatusToggled, sqlmock.AnyArg(), OutboxPending).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	report, err := repo.ToggleActive(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, report.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepository_ToggleActive_NotFound(t *testing.T) {
	repo, mock, _ := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("is_active = NOT is_active").WillReturnRows(sqlmock.NewRows(reportColumnNames))
	mock.ExpectRollback()

	_, err := repo.ToggleActive(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepository_Update_NotFound(t *testing.T) {
	repo, mock, _ := newMockRepo(t)
	title := "x"

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE reports").WillReturnRows(sqlmock.NewRows(reportColumnNames))
	mock.ExpectRollback()

	_, err := repo.Update(context.Background(), uuid.New(), model.ReportPatch{Title: &title})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepository_Delete(t *testing.T) {
	t.Run("deleted", func(t *testing.T) {
		repo, mock, _ := newMockRepo(t)
		id := uuid.New()

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM reports WHERE id = $1")).
			WithArgs(id).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO outbox_messages").
			WithArgs(sqlmock.AnyArg(), model.EventReportDeleted, sqlmock.AnyArg(), OutboxPending).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		deleted, err := repo.Delete(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, deleted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing", func(t *testing.T) {
		repo, mock, _ := newMockRepo(t)

		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM reports").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		deleted, err := repo.Delete(context.Background(), uuid.New())
		require.NoError(t, err)
		assert.False(t, deleted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUserRepository_FindByIDs(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewUserRepository(db)
	a, b := uuid.New(), uuid.New()
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = ANY($1::uuid[])")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "role", "vessel_name", "vessel_type", "is_active", "created_at"}).
			AddRow(a.String(), "Sam", "sam@example.com", "sailor", "Sea Breeze", "sailboat", true, now).
			AddRow(b.String(), "Ada", "ada@example.com", "admin", nil, nil, true, now))

	users, err := repo.FindByIDs(context.Background(), []uuid.UUID{a, b, uuid.New()})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "Sea Breeze", users[a].VesselName)
	assert.Equal(t, model.RoleAdmin, users[b].Role)
	assert.Empty(t, users[b].VesselName)
	assert.NoError(t, mock.ExpectationsWereMet())

	empty, err := repo.FindByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestOutboxRepository_Stats(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("COUNT(*) FILTER (WHERE status = 'pending')")).
		WillReturnRows(sqlmock.NewRows([]string{"pending", "published", "failed"}).AddRow(3, 10, 1))

	stats, err := NewOutboxRepository(db).Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutboxStats{Pending: 3, Published: 10, Failed: 1}, stats)
}

func TestOutboxRepository_RecordFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	id := uuid.New()
	mock.ExpectExec("UPDATE outbox_messages").
		WithArgs(id, "boom", MaxOutboxRetries, OutboxFailed).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewOutboxRepository(db).RecordFailure(context.Background(), id, errors.New("boom")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepository_ListPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	id, reportID := uuid.New(), uuid.New()
	payload := []byte(`{"report_id":"` + reportID.String() + `"}`)
	mock.ExpectQuery("FROM outbox_messages").
		WithArgs(OutboxPending, 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "routing_key", "payload", "retry_count", "created_at"}).
			AddRow(id.String(), model.EventReportCreated, payload, 2, time.Now()))

	messages, err := NewOutboxRepository(db).ListPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, id, messages[0].ID)
	assert.Equal(t, 2, messages[0].Attempts)

	event, err := messages[0].Event()
	require.NoError(t, err)
	assert.Equal(t, reportID.String(), event.ReportID)
}

func TestOutboxRepository_PurgePublished(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cutoff := time.Now().Add(-time.Hour)
	mock.ExpectExec("DELETE FROM outbox_messages").
		WithArgs(OutboxPublished, cutoff).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := NewOutboxRepository(db).PurgePublished(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}
