package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"seawatch/internal/model"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

var ErrNotFound = errors.New("not found")

const reportColumns = `id, type, ST_X(location::geometry), ST_Y(location::geometry), title, description,
	species, severity, image_url, submitted_by, vessel_name, vessel_type, is_active, created_at, updated_at`

// ReportRepository stores reports in PostgreSQL with PostGIS. Every write also
// records an outbox message in the same transaction when an outbox is set.
type ReportRepository struct {
	db     *sql.DB
	outbox *OutboxRepository
}

func NewReportRepository(db *sql.DB, outbox *OutboxRepository) *ReportRepository {
	return &ReportRepository{db: db, outbox: outbox}
}

func (r *ReportRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *ReportRepository) Create(ctx context.Context, report *model.Report) (*model.Report, error) {
	created := *report
	if created.ID == uuid.Nil {
		created.ID = uuid.New()
	}
	created.Submitter = nil
	created.DistanceMeters = nil

	species, _ := created.Species()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO reports (id, type, location, title, description, species, severity, image_url,
			submitted_by, vessel_name, vessel_type, is_active)
		VALUES ($1, $2, ST_SetSRID(ST_MakePoint($3, $4), 4326)::geography, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`
	err = tx.QueryRowContext(ctx, query,
		created.ID,
		created.Type(),
		created.Location.Longitude(),
		created.Location.Latitude(),
		created.Title,
		created.Description,
		nullString(species),
		created.Severity,
		created.ImageURL,
		created.SubmittedBy,
		created.VesselInfo.VesselName,
		created.VesselInfo.VesselType,
		created.IsActive,
	).Scan(&created.CreatedAt, &created.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := r.record(ctx, tx, model.EventReportCreated, model.NewReportEvent(&created)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &created, nil
}

func (r *ReportRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE id = $1`

	report, err := scanReport(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return report, nil
}

// Find lists reports matching filter. Listing by submitter uses the
// (submitted_by, created_at DESC) index; type/severity use (type, severity).
func (r *ReportRepository) Find(ctx context.Context, filter model.ReportFilter) ([]model.Report, error) {
	var (
		conditions []string
		args       []interface{}
	)
	argIndex := 1

	if filter.Type != nil {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argIndex))
		args = append(args, *filter.Type)
		argIndex++
	}
	if filter.Severity != nil {
		conditions = append(conditions, fmt.Sprintf("severity = $%d", argIndex))
		args = append(args, *filter.Severity)
		argIndex++
	}
	if filter.SubmittedBy != nil {
		conditions = append(conditions, fmt.Sprintf("submitted_by = $%d", argIndex))
		args = append(args, *filter.SubmittedBy)
		argIndex++
	}
	if !filter.IncludeInactive {
		conditions = append(conditions, "is_active = TRUE")
	}

	query := `SELECT ` + reportColumns + ` FROM reports`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	if filter.Sort == model.SortOldest {
		query += " ORDER BY created_at ASC"
	} else {
		query += " ORDER BY created_at DESC"
	}
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []model.Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *report)
	}
	return reports, rows.Err()
}

// FindNear returns reports within q.MaxDistanceMeters of q.Location, nearest
// first. The GiST index on location serves ST_DWithin.
func (r *ReportRepository) FindNear(ctx context.Context, q model.NearQuery) ([]model.Report, error) {
	query := `
		SELECT ` + reportColumns + `,
			ST_Distance(location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography) AS distance
		FROM reports
		WHERE ST_DWithin(location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)`
	if q.ActiveOnly {
		query += ` AND is_active = TRUE`
	}
	query += `
		ORDER BY distance ASC
		LIMIT $4`

	rows, err := r.db.QueryContext(ctx, query,
		q.Location.Longitude(),
		q.Location.Latitude(),
		q.MaxDistanceMeters,
		q.Limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []model.Report
	for rows.Next() {
		var distance float64
		report, err := scanReport(rows, &distance)
		if err != nil {
			return nil, err
		}
		report.DistanceMeters = &distance
		reports = append(reports, *report)
	}
	return reports, rows.Err()
}

// Update applies patch in a single statement. Species is only written to
// hotspot rows, whatever the caller sends.
func (r *ReportRepository) Update(ctx context.Context, id uuid.UUID, patch model.ReportPatch) (*model.Report, error) {
	query := `UPDATE reports SET updated_at = NOW()`
	args := []interface{}{}
	argIndex := 1

	set := func(column string, value interface{}) {
		query += fmt.Sprintf(", %s = $%d", column, argIndex)
		args = append(args, value)
		argIndex++
	}

	if patch.Title != nil {
		set("title", *patch.Title)
	}
	if patch.Description != nil {
		set("description", *patch.Description)
	}
	if patch.Species != nil {
		query += fmt.Sprintf(", species = CASE WHEN type = 'hotspot' THEN $%d ELSE species END", argIndex)
		args = append(args, *patch.Species)
		argIndex++
	}
	if patch.Severity != nil {
		set("severity", *patch.Severity)
	}
	if patch.ImageURL != nil {
		set("image_url", *patch.ImageURL)
	}

	query += fmt.Sprintf(" WHERE id = $%d RETURNING %s", argIndex, reportColumns)
	args = append(args, id)

	return r.updateReturning(ctx, model.EventReportUpdated, query, args...)
}

// ToggleActive flips is_active on the server so concurrent toggles never
// write the same value twice.
func (r *ReportRepository) ToggleActive(ctx context.Context, id uuid.UUID) (*model.Report, error) {
	query := `UPDATE reports SET is_active = NOT is_active, updated_at = NOW() WHERE id = $1 RETURNING ` + reportColumns
	return r.updateReturning(ctx, model.EventReportStatusToggled, query, id)
}

func (r *ReportRepository) updateReturning(ctx context.Context, routingKey, query string, args ...interface{}) (*model.Report, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	report, err := scanReport(tx.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if err := r.record(ctx, tx, routingKey, model.NewReportEvent(report)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return report, nil
}

func (r *ReportRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM reports WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rowsAffected == 0 {
		return false, nil
	}

	if err := r.record(ctx, tx, model.EventReportDeleted, model.DeletedReportEvent(id)); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (r *ReportRepository) record(ctx context.Context, tx *sql.Tx, routingKey string, event model.ReportEvent) error {
	if r.outbox == nil {
		return nil
	}
	return r.outbox.Record(ctx, tx, routingKey, event)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanReport reads reportColumns followed by any extra destinations.
func scanReport(row rowScanner, extra ...interface{}) (*model.Report, error) {
	report := &model.Report{}
	var (
		reportType string
		severity   string
		lon, lat   float64
		species    sql.NullString
		imageURL   sql.NullString
	)

	dest := []interface{}{
		&report.ID,
		&reportType,
		&lon,
		&lat,
		&report.Title,
		&report.Description,
		&species,
		&severity,
		&imageURL,
		&report.SubmittedBy,
		&report.VesselInfo.VesselName,
		&report.VesselInfo.VesselType,
		&report.IsActive,
		&report.CreatedAt,
		&report.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	var speciesPtr *string
	if species.Valid {
		speciesPtr = &species.String
	}
	report.Body = model.BodyOf(model.ReportType(reportType), speciesPtr)
	report.Severity = model.Severity(severity)
	report.Location = model.NewLocation(lon, lat)
	if imageURL.Valid {
		report.ImageURL = &imageURL.String
	}
	return report, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
