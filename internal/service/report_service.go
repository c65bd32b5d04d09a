package service

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"seawatch/internal/errs"
	"seawatch/internal/model"
	"seawatch/internal/policy"
	"seawatch/internal/repository"
	"seawatch/internal/validator"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	DefaultListLimit   = 100
	MaxListLimit       = 1000
	NearbyLimit        = 20
	DefaultMaxDistance = 50000.0
)

// ReportStore is the persistence contract the service relies on. Lookups of
// a missing id return repository.ErrNotFound.
type ReportStore interface {
	Ping(ctx context.Context) error
	Create(ctx context.Context, report *model.Report) (*model.Report, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Report, error)
	Find(ctx context.Context, filter model.ReportFilter) ([]model.Report, error)
	FindNear(ctx context.Context, q model.NearQuery) ([]model.Report, error)
	Update(ctx context.Context, id uuid.UUID, patch model.ReportPatch) (*model.Report, error)
	ToggleActive(ctx context.Context, id uuid.UUID) (*model.Report, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
}

// UserDirectory looks up user profiles held by the identity service.
type UserDirectory interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.User, error)
}

type ReportService struct {
	store ReportStore
	users UserDirectory
	log   logrus.FieldLogger
}

func NewReportService(store ReportStore, users UserDirectory, log logrus.FieldLogger) *ReportService {
	return &ReportService{
		store: store,
		users: users,
		log:   log.WithField("component", "report_service"),
	}
}

// Validates and persists a new report owned by actor. The vessel snapshot is
// taken from the actor's profile at this moment.
func (s *ReportService) CreateReport(ctx context.Context, actor model.Actor, req model.CreateReportRequest) (*model.Report, error) {
	const op = "CreateReport"

	if err := s.authorize(op, actor, uuid.Nil, policy.ActionCreate); err != nil {
		return nil, err
	}

	payload, fields := validator.ValidateCreate(req)
	if len(fields) > 0 {
		return nil, errs.Validation(op, fields)
	}

	submitter, err := s.lookupSubmitter(ctx, actor)
	if err != nil {
		return nil, s.internal(op, err)
	}

	severity := model.DefaultSeverity
	if payload.Severity != nil {
		severity = *payload.Severity
	}

	report := &model.Report{
		Body:        payload.Body,
		Location:    payload.Location,
		Title:       payload.Title,
		Description: payload.Description,
		Severity:    severity,
		ImageURL:    payload.ImageURL,
		SubmittedBy: actor.ID,
		VesselInfo: model.VesselInfo{
			VesselName: submitter.VesselName,
			VesselType: submitter.VesselType,
		},
		IsActive: true,
	}

	created, err := s.store.Create(ctx, report)
	if err != nil {
		return nil, s.internal(op, err)
	}
	created.Submitter = submitter

	s.log.WithFields(logrus.Fields{
		"report_id": created.ID,
		"type":      created.Type(),
		"actor_id":  actor.ID,
	}).Info("report created")
	return created, nil
}

// Lists reports. Unknown type or severity values are ignored rather than
// rejected.
func (s *ReportService) ListReports(ctx context.Context, actor model.Actor, q model.ListReportsQuery) (*model.ReportListResponse, error) {
	const op = "ListReports"

	if err := s.authorize(op, actor, uuid.Nil, policy.ActionRead); err != nil {
		return nil, err
	}

	reports, err := s.store.Find(ctx, listFilter(q))
	if err != nil {
		return nil, s.internal(op, err)
	}
	if err := s.populateSubmitters(ctx, reports); err != nil {
		return nil, s.internal(op, err)
	}
	return model.NewReportList(reports), nil
}

// Returns active reports for the map feed. includeInactive is not honored.
func (s *ReportService) MapReports(ctx context.Context, q model.ListReportsQuery) ([]model.Report, error) {
	const op = "MapReports"

	filter := listFilter(q)
	filter.IncludeInactive = false

	reports, err := s.store.Find(ctx, filter)
	if err != nil {
		return nil, s.internal(op, err)
	}
	return reports, nil
}

// Returns every report submitted by actor, active or not, newest first.
func (s *ReportService) GetMyReports(ctx context.Context, actor model.Actor) (*model.ReportListResponse, error) {
	const op = "GetMyReports"

	if !actor.Authenticated() {
		return nil, errs.E(errs.KindUnauthorized, op, "authentication required", nil)
	}

	id := actor.ID
	reports, err := s.store.Find(ctx, model.ReportFilter{
		SubmittedBy:     &id,
		IncludeInactive: true,
		Sort:            model.SortNewest,
	})
	if err != nil {
		return nil, s.internal(op, err)
	}
	if err := s.populateSubmitters(ctx, reports); err != nil {
		return nil, s.internal(op, err)
	}
	return model.NewReportList(reports), nil
}

func (s *ReportService) GetReportByID(ctx context.Context, rawID string) (*model.Report, error) {
	const op = "GetReportByID"

	report, err := s.fetch(ctx, op, rawID)
	if err != nil {
		return nil, err
	}
	if err := s.populateSubmitter(ctx, report); err != nil {
		return nil, s.internal(op, err)
	}
	return report, nil
}

// Applies a partial update. Immutable fields in the payload (type,
// coordinates, species on a pollution report) are dropped without error.
func (s *ReportService) UpdateReport(ctx context.Context, actor model.Actor, rawID string, req model.UpdateReportRequest) (*model.Report, error) {
	return s.UpdateReportFrom(ctx, actor, rawID, func(dst *model.UpdateReportRequest) error {
		*dst = req
		return nil
	})
}

// UpdateDecoder fills in the update request, typically from a request body.
type UpdateDecoder func(req *model.UpdateReportRequest) error

// UpdateReportFrom runs decode only once the report exists and the actor may
// edit it, so a malformed body never hides a 404 or 401/403.
func (s *ReportService) UpdateReportFrom(ctx context.Context, actor model.Actor, rawID string, decode UpdateDecoder) (*model.Report, error) {
	const op = "UpdateReport"

	report, err := s.fetch(ctx, op, rawID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(op, actor, report.SubmittedBy, policy.ActionUpdate); err != nil {
		return nil, err
	}

	var req model.UpdateReportRequest
	if err := decode(&req); err != nil {
		return nil, err
	}

	patch, ignored, fields := validator.ValidateUpdate(req, report.Type())
	if len(fields) > 0 {
		return nil, errs.Validation(op, fields)
	}
	if len(ignored) > 0 {
		s.log.WithFields(logrus.Fields{
			"report_id": report.ID,
			"ignored":   strings.Join(ignored, ","),
		}).Debug("update payload carried immutable fields")
	}

	updated, err := s.store.Update(ctx, report.ID, patch)
	if err != nil {
		return nil, s.storeError(op, err)
	}
	if err := s.populateSubmitter(ctx, updated); err != nil {
		return nil, s.internal(op, err)
	}
	return updated, nil
}

func (s *ReportService) DeleteReport(ctx context.Context, actor model.Actor, rawID string) error {
	const op = "DeleteReport"

	report, err := s.fetch(ctx, op, rawID)
	if err != nil {
		return err
	}
	if err := s.authorize(op, actor, report.SubmittedBy, policy.ActionDelete); err != nil {
		return err
	}

	deleted, err := s.store.Delete(ctx, report.ID)
	if err != nil {
		return s.internal(op, err)
	}
	if !deleted {
		return errs.E(errs.KindReportNotFound, op, "report not found", nil)
	}

	s.log.WithFields(logrus.Fields{
		"report_id": report.ID,
		"actor_id":  actor.ID,
	}).Info("report deleted")
	return nil
}

// Finds active reports near a point, nearest first, annotated with their
// distance in meters.
func (s *ReportService) FindNearby(ctx context.Context, q model.NearbyQuery) (*model.ReportListResponse, error) {
	const op = "FindNearby"

	location, maxDistance, fields := validator.ValidateNearby(q, DefaultMaxDistance)
	if len(fields) > 0 {
		return nil, errs.Validation(op, fields)
	}

	reports, err := s.store.FindNear(ctx, model.NearQuery{
		Location:          location,
		MaxDistanceMeters: maxDistance,
		Limit:             NearbyLimit,
		ActiveOnly:        true,
	})
	if err != nil {
		return nil, s.internal(op, err)
	}
	if err := s.populateSubmitters(ctx, reports); err != nil {
		return nil, s.internal(op, err)
	}
	return model.NewReportList(reports), nil
}

// Flips isActive. Admin only, whoever owns the report.
func (s *ReportService) ToggleActive(ctx context.Context, actor model.Actor, rawID string) (*model.ToggleResult, error) {
	const op = "ToggleActive"

	report, err := s.fetch(ctx, op, rawID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(op, actor, report.SubmittedBy, policy.ActionToggleStatus); err != nil {
		return nil, err
	}

	updated, err := s.store.ToggleActive(ctx, report.ID)
	if err != nil {
		return nil, s.storeError(op, err)
	}
	if err := s.populateSubmitter(ctx, updated); err != nil {
		return nil, s.internal(op, err)
	}

	state := "deactivated"
	if updated.IsActive {
		state = "activated"
	}
	s.log.WithFields(logrus.Fields{
		"report_id": updated.ID,
		"actor_id":  actor.ID,
		"is_active": updated.IsActive,
	}).Info("report status toggled")

	return &model.ToggleResult{
		Message: "Report " + state + " successfully",
		Report:  updated,
	}, nil
}

// Returns every report matching the listing filters, inactive included, for
// the admin export.
func (s *ReportService) ExportReports(ctx context.Context, actor model.Actor, q model.ListReportsQuery) ([]model.Report, error) {
	const op = "ExportReports"

	if err := s.authorize(op, actor, uuid.Nil, policy.ActionExport); err != nil {
		return nil, err
	}

	filter := listFilter(q)
	filter.IncludeInactive = true
	filter.Limit = 0

	reports, err := s.store.Find(ctx, filter)
	if err != nil {
		return nil, s.internal(op, err)
	}
	if err := s.populateSubmitters(ctx, reports); err != nil {
		return nil, s.internal(op, err)
	}
	return reports, nil
}

// Ping reports whether the backing store is reachable.
func (s *ReportService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *ReportService) fetch(ctx context.Context, op, rawID string) (*model.Report, error) {
	id, err := uuid.Parse(strings.TrimSpace(rawID))
	if err != nil {
		return nil, errs.E(errs.KindReportNotFound, op, "report not found", nil)
	}
	report, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, s.storeError(op, err)
	}
	return report, nil
}

func (s *ReportService) authorize(op string, actor model.Actor, ownerID uuid.UUID, action policy.Action) error {
	decision := policy.DecideFor(actor, ownerID, action)
	if decision.Allowed {
		return nil
	}
	if decision.Reason == policy.ReasonUnauthorized {
		return errs.E(errs.KindUnauthorized, op, "authentication required", nil)
	}
	return errs.E(errs.KindForbidden, op, "you do not have permission to perform this action", nil)
}

// lookupSubmitter resolves the actor's profile. An actor unknown to the
// directory falls back to the identity carried by the token.
func (s *ReportService) lookupSubmitter(ctx context.Context, actor model.Actor) (*model.Submitter, error) {
	user, err := s.users.FindByID(ctx, actor.ID)
	if err == nil {
		return model.SubmitterFromUser(user), nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	return &model.Submitter{
		ID:         actor.ID,
		Name:       actor.Name,
		Role:       actor.Role,
		VesselName: actor.VesselName,
		VesselType: actor.VesselType,
	}, nil
}

func (s *ReportService) populateSubmitter(ctx context.Context, report *model.Report) error {
	user, err := s.users.FindByID(ctx, report.SubmittedBy)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	report.Submitter = model.SubmitterFromUser(user)
	return nil
}

// populateSubmitters expands submittedBy for a page of reports with one
// directory lookup. Authors missing from the directory keep the bare id.
func (s *ReportService) populateSubmitters(ctx context.Context, reports []model.Report) error {
	if len(reports) == 0 {
		return nil
	}

	seen := make(map[uuid.UUID]struct{}, len(reports))
	var ids []uuid.UUID
	for _, r := range reports {
		if _, ok := seen[r.SubmittedBy]; !ok {
			seen[r.SubmittedBy] = struct{}{}
			ids = append(ids, r.SubmittedBy)
		}
	}

	users, err := s.users.FindByIDs(ctx, ids)
	if err != nil {
		return err
	}
	for i := range reports {
		if user, ok := users[reports[i].SubmittedBy]; ok {
			reports[i].Submitter = model.SubmitterFromUser(user)
		}
	}
	return nil
}

func (s *ReportService) storeError(op string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return errs.E(errs.KindReportNotFound, op, "report not found", nil)
	}
	return s.internal(op, err)
}

// internal logs the raw cause and hides it behind a generic message.
func (s *ReportService) internal(op string, err error) error {
	s.log.WithError(err).WithField("op", op).Error("report operation failed")
	return errs.E(errs.KindInternal, op, "internal server error", err)
}

func listFilter(q model.ListReportsQuery) model.ReportFilter {
	filter := model.ReportFilter{
		IncludeInactive: q.IncludeInactive,
		Sort:            model.SortNewest,
		Limit:           DefaultListLimit,
	}

	if t := model.ReportType(strings.ToLower(strings.TrimSpace(q.Type))); t.Valid() {
		filter.Type = &t
	}
	if sev := model.Severity(strings.ToLower(strings.TrimSpace(q.Severity))); sev.Valid() {
		filter.Severity = &sev
	}
	if strings.EqualFold(strings.TrimSpace(q.Sort), string(model.SortOldest)) {
		filter.Sort = model.SortOldest
	}
	if n, err := strconv.Atoi(strings.TrimSpace(q.Limit)); err == nil && n > 0 {
		if n > MaxListLimit {
			n = MaxListLimit
		}
		filter.Limit = n
	}
	return filter
}
