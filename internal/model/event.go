package model

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys for report lifecycle events.
const (
	EventReportCreated       = "report.created"
	EventReportUpdated       = "report.updated"
	EventReportStatusToggled = "report.status.toggled"
	EventReportDeleted       = "report.deleted"
)

type ReportEvent struct {
	ReportID    string     `json:"report_id"`
	Type        ReportType `json:"type,omitempty"`
	Title       string     `json:"title,omitempty"`
	Severity    Severity   `json:"severity,omitempty"`
	SubmittedBy string     `json:"submitted_by,omitempty"`
	IsActive    bool       `json:"is_active"`
	Longitude   float64    `json:"longitude"`
	Latitude    float64    `json:"latitude"`
	Timestamp   int64      `json:"timestamp"`
}

func NewReportEvent(r *Report) ReportEvent {
	return ReportEvent{
		ReportID:    r.ID.String(),
		Type:        r.Type(),
		Title:       r.Title,
		Severity:    r.Severity,
		SubmittedBy: r.SubmittedBy.String(),
		IsActive:    r.IsActive,
		Longitude:   r.Location.Longitude(),
		Latitude:    r.Location.Latitude(),
		Timestamp:   time.Now().Unix(),
	}
}

func DeletedReportEvent(id uuid.UUID) ReportEvent {
	return ReportEvent{ReportID: id.String(), Timestamp: time.Now().Unix()}
}
