package model

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
)

type ReportType string

const (
	TypeHotspot   ReportType = "hotspot"
	TypePollution ReportType = "pollution"
)

func (t ReportType) Valid() bool {
	return t == TypeHotspot || t == TypePollution
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// DefaultSeverity is applied on create when the payload carries none.
const DefaultSeverity = SeverityMedium

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// ReportBody carries the fields that depend on the report type. A hotspot
// always has a species and a pollution report never does.
type ReportBody interface {
	Type() ReportType
	isReportBody()
}

type Hotspot struct {
	Species string
}

func (Hotspot) Type() ReportType { return TypeHotspot }
func (Hotspot) isReportBody()    {}

type Pollution struct{}

func (Pollution) Type() ReportType { return TypePollution }
func (Pollution) isReportBody()    {}

// BodyOf rebuilds a body from its stored form. A species stored on a
// pollution report is dropped.
func BodyOf(t ReportType, species *string) ReportBody {
	if t == TypeHotspot {
		h := Hotspot{}
		if species != nil {
			h.Species = *species
		}
		return h
	}
	return Pollution{}
}

// Location is a GeoJSON point; Coordinates are [longitude, latitude].
type Location struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

func NewLocation(longitude, latitude float64) Location {
	return Location{Type: "Point", Coordinates: [2]float64{longitude, latitude}}
}

func (l Location) Longitude() float64 { return l.Coordinates[0] }
func (l Location) Latitude() float64  { return l.Coordinates[1] }
func (l Location) Point() orb.Point   { return orb.Point{l.Coordinates[0], l.Coordinates[1]} }

type VesselInfo struct {
	VesselName string `json:"vesselName"`
	VesselType string `json:"vesselType"`
}

type Report struct {
	ID          uuid.UUID
	Body        ReportBody
	Location    Location
	Title       string
	Description string
	Severity    Severity
	ImageURL    *string
	SubmittedBy uuid.UUID
	// Submitter is populated on read paths only.
	Submitter  *Submitter
	VesselInfo VesselInfo
	IsActive   bool
	// DistanceMeters is set by proximity queries.
	DistanceMeters *float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (r *Report) Type() ReportType {
	if r.Body == nil {
		return ""
	}
	return r.Body.Type()
}

// Species returns the species of a hotspot report.
func (r *Report) Species() (string, bool) {
	h, ok := r.Body.(Hotspot)
	if !ok {
		return "", false
	}
	return h.Species, true
}

type reportJSON struct {
	ID             uuid.UUID       `json:"id"`
	Type           ReportType      `json:"type"`
	Location       Location        `json:"location"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Species        *string         `json:"species,omitempty"`
	Severity       Severity        `json:"severity"`
	ImageURL       *string         `json:"imageUrl,omitempty"`
	SubmittedBy    json.RawMessage `json:"submittedBy"`
	VesselInfo     VesselInfo      `json:"vesselInfo"`
	IsActive       bool            `json:"isActive"`
	DistanceMeters *float64        `json:"distanceMeters,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// MarshalJSON flattens the body and expands submittedBy when the submitter
// profile is loaded.
func (r Report) MarshalJSON() ([]byte, error) {
	out := reportJSON{
		ID:             r.ID,
		Type:           r.Type(),
		Location:       r.Location,
		Title:          r.Title,
		Description:    r.Description,
		Severity:       r.Severity,
		ImageURL:       r.ImageURL,
		VesselInfo:     r.VesselInfo,
		IsActive:       r.IsActive,
		DistanceMeters: r.DistanceMeters,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if species, ok := r.Species(); ok {
		out.Species = &species
	}

	var err error
	if r.Submitter != nil {
		out.SubmittedBy, err = json.Marshal(r.Submitter)
	} else {
		out.SubmittedBy, err = json.Marshal(r.SubmittedBy)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

func (r *Report) UnmarshalJSON(data []byte) error {
	var in reportJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = Report{
		ID:             in.ID,
		Body:           BodyOf(in.Type, in.Species),
		Location:       in.Location,
		Title:          in.Title,
		Description:    in.Description,
		Severity:       in.Severity,
		ImageURL:       in.ImageURL,
		VesselInfo:     in.VesselInfo,
		IsActive:       in.IsActive,
		DistanceMeters: in.DistanceMeters,
		CreatedAt:      in.CreatedAt,
		UpdatedAt:      in.UpdatedAt,
	}

	raw := bytes.TrimSpace(in.SubmittedBy)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '{' {
		var s Submitter
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		r.Submitter = &s
		r.SubmittedBy = s.ID
		return nil
	}
	return json.Unmarshal(raw, &r.SubmittedBy)
}

// LooseFloat accepts a JSON number or a numeric string and defers parsing to
// the validator so bad input becomes a field error instead of a decode error.
type LooseFloat struct {
	Raw string
	Set bool
}

func LooseFloatOf(s string) LooseFloat {
	s = strings.TrimSpace(s)
	return LooseFloat{Raw: s, Set: s != ""}
}

func (f *LooseFloat) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = LooseFloat{}
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*f = LooseFloatOf(str)
		return nil
	}
	*f = LooseFloat{Raw: s, Set: true}
	return nil
}

func (f LooseFloat) MarshalJSON() ([]byte, error) {
	if !f.Set {
		return []byte("null"), nil
	}
	return json.Marshal(f.Raw)
}

func (f LooseFloat) Float() (float64, error) {
	return strconv.ParseFloat(f.Raw, 64)
}

// Request DTOs

type CreateReportRequest struct {
	Type        string     `json:"type" validate:"required,oneof=hotspot pollution"`
	Latitude    LooseFloat `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude   LooseFloat `json:"longitude" validate:"required,gte=-180,lte=180"`
	Title       string     `json:"title" validate:"required,max=100"`
	Description string     `json:"description" validate:"required,max=1000"`
	Species     *string    `json:"species,omitempty" validate:"required_if=Type hotspot,omitnil,max=100"`
	Severity    *string    `json:"severity,omitempty" validate:"omitnil,oneof=low medium high critical"`
	ImageURL    *string    `json:"imageUrl,omitempty" validate:"omitnil,url"`
}

// UpdateReportRequest lists the mutable fields. Type, Latitude, Longitude and
// Location are decoded only so they can be reported as ignored.
type UpdateReportRequest struct {
	Title       *string `json:"title,omitempty" validate:"omitnil,notblank,max=100"`
	Description *string `json:"description,omitempty" validate:"omitnil,notblank,max=1000"`
	Species     *string `json:"species,omitempty" validate:"omitnil,notblank,max=100"`
	Severity    *string `json:"severity,omitempty" validate:"omitnil,oneof=low medium high critical"`
	ImageURL    *string `json:"imageUrl,omitempty" validate:"omitnil,url"`

	Type      *string         `json:"type,omitempty" validate:"-"`
	Latitude  LooseFloat      `json:"latitude" validate:"-"`
	Longitude LooseFloat      `json:"longitude" validate:"-"`
	Location  json.RawMessage `json:"location,omitempty" validate:"-"`
}

type ListReportsQuery struct {
	Type            string
	Severity        string
	Limit           string
	IncludeInactive bool
	Sort            string
}

type NearbyQuery struct {
	Latitude    LooseFloat `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude   LooseFloat `json:"longitude" validate:"required,gte=-180,lte=180"`
	MaxDistance LooseFloat `json:"maxDistance" validate:"omitempty,gt=0"`
}

// Normalized payloads produced by the validator

type NewReport struct {
	Body        ReportBody
	Location    Location
	Title       string
	Description string
	Severity    *Severity
	ImageURL    *string
}

// ReportPatch holds the whitelisted mutable fields. Nil means unchanged.
type ReportPatch struct {
	Title       *string
	Description *string
	Species     *string
	Severity    *Severity
	ImageURL    *string
}

func (p ReportPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Species == nil &&
		p.Severity == nil && p.ImageURL == nil
}

// Apply writes the patch onto r. Species is only applied to hotspot reports.
func (p ReportPatch) Apply(r *Report) {
	if p.Title != nil {
		r.Title = *p.Title
	}
	if p.Description != nil {
		r.Description = *p.Description
	}
	if p.Species != nil {
		if _, ok := r.Body.(Hotspot); ok {
			r.Body = Hotspot{Species: *p.Species}
		}
	}
	if p.Severity != nil {
		r.Severity = *p.Severity
	}
	if p.ImageURL != nil {
		url := *p.ImageURL
		r.ImageURL = &url
	}
}

// Store queries

type SortOrder string

const (
	SortNewest SortOrder = "newest"
	SortOldest SortOrder = "oldest"
)

type ReportFilter struct {
	Type            *ReportType
	Severity        *Severity
	SubmittedBy     *uuid.UUID
	IncludeInactive bool
	Sort            SortOrder
	// Limit of 0 means unbounded.
	Limit int
}

type NearQuery struct {
	Location          Location
	MaxDistanceMeters float64
	Limit             int
	ActiveOnly        bool
}

// Responses

type ReportListResponse struct {
	Count   int      `json:"count"`
	Reports []Report `json:"reports"`
}

func NewReportList(reports []Report) *ReportListResponse {
	if reports == nil {
		reports = []Report{}
	}
	return &ReportListResponse{Count: len(reports), Reports: reports}
}

type ToggleResult struct {
	Message string  `json:"message"`
	Report  *Report `json:"report"`
}
