// Package validator checks report payloads and turns them into normalized
// values. Rules live in the validate tags of the request types; this package
// trims input, runs the engine and maps its errors to one FieldError per
// offending field. It never fails with an error value.
package validator

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"seawatch/internal/errs"
	"seawatch/internal/model"

	validation "github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

// Length limits, in characters. They match the max tags on the request types.
const (
	MaxTitleLength       = 100
	MaxDescriptionLength = 1000
	MaxSpeciesLength     = 100
)

var engine = newEngine()

func newEngine() *validation.Validate {
	v := validation.New(validation.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	v.RegisterCustomTypeFunc(looseFloatValue, model.LooseFloat{})
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(err)
	}
	return v
}

// looseFloatValue hands the engine nil for an absent value and a pointer to
// the parsed number otherwise. Text that does not parse becomes NaN, which
// fails every range tag.
func looseFloatValue(v reflect.Value) interface{} {
	f, ok := v.Interface().(model.LooseFloat)
	if !ok || !f.Set {
		return nil
	}
	n, err := f.Float()
	if err != nil || math.IsInf(n, 0) {
		n = math.NaN()
	}
	return &n
}

// ValidateCreate checks a creation payload. Severity is left nil when absent;
// the default is applied by the service.
func ValidateCreate(req model.CreateReportRequest) (*model.NewReport, []errs.FieldError) {
	req.Type = strings.TrimSpace(req.Type)
	req.Title = strings.TrimSpace(req.Title)
	req.Description = strings.TrimSpace(req.Description)
	req.Severity = trimmed(req.Severity)
	req.ImageURL = trimmed(req.ImageURL)
	req.Species = nonBlank(req.Species)
	if req.Type != string(model.TypeHotspot) {
		req.Species = nil
	}

	if fields := check(req); len(fields) > 0 {
		return nil, fields
	}

	var body model.ReportBody = model.Pollution{}
	if req.Species != nil {
		body = model.Hotspot{Species: *req.Species}
	}

	return &model.NewReport{
		Body:        body,
		Location:    point(req.Latitude, req.Longitude),
		Title:       req.Title,
		Description: req.Description,
		Severity:    severity(req.Severity),
		ImageURL:    req.ImageURL,
	}, nil
}

// ValidateUpdate checks a partial update against the type of the stored
// report. It also returns the names of fields that were supplied but are not
// mutable; they are dropped, not rejected.
func ValidateUpdate(req model.UpdateReportRequest, target model.ReportType) (model.ReportPatch, []string, []errs.FieldError) {
	var ignored []string
	if req.Species != nil && target != model.TypeHotspot {
		ignored = append(ignored, "species")
		req.Species = nil
	}
	if req.Type != nil {
		ignored = append(ignored, "type")
	}
	if req.Latitude.Set {
		ignored = append(ignored, "latitude")
	}
	if req.Longitude.Set {
		ignored = append(ignored, "longitude")
	}
	if len(req.Location) > 0 {
		ignored = append(ignored, "location")
	}

	req.Title = trimmed(req.Title)
	req.Description = trimmed(req.Description)
	req.Species = trimmed(req.Species)
	req.Severity = trimmed(req.Severity)
	req.ImageURL = trimmed(req.ImageURL)

	if fields := check(req); len(fields) > 0 {
		return model.ReportPatch{}, ignored, fields
	}
	return model.ReportPatch{
		Title:       req.Title,
		Description: req.Description,
		Species:     req.Species,
		Severity:    severity(req.Severity),
		ImageURL:    req.ImageURL,
	}, ignored, nil
}

// ValidateNearby checks a proximity query. maxDistance falls back to
// defaultMaxDistance when absent and must be positive when present.
func ValidateNearby(q model.NearbyQuery, defaultMaxDistance float64) (model.Location, float64, []errs.FieldError) {
	if fields := check(q); len(fields) > 0 {
		return model.Location{}, 0, fields
	}

	maxDistance := defaultMaxDistance
	if q.MaxDistance.Set {
		maxDistance, _ = q.MaxDistance.Float()
	}
	return point(q.Latitude, q.Longitude), maxDistance, nil
}

func check(s interface{}) []errs.FieldError {
	err := engine.Struct(s)
	if err == nil {
		return nil
	}

	var invalid validation.ValidationErrors
	if !errors.As(err, &invalid) {
		return []errs.FieldError{{Field: "body", Message: "is invalid"}}
	}

	fields := make([]errs.FieldError, 0, len(invalid))
	for _, fe := range invalid {
		fields = append(fields, errs.FieldError{Field: fe.Field(), Message: message(fe)})
	}
	return fields
}

func message(fe validation.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if", "notblank":
		return "is required"
	case "oneof":
		return "must be one of " + strings.Join(strings.Fields(fe.Param()), ", ")
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gte":
		return "must be a number not below " + fe.Param()
	case "lte":
		return "must be a number not above " + fe.Param()
	case "gt":
		return "must be a number above " + fe.Param()
	case "url":
		return "must be a valid URL"
	}
	return "is invalid"
}

// point assumes both values already passed validation.
func point(latitude, longitude model.LooseFloat) model.Location {
	lat, _ := latitude.Float()
	lon, _ := longitude.Float()
	return model.NewLocation(lon, lat)
}

func severity(raw *string) *model.Severity {
	if raw == nil {
		return nil
	}
	s := model.Severity(*raw)
	return &s
}

// trimmed returns a trimmed copy so the caller's value is never modified.
func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	return &t
}

func nonBlank(s *string) *string {
	if t := trimmed(s); t != nil && *t != "" {
		return t
	}
	return nil
}
