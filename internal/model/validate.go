package model

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// FieldError describes one field-level validation failure. It has the same
// shape as the details the REST API returns.
type FieldError struct {
	Code    string   `json:"code"`
	Path    []string `json:"path"`
	Message string   `json:"message"`
}

// ValidationError is returned when a request fails client-side validation.
type ValidationError struct {
	Details []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		parts = append(parts, strings.Join(d.Path, ".")+": "+d.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report JSON field names so paths match server-side details.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterStructValidation(validateMatchWindow, CreateMatchRequest{})
	return v
}

// validateMatchWindow enforces startTime < endTime once both parse.
func validateMatchWindow(sl validator.StructLevel) {
	req := sl.Current().Interface().(CreateMatchRequest)
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		return
	}
	end, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		return
	}
	if !start.Before(end) {
		sl.ReportError(req.EndTime, "endTime", "EndTime", "after_start", "")
	}
}

// Validate checks v against its struct tags. Failures are returned as a
// *ValidationError.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	out := &ValidationError{Details: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		out.Details = append(out.Details, FieldError{
			Code:    fe.Tag(),
			Path:    []string{fe.Field()},
			Message: fieldMessage(fe),
		})
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "Required"
	case "datetime":
		return "Invalid datetime"
	case "gte":
		return "Must be at least " + fe.Param()
	case "after_start":
		return "End time must be after start time"
	default:
		return "Invalid value"
	}
}
