package validator

import (
	"encoding/json"

	reactiveerrors "github.com/streamspace/reactive-query-server/internal/errors"
)

// Validator is the opaque contract an action declares to normalize its raw
// params before the compute/execute body ever sees them. Parse must either
// return a normalized value or fail with a descriptive error; the caller
// wraps a failure as InvalidInput.
type Validator interface {
	Parse(raw json.RawMessage, out any) error
}

// StructValidator decodes raw JSON into out, then runs go-playground struct
// tag validation over it. out must be a pointer to a struct carrying
// `validate:"..."` tags.
type StructValidator struct{}

// NewStructValidator returns a Validator backed by struct-tag validation.
func NewStructValidator() *StructValidator {
	return &StructValidator{}
}

// Parse decodes raw into out and validates it, returning an *errors.AppError
// with code InvalidInput on any failure.
func (StructValidator) Parse(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return reactiveerrors.InvalidInput(err.Error())
	}

	if fieldErrs := ValidateRequest(out); fieldErrs != nil {
		details := ""
		for field, msg := range fieldErrs {
			if details != "" {
				details += "; "
			}
			details += field + ": " + msg
		}
		return reactiveerrors.InvalidInput(details)
	}

	return nil
}
