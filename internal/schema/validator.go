package schema

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// eventTypePattern defines the valid format for event type strings.
// Types must be lowercase snake_case starting with a letter.
// Examples: "login_failure", "rate_limit_exceeded"
var eventTypePattern = regexp.MustCompile(`^[a-z][a-z0-9]*(_[a-z0-9]+)*$`)

// Validator validates incoming event payloads.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a new payload Validator.
func NewValidator() *Validator {
	v := validator.New()

	// Register custom validation for event type format
	v.RegisterValidation("event_type", func(fl validator.FieldLevel) bool {
		return eventTypePattern.MatchString(fl.Field().String())
	})

	return &Validator{validate: v}
}

// Validate validates an event payload. Returns an error if validation fails.
func (v *Validator) Validate(p *EventPayload) error {
	if p == nil {
		return fmt.Errorf("payload is required")
	}

	if err := v.validate.Struct(p); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ValidateEventType checks if an event type string matches the required format.
func ValidateEventType(t string) bool {
	return eventTypePattern.MatchString(t)
}
