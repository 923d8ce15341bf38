package dto

import (
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/pickup-roster-api/internal/models"
)

// SetRosterStatusRequest is the body of POST /roster/students/:id/status.
// pickup_person is checked by the status rules, not here, so the caller gets PICKUP_PERSON_REQUIRED.
type SetRosterStatusRequest struct {
	Status       string `json:"status" validate:"required,roster_status"`
	PickupPerson string `json:"pickup_person" validate:"max=120"`
	Override     string `json:"override" validate:"max=120"`
	PickupTime   string `json:"pickup_time" validate:"max=32"`
	Source       string `json:"source" validate:"max=32"`
}

// RosterVisibilityRequest reports whether the operator's roster view is in the foreground.
type RosterVisibilityRequest struct {
	Visible *bool `json:"visible" validate:"required"`
}

// NewValidator returns a validator with the roster tags registered.
func NewValidator() *validator.Validate {
	validate := validator.New()
	_ = validate.RegisterValidation("roster_status", func(fl validator.FieldLevel) bool {
		return models.Status(fl.Field().String()).Valid()
	})
	return validate
}
