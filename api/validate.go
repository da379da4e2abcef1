package api

import "github.com/cookshare/messaging/api/validator"

// Validation is delegated to the validator wrapper package.
type (
	Validator       = validator.Validator
	ValidationError = validator.ValidationError
)

// NewValidator returns the validator configured with the messaging rules.
func NewValidator() *Validator {
	return validator.New()
}
