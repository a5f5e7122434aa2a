package controllers

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

// isValidationError reports whether the error chain carries struct
// validation failures, which map to a 400 rather than a 5xx.
func isValidationError(err error) bool {
	var verrs validator.ValidationErrors
	return errors.As(err, &verrs)
}
