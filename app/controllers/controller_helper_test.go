package controllers

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
)

func TestIsValidationError(t *testing.T) {
	type payload struct {
		Email string `validate:"required,email"`
	}

	err := validator.New().Struct(payload{Email: "not-an-email"})
	assert.True(t, isValidationError(err))
	assert.True(t, isValidationError(fmt.Errorf("invalid purchase intent: %w", err)))

	assert.False(t, isValidationError(nil))
	assert.False(t, isValidationError(errors.New("boom")))
}
