package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_WithMessage(t *testing.T) {
	err := ErrNotFound.WithMessage("Action fragment not found")

	assert.Equal(t, ErrNotFound.Code, err.Code)
	assert.Equal(t, "Action fragment not found", err.Error())
	assert.ErrorIs(t, err, ErrNotFound)

	// The sentinel itself stays untouched.
	assert.Equal(t, "Resource not found", ErrNotFound.Message)
}

func TestDomainError_Is(t *testing.T) {
	assert.ErrorIs(t, fmt.Errorf("deleting fragment: %w", ErrNotFound), ErrNotFound)
	assert.NotErrorIs(t, ErrNotFound, ErrForbidden)
	assert.False(t, errors.Is(ErrNotFound, errors.New("NOT_FOUND")))
}
