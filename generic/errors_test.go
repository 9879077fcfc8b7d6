package generic_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"

	"github.com/warp/hr-workflow/generic"
)

func TestTransitionError_Unwrap(t *testing.T) {
	tests := []struct {
		code generic.ErrorCode
		want error
	}{
		{generic.CodeInvalidTransition, generic.ErrInvalidTransition},
		{generic.CodeTerminalState, generic.ErrTerminalState},
		{generic.CodeUnauthorized, generic.ErrUnauthorized},
	}
	for _, tt := range tests {
		err := errors.Wrap(&generic.TransitionError{Code: tt.code, Reason: "because"}, "transition")
		assert.True(t, errors.Is(err, tt.want), tt.code)
		assert.True(t, generic.IsClientError(err))
		assert.Equal(t, "because", generic.Reason(err))
	}
}

func TestValidationError(t *testing.T) {
	verr := &generic.ValidationError{}
	assert.NoError(t, verr.OrNil())

	verr.Add("amount", "amount must be greater than zero")
	verr.Add("duration_months", "duration must be at least 1 month")
	err := verr.OrNil()

	assert.True(t, errors.Is(err, generic.ErrValidation))
	assert.Equal(t, "amount must be greater than zero; duration must be at least 1 month", generic.Reason(err))
	assert.False(t, generic.IsRetryable(err))
}

func TestDocumentWarning(t *testing.T) {
	err := &generic.DocumentWarning{EntityID: "loan-1", Cause: errRendererDown}
	assert.True(t, errors.Is(err, generic.ErrDocumentGeneration))
	assert.Contains(t, err.Error(), "renderer unavailable")
	assert.False(t, generic.IsClientError(err))
}

func TestReason(t *testing.T) {
	assert.Empty(t, generic.Reason(nil))

	hinted := errors.WithHint(errors.Wrap(generic.ErrConcurrentModification, "update"), "reload and try again")
	assert.Equal(t, "reload and try again", generic.Reason(hinted))
	assert.True(t, generic.IsRetryable(hinted))

	plain := errors.Wrap(generic.ErrEntityNotFound, "entity x")
	assert.Equal(t, "entity x: entity not found", generic.Reason(plain))
	assert.True(t, generic.IsNotFound(plain))
}
