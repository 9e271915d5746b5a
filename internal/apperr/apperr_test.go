package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("accept challenge: %w", StateConflict("challenge is %s", "declined"))
	assert.Equal(t, KindStateConflict, KindOf(err))
	assert.True(t, IsKind(err, KindStateConflict))
	assert.Equal(t, "accept challenge: challenge is declined", err.Error())

	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestNotFound(t *testing.T) {
	err := NotFound("challenge")
	assert.Equal(t, KindValidation, err.Kind)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "challenge not found", err.Error())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "validation", KindValidation.String())
	assert.Equal(t, "authorization", KindAuthorization.String())
	assert.Equal(t, "state_conflict", KindStateConflict.String())
	assert.Equal(t, "insufficient_funds", KindInsufficientFunds.String())
	assert.Equal(t, "unknown", KindUnknown.String())
}
