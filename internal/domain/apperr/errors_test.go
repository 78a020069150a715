package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"not found", NotFound("task %d not found", 7), KindNotFound},
		{"validation", Validation("bad input"), KindValidation},
		{"invalid state", InvalidState("already decided"), KindInvalidState},
		{"forbidden", Forbidden("no"), KindForbidden},
		{"configuration", Configuration("no holder for role %s", "ADMIN"), KindConfiguration},
		{"wrapped", fmt.Errorf("outer: %w", Forbidden("inner")), KindForbidden},
		{"plain", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestError_IsMatchesSentinelByKind(t *testing.T) {
	err := fmt.Errorf("process: %w", InvalidState("task 3 was already decided"))

	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.True(t, IsKind(err, KindInvalidState))
}

func TestWrap_KeepsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindConfiguration, cause, "cannot load roles")

	assert.Equal(t, "cannot load roles: disk full", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindConfiguration, KindOf(err))
}
