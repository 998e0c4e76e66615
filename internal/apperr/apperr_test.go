package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindStatus(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:     http.StatusBadRequest,
		KindAuthentication: http.StatusUnauthorized,
		KindAuthorization:  http.StatusForbidden,
		KindNotFound:       http.StatusNotFound,
		KindConflict:       http.StatusConflict,
		KindRateLimited:    http.StatusTooManyRequests,
		KindInternal:       http.StatusInternalServerError,
	}
	for kind, status := range cases {
		assert.Equal(t, status, kind.Status(), kind.String())
	}
}

func TestAsUnwrapsChain(t *testing.T) {
	base := NotFound("User not found")
	wrapped := fmt.Errorf("load user: %w", base)

	got := As(wrapped)
	assert.Equal(t, KindNotFound, got.Kind)
	assert.Equal(t, "User not found", got.Message)
	assert.True(t, errors.Is(wrapped, NotFound("User not found")))
	assert.False(t, errors.Is(wrapped, NotFound("Other")))
}

func TestAsUnknownIsInternal(t *testing.T) {
	cause := errors.New("connection refused")
	got := As(cause)

	assert.Equal(t, KindInternal, got.Kind)
	assert.Equal(t, "Internal Server Error", got.Message)
	assert.ErrorIs(t, got, cause)
}

func TestWrapKeepsOriginalUntouched(t *testing.T) {
	sentinel := Authentication("Invalid credentials")
	w := sentinel.Wrap(errors.New("bcrypt mismatch"))

	assert.Nil(t, sentinel.Err)
	assert.ErrorIs(t, w, sentinel)
	assert.Contains(t, w.Error(), "bcrypt mismatch")
}
