package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atproject/projectone/internal/app/storage"
)

func TestFromStorage(t *testing.T) {
	passthrough := Forbidden("nope")

	tests := []struct {
		name       string
		err        error
		wantCode   Code
		wantStatus int
		wantMsg    string
	}{
		{"not found", fmt.Errorf("get item: %w", storage.ErrNotFound), CodeNotFound, http.StatusNotFound, "item 42 not found"},
		{"conflict", storage.ErrConflict, CodeConflict, http.StatusConflict, "item conflicts with stored state"},
		{"other", stderrors.New("disk on fire"), CodeInternal, http.StatusInternalServerError, "internal error"},
		{"service error", fmt.Errorf("wrapped: %w", passthrough), CodeForbidden, http.StatusForbidden, "nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			se := FromStorage("item", "42", tt.err)
			require.NotNil(t, se)
			assert.Equal(t, tt.wantCode, se.Code)
			assert.Equal(t, tt.wantStatus, se.HTTPStatus)
			assert.Equal(t, tt.wantMsg, se.Message)
		})
	}

	assert.Nil(t, FromStorage("item", "42", nil))
	assert.Same(t, passthrough, FromStorage("item", "1", passthrough))
}

func TestServiceErrorUnwrap(t *testing.T) {
	se := Conflict("duplicate", storage.ErrConflict)
	assert.True(t, stderrors.Is(se, storage.ErrConflict))
	assert.Equal(t, "CONFLICT: duplicate: record conflict", se.Error())
	assert.Equal(t, "NOT_FOUND: account a1 not found", NotFound("account", "a1").Error())

	wrapped := fmt.Errorf("handler: %w", se)
	assert.Same(t, se, GetServiceError(wrapped))
	assert.Nil(t, GetServiceError(stderrors.New("plain")))
}

func TestWithDetailsCopies(t *testing.T) {
	base := BadRequest("bad")
	withA := base.WithDetails("a", 1)
	withB := withA.WithDetails("b", 2)

	assert.Nil(t, base.Details)
	assert.Equal(t, map[string]interface{}{"a": 1}, withA.Details)
	assert.Equal(t, map[string]interface{}{"a": 1, "b": 2}, withB.Details)
}

func TestConstructors(t *testing.T) {
	v := Validation(map[string]string{"owner": "is required"})
	assert.Equal(t, CodeValidation, v.Code)
	assert.Equal(t, http.StatusBadRequest, v.HTTPStatus)
	assert.Equal(t, "is required", v.Details["owner"])
	assert.Nil(t, Validation(nil).Details)

	assert.Equal(t, map[string]interface{}{"limit": "must be a non-negative integer"},
		InvalidFormat("limit", "must be a non-negative integer").Details)

	inv := InvalidJSON(stderrors.New("unexpected EOF"))
	assert.Equal(t, CodeBadRequest, inv.Code)
	assert.Equal(t, "unexpected EOF", inv.Details["reason"])

	assert.Equal(t, "authentication required", Unauthorized("").Message)
	assert.Equal(t, "forbidden", Forbidden("").Message)

	rl := RateLimitExceeded(10, "1s")
	assert.Equal(t, http.StatusTooManyRequests, rl.HTTPStatus)
	assert.Equal(t, 10, rl.Details["limit"])

	assert.Equal(t, http.StatusMethodNotAllowed, MethodNotAllowed("PATCH").HTTPStatus)
	assert.Equal(t, CodeUnavailable, Unavailable("down", nil).Code)
	assert.Equal(t, "internal error", Internal("", nil).Message)
}
