package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindCodes(t *testing.T) {
	tests := []struct {
		kind Kind
		code int
	}{
		{KindBadRequest, 400},
		{KindNotAuthorized, 401},
		{KindForbidden, 403},
		{KindNotFound, 404},
		{KindUnprocessableEntity, 422},
		{KindTooManyRequests, 429},
		{KindInternal, 500},
		{KindNotImplemented, 501},
		{KindStartup, 500},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.code, tt.kind.Code())
		})
	}
}

func TestErrorsIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("dispatch users: %w", NotFound("no child %q", "orders"))

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrBadRequest))
	assert.True(t, IsKind(err, KindNotFound))
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "Resource ID is required", BadRequest("Resource ID is required").Error())
	assert.Equal(t, "Not Found", (&Error{Kind: KindNotFound}).Error())

	cause := errors.New("disk full")
	e := Internal("persist failed").WithCause(cause)
	assert.Equal(t, "persist failed: disk full", e.Error())
	assert.ErrorIs(t, e, cause)
}

func TestStartupIsFatal(t *testing.T) {
	e := Startup(errors.New("cycle"), "resolve plugins")
	assert.True(t, e.Fatal())
	assert.Equal(t, http.StatusInternalServerError, e.Code())
	assert.False(t, NotFound("x").Fatal())
}

func TestNormalize(t *testing.T) {
	plain := errors.New("boom")

	tests := []struct {
		name     string
		in       any
		wantKind Kind
		wantMsg  string
	}{
		{"typed error passes through", Forbidden("nope"), KindForbidden, "nope"},
		{"wrapped typed error", fmt.Errorf("ctx: %w", UnprocessableEntity("bad body")), KindUnprocessableEntity, "bad body"},
		{"plain error", plain, KindInternal, "boom"},
		{"string", "listener refused", KindInternal, "listener refused"},
		{"status code", 404, KindNotFound, "Not Found"},
		{"unknown status code", 418, KindInternal, "I'm a teapot"},
		{"float code from JSON", float64(401), KindNotAuthorized, "Unauthorized"},
		{"map with code and message", map[string]any{"code": 422, "message": "invalid email"}, KindUnprocessableEntity, "invalid email"},
		{"map without code", map[string]any{"message": "odd"}, KindInternal, "odd"},
		{"response value", Response{Message: "gone", Code: 404}, KindNotFound, "gone"},
		{"struct value", struct{ A int }{1}, KindInternal, "{1}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in)
			require.NotNil(t, got)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantMsg, got.Message)
		})
	}

	assert.Nil(t, Normalize(nil))
}

func TestNormalizeMapKeepsCause(t *testing.T) {
	got := Normalize(map[string]any{"code": 400, "message": "bad", "cause": "field x"})
	assert.Equal(t, KindBadRequest, got.Kind)
	assert.Equal(t, "field x", got.Cause)

	bare := map[string]any{"reason": "unknown"}
	got = Normalize(bare)
	assert.Equal(t, KindInternal, got.Kind)
	assert.Equal(t, bare, got.Cause)
}

func TestToResponse(t *testing.T) {
	resp := ToResponse(BadRequest("Resource ID is required"))
	assert.Equal(t, Response{Message: "Resource ID is required", Code: 400}, resp)

	resp = ToResponse(Internal("persist").WithCause(errors.New("locked")))
	assert.Equal(t, 500, resp.Code)
	assert.Equal(t, "locked", resp.Cause)

	resp = ToResponse(errors.New("raw"))
	assert.Equal(t, 500, resp.Code)
	assert.Equal(t, "raw", resp.Message)
}
