package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewError("Registry.Get", KindNotFound, "app 'anthropic'")
	want := "Registry.Get: app 'anthropic': not found"
	assert.Equal(t, want, err.Error())
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewError("Pipeline.Process", KindFatal, "")
	want := "Pipeline.Process: fatal error"
	assert.Equal(t, want, err.Error())
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewError("Gateway.Auth", KindUnauthorized, "bad token")
	require.True(t, errors.Is(err, ErrUnauthorized))
}

func TestDomainErrorAs(t *testing.T) {
	err := NewError("LLM.Chat", KindUpstream, "anthropic")
	var de *DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "LLM.Chat", de.Op)
	assert.Equal(t, KindUpstream, de.Kind)
}

func TestNewError_UnknownKindFallsBackToFatal(t *testing.T) {
	err := NewError("Op", ErrorKind("bogus"), "")
	assert.Equal(t, KindFatal, err.Kind)
	assert.True(t, errors.Is(err, ErrFatal))
}

func TestWrapError_PreservesUnderlyingForIs(t *testing.T) {
	inner := errors.New("busy")
	err := WrapError("Store.Write", KindTransient, inner, "sqlite busy")
	assert.True(t, errors.Is(err, inner))
	assert.Equal(t, KindTransient, KindOf(err))
}

func TestWrapError_Nil(t *testing.T) {
	assert.Nil(t, WrapError("op", KindFatal, nil, ""))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(NewError("x", KindNotFound, "")))
	assert.Equal(t, KindValidation, KindOf(ErrValidation))
	assert.Equal(t, KindFatal, KindOf(fmt.Errorf("unclassified")))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(NewError("x", KindValidation, "")))
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(NewError("x", KindUnauthorized, "")))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(NewError("x", KindForbidden, "")))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(NewError("x", KindNotFound, "")))
	assert.Equal(t, http.StatusConflict, HTTPStatus(NewError("x", KindConflict, "")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(NewError("x", KindUpstream, "")))
	assert.Equal(t, http.StatusTooManyRequests, HTTPStatus(ErrRateLimited))
}

func TestWrapOp_Nil(t *testing.T) {
	assert.Nil(t, WrapOp("anything", nil))
}

func TestWrapOp_PreservesIs(t *testing.T) {
	err := WrapOp("Store.Get", ErrNotFound)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestWrapOp_Chain(t *testing.T) {
	inner := WrapOp("inner", ErrUpstream)
	outer := WrapOp("outer", inner)
	assert.Equal(t, "outer: inner: upstream call failed", outer.Error())
	assert.True(t, errors.Is(outer, ErrUpstream))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrTransient))
	assert.True(t, IsRetryable(ErrUpstream))
	assert.False(t, IsRetryable(ErrValidation))
	assert.False(t, IsRetryable(nil))
}

func TestIsRetryable_Wrapped(t *testing.T) {
	err := fmt.Errorf("database: %w", ErrTransient)
	assert.True(t, IsRetryable(err))
}
