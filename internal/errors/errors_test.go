// Package errors tests for the error taxonomy.
package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestErrorCodeValues verifies all error codes have non-empty values.
func TestErrorCodeValues(t *testing.T) {
	codes := []ErrorCode{
		ErrInternal, ErrInvalid, ErrNotFound, ErrValidation,
		ErrConnectivity, ErrServer,
		ErrStorage, ErrSchema, ErrMigration,
		ErrQueueItem, ErrQueueFull,
		ErrCorruptedExport,
	}
	for _, code := range codes {
		assert.NotEmpty(t, string(code))
	}
}

// TestAppError_Error verifies error message formatting.
func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "error without underlying error",
			appError: &AppError{Code: ErrInternal, Message: "something failed"},
			want:     "[INTERNAL_ERROR] something failed",
		},
		{
			name:     "error with underlying error",
			appError: &AppError{Code: ErrStorage, Message: "put failed", Err: errors.New("database is locked")},
			want:     "[STORAGE_ERROR] put failed: database is locked",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.appError.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	inner := errors.New("dial tcp: connection refused")
	err := Connectivity("request failed", inner)

	assert.ErrorIs(t, err, inner)
}

func TestClassification(t *testing.T) {
	conn := Connectivity("unreachable", nil)
	srv := Server(500, "boom")
	store := Storage("put failed", nil)
	schema := Schema("favorites")

	assert.True(t, IsConnectivity(conn))
	assert.False(t, IsConnectivity(srv))

	assert.True(t, IsServer(srv))
	assert.Equal(t, 500, srv.Status)

	assert.True(t, IsStorage(store))
	assert.True(t, IsStorage(schema), "schema errors are storage errors")
	assert.True(t, IsSchema(schema))
	assert.False(t, IsSchema(store))
}

func TestIs_WrappedChain(t *testing.T) {
	err := fmt.Errorf("list stories: %w", Server(401, "Missing authentication"))

	assert.True(t, Is(err, ErrServer))
	assert.Equal(t, ErrServer, CodeOf(err))
	assert.Equal(t, "Missing authentication", UserMessage(err))
}

func TestIs_PlainError(t *testing.T) {
	err := errors.New("plain")

	assert.False(t, Is(err, ErrInternal))
	assert.Equal(t, ErrorCode(""), CodeOf(err))
	assert.Equal(t, "plain", UserMessage(err))
}
