package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRagError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("original error")

	// When: wrapping with RagError
	ragErr := New(ErrCodeFileNotFound, "file not found: test.txt", originalErr)

	// Then: unwrapping returns original error
	require.NotNil(t, ragErr)
	assert.Equal(t, originalErr, errors.Unwrap(ragErr))
	assert.True(t, errors.Is(ragErr, originalErr))
}

func TestRagError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{
			name:     "source not found",
			code:     ErrCodeSourceNotFound,
			message:  "source docs not registered",
			expected: "[ERR_101_SOURCE_NOT_FOUND] source docs not registered",
		},
		{
			name:     "lock conflict",
			code:     ErrCodeLockHeld,
			message:  "data directory locked",
			expected: "[ERR_202_LOCK_HELD] data directory locked",
		},
		{
			name:     "transient backend",
			code:     ErrCodeBackendUnavailable,
			message:  "keyword index unavailable",
			expected: "[ERR_401_BACKEND_UNAVAILABLE] keyword index unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, nil)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestRagError_Is_MatchesByCode(t *testing.T) {
	err1 := New(ErrCodeFileNotFound, "file A not found", nil)
	err2 := New(ErrCodeFileNotFound, "file B not found", nil)

	assert.True(t, errors.Is(err1, err2))
}

func TestRagError_Is_DoesNotMatchDifferentCodes(t *testing.T) {
	err1 := New(ErrCodeFileNotFound, "file not found", nil)
	err2 := New(ErrCodeSourceNotFound, "source not found", nil)

	assert.False(t, errors.Is(err1, err2))
}

func TestRagError_WithDetails_AddsContext(t *testing.T) {
	err := New(ErrCodeFileNotFound, "file not found", nil)

	err = err.WithDetail("path", "/foo/bar.go")
	err = err.WithDetail("size", "1024")

	assert.Equal(t, "/foo/bar.go", err.Details["path"])
	assert.Equal(t, "1024", err.Details["size"])
}

func TestRagError_WithSuggestion_AddsSuggestion(t *testing.T) {
	err := New(ErrCodeRewriteUnavailable, "rewrite endpoint timed out", nil)

	err = err.WithSuggestion("Check that the model server is running")

	assert.Equal(t, "Check that the model server is running", err.Suggestion)
}

func TestRagError_CategoryFromCode(t *testing.T) {
	tests := []struct {
		code         string
		wantCategory Category
	}{
		{ErrCodeSourceNotFound, CategoryNotFound},
		{ErrCodeFileNotFound, CategoryNotFound},
		{ErrCodeRunActive, CategoryConflict},
		{ErrCodeLockHeld, CategoryConflict},
		{ErrCodeInvalidQuery, CategoryValidation},
		{ErrCodeDimensionMismatch, CategoryValidation},
		{ErrCodeBackendUnavailable, CategoryTransient},
		{ErrCodeTimeout, CategoryTransient},
		{ErrCodeInternal, CategoryPermanent},
		{ErrCodeCorruptIndex, CategoryPermanent},
		{ErrCodeCancelled, CategoryCancelled},
		{ErrCodeShutdown, CategoryCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "msg", nil)
			assert.Equal(t, tt.wantCategory, err.Category)
		})
	}
}

func TestRagError_RetryableOnlyForTransient(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrCodeBackendUnavailable, "down", nil)))
	assert.True(t, IsRetryable(New(ErrCodeEmbedUnavailable, "down", nil)))
	assert.False(t, IsRetryable(New(ErrCodeInvalidQuery, "bad", nil)))
	assert.False(t, IsRetryable(New(ErrCodeInternal, "boom", nil)))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestRagError_FatalSeverity(t *testing.T) {
	assert.True(t, IsFatal(New(ErrCodeCorruptIndex, "index corrupt", nil)))
	assert.False(t, IsFatal(New(ErrCodeInternal, "boom", nil)))
	assert.False(t, IsFatal(nil))
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestGetCode_NonRagError(t *testing.T) {
	assert.Equal(t, "", GetCode(errors.New("plain")))
	assert.Equal(t, ErrCodeTimeout, GetCode(New(ErrCodeTimeout, "t", nil)))
}
