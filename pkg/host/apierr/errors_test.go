package apierr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorType
	}{
		{500, ErrorTypeTransient},
		{502, ErrorTypeTransient},
		{503, ErrorTypeTransient},
		{429, ErrorTypeTransient},
		{409, ErrorTypeTransient},
		{403, ErrorTypeAuthorization},
		{404, ErrorTypeAuthorization},
		{400, ErrorTypeValidation},
		{422, ErrorTypeValidation},
		{0, ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			err := FromStatus(tt.status, "", "boom")
			assert.Equal(t, tt.want, err.Type)
			assert.Equal(t, tt.status, err.StatusCode)
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, FromStatus(500, "", "").IsRetryable())
	assert.True(t, FromStatus(429, "", "").IsRetryable())
	assert.True(t, FromStatus(409, "", "").IsRetryable())
	assert.False(t, FromStatus(403, "", "").IsRetryable())
	assert.False(t, FromStatus(404, "", "").IsRetryable())
	assert.False(t, FromStatus(400, "", "").IsRetryable())
	assert.False(t, New(ErrorTypeValidation, "bad PR number").IsRetryable())
}

func TestFromTransport(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"timeout", errors.New("context deadline exceeded: request timed out"), ErrorTypeTransient},
		{"connection reset", errors.New("read tcp: connection reset by peer"), ErrorTypeTransient},
		{"socket", errors.New("socket hang up"), ErrorTypeTransient},
		{"network unreachable", errors.New("dial tcp: network is unreachable"), ErrorTypeTransient},
		{"unrelated", errors.New("invalid JSON payload"), ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := FromTransport(tt.err)
			assert.Equal(t, tt.want, classified.Type)
			assert.ErrorIs(t, classified, tt.err)
		})
	}
}

func TestErrorMessageCarriesStatusAndRequestID(t *testing.T) {
	err := NewWithStatus(ErrorTypeTransient, 503, "req-abc123", "upstream unavailable")
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "req-abc123")
	assert.Contains(t, err.Error(), "transient")
}

func TestExhaustedPreservesClassification(t *testing.T) {
	last := NewWithStatus(ErrorTypeTransient, 502, "req-1", "bad gateway")
	wrapped := Exhausted(last, 3)

	require.Equal(t, ErrorTypeTransient, wrapped.Type)
	assert.Equal(t, 502, wrapped.StatusCode)
	assert.Equal(t, "req-1", wrapped.RequestID)
	assert.Contains(t, wrapped.Message, "3 attempts")
	assert.ErrorIs(t, wrapped, last)
}

func TestHelpers(t *testing.T) {
	err := fmt.Errorf("context: %w", FromStatus(404, "req-9", "missing"))

	assert.True(t, Is(err, ErrorTypeAuthorization))
	assert.False(t, Is(err, ErrorTypeTransient))
	assert.Equal(t, ErrorTypeAuthorization, TypeOf(err))
	assert.Equal(t, 404, StatusOf(err))

	plain := errors.New("nope")
	assert.Equal(t, ErrorTypeUnknown, TypeOf(plain))
	assert.Equal(t, 0, StatusOf(plain))
}
