package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{"file not found", amerrors.NotFound("report.pdf", nil), ErrCodeFileNotFound, "report.pdf"},
		{"collection missing", amerrors.ErrCollectionNotFound, ErrCodeIndexNotReady, "collection not found"},
		{"refresh locked", fmt.Errorf("refresh: %w", amerrors.ErrRefreshLocked), ErrCodeRefreshBusy, "lock"},
		{"network timeout", amerrors.New(amerrors.ErrCodeNetworkTimeout, "slow", nil), ErrCodeTimeout, "slow"},
		{"network", amerrors.NetworkError("ollama down", nil), ErrCodeServiceUnavailable, "ollama down"},
		{"validation", amerrors.ValidationError("bad", nil), ErrCodeInvalidParams, "bad"},
		{"config", amerrors.ConfigError("bad config", nil), ErrCodeInternalError, "bad config"},
		{"canceled", context.Canceled, ErrCodeTimeout, "canceled"},
		{"plain", errors.New("secret detail"), ErrCodeInternalError, "Internal server error."},
		{"passthrough", NewInvalidParamsError("nope"), ErrCodeInvalidParams, "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			assert.Equal(t, tt.wantCode, got.Code)
			assert.Contains(t, got.Message, tt.wantMsg)
		})
	}
	assert.Nil(t, MapError(nil))
}

func TestMapError_IncludesSuggestion(t *testing.T) {
	err := amerrors.NetworkError("ollama down", nil).WithSuggestion("Run 'ollama serve'")

	got := MapError(err)

	assert.Equal(t, "ollama down Run 'ollama serve'", got.Message)
	assert.Equal(t, "MCP error -32002: ollama down Run 'ollama serve'", got.Error())
}

func TestMimeTypeForPath(t *testing.T) {
	assert.Equal(t, "application/pdf", MimeTypeForPath("Report.PDF"))
	assert.Equal(t, "audio/mpeg", MimeTypeForPath("call.mp3"))
	assert.Equal(t, "text/markdown", MimeTypeForPath("notes.md"))
	assert.Equal(t, "application/octet-stream", MimeTypeForPath("photo.png"))
	assert.True(t, isText("text/plain"))
	assert.False(t, isText("application/pdf"))
}
