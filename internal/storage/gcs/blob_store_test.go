package gcs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "raw"})
	require.ErrorContains(t, err, "client is required")

	_, err = New(&storage.Client{}, Config{})
	require.ErrorContains(t, err, "bucket name is required")

	store, err := New(&storage.Client{}, Config{Bucket: "raw"})
	require.NoError(t, err)
	require.Equal(t, "raw", store.bucket)
}

func TestIsPreconditionFailed(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("close: %w", &googleapi.Error{Code: http.StatusPreconditionFailed})
	require.True(t, isPreconditionFailed(wrapped))
	require.False(t, isPreconditionFailed(&googleapi.Error{Code: http.StatusForbidden}))
	require.False(t, isPreconditionFailed(errors.New("boom")))
}
