package local_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-acquirer/internal/storage/local"
)

func TestNewCreatesMissingDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "archive", "pages")
	_, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "probe file must be cleaned up")
}

func TestNewRejectsBadDirs(t *testing.T) {
	t.Parallel()

	_, err := local.New(local.Config{BaseDir: "  "})
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	_, err = local.New(local.Config{BaseDir: file})
	require.Error(t, err)
}

func TestPutObjectWritesNestedPath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	blobs, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	uri, err := blobs.PutObject(context.Background(), "books/abc.html", "text/html", strings.NewReader("<html></html>"))
	require.NoError(t, err)
	require.Equal(t, "file://"+filepath.Join(dir, "books", "abc.html"), uri)

	// #nosec G304 -- test reads from its own temp directory.
	body, err := os.ReadFile(filepath.Join(dir, "books", "abc.html"))
	require.NoError(t, err)
	require.Equal(t, "<html></html>", string(body))
}

func TestPutObjectKeepsExistingObject(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	blobs, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = blobs.PutObject(ctx, "s/h.html", "text/html", strings.NewReader("first"))
	require.NoError(t, err)
	_, err = blobs.PutObject(ctx, "s/h.html", "text/html", strings.NewReader("second"))
	require.NoError(t, err)

	// #nosec G304 -- test reads from its own temp directory.
	body, err := os.ReadFile(filepath.Join(dir, "s", "h.html"))
	require.NoError(t, err)
	require.Equal(t, "first", string(body))
}

func TestPutObjectRejectsTraversal(t *testing.T) {
	t.Parallel()

	blobs, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	_, err = blobs.PutObject(context.Background(), "../outside.html", "text/html", strings.NewReader("x"))
	require.Error(t, err)
	_, err = blobs.PutObject(context.Background(), "", "text/html", strings.NewReader("x"))
	require.Error(t, err)
}
