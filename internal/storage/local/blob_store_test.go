package local_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/follower-tracker/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("CreatesMissingDir", func(t *testing.T) {
		t.Parallel()
		dir := filepath.Join(t.TempDir(), "archive", "pages")
		store, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		require.NotNil(t, store)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		require.True(t, info.IsDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		t.Parallel()
		_, err := local.New(local.Config{BaseDir: "  "})
		require.Error(t, err)
	})

	t.Run("BaseDirIsAFile", func(t *testing.T) {
		t.Parallel()
		file := filepath.Join(t.TempDir(), "plain")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		require.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)
	ctx := context.Background()

	path := "pages/ch-1/abc.html"
	data := []byte("<html>miss</html>")
	uri, err := store.PutObject(ctx, path, "text/html", bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, "file://"+filepath.Join(tempDir, path), uri)

	// #nosec G304 -- test reads from the controlled temp directory.
	readData, err := os.ReadFile(filepath.Join(tempDir, path))
	require.NoError(t, err)
	require.Equal(t, data, readData)

	_, err = store.PutObject(ctx, path, "text/html", bytes.NewReader([]byte("second")))
	require.NoError(t, err)
	// #nosec G304 -- test reads from the controlled temp directory.
	readData, err = os.ReadFile(filepath.Join(tempDir, path))
	require.NoError(t, err)
	require.Equal(t, "second", string(readData))

	_, err = store.PutObject(ctx, "", "text/html", bytes.NewReader(data))
	require.Error(t, err)

	_, err = store.PutObject(ctx, "../escape.html", "text/html", bytes.NewReader(data))
	require.ErrorContains(t, err, "escapes")

	entries, err := os.ReadDir(filepath.Join(tempDir, "pages", "ch-1"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
