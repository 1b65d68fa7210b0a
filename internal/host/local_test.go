package host

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veeso/termscp-sub002/internal/fs"
)

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	_, err = l.Connect(context.Background())
	require.NoError(t, err)
	return l
}

func TestLocalConnectDisconnect(t *testing.T) {
	l := newTestLocal(t)
	require.True(t, l.IsConnected())
	require.NoError(t, l.Disconnect(context.Background()))
	require.False(t, l.IsConnected())
}

func TestLocalPwdAndChangeDir(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	root, err := l.Pwd(ctx)
	require.NoError(t, err)

	sub := filepath.Join(root, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))

	got, err := l.ChangeDir(ctx, "sub")
	require.NoError(t, err)
	require.Equal(t, sub, got)

	pwd, err := l.Pwd(ctx)
	require.NoError(t, err)
	require.Equal(t, sub, pwd)
}

func TestLocalChangeDirRejectsFile(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()
	root, _ := l.Pwd(ctx)
	require.NoError(t, os.WriteFile(filepath.Join(root, "f.txt"), []byte("x"), 0o644))

	_, err := l.ChangeDir(ctx, "f.txt")
	require.Error(t, err)
}

func TestLocalListDirCachesUntilChangeDir(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()
	root, _ := l.Pwd(ctx)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644))

	first, err := l.ListDir(ctx, ".")
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Writing a second file after the first listing must not appear until
	// the cache is invalidated by a ChangeDir, since ListDir caches the
	// current working directory's listing.
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("y"), 0o644))
	cached, err := l.ListDir(ctx, ".")
	require.NoError(t, err)
	require.Len(t, cached, 1, "listing of the cwd must be served from cache")

	sub := filepath.Join(root, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	_, err = l.ChangeDir(ctx, "sub")
	require.NoError(t, err)
	_, err = l.ChangeDir(ctx, root)
	require.NoError(t, err)

	fresh, err := l.ListDir(ctx, ".")
	require.NoError(t, err)
	require.Len(t, fresh, 3, "cache must be invalidated by ChangeDir")
}

// TestLocalListDirCacheHitSurvivesCallerInPlaceFilter pins that ListDir
// never hands back the cached slice itself, on a cache miss or a hit.
// Callers may filter or sort their slice in place (Browser.Reload sorts
// in place); if ListDir returned the cache's own backing array, such a
// mutation would permanently corrupt it for every later caller.
func TestLocalListDirCacheHitSurvivesCallerInPlaceFilter(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()
	root, _ := l.Pwd(ctx)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("y"), 0o644))

	first, err := l.ListDir(ctx, ".")
	require.NoError(t, err)
	require.Len(t, first, 2)
	originalPaths := []string{first[0].Path, first[1].Path}

	// Simulate Browser.Reload's in-place filter, keeping only the second
	// entry: entries[:0] reuses first's backing array, so appending first[1]
	// overwrites index 0 with a copy of index 1.
	filtered := first[:0]
	filtered = append(filtered, first[1])
	require.Len(t, filtered, 1)

	second, err := l.ListDir(ctx, ".")
	require.NoError(t, err)
	require.Len(t, second, 2, "an in-place filter on a caller's slice must not corrupt the cache")
	require.NotEqual(t, second[0].Path, second[1].Path, "cache entries must still be distinct after caller mutated its own copy")
	require.ElementsMatch(t, originalPaths, []string{second[0].Path, second[1].Path})
}

func TestLocalStatAndExists(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()
	root, _ := l.Pwd(ctx)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))

	exists, err := l.Exists(ctx, "a.txt")
	require.NoError(t, err)
	require.True(t, exists)

	missing, err := l.Exists(ctx, "missing.txt")
	require.NoError(t, err)
	require.False(t, missing)

	file, err := l.Stat(ctx, "a.txt")
	require.NoError(t, err)
	require.Equal(t, int64(5), file.Metadata.Size)
	require.Equal(t, fs.TypeFile, file.Metadata.FileType)
}

func TestLocalCreateDirRemoveFileRemoveDirAll(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	require.NoError(t, l.CreateDir(ctx, "d", 0o755, false))
	err := l.CreateDir(ctx, "d", 0o755, false)
	require.Error(t, err, "CreateDir without ignoreExisting must fail on an existing dir")
	require.NoError(t, l.CreateDir(ctx, "d", 0o755, true), "ignoreExisting must swallow the AlreadyExists")

	root, _ := l.Pwd(ctx)
	require.NoError(t, os.WriteFile(filepath.Join(root, "d", "f.txt"), []byte("x"), 0o644))
	require.NoError(t, l.RemoveFile(ctx, "d/f.txt"))

	require.NoError(t, l.RemoveDirAll(ctx, "d"))
	_, err = os.Stat(filepath.Join(root, "d"))
	require.True(t, os.IsNotExist(err))
}

func TestLocalRenameAndCopy(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()
	root, _ := l.Pwd(ctx)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))

	require.NoError(t, l.Rename(ctx, "a.txt", "b.txt"))
	_, err := os.Stat(filepath.Join(root, "a.txt"))
	require.True(t, os.IsNotExist(err))

	require.NoError(t, l.Copy(ctx, "b.txt", "c.txt"))
	data, err := os.ReadFile(filepath.Join(root, "c.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestLocalSymlinkCreatesLink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink creation exercised on POSIX only")
	}
	l := newTestLocal(t)
	ctx := context.Background()
	root, _ := l.Pwd(ctx)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))

	require.NoError(t, l.Symlink(ctx, "a.txt", "link.txt"))
	target, err := os.Readlink(filepath.Join(root, "link.txt"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "a.txt"), target)
}

func TestLocalOpenCreateStreaming(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	w, err := l.Create(ctx, "out.txt", fs.Metadata{})
	require.NoError(t, err)
	_, err = w.Write([]byte("streamed"))
	require.NoError(t, err)
	require.NoError(t, l.OnWritten(ctx, w))

	r, err := l.Open(ctx, "out.txt")
	require.NoError(t, err)
	buf := make([]byte, 8)
	n, err := r.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "streamed", string(buf[:n]))
	require.NoError(t, l.OnRead(ctx, r))
}

func TestLocalExecRunsSubprocess(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()
	if runtime.GOOS == "windows" {
		t.Skip("exec relies on a POSIX shell utility")
	}

	out, err := l.Exec(ctx, "echo hello")
	require.NoError(t, err)
	require.Contains(t, out, "hello")
}

func TestLocalStatMissingPathIsNotFound(t *testing.T) {
	l := newTestLocal(t)
	_, err := l.Stat(context.Background(), "nope.txt")
	require.Error(t, err)
	require.True(t, fs.IsNotFound(err))
}
