package browser

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veeso/termscp-sub002/internal/fs"
)

// fakeEndpoint implements just enough of fs.FsContract to drive Browser:
// a single in-memory directory tree navigated via Pwd/ChangeDir/ListDir.
// The remaining methods are stubs irrelevant to browsing; most of them
// return Unsupported.
type fakeEndpoint struct {
	tree map[string][]fs.File
	pwd  string
}

func newFakeEndpoint(pwd string, tree map[string][]fs.File) *fakeEndpoint {
	return &fakeEndpoint{tree: tree, pwd: pwd}
}

func (f *fakeEndpoint) Connect(ctx context.Context) (fs.Welcome, error) { return fs.Welcome{}, nil }
func (f *fakeEndpoint) Disconnect(ctx context.Context) error            { return nil }
func (f *fakeEndpoint) IsConnected() bool                               { return true }
func (f *fakeEndpoint) Pwd(ctx context.Context) (string, error)         { return f.pwd, nil }

func (f *fakeEndpoint) ChangeDir(ctx context.Context, path string) (string, error) {
	if path == ".." {
		if f.pwd == "/" {
			return f.pwd, nil
		}
		idx := len(f.pwd) - 1
		for idx > 0 && f.pwd[idx] != '/' {
			idx--
		}
		if idx == 0 {
			f.pwd = "/"
		} else {
			f.pwd = f.pwd[:idx]
		}
		return f.pwd, nil
	}
	if _, ok := f.tree[path]; !ok {
		return "", fs.ErrUnsupported("no such directory " + path)
	}
	f.pwd = path
	return f.pwd, nil
}

func (f *fakeEndpoint) ListDir(ctx context.Context, path string) ([]fs.File, error) {
	entries, ok := f.tree[path]
	if !ok {
		return nil, fs.ErrUnsupported("no such directory " + path)
	}
	// Return a fresh slice each call, the same as every real backend (the
	// listing is built from a network response, never a shared cache), so
	// Browser.Reload's in-place sort can't alias test state.
	out := make([]fs.File, len(entries))
	copy(out, entries)
	return out, nil
}

func (f *fakeEndpoint) Stat(ctx context.Context, path string) (fs.File, error) {
	return fs.File{}, fs.ErrUnsupported("stat")
}
func (f *fakeEndpoint) Exists(ctx context.Context, path string) (bool, error) { return false, nil }
func (f *fakeEndpoint) CreateDir(ctx context.Context, path string, mode fs.UnixPex, ignoreExisting bool) error {
	return fs.ErrUnsupported("create dir")
}
func (f *fakeEndpoint) RemoveFile(ctx context.Context, path string) error     { return fs.ErrUnsupported("remove") }
func (f *fakeEndpoint) RemoveDirAll(ctx context.Context, path string) error   { return fs.ErrUnsupported("remove") }
func (f *fakeEndpoint) Rename(ctx context.Context, src, dst string) error     { return fs.ErrUnsupported("rename") }
func (f *fakeEndpoint) Copy(ctx context.Context, src, dst string) error       { return fs.ErrUnsupported("copy") }
func (f *fakeEndpoint) Symlink(ctx context.Context, src, dst string) error    { return fs.ErrUnsupported("symlink") }
func (f *fakeEndpoint) Setstat(ctx context.Context, path string, m fs.Metadata) error {
	return fs.ErrUnsupported("setstat")
}
func (f *fakeEndpoint) Chmod(ctx context.Context, path string, pex fs.UnixPex) error {
	return fs.ErrUnsupported("chmod")
}
func (f *fakeEndpoint) Exec(ctx context.Context, cmd string) (string, error) {
	return "", fs.ErrUnsupported("exec")
}
func (f *fakeEndpoint) Open(ctx context.Context, path string) (fs.ReadStream, error) {
	return nil, fs.ErrUnsupported("open")
}
func (f *fakeEndpoint) Create(ctx context.Context, path string, m fs.Metadata) (fs.WriteStream, error) {
	return nil, fs.ErrUnsupported("create")
}
func (f *fakeEndpoint) OpenFile(ctx context.Context, path string, sink io.Writer) error {
	return fs.ErrUnsupported("open file")
}
func (f *fakeEndpoint) CreateFile(ctx context.Context, path string, m fs.Metadata, source io.Reader) error {
	return fs.ErrUnsupported("create file")
}
func (f *fakeEndpoint) OnRead(ctx context.Context, stream fs.ReadStream) error { return nil }
func (f *fakeEndpoint) OnWritten(ctx context.Context, stream fs.WriteStream) error { return nil }

func fileEntry(name string, size int64, isDir bool) fs.File {
	ft := fs.TypeFile
	if isDir {
		ft = fs.TypeDirectory
	}
	return fs.File{Path: "/" + name, Metadata: fs.Metadata{Size: size, FileType: ft, Modified: time.Now()}}
}

func sampleTree() map[string][]fs.File {
	return map[string][]fs.File{
		"/": {
			fileEntry("zeta.txt", 300, false),
			fileEntry(".hidden", 10, false),
			fileEntry("sub", 0, true),
			fileEntry("alpha.txt", 100, false),
		},
		"/sub": {
			fileEntry("sub/nested.txt", 5, false),
		},
	}
}

func TestBrowserNewPopulatesWrkdirAndFiles(t *testing.T) {
	ep := newFakeEndpoint("/", sampleTree())
	b, err := New(context.Background(), ep)
	require.NoError(t, err)
	require.Equal(t, "/", b.Wrkdir())

	names := make([]string, len(b.Files()))
	for i, f := range b.Files() {
		names[i] = f.Name()
	}
	require.Equal(t, []string{"sub", "alpha.txt", "zeta.txt"}, names, "dirs first, then name order, hidden excluded by default")
}

func TestBrowserToggleHiddenShowsDotfiles(t *testing.T) {
	ep := newFakeEndpoint("/", sampleTree())
	b, err := New(context.Background(), ep)
	require.NoError(t, err)

	require.NoError(t, b.ToggleHidden(context.Background()))
	require.True(t, b.ShowHidden())

	found := false
	for _, f := range b.Files() {
		if f.Name() == ".hidden" {
			found = true
		}
	}
	require.True(t, found)
}

func TestBrowserSortBySize(t *testing.T) {
	ep := newFakeEndpoint("/", sampleTree())
	b, err := New(context.Background(), ep)
	require.NoError(t, err)

	b.SetSort(SortBySize)
	var files []fs.File
	for _, f := range b.Files() {
		if !f.IsDir() {
			files = append(files, f)
		}
	}
	require.Len(t, files, 2)
	require.Equal(t, "alpha.txt", files[0].Name())
	require.Equal(t, "zeta.txt", files[1].Name())
}

func TestBrowserCdAndCdPrev(t *testing.T) {
	ep := newFakeEndpoint("/", sampleTree())
	b, err := New(context.Background(), ep)
	require.NoError(t, err)

	require.NoError(t, b.Cd(context.Background(), "/sub", true))
	require.Equal(t, "/sub", b.Wrkdir())
	require.Len(t, b.Files(), 1)

	require.NoError(t, b.CdPrev(context.Background()))
	require.Equal(t, "/", b.Wrkdir())
}

func TestBrowserCdUp(t *testing.T) {
	ep := newFakeEndpoint("/sub", sampleTree())
	b, err := New(context.Background(), ep)
	require.NoError(t, err)

	require.NoError(t, b.CdUp(context.Background()))
	require.Equal(t, "/", b.Wrkdir())
}

func TestBrowserMarkUnmarkQueue(t *testing.T) {
	ep := newFakeEndpoint("/", sampleTree())
	b, err := New(context.Background(), ep)
	require.NoError(t, err)

	b.Mark("/alpha.txt")
	b.Mark("/zeta.txt")
	require.True(t, b.Marked("/alpha.txt"))
	require.Equal(t, []string{"/alpha.txt", "/zeta.txt"}, b.Queue())

	b.Unmark("/alpha.txt")
	require.False(t, b.Marked("/alpha.txt"))
	require.Equal(t, []string{"/zeta.txt"}, b.Queue())

	b.ClearQueue()
	require.Empty(t, b.Queue())
}

func TestBrowserFoundViewOverridesFilesUntilCleared(t *testing.T) {
	ep := newFakeEndpoint("/", sampleTree())
	b, err := New(context.Background(), ep)
	require.NoError(t, err)
	require.False(t, b.InFound())

	matches := []fs.File{fileEntry("alpha.txt", 100, false)}
	b.SetFound(matches, "/")
	require.True(t, b.InFound())
	require.Len(t, b.Files(), 1)
	require.Equal(t, "alpha.txt", b.Files()[0].Name())

	b.ClearFound()
	require.False(t, b.InFound())
	require.Len(t, b.Files(), 3)
}

func TestBrowserCdClearsFoundView(t *testing.T) {
	ep := newFakeEndpoint("/", sampleTree())
	b, err := New(context.Background(), ep)
	require.NoError(t, err)

	b.SetFound([]fs.File{fileEntry("alpha.txt", 100, false)}, "/")
	require.True(t, b.InFound())

	require.NoError(t, b.Cd(context.Background(), "/sub", true))
	require.False(t, b.InFound())
}
