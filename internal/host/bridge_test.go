package host

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veeso/termscp-sub002/internal/fs"
)

// unsupportingBackend implements fs.FsContract with Open/Create always
// reporting Unsupported, forcing RemoteBridged's fallback path, and
// OpenFile/CreateFile backed by an in-memory map so the fallback can be
// observed end to end without a real protocol client.
type unsupportingBackend struct {
	files map[string][]byte
}

func newUnsupportingBackend() *unsupportingBackend {
	return &unsupportingBackend{files: make(map[string][]byte)}
}

func (b *unsupportingBackend) Connect(ctx context.Context) (fs.Welcome, error) {
	return fs.Welcome{}, nil
}
func (b *unsupportingBackend) Disconnect(ctx context.Context) error { return nil }
func (b *unsupportingBackend) IsConnected() bool                    { return true }
func (b *unsupportingBackend) Pwd(ctx context.Context) (string, error) {
	return "/", nil
}
func (b *unsupportingBackend) ChangeDir(ctx context.Context, path string) (string, error) {
	return path, nil
}
func (b *unsupportingBackend) ListDir(ctx context.Context, path string) ([]fs.File, error) {
	return nil, nil
}
func (b *unsupportingBackend) Stat(ctx context.Context, path string) (fs.File, error) {
	return fs.File{}, fs.ErrUnsupported("stat")
}
func (b *unsupportingBackend) Exists(ctx context.Context, path string) (bool, error) {
	_, ok := b.files[path]
	return ok, nil
}
func (b *unsupportingBackend) CreateDir(ctx context.Context, path string, mode fs.UnixPex, ignoreExisting bool) error {
	return fs.ErrUnsupported("createdir")
}
func (b *unsupportingBackend) RemoveFile(ctx context.Context, path string) error {
	delete(b.files, path)
	return nil
}
func (b *unsupportingBackend) RemoveDirAll(ctx context.Context, path string) error {
	return fs.ErrUnsupported("removedirall")
}
func (b *unsupportingBackend) Rename(ctx context.Context, src, dst string) error {
	return fs.ErrUnsupported("rename")
}
func (b *unsupportingBackend) Copy(ctx context.Context, src, dst string) error {
	return fs.ErrUnsupported("copy")
}
func (b *unsupportingBackend) Symlink(ctx context.Context, src, dst string) error {
	return fs.ErrUnsupported("symlink")
}
func (b *unsupportingBackend) Setstat(ctx context.Context, path string, metadata fs.Metadata) error {
	return fs.ErrUnsupported("setstat")
}
func (b *unsupportingBackend) Chmod(ctx context.Context, path string, pex fs.UnixPex) error {
	return fs.ErrUnsupported("chmod")
}
func (b *unsupportingBackend) Exec(ctx context.Context, cmd string) (string, error) {
	return "", fs.ErrUnsupported("exec")
}
func (b *unsupportingBackend) Open(ctx context.Context, path string) (fs.ReadStream, error) {
	return nil, fs.ErrUnsupported("open")
}
func (b *unsupportingBackend) Create(ctx context.Context, path string, metadata fs.Metadata) (fs.WriteStream, error) {
	return nil, fs.ErrUnsupported("create")
}
func (b *unsupportingBackend) OpenFile(ctx context.Context, path string, sink io.Writer) error {
	data, ok := b.files[path]
	if !ok {
		return fs.ErrUnsupported("not found")
	}
	_, err := sink.Write(data)
	return err
}
func (b *unsupportingBackend) CreateFile(ctx context.Context, path string, metadata fs.Metadata, source io.Reader) error {
	data, err := io.ReadAll(source)
	if err != nil {
		return err
	}
	b.files[path] = data
	return nil
}
func (b *unsupportingBackend) OnRead(ctx context.Context, stream fs.ReadStream) error  { return stream.Close() }
func (b *unsupportingBackend) OnWritten(ctx context.Context, stream fs.WriteStream) error {
	return stream.Close()
}

func TestRemoteBridgedCreateWriteOnWrittenRoundTrip(t *testing.T) {
	backend := newUnsupportingBackend()
	b := NewRemoteBridged(backend)
	ctx := context.Background()

	w, err := b.Create(ctx, "/remote/a.txt", fs.Metadata{})
	require.NoError(t, err)
	_, err = w.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, b.OnWritten(ctx, w))

	require.Equal(t, []byte("payload"), backend.files["/remote/a.txt"])
}

func TestRemoteBridgedCreateRejectsSecondPendingWrite(t *testing.T) {
	backend := newUnsupportingBackend()
	b := NewRemoteBridged(backend)
	ctx := context.Background()

	_, err := b.Create(ctx, "/remote/a.txt", fs.Metadata{})
	require.NoError(t, err)

	_, err = b.Create(ctx, "/remote/b.txt", fs.Metadata{})
	require.Error(t, err, "a second Create must be rejected while one finalize is pending")
}

func TestRemoteBridgedOnWrittenRejectsUnmatchedStream(t *testing.T) {
	backend := newUnsupportingBackend()
	b := NewRemoteBridged(backend)
	ctx := context.Background()

	err := b.OnWritten(ctx, &bufferedWriteStream{})
	require.Error(t, err)
}

func TestRemoteBridgedOpenReadsThroughTempFile(t *testing.T) {
	backend := newUnsupportingBackend()
	backend.files["/remote/a.txt"] = []byte("hello world")
	b := NewRemoteBridged(backend)
	ctx := context.Background()

	r, err := b.Open(ctx, "/remote/a.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))
	require.NoError(t, b.OnRead(ctx, r))
}

func TestRemoteBridgedOpenPropagatesOtherErrors(t *testing.T) {
	backend := newUnsupportingBackend()
	b := stubbedOpenBackend{unsupportingBackend: backend}
	bridged := NewRemoteBridged(&b)

	_, err := bridged.Open(context.Background(), "/missing.txt")
	require.Error(t, err)
	require.False(t, fs.IsUnsupported(err), "a non-Unsupported Open error must propagate as-is")
}

// stubbedOpenBackend overrides Open to return a distinguishable non-
// Unsupported failure, exercising RemoteBridged.Open's early-return branch
// for errors it must not treat as a fallback trigger.
type stubbedOpenBackend struct {
	*unsupportingBackend
}

func (s *stubbedOpenBackend) Open(ctx context.Context, path string) (fs.ReadStream, error) {
	return nil, io.ErrClosedPipe
}

func TestRemoteBridgedDelegatesUnintercepted(t *testing.T) {
	backend := newUnsupportingBackend()
	b := NewRemoteBridged(backend)

	ok, err := b.Exists(context.Background(), "/remote/a.txt")
	require.NoError(t, err)
	require.False(t, ok)
}
