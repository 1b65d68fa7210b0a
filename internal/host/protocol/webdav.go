package protocol

import (
	"context"
	"io"
	"os"
	"path"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"
	"github.com/studio-b12/gowebdav"

	"github.com/veeso/termscp-sub002/internal/fs"
	"github.com/veeso/termscp-sub002/internal/params"
)

// WebDAV implements fs.FsContract over a WebDAV collection via
// github.com/studio-b12/gowebdav.
type WebDAV struct {
	p params.WebDAV

	client    *gowebdav.Client
	wrkdir    string
	connected bool
	log       log.FieldLogger
}

// NewWebDAV builds an unconnected WebDAV endpoint.
func NewWebDAV(p params.WebDAV) *WebDAV {
	return &WebDAV{p: p, wrkdir: "/", log: log.WithField(trace.Component, "protocol:webdav")}
}

// Connect builds the gowebdav client and probes the server with the
// client's own Connect call, since the library otherwise dials lazily per
// request.
func (w *WebDAV) Connect(ctx context.Context) (fs.Welcome, error) {
	client := gowebdav.NewClient(w.p.URI, w.p.Username, w.p.Password)
	if err := client.Connect(); err != nil {
		return fs.Welcome{}, trace.ConnectionProblem(err, "connect to %s", w.p.URI)
	}
	w.client = client
	w.connected = true
	return fs.Welcome{}, nil
}

// Disconnect drops the client reference; gowebdav holds no persistent
// session to tear down.
func (w *WebDAV) Disconnect(ctx context.Context) error {
	w.client = nil
	w.connected = false
	return nil
}

// IsConnected reports whether Connect has succeeded.
func (w *WebDAV) IsConnected() bool { return w.connected }

func (w *WebDAV) resolve(p string) string {
	if path.IsAbs(p) {
		return p
	}
	return path.Join(w.wrkdir, p)
}

// Pwd returns the tracked working collection.
func (w *WebDAV) Pwd(ctx context.Context) (string, error) { return w.wrkdir, nil }

// ChangeDir validates path is a collection and adopts it.
func (w *WebDAV) ChangeDir(ctx context.Context, p string) (string, error) {
	if w.client == nil {
		return "", fs.ErrNotConnected("webdav")
	}
	target := w.resolve(p)
	info, err := w.client.Stat(target)
	if err != nil {
		return "", translateWebdavErr(err, target)
	}
	if !info.IsDir() {
		return "", trace.BadParameter("%s is not a directory", target)
	}
	w.wrkdir = target
	return target, nil
}

// ListDir issues PROPFIND depth 1.
func (w *WebDAV) ListDir(ctx context.Context, p string) ([]fs.File, error) {
	if w.client == nil {
		return nil, fs.ErrNotConnected("webdav")
	}
	target := w.resolve(p)
	entries, err := w.client.ReadDir(target)
	if err != nil {
		return nil, translateWebdavErr(err, target)
	}
	files := make([]fs.File, 0, len(entries))
	for _, entry := range entries {
		files = append(files, infoToFileWebdav(path.Join(target, entry.Name()), entry))
	}
	return files, nil
}

// Stat issues a single-resource PROPFIND.
func (w *WebDAV) Stat(ctx context.Context, p string) (fs.File, error) {
	if w.client == nil {
		return fs.File{}, fs.ErrNotConnected("webdav")
	}
	target := w.resolve(p)
	info, err := w.client.Stat(target)
	if err != nil {
		return fs.File{}, translateWebdavErr(err, target)
	}
	return infoToFileWebdav(target, info), nil
}

// Exists reports whether Stat finds the resource.
func (w *WebDAV) Exists(ctx context.Context, p string) (bool, error) {
	_, err := w.Stat(ctx, p)
	if err == nil {
		return true, nil
	}
	if fs.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// CreateDir issues MKCOL.
func (w *WebDAV) CreateDir(ctx context.Context, p string, mode fs.UnixPex, ignoreExisting bool) error {
	if w.client == nil {
		return fs.ErrNotConnected("webdav")
	}
	target := w.resolve(p)
	if exists, _ := w.Exists(ctx, target); exists {
		if ignoreExisting {
			return nil
		}
		return trace.AlreadyExists("%s already exists", target)
	}
	return translateWebdavErr(w.client.MkdirAll(target, os.FileMode(mode)), target)
}

// RemoveFile issues DELETE.
func (w *WebDAV) RemoveFile(ctx context.Context, p string) error {
	if w.client == nil {
		return fs.ErrNotConnected("webdav")
	}
	target := w.resolve(p)
	return translateWebdavErr(w.client.Remove(target), target)
}

// RemoveDirAll issues DELETE on the collection; WebDAV DELETE is inherently
// recursive for collections per RFC 4918.
func (w *WebDAV) RemoveDirAll(ctx context.Context, p string) error {
	return w.RemoveFile(ctx, p)
}

// Rename issues MOVE.
func (w *WebDAV) Rename(ctx context.Context, src, dst string) error {
	if w.client == nil {
		return fs.ErrNotConnected("webdav")
	}
	return translateWebdavErr(w.client.Rename(w.resolve(src), w.resolve(dst), true), src)
}

// Copy issues COPY, server-side where the WebDAV server supports it.
func (w *WebDAV) Copy(ctx context.Context, src, dst string) error {
	if w.client == nil {
		return fs.ErrNotConnected("webdav")
	}
	return translateWebdavErr(w.client.Copy(w.resolve(src), w.resolve(dst), true), src)
}

// Symlink is unsupported: WebDAV has no link resource type in RFC 4918.
func (w *WebDAV) Symlink(ctx context.Context, src, dst string) error {
	return fs.ErrUnsupported("symlink")
}

// Setstat is unsupported: standard WebDAV PROPPATCH has no portable
// getlastmodified setter most servers honor.
func (w *WebDAV) Setstat(ctx context.Context, p string, metadata fs.Metadata) error {
	return fs.ErrUnsupported("setstat")
}

// Chmod is unsupported: WebDAV has no unix permission model.
func (w *WebDAV) Chmod(ctx context.Context, p string, pex fs.UnixPex) error {
	return fs.ErrUnsupported("chmod")
}

// Exec is unsupported: WebDAV is not a shell protocol.
func (w *WebDAV) Exec(ctx context.Context, cmd string) (string, error) {
	return "", fs.ErrUnsupported("exec")
}

// Open is unsupported: gowebdav's ReadStream issues a GET but the response
// body outlives the request context awkwardly across retries, so WebDAV
// always routes through OpenFile/CreateFile and the TempMappedFile bridge.
func (w *WebDAV) Open(ctx context.Context, p string) (fs.ReadStream, error) {
	return nil, fs.ErrUnsupported("open")
}

// Create is unsupported for the same reason as Open.
func (w *WebDAV) Create(ctx context.Context, p string, metadata fs.Metadata) (fs.WriteStream, error) {
	return nil, fs.ErrUnsupported("create")
}

// OpenFile issues GET and copies the body into sink.
func (w *WebDAV) OpenFile(ctx context.Context, p string, sink io.Writer) error {
	if w.client == nil {
		return fs.ErrNotConnected("webdav")
	}
	target := w.resolve(p)
	reader, err := w.client.ReadStream(target)
	if err != nil {
		return translateWebdavErr(err, target)
	}
	defer reader.Close()
	_, err = io.Copy(sink, reader)
	return trace.Wrap(err)
}

// CreateFile issues PUT with source as the body.
func (w *WebDAV) CreateFile(ctx context.Context, p string, metadata fs.Metadata, source io.Reader) error {
	if w.client == nil {
		return fs.ErrNotConnected("webdav")
	}
	target := w.resolve(p)
	return translateWebdavErr(w.client.WriteStream(target, source, os.FileMode(0o644)), target)
}

// OnRead is a no-op: OpenFile already closed the response body.
func (w *WebDAV) OnRead(ctx context.Context, stream fs.ReadStream) error { return nil }

// OnWritten is a no-op: CreateFile already completed the PUT.
func (w *WebDAV) OnWritten(ctx context.Context, stream fs.WriteStream) error { return nil }

func infoToFileWebdav(fullPath string, info os.FileInfo) fs.File {
	ftype := fs.TypeFile
	if info.IsDir() {
		ftype = fs.TypeDirectory
	}
	return fs.File{
		Path: fullPath,
		Metadata: fs.Metadata{
			Size:     info.Size(),
			Modified: info.ModTime(),
			FileType: ftype,
		},
	}
}

func translateWebdavErr(err error, path string) error {
	if err == nil {
		return nil
	}
	if gowebdav.IsErrNotFound(err) {
		return trace.NotFound("%s: no such file or directory", path)
	}
	if os.IsPermission(err) {
		return trace.AccessDenied("%s: permission denied", path)
	}
	return trace.Wrap(err)
}
