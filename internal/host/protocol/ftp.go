package protocol

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"path"
	"strconv"
	"time"

	"github.com/gravitational/trace"
	"github.com/jlaffaye/ftp"
	log "github.com/sirupsen/logrus"

	"github.com/veeso/termscp-sub002/internal/fs"
	"github.com/veeso/termscp-sub002/internal/params"
)

// FTP implements fs.FsContract over FTP or, when tls is set, FTPS
// (explicit TLS), via github.com/jlaffaye/ftp.
type FTP struct {
	generic params.Generic
	tls     bool

	conn *ftp.ServerConn
	log  log.FieldLogger
}

// NewFTP builds an unconnected FTP/FTPS endpoint. secure selects FTPS
// (AUTH TLS) over plain FTP.
func NewFTP(p params.Generic, secure bool) *FTP {
	return &FTP{
		generic: p,
		tls:     secure,
		log:     log.WithField(trace.Component, "protocol:ftp"),
	}
}

// Connect dials the control connection, optionally upgrading to TLS, then
// authenticates.
func (f *FTP) Connect(ctx context.Context) (fs.Welcome, error) {
	addr := net.JoinHostPort(f.generic.Address, strconv.Itoa(f.generic.Port))
	opts := []ftp.DialOption{ftp.DialWithTimeout(15 * time.Second), ftp.DialWithContext(ctx)}
	if f.tls {
		opts = append(opts, ftp.DialWithExplicitTLS(&tls.Config{ServerName: f.generic.Address}))
	}

	conn, err := ftp.Dial(addr, opts...)
	if err != nil {
		return fs.Welcome{}, trace.ConnectionProblem(err, "dial %s", addr)
	}
	if err := conn.Login(f.generic.Username, f.generic.Password); err != nil {
		conn.Quit()
		return fs.Welcome{}, trace.AccessDenied("ftp login failed: %v", err)
	}
	f.conn = conn
	return fs.Welcome{}, nil
}

// Disconnect sends QUIT and closes the control connection.
func (f *FTP) Disconnect(ctx context.Context) error {
	if f.conn == nil {
		return nil
	}
	err := f.conn.Quit()
	f.conn = nil
	return trace.Wrap(err)
}

// IsConnected reports whether the control connection is live.
func (f *FTP) IsConnected() bool { return f.conn != nil }

// Pwd returns the server-tracked current directory.
func (f *FTP) Pwd(ctx context.Context) (string, error) {
	if f.conn == nil {
		return "", fs.ErrNotConnected("ftp")
	}
	dir, err := f.conn.CurrentDir()
	if err != nil {
		return "", trace.Wrap(err)
	}
	return dir, nil
}

// ChangeDir issues CWD.
func (f *FTP) ChangeDir(ctx context.Context, p string) (string, error) {
	if f.conn == nil {
		return "", fs.ErrNotConnected("ftp")
	}
	if err := f.conn.ChangeDir(p); err != nil {
		return "", trace.NotFound("%s: %v", p, err)
	}
	return f.conn.CurrentDir()
}

// ListDir issues LIST.
func (f *FTP) ListDir(ctx context.Context, p string) ([]fs.File, error) {
	if f.conn == nil {
		return nil, fs.ErrNotConnected("ftp")
	}
	entries, err := f.conn.List(p)
	if err != nil {
		return nil, trace.NotFound("%s: %v", p, err)
	}
	files := make([]fs.File, 0, len(entries))
	for _, entry := range entries {
		if entry.Name == "." || entry.Name == ".." {
			continue
		}
		files = append(files, entryToFile(path.Join(p, entry.Name), entry))
	}
	return files, nil
}

// Stat lists the parent directory and finds the matching entry, since FTP
// has no single-file stat command besides the nonstandard MLST.
func (f *FTP) Stat(ctx context.Context, p string) (fs.File, error) {
	if f.conn == nil {
		return fs.File{}, fs.ErrNotConnected("ftp")
	}
	entries, err := f.conn.List(path.Dir(p))
	if err != nil {
		return fs.File{}, trace.NotFound("%s: %v", p, err)
	}
	name := path.Base(p)
	for _, entry := range entries {
		if entry.Name == name {
			return entryToFile(p, entry), nil
		}
	}
	return fs.File{}, trace.NotFound("%s: no such file or directory", p)
}

// Exists reports whether Stat finds an entry.
func (f *FTP) Exists(ctx context.Context, p string) (bool, error) {
	_, err := f.Stat(ctx, p)
	if err == nil {
		return true, nil
	}
	if fs.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// CreateDir issues MKD.
func (f *FTP) CreateDir(ctx context.Context, p string, mode fs.UnixPex, ignoreExisting bool) error {
	if f.conn == nil {
		return fs.ErrNotConnected("ftp")
	}
	if err := f.conn.MakeDir(p); err != nil {
		if exists, _ := f.Exists(ctx, p); exists {
			if ignoreExisting {
				return nil
			}
			return trace.AlreadyExists("%s already exists", p)
		}
		return trace.Wrap(err)
	}
	return nil
}

// RemoveFile issues DELE.
func (f *FTP) RemoveFile(ctx context.Context, p string) error {
	if f.conn == nil {
		return fs.ErrNotConnected("ftp")
	}
	return trace.Wrap(f.conn.Delete(p))
}

// RemoveDirAll issues the library's recursive directory removal helper.
func (f *FTP) RemoveDirAll(ctx context.Context, p string) error {
	if f.conn == nil {
		return fs.ErrNotConnected("ftp")
	}
	return trace.Wrap(f.conn.RemoveDirRecur(p))
}

// Rename issues RNFR/RNTO.
func (f *FTP) Rename(ctx context.Context, src, dst string) error {
	if f.conn == nil {
		return fs.ErrNotConnected("ftp")
	}
	return trace.Wrap(f.conn.Rename(src, dst))
}

// Copy streams src into dst; FTP has no server-side copy command.
func (f *FTP) Copy(ctx context.Context, src, dst string) error {
	if f.conn == nil {
		return fs.ErrNotConnected("ftp")
	}
	r, err := f.conn.Retr(src)
	if err != nil {
		return trace.NotFound("%s: %v", src, err)
	}
	defer r.Close()
	if err := f.conn.Stor(dst, r); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// Symlink is unsupported: the FTP protocol has no symlink command.
func (f *FTP) Symlink(ctx context.Context, src, dst string) error {
	return fs.ErrUnsupported("symlink")
}

// Setstat applies mtime via MFMT when supported; unix mode has no standard
// FTP command and is silently skipped.
func (f *FTP) Setstat(ctx context.Context, p string, metadata fs.Metadata) error {
	if f.conn == nil {
		return fs.ErrNotConnected("ftp")
	}
	if !metadata.Modified.IsZero() {
		if err := f.conn.SetTime(p, metadata.Modified); err != nil {
			f.log.WithError(err).Debugf("server does not support MFMT for %s", p)
		}
	}
	return nil
}

// Chmod is unsupported: standard FTP has no chmod command (some servers
// support the nonstandard SITE CHMOD, which this client does not assume).
func (f *FTP) Chmod(ctx context.Context, p string, pex fs.UnixPex) error {
	return fs.ErrUnsupported("chmod")
}

// Exec is unsupported: FTP has no remote command execution.
func (f *FTP) Exec(ctx context.Context, cmd string) (string, error) {
	return "", fs.ErrUnsupported("exec")
}

// Open issues RETR and returns a streaming reader.
func (f *FTP) Open(ctx context.Context, p string) (fs.ReadStream, error) {
	if f.conn == nil {
		return nil, fs.ErrNotConnected("ftp")
	}
	r, err := f.conn.Retr(p)
	if err != nil {
		return nil, trace.NotFound("%s: %v", p, err)
	}
	return r, nil
}

// Create issues STOR and returns a streaming writer via an in-process
// pipe, since the ftp library's Stor call consumes an io.Reader rather
// than handing back a writer.
func (f *FTP) Create(ctx context.Context, p string, metadata fs.Metadata) (fs.WriteStream, error) {
	if f.conn == nil {
		return nil, fs.ErrNotConnected("ftp")
	}
	pr, pw := io.Pipe()
	errCh := make(chan error, 1)
	go func() {
		errCh <- f.conn.Stor(p, pr)
	}()
	return &ftpWriteStream{pw: pw, pr: pr, errCh: errCh}, nil
}

// OpenFile drives Open into sink.
func (f *FTP) OpenFile(ctx context.Context, p string, sink io.Writer) error {
	r, err := f.Open(ctx, p)
	if err != nil {
		return err
	}
	defer r.Close()
	_, err = io.Copy(sink, r)
	return trace.Wrap(err)
}

// CreateFile issues STOR directly from source, skipping the pipe goroutine
// Create needs for the streaming case.
func (f *FTP) CreateFile(ctx context.Context, p string, metadata fs.Metadata, source io.Reader) error {
	if f.conn == nil {
		return fs.ErrNotConnected("ftp")
	}
	return trace.Wrap(f.conn.Stor(p, source))
}

// OnRead closes the stream.
func (f *FTP) OnRead(ctx context.Context, stream fs.ReadStream) error {
	return trace.Wrap(stream.Close())
}

// OnWritten closes the stream, which waits for STOR to finish uploading.
func (f *FTP) OnWritten(ctx context.Context, stream fs.WriteStream) error {
	return trace.Wrap(stream.Close())
}

// ftpWriteStream adapts the ftp library's "give it a reader" Stor API to
// the streaming WriteStream interface via an in-process pipe.
type ftpWriteStream struct {
	pw    *io.PipeWriter
	pr    *io.PipeReader
	errCh chan error
}

func (w *ftpWriteStream) Write(p []byte) (int, error) { return w.pw.Write(p) }

func (w *ftpWriteStream) Close() error {
	w.pw.Close()
	err := <-w.errCh
	w.pr.Close()
	return trace.Wrap(err)
}

func entryToFile(fullPath string, entry *ftp.Entry) fs.File {
	ftype := fs.TypeFile
	switch entry.Type {
	case ftp.EntryTypeFolder:
		ftype = fs.TypeDirectory
	case ftp.EntryTypeLink:
		ftype = fs.TypeSymlink
	}
	return fs.File{
		Path: fullPath,
		Metadata: fs.Metadata{
			Size:     int64(entry.Size),
			Modified: entry.Time,
			FileType: ftype,
		},
	}
}
