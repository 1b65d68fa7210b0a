package protocol

import (
	"context"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/gravitational/trace"
	smb2 "github.com/hirochachacha/go-smb2"
	log "github.com/sirupsen/logrus"

	"github.com/veeso/termscp-sub002/internal/fs"
	"github.com/veeso/termscp-sub002/internal/params"
)

// Smb implements fs.FsContract over a CIFS/SMB2 share via
// github.com/hirochachacha/go-smb2.
type Smb struct {
	p params.Smb

	conn   net.Conn
	sess   *smb2.Session
	share  *smb2.Share
	wrkdir string
	log    log.FieldLogger
}

// NewSmb builds an unconnected SMB endpoint.
func NewSmb(p params.Smb) *Smb {
	return &Smb{p: p, wrkdir: "/", log: log.WithField(trace.Component, "protocol:smb")}
}

// Connect dials the share's TCP port, negotiates an SMB2 session and tree
// connects to the configured share name.
func (s *Smb) Connect(ctx context.Context) (fs.Welcome, error) {
	addr := net.JoinHostPort(s.p.Address, strconv.Itoa(s.p.Port))
	dialer := net.Dialer{Timeout: 15 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fs.Welcome{}, trace.ConnectionProblem(err, "dial %s", addr)
	}

	d := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:      s.p.Username,
			Password:  s.p.Password,
			Domain:    s.p.Workgroup,
			TargetSPN: "",
		},
	}
	sess, err := d.DialContext(ctx, conn)
	if err != nil {
		conn.Close()
		return fs.Welcome{}, trace.ConnectionProblem(err, "smb session setup to %s", addr)
	}
	share, err := sess.Mount(s.p.Share)
	if err != nil {
		sess.Logoff()
		conn.Close()
		return fs.Welcome{}, trace.ConnectionProblem(err, "mount share %s", s.p.Share)
	}

	s.conn = conn
	s.sess = sess
	s.share = share
	return fs.Welcome{}, nil
}

// Disconnect unmounts the share and logs off the session.
func (s *Smb) Disconnect(ctx context.Context) error {
	var errs []error
	if s.share != nil {
		errs = append(errs, s.share.Umount())
		s.share = nil
	}
	if s.sess != nil {
		errs = append(errs, s.sess.Logoff())
		s.sess = nil
	}
	if s.conn != nil {
		errs = append(errs, s.conn.Close())
		s.conn = nil
	}
	return trace.NewAggregate(errs...)
}

// IsConnected reports whether the share is mounted.
func (s *Smb) IsConnected() bool { return s.share != nil }

// smbPath translates a slash-separated contract path into the backslash
// form go-smb2 expects, the same conversion every SMB client performs at
// the API boundary.
func (s *Smb) smbPath(p string) string {
	resolved := p
	if !path.IsAbs(p) {
		resolved = path.Join(s.wrkdir, p)
	}
	resolved = path.Clean("/" + resolved)
	trimmed := resolved[1:]
	out := make([]byte, 0, len(trimmed))
	for i := 0; i < len(trimmed); i++ {
		if trimmed[i] == '/' {
			out = append(out, '\\')
		} else {
			out = append(out, trimmed[i])
		}
	}
	return string(out)
}

// Pwd returns the tracked working directory; SMB trees are stateless about
// cwd, the same as SFTP.
func (s *Smb) Pwd(ctx context.Context) (string, error) { return s.wrkdir, nil }

// ChangeDir validates path is a directory and adopts it.
func (s *Smb) ChangeDir(ctx context.Context, p string) (string, error) {
	if s.share == nil {
		return "", fs.ErrNotConnected("smb")
	}
	target := path.Join(s.wrkdir, p)
	if path.IsAbs(p) {
		target = path.Clean(p)
	}
	info, err := s.share.Stat(s.smbPath(target))
	if err != nil {
		return "", translateSmbErr(err, target)
	}
	if !info.IsDir() {
		return "", trace.BadParameter("%s is not a directory", target)
	}
	s.wrkdir = target
	return target, nil
}

// ListDir lists a share directory's contents.
func (s *Smb) ListDir(ctx context.Context, p string) ([]fs.File, error) {
	if s.share == nil {
		return nil, fs.ErrNotConnected("smb")
	}
	target := path.Join(s.wrkdir, p)
	if path.IsAbs(p) {
		target = path.Clean(p)
	}
	entries, err := s.share.ReadDir(s.smbPath(target))
	if err != nil {
		return nil, translateSmbErr(err, target)
	}
	files := make([]fs.File, 0, len(entries))
	for _, entry := range entries {
		files = append(files, infoToFileSmb(path.Join(target, entry.Name()), entry))
	}
	return files, nil
}

// Stat returns metadata for a single path on the share.
func (s *Smb) Stat(ctx context.Context, p string) (fs.File, error) {
	if s.share == nil {
		return fs.File{}, fs.ErrNotConnected("smb")
	}
	target := path.Join(s.wrkdir, p)
	if path.IsAbs(p) {
		target = path.Clean(p)
	}
	info, err := s.share.Lstat(s.smbPath(target))
	if err != nil {
		return fs.File{}, translateSmbErr(err, target)
	}
	return infoToFileSmb(target, info), nil
}

// Exists reports whether Stat finds an entry.
func (s *Smb) Exists(ctx context.Context, p string) (bool, error) {
	_, err := s.Stat(ctx, p)
	if err == nil {
		return true, nil
	}
	if fs.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// CreateDir issues a Mkdir on the share.
func (s *Smb) CreateDir(ctx context.Context, p string, mode fs.UnixPex, ignoreExisting bool) error {
	if s.share == nil {
		return fs.ErrNotConnected("smb")
	}
	target := path.Join(s.wrkdir, p)
	if path.IsAbs(p) {
		target = path.Clean(p)
	}
	if err := s.share.Mkdir(s.smbPath(target), os.FileMode(mode)); err != nil {
		if os.IsExist(err) {
			if ignoreExisting {
				return nil
			}
			return trace.AlreadyExists("%s already exists", target)
		}
		return translateSmbErr(err, target)
	}
	return nil
}

// RemoveFile removes a single file from the share.
func (s *Smb) RemoveFile(ctx context.Context, p string) error {
	if s.share == nil {
		return fs.ErrNotConnected("smb")
	}
	target := path.Join(s.wrkdir, p)
	if path.IsAbs(p) {
		target = path.Clean(p)
	}
	return translateSmbErr(s.share.Remove(s.smbPath(target)), target)
}

// RemoveDirAll uses the library's recursive removal helper.
func (s *Smb) RemoveDirAll(ctx context.Context, p string) error {
	if s.share == nil {
		return fs.ErrNotConnected("smb")
	}
	target := path.Join(s.wrkdir, p)
	if path.IsAbs(p) {
		target = path.Clean(p)
	}
	return translateSmbErr(s.share.RemoveAll(s.smbPath(target)), target)
}

// Rename renames src to dst on the share.
func (s *Smb) Rename(ctx context.Context, src, dst string) error {
	if s.share == nil {
		return fs.ErrNotConnected("smb")
	}
	return translateSmbErr(s.share.Rename(s.smbPath(path.Join(s.wrkdir, src)), s.smbPath(path.Join(s.wrkdir, dst))), src)
}

// Copy streams src into dst; SMB2 has no server-side copy in this library.
func (s *Smb) Copy(ctx context.Context, src, dst string) error {
	if s.share == nil {
		return fs.ErrNotConnected("smb")
	}
	in, err := s.share.Open(s.smbPath(path.Join(s.wrkdir, src)))
	if err != nil {
		return translateSmbErr(err, src)
	}
	defer in.Close()
	out, err := s.share.Create(s.smbPath(path.Join(s.wrkdir, dst)))
	if err != nil {
		return translateSmbErr(err, dst)
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return trace.Wrap(err)
}

// Symlink is unsupported: Windows shares rarely expose POSIX-style symlink
// creation over SMB2 without extended attribute support this client lacks.
func (s *Smb) Symlink(ctx context.Context, src, dst string) error {
	return fs.ErrUnsupported("symlink")
}

// Setstat applies mtime/atime via Chtimes; SMB's unix-mode concept is
// server-specific (Samba extensions) and not exposed by this client.
func (s *Smb) Setstat(ctx context.Context, p string, metadata fs.Metadata) error {
	if s.share == nil {
		return fs.ErrNotConnected("smb")
	}
	if metadata.Modified.IsZero() {
		return nil
	}
	target := path.Join(s.wrkdir, p)
	if path.IsAbs(p) {
		target = path.Clean(p)
	}
	atime := metadata.Accessed
	if atime.IsZero() {
		atime = metadata.Modified
	}
	return translateSmbErr(s.share.Chtimes(s.smbPath(target), atime, metadata.Modified), target)
}

// Chmod is unsupported: SMB2 exposes no unix permission bits.
func (s *Smb) Chmod(ctx context.Context, p string, pex fs.UnixPex) error {
	return fs.ErrUnsupported("chmod")
}

// Exec is unsupported: SMB is a file-sharing protocol, not a shell.
func (s *Smb) Exec(ctx context.Context, cmd string) (string, error) {
	return "", fs.ErrUnsupported("exec")
}

// Open returns a streaming reader for a share file.
func (s *Smb) Open(ctx context.Context, p string) (fs.ReadStream, error) {
	if s.share == nil {
		return nil, fs.ErrNotConnected("smb")
	}
	target := path.Join(s.wrkdir, p)
	if path.IsAbs(p) {
		target = path.Clean(p)
	}
	f, err := s.share.Open(s.smbPath(target))
	if err != nil {
		return nil, translateSmbErr(err, target)
	}
	return f, nil
}

// Create returns a streaming writer for a share file.
func (s *Smb) Create(ctx context.Context, p string, metadata fs.Metadata) (fs.WriteStream, error) {
	if s.share == nil {
		return nil, fs.ErrNotConnected("smb")
	}
	target := path.Join(s.wrkdir, p)
	if path.IsAbs(p) {
		target = path.Clean(p)
	}
	f, err := s.share.Create(s.smbPath(target))
	if err != nil {
		return nil, translateSmbErr(err, target)
	}
	return f, nil
}

// OpenFile drives Open into sink.
func (s *Smb) OpenFile(ctx context.Context, p string, sink io.Writer) error {
	r, err := s.Open(ctx, p)
	if err != nil {
		return err
	}
	defer r.Close()
	_, err = io.Copy(sink, r)
	return trace.Wrap(err)
}

// CreateFile drives Create from source.
func (s *Smb) CreateFile(ctx context.Context, p string, metadata fs.Metadata, source io.Reader) error {
	w, err := s.Create(ctx, p, metadata)
	if err != nil {
		return err
	}
	defer w.Close()
	_, err = io.Copy(w, source)
	return trace.Wrap(err)
}

// OnRead closes the stream.
func (s *Smb) OnRead(ctx context.Context, stream fs.ReadStream) error {
	return trace.Wrap(stream.Close())
}

// OnWritten closes the stream.
func (s *Smb) OnWritten(ctx context.Context, stream fs.WriteStream) error {
	return trace.Wrap(stream.Close())
}

func infoToFileSmb(fullPath string, info os.FileInfo) fs.File {
	md := fs.Metadata{
		Size:     info.Size(),
		Modified: info.ModTime(),
		FileType: fs.TypeFile,
	}
	if info.IsDir() {
		md.FileType = fs.TypeDirectory
	} else if info.Mode()&os.ModeSymlink != 0 {
		md.FileType = fs.TypeSymlink
	}
	mode := fs.UnixPex(info.Mode().Perm())
	md.Mode = &mode
	return fs.File{Path: fullPath, Metadata: md}
}

func translateSmbErr(err error, path string) error {
	if err == nil {
		return nil
	}
	if os.IsNotExist(err) {
		return trace.NotFound("%s: no such file or directory", path)
	}
	if os.IsPermission(err) {
		return trace.AccessDenied("%s: permission denied", path)
	}
	if os.IsExist(err) {
		return trace.AlreadyExists("%s: already exists", path)
	}
	return trace.Wrap(err)
}
