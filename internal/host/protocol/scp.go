package protocol

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/veeso/termscp-sub002/internal/fs"
	"github.com/veeso/termscp-sub002/internal/params"
)

// SCP implements fs.FsContract over the classic scp(1) sink/source wire
// protocol for file content, and `find`/`mkdir`/`rm`/`mv`/`ln` shell commands
// for the directory and metadata operations the scp protocol itself cannot
// express — the same split every GUI scp client (WinSCP, FileZilla) draws,
// since scp has no listing or stat primitive. Transport setup mirrors SFTP's.
type SCP struct {
	generic    params.Generic
	authMethod ssh.AuthMethod
	hostKeyCb  ssh.HostKeyCallback

	conn   *ssh.Client
	wrkdir string
	log    log.FieldLogger
}

// NewSCP builds an unconnected SCP endpoint.
func NewSCP(p params.Generic, authMethod ssh.AuthMethod, hostKeyCb ssh.HostKeyCallback) *SCP {
	if hostKeyCb == nil {
		hostKeyCb = ssh.InsecureIgnoreHostKey()
	}
	return &SCP{
		generic:    p,
		authMethod: authMethod,
		hostKeyCb:  hostKeyCb,
		wrkdir:     ".",
		log:        log.WithField(trace.Component, "protocol:scp"),
	}
}

// Connect dials the SSH transport; unlike SFTP there is no subsystem to
// negotiate up front, since every scp operation opens its own session.
func (s *SCP) Connect(ctx context.Context) (fs.Welcome, error) {
	cfg := &ssh.ClientConfig{
		User:            s.generic.Username,
		Auth:            []ssh.AuthMethod{s.authMethod},
		HostKeyCallback: s.hostKeyCb,
		Timeout:         15 * time.Second,
	}
	addr := net.JoinHostPort(s.generic.Address, strconv.Itoa(s.generic.Port))

	dialer := net.Dialer{Timeout: cfg.Timeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fs.Welcome{}, trace.ConnectionProblem(err, "dial %s", addr)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(rawConn, addr, cfg)
	if err != nil {
		rawConn.Close()
		return fs.Welcome{}, trace.ConnectionProblem(err, "ssh handshake with %s", addr)
	}
	s.conn = ssh.NewClient(sshConn, chans, reqs)

	if home, err := s.shell(ctx, "pwd"); err == nil {
		s.wrkdir = strings.TrimSpace(home)
	}
	return fs.Welcome{Banner: string(s.conn.ServerVersion())}, nil
}

// Disconnect closes the SSH transport.
func (s *SCP) Disconnect(ctx context.Context) error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return trace.Wrap(err)
}

// IsConnected reports whether the SSH transport is live.
func (s *SCP) IsConnected() bool { return s.conn != nil }

func (s *SCP) resolve(p string) string {
	if path.IsAbs(p) {
		return p
	}
	return path.Join(s.wrkdir, p)
}

func (s *SCP) shell(ctx context.Context, cmd string) (string, error) {
	if s.conn == nil {
		return "", fs.ErrNotConnected("scp")
	}
	session, err := s.conn.NewSession()
	if err != nil {
		return "", trace.Wrap(err)
	}
	defer session.Close()
	out, err := session.Output(cmd)
	if err != nil {
		return "", trace.Wrap(err, "exec %q failed", cmd)
	}
	return string(out), nil
}

// Pwd returns the tracked working directory.
func (s *SCP) Pwd(ctx context.Context) (string, error) { return s.wrkdir, nil }

// ChangeDir validates path is a directory via `test -d`, then adopts it.
func (s *SCP) ChangeDir(ctx context.Context, p string) (string, error) {
	target := s.resolve(p)
	if _, err := s.shell(ctx, fmt.Sprintf("test -d %s", shellQuote(target))); err != nil {
		return "", trace.NotFound("%s is not a directory", target)
	}
	s.wrkdir = target
	return target, nil
}

// ListDir lists a directory by running `find` with a `-printf` format and
// parsing one output line per entry.
func (s *SCP) ListDir(ctx context.Context, p string) ([]fs.File, error) {
	target := s.resolve(p)
	out, err := s.shell(ctx, fmt.Sprintf(
		`find %s -mindepth 1 -maxdepth 1 -printf '%%p\t%%s\t%%T@\t%%y\t%%m\n'`, shellQuote(target)))
	if err != nil {
		return nil, trace.NotFound("%s: no such directory", target)
	}
	return parseFindOutput(out), nil
}

// Stat stats a single path via `find -printf`, reusing ListDir's parser.
func (s *SCP) Stat(ctx context.Context, p string) (fs.File, error) {
	target := s.resolve(p)
	out, err := s.shell(ctx, fmt.Sprintf(
		`find %s -maxdepth 0 -printf '%%p\t%%s\t%%T@\t%%y\t%%m\n'`, shellQuote(target)))
	if err != nil {
		return fs.File{}, trace.NotFound("%s: no such file or directory", target)
	}
	files := parseFindOutput(out)
	if len(files) == 0 {
		return fs.File{}, trace.NotFound("%s: no such file or directory", target)
	}
	return files[0], nil
}

// Exists reports whether path exists via `test -e`.
func (s *SCP) Exists(ctx context.Context, p string) (bool, error) {
	_, err := s.shell(ctx, fmt.Sprintf("test -e %s", shellQuote(s.resolve(p))))
	return err == nil, nil
}

// CreateDir creates a remote directory via `mkdir`.
func (s *SCP) CreateDir(ctx context.Context, p string, mode fs.UnixPex, ignoreExisting bool) error {
	target := s.resolve(p)
	if exists, _ := s.Exists(ctx, p); exists {
		if ignoreExisting {
			return nil
		}
		return trace.AlreadyExists("%s already exists", target)
	}
	cmd := fmt.Sprintf("mkdir -m %o %s", mode, shellQuote(target))
	if _, err := s.shell(ctx, cmd); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// RemoveFile removes a single file via `rm -f`.
func (s *SCP) RemoveFile(ctx context.Context, p string) error {
	_, err := s.shell(ctx, fmt.Sprintf("rm -f %s", shellQuote(s.resolve(p))))
	return trace.Wrap(err)
}

// RemoveDirAll recursively removes a directory via `rm -rf`.
func (s *SCP) RemoveDirAll(ctx context.Context, p string) error {
	_, err := s.shell(ctx, fmt.Sprintf("rm -rf %s", shellQuote(s.resolve(p))))
	return trace.Wrap(err)
}

// Rename renames src to dst via `mv`.
func (s *SCP) Rename(ctx context.Context, src, dst string) error {
	_, err := s.shell(ctx, fmt.Sprintf("mv %s %s", shellQuote(s.resolve(src)), shellQuote(s.resolve(dst))))
	return trace.Wrap(err)
}

// Copy copies src to dst via `cp -r`.
func (s *SCP) Copy(ctx context.Context, src, dst string) error {
	_, err := s.shell(ctx, fmt.Sprintf("cp -r %s %s", shellQuote(s.resolve(src)), shellQuote(s.resolve(dst))))
	return trace.Wrap(err)
}

// Symlink creates a symlink at dst pointing to src via `ln -s`.
func (s *SCP) Symlink(ctx context.Context, src, dst string) error {
	_, err := s.shell(ctx, fmt.Sprintf("ln -s %s %s", shellQuote(s.resolve(src)), shellQuote(s.resolve(dst))))
	return trace.Wrap(err)
}

// Setstat applies mtime via `touch -d` and mode via `chmod`.
func (s *SCP) Setstat(ctx context.Context, p string, metadata fs.Metadata) error {
	target := s.resolve(p)
	if !metadata.Modified.IsZero() {
		stamp := metadata.Modified.UTC().Format("200601021504.05")
		if _, err := s.shell(ctx, fmt.Sprintf("touch -t %s %s", stamp, shellQuote(target))); err != nil {
			return trace.Wrap(err)
		}
	}
	if metadata.Mode != nil {
		if _, err := s.shell(ctx, fmt.Sprintf("chmod %o %s", *metadata.Mode, shellQuote(target))); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// Chmod changes permissions via `chmod`.
func (s *SCP) Chmod(ctx context.Context, p string, pex fs.UnixPex) error {
	_, err := s.shell(ctx, fmt.Sprintf("chmod %o %s", pex, shellQuote(s.resolve(p))))
	return trace.Wrap(err)
}

// Exec runs an arbitrary remote command.
func (s *SCP) Exec(ctx context.Context, cmd string) (string, error) {
	return s.shell(ctx, cmd)
}

// Open streams a remote file's content via the scp(1) "source" protocol
// (`scp -f path`), the wire format scp clients have used since the 1980s.
func (s *SCP) Open(ctx context.Context, p string) (fs.ReadStream, error) {
	if s.conn == nil {
		return nil, fs.ErrNotConnected("scp")
	}
	target := s.resolve(p)
	session, err := s.conn.NewSession()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, trace.Wrap(err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, trace.Wrap(err)
	}
	if err := session.Start(fmt.Sprintf("scp -f %s", shellQuote(target))); err != nil {
		session.Close()
		return nil, trace.Wrap(err)
	}

	reader := bufio.NewReader(stdout)
	if _, err := stdin.Write([]byte{0}); err != nil {
		session.Close()
		return nil, trace.Wrap(err)
	}
	header, err := reader.ReadString('\n')
	if err != nil {
		session.Close()
		return nil, trace.Wrap(err, "reading scp header for %s", target)
	}
	size, err := parseScpHeaderSize(header)
	if err != nil {
		session.Close()
		return nil, trace.Wrap(err)
	}
	if _, err := stdin.Write([]byte{0}); err != nil {
		session.Close()
		return nil, trace.Wrap(err)
	}

	return &scpReadStream{
		session: session,
		stdin:   stdin,
		body:    io.LimitReader(reader, size),
	}, nil
}

// Create streams content into a remote file via the scp(1) "sink" protocol
// (`scp -t path`). The full file size must be known up front per the
// protocol, so Create requires metadata.Size to have been set.
func (s *SCP) Create(ctx context.Context, p string, metadata fs.Metadata) (fs.WriteStream, error) {
	if s.conn == nil {
		return nil, fs.ErrNotConnected("scp")
	}
	target := s.resolve(p)
	session, err := s.conn.NewSession()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, trace.Wrap(err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, trace.Wrap(err)
	}
	if err := session.Start(fmt.Sprintf("scp -t %s", shellQuote(path.Dir(target)))); err != nil {
		session.Close()
		return nil, trace.Wrap(err)
	}
	reader := bufio.NewReader(stdout)
	if err := scpAwaitAck(reader); err != nil {
		session.Close()
		return nil, trace.Wrap(err)
	}

	mode := fs.UnixPex(0o644)
	if metadata.Mode != nil {
		mode = *metadata.Mode
	}
	header := fmt.Sprintf("C%04o %d %s\n", mode, metadata.Size, path.Base(target))
	if _, err := stdin.Write([]byte(header)); err != nil {
		session.Close()
		return nil, trace.Wrap(err)
	}
	if err := scpAwaitAck(reader); err != nil {
		session.Close()
		return nil, trace.Wrap(err)
	}

	return &scpWriteStream{
		session: session,
		stdin:   stdin,
		stdout:  reader,
		want:    metadata.Size,
	}, nil
}

// OpenFile drives Open into sink.
func (s *SCP) OpenFile(ctx context.Context, p string, sink io.Writer) error {
	r, err := s.Open(ctx, p)
	if err != nil {
		return err
	}
	defer r.Close()
	_, err = io.Copy(sink, r)
	return trace.Wrap(err)
}

// CreateFile drives Create from source.
func (s *SCP) CreateFile(ctx context.Context, p string, metadata fs.Metadata, source io.Reader) error {
	w, err := s.Create(ctx, p, metadata)
	if err != nil {
		return err
	}
	defer w.Close()
	_, err = io.Copy(w, source)
	return trace.Wrap(err)
}

// OnRead closes the stream, tearing down the `scp -f` session.
func (s *SCP) OnRead(ctx context.Context, stream fs.ReadStream) error {
	return trace.Wrap(stream.Close())
}

// OnWritten closes the stream, completing the `scp -t` handshake.
func (s *SCP) OnWritten(ctx context.Context, stream fs.WriteStream) error {
	return trace.Wrap(stream.Close())
}

type scpReadStream struct {
	session *ssh.Session
	stdin   io.WriteCloser
	body    io.Reader
}

func (r *scpReadStream) Read(p []byte) (int, error) { return r.body.Read(p) }

func (r *scpReadStream) Close() error {
	r.stdin.Write([]byte{0})
	return trace.Wrap(r.session.Close())
}

type scpWriteStream struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	want    int64
	written int64
}

func (w *scpWriteStream) Write(p []byte) (int, error) {
	n, err := w.stdin.Write(p)
	w.written += int64(n)
	return n, trace.Wrap(err)
}

func (w *scpWriteStream) Close() error {
	if _, err := w.stdin.Write([]byte{0}); err != nil {
		w.session.Close()
		return trace.Wrap(err)
	}
	ackErr := scpAwaitAck(w.stdout)
	closeErr := w.session.Close()
	if ackErr != nil {
		return trace.Wrap(ackErr)
	}
	return trace.Wrap(closeErr)
}

func scpAwaitAck(r *bufio.Reader) error {
	b, err := r.ReadByte()
	if err != nil {
		return trace.Wrap(err)
	}
	if b == 0 {
		return nil
	}
	msg, _ := r.ReadString('\n')
	return trace.Errorf("scp error: %s", strings.TrimSpace(msg))
}

func parseScpHeaderSize(header string) (int64, error) {
	fields := strings.Fields(header)
	if len(fields) < 2 || header[0] != 'C' {
		return 0, trace.BadParameter("unexpected scp header %q", header)
	}
	return strconv.ParseInt(fields[1], 10, 64)
}

func parseFindOutput(out string) []fs.File {
	var files []fs.File
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 5 {
			continue
		}
		size, _ := strconv.ParseInt(fields[1], 10, 64)
		epoch, _ := strconv.ParseFloat(fields[2], 64)
		mode, _ := strconv.ParseUint(fields[4], 8, 16)

		ftype := fs.TypeFile
		switch fields[3] {
		case "d":
			ftype = fs.TypeDirectory
		case "l":
			ftype = fs.TypeSymlink
		}
		unixMode := fs.UnixPex(mode & 0o777)
		files = append(files, fs.File{
			Path: fields[0],
			Metadata: fs.Metadata{
				Size:     size,
				Modified: time.Unix(int64(epoch), 0),
				Mode:     &unixMode,
				FileType: ftype,
			},
		})
	}
	return files
}

// shellQuote wraps p in single quotes, escaping any embedded single quote,
// so paths with spaces or shell metacharacters survive the remote shell.
func shellQuote(p string) string {
	return "'" + strings.ReplaceAll(p, "'", `'\''`) + "'"
}
