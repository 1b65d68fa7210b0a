// Package host implements the two FsContract endpoints named by the spec:
// Local (direct host OS access) and RemoteBridged (any protocol client,
// bridged through a temp file when it cannot stream natively).
package host

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"

	"github.com/veeso/termscp-sub002/internal/fs"
)

// Local implements fs.FsContract directly against the host OS. It caches
// the last directory it listed so repeated lookups against the current
// working directory (as the browser does while redrawing) skip the syscall
// round trip; ChangeDir invalidates the cache.
type Local struct {
	mu       sync.Mutex
	wrkdir   string
	cacheDir string
	cache    []fs.File
	log      log.FieldLogger
	running  bool
}

// NewLocal builds a Local endpoint rooted at the given directory. An empty
// path resolves to the process's current working directory.
func NewLocal(path string) (*Local, error) {
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, trace.ConvertSystemError(err)
		}
		path = wd
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	return &Local{
		wrkdir: abs,
		log:    log.WithField(trace.Component, "host:local"),
	}, nil
}

// Connect is trivial for localhost endpoints.
func (l *Local) Connect(ctx context.Context) (fs.Welcome, error) {
	l.mu.Lock()
	l.running = true
	l.mu.Unlock()
	return fs.Welcome{}, nil
}

// Disconnect is trivial for localhost endpoints.
func (l *Local) Disconnect(ctx context.Context) error {
	l.mu.Lock()
	l.running = false
	l.mu.Unlock()
	return nil
}

// IsConnected reports whether Connect has run without a later Disconnect.
func (l *Local) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *Local) invalidateCache() {
	l.mu.Lock()
	l.cacheDir = ""
	l.cache = nil
	l.mu.Unlock()
}

func (l *Local) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(l.wrkdir, path)
}

// Pwd returns the current working directory.
func (l *Local) Pwd(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wrkdir, nil
}

// ChangeDir resolves path against the current pwd and, if it exists and is
// a directory, makes it the new pwd.
func (l *Local) ChangeDir(ctx context.Context, path string) (string, error) {
	target := l.resolve(path)
	info, err := os.Stat(target)
	if err != nil {
		return "", translateStatErr(err, target)
	}
	if !info.IsDir() {
		return "", trace.BadParameter("%s is not a directory", target)
	}
	l.mu.Lock()
	l.wrkdir = target
	l.cacheDir = ""
	l.cache = nil
	l.mu.Unlock()
	return target, nil
}

// ListDir lists a directory's contents, resolving symlink targets into
// each entry's Metadata.Symlink. Listings of the current working directory
// are cached until the next ChangeDir.
func (l *Local) ListDir(ctx context.Context, path string) ([]fs.File, error) {
	target := l.resolve(path)

	l.mu.Lock()
	if target == l.cacheDir && l.cache != nil {
		cached := make([]fs.File, len(l.cache))
		copy(cached, l.cache)
		l.mu.Unlock()
		return cached, nil
	}
	l.mu.Unlock()

	entries, err := os.ReadDir(target)
	if err != nil {
		return nil, translateStatErr(err, target)
	}
	files := make([]fs.File, 0, len(entries))
	for _, entry := range entries {
		full := filepath.Join(target, entry.Name())
		file, err := l.statPath(full)
		if err != nil {
			l.log.WithError(err).Warnf("skipping unreadable entry %s", full)
			continue
		}
		files = append(files, file)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	l.mu.Lock()
	if target == l.wrkdir {
		l.cacheDir = target
		l.cache = append([]fs.File(nil), files...)
	}
	l.mu.Unlock()
	return files, nil
}

// Stat returns metadata for path, resolving symlinks into FileType+Symlink.
func (l *Local) Stat(ctx context.Context, path string) (fs.File, error) {
	return l.statPath(l.resolve(path))
}

func (l *Local) statPath(full string) (fs.File, error) {
	lst, err := os.Lstat(full)
	if err != nil {
		return fs.File{}, translateStatErr(err, full)
	}

	md := fs.Metadata{
		Size:     lst.Size(),
		Modified: lst.ModTime(),
		FileType: fileTypeOf(lst),
	}
	if mode := unixMode(lst); mode != nil {
		md.Mode = mode
	}

	if lst.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(full)
		if err == nil {
			md.Symlink = target
			if real, statErr := os.Stat(full); statErr == nil && real.IsDir() {
				md.FileType = fs.TypeDirectory
			}
		}
	}

	return fs.File{Path: full, Metadata: md}, nil
}

// Exists returns false (never an error) for a missing path.
func (l *Local) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Lstat(l.resolve(path))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, trace.ConvertSystemError(err)
}

// CreateDir creates a directory, honoring ignoreExisting.
func (l *Local) CreateDir(ctx context.Context, path string, mode fs.UnixPex, ignoreExisting bool) error {
	target := l.resolve(path)
	err := os.Mkdir(target, os.FileMode(mode))
	if err != nil {
		if os.IsExist(err) {
			if ignoreExisting {
				return nil
			}
			return trace.AlreadyExists("%s already exists", target)
		}
		return trace.ConvertSystemError(err)
	}
	l.invalidateCache()
	return nil
}

// RemoveFile removes a single file.
func (l *Local) RemoveFile(ctx context.Context, path string) error {
	if err := os.Remove(l.resolve(path)); err != nil {
		return translateStatErr(err, path)
	}
	l.invalidateCache()
	return nil
}

// RemoveDirAll recursively removes a directory tree.
func (l *Local) RemoveDirAll(ctx context.Context, path string) error {
	if err := os.RemoveAll(l.resolve(path)); err != nil {
		return trace.ConvertSystemError(err)
	}
	l.invalidateCache()
	return nil
}

// Rename renames src to dst.
func (l *Local) Rename(ctx context.Context, src, dst string) error {
	if err := os.Rename(l.resolve(src), l.resolve(dst)); err != nil {
		return translateStatErr(err, src)
	}
	l.invalidateCache()
	return nil
}

// Copy copies src to dst via a streaming read/write; the local filesystem
// has no server-side copy primitive to delegate to.
func (l *Local) Copy(ctx context.Context, src, dst string) error {
	in, err := os.Open(l.resolve(src))
	if err != nil {
		return translateStatErr(err, src)
	}
	defer in.Close()

	out, err := os.Create(l.resolve(dst))
	if err != nil {
		return translateStatErr(err, dst)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return trace.ConvertSystemError(err)
	}
	l.invalidateCache()
	return nil
}

// Symlink creates a symlink. On Windows this fails with Unsupported, as
// unprivileged symlink creation generally requires Developer Mode.
func (l *Local) Symlink(ctx context.Context, src, dst string) error {
	if runtime.GOOS == "windows" {
		return fs.ErrUnsupported("symlink")
	}
	if err := os.Symlink(l.resolve(src), l.resolve(dst)); err != nil {
		return trace.ConvertSystemError(err)
	}
	l.invalidateCache()
	return nil
}

// Setstat applies mtime/atime and, on POSIX, the unix mode. Unsupported
// fields are silently skipped.
func (l *Local) Setstat(ctx context.Context, path string, metadata fs.Metadata) error {
	target := l.resolve(path)
	if !metadata.Modified.IsZero() {
		atime := metadata.Accessed
		if atime.IsZero() {
			atime = metadata.Modified
		}
		if err := os.Chtimes(target, atime, metadata.Modified); err != nil {
			return trace.ConvertSystemError(err)
		}
	}
	if metadata.Mode != nil && runtime.GOOS != "windows" {
		if err := os.Chmod(target, os.FileMode(*metadata.Mode)); err != nil {
			return trace.ConvertSystemError(err)
		}
	}
	return nil
}

// Chmod changes file permissions. Unsupported on Windows.
func (l *Local) Chmod(ctx context.Context, path string, pex fs.UnixPex) error {
	if runtime.GOOS == "windows" {
		return fs.ErrUnsupported("chmod")
	}
	if err := os.Chmod(l.resolve(path), os.FileMode(pex)); err != nil {
		return trace.ConvertSystemError(err)
	}
	return nil
}

// Exec splits cmd on whitespace and runs the subprocess, returning stdout.
func (l *Local) Exec(ctx context.Context, cmd string) (string, error) {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return "", trace.BadParameter("empty command")
	}
	c := exec.CommandContext(ctx, fields[0], fields[1:]...)
	c.Dir = l.wrkdir
	var stdout bytes.Buffer
	c.Stdout = &stdout
	var stderr bytes.Buffer
	c.Stderr = &stderr
	if err := c.Run(); err != nil {
		return "", trace.Wrap(err, "exec failed: %s", stderr.String())
	}
	return stdout.String(), nil
}

// Open returns a streaming reader for path.
func (l *Local) Open(ctx context.Context, path string) (fs.ReadStream, error) {
	f, err := os.Open(l.resolve(path))
	if err != nil {
		return nil, translateStatErr(err, path)
	}
	return f, nil
}

// Create returns a streaming writer for path, pre-applying the requested
// unix mode if any (matched at close time by Setstat in the transfer
// engine).
func (l *Local) Create(ctx context.Context, path string, metadata fs.Metadata) (fs.WriteStream, error) {
	mode := os.FileMode(0o644)
	if metadata.Mode != nil {
		mode = os.FileMode(*metadata.Mode)
	}
	f, err := os.OpenFile(l.resolve(path), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return nil, translateStatErr(err, path)
	}
	l.invalidateCache()
	return f, nil
}

// OpenFile is the non-streaming fallback; Local always streams, so this
// simply drives Open into sink.
func (l *Local) OpenFile(ctx context.Context, path string, sink io.Writer) error {
	r, err := l.Open(ctx, path)
	if err != nil {
		return err
	}
	defer r.Close()
	_, err = io.Copy(sink, r)
	return trace.Wrap(err)
}

// CreateFile is the non-streaming fallback; Local always streams, so this
// simply drives Create from source.
func (l *Local) CreateFile(ctx context.Context, path string, metadata fs.Metadata, source io.Reader) error {
	w, err := l.Create(ctx, path, metadata)
	if err != nil {
		return err
	}
	defer w.Close()
	_, err = io.Copy(w, source)
	return trace.Wrap(err)
}

// OnRead closes the read stream.
func (l *Local) OnRead(ctx context.Context, stream fs.ReadStream) error {
	return trace.Wrap(stream.Close())
}

// OnWritten closes the write stream.
func (l *Local) OnWritten(ctx context.Context, stream fs.WriteStream) error {
	return trace.Wrap(stream.Close())
}

func translateStatErr(err error, path string) error {
	if os.IsNotExist(err) {
		return trace.NotFound("%s: no such file or directory", path)
	}
	if os.IsPermission(err) {
		return trace.AccessDenied("%s: permission denied", path)
	}
	if os.IsExist(err) {
		return trace.AlreadyExists("%s: already exists", path)
	}
	return trace.ConvertSystemError(err)
}

func fileTypeOf(info os.FileInfo) fs.FileType {
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		return fs.TypeSymlink
	case info.IsDir():
		return fs.TypeDirectory
	default:
		return fs.TypeFile
	}
}
