// Package fs defines FsContract, the uniform filesystem capability every
// endpoint (local or remote-over-protocol) must expose, modeled as a single
// capability interface rather than a per-protocol trait hierarchy. See
// vasic-digital-Filesystem's pkg/client.Client for the shape this is
// grounded on.
package fs

import (
	"context"
	"io"
	"time"
)

// FileType enumerates the kind of entry a stat/list_dir result describes.
type FileType int

const (
	TypeFile FileType = iota
	TypeDirectory
	TypeSymlink
)

// UnixPex is a 9-bit unix permission set (rwxrwxrwx).
type UnixPex uint16

// Metadata describes the attributes of a file as returned by Stat/ListDir,
// and the attributes a caller may request be applied via Setstat/Create.
type Metadata struct {
	Size     int64
	Modified time.Time
	Accessed time.Time
	Created  time.Time
	Mode     *UnixPex
	FileType FileType
	Symlink  string
}

// File represents a single directory entry.
type File struct {
	Path     string
	Metadata Metadata
}

// IsDir reports whether the entry is a directory.
func (f File) IsDir() bool { return f.Metadata.FileType == TypeDirectory }

// Name returns the final path component.
func (f File) Name() string {
	return basename(f.Path)
}

// Welcome carries the optional banner returned by Connect.
type Welcome struct {
	Banner string
}

// ReadStream is a byte-level source for a remote file's content.
type ReadStream interface {
	io.ReadCloser
}

// WriteStream is a byte-level sink for a remote file's content. Endpoints
// that cannot stream natively return Unsupported from Create and let the
// caller fall back through a TempMappedFile (see internal/host).
type WriteStream interface {
	io.WriteCloser
}

// FsContract is the capability set every endpoint (Local or RemoteBridged)
// exposes. Every operation returns a tagged error via the predicates in
// errors.go (IsNotFound, IsUnsupported, ...); implementations never panic
// for environmental failures.
type FsContract interface {
	// Connect establishes the underlying session. Localhost endpoints are
	// trivially connected and may treat this as a no-op.
	Connect(ctx context.Context) (Welcome, error)
	Disconnect(ctx context.Context) error
	IsConnected() bool

	Pwd(ctx context.Context) (string, error)
	ChangeDir(ctx context.Context, path string) (string, error)

	ListDir(ctx context.Context, path string) ([]File, error)
	Stat(ctx context.Context, path string) (File, error)
	Exists(ctx context.Context, path string) (bool, error)

	// CreateDir creates a directory. ignoreExisting suppresses the
	// AlreadyExists error so callers can request idempotent mkdir.
	CreateDir(ctx context.Context, path string, mode UnixPex, ignoreExisting bool) error
	RemoveFile(ctx context.Context, path string) error
	RemoveDirAll(ctx context.Context, path string) error

	Rename(ctx context.Context, src, dst string) error
	Copy(ctx context.Context, src, dst string) error
	Symlink(ctx context.Context, src, dst string) error

	// Setstat applies mtime/atime and, where supported, the unix mode.
	// It is a no-op for fields the endpoint cannot represent.
	Setstat(ctx context.Context, path string, metadata Metadata) error
	Chmod(ctx context.Context, path string, pex UnixPex) error

	// Exec runs a remote command and returns its captured stdout.
	// Endpoints without shell execution return Unsupported.
	Exec(ctx context.Context, cmd string) (string, error)

	// Open/Create provide byte-level streaming. An endpoint that cannot
	// stream natively returns Unsupported so the caller can bridge through
	// a temp file instead.
	Open(ctx context.Context, path string) (ReadStream, error)
	Create(ctx context.Context, path string, metadata Metadata) (WriteStream, error)

	// OpenFile/CreateFile are the non-streaming fallback used when Open/
	// Create are Unsupported.
	OpenFile(ctx context.Context, path string, sink io.Writer) error
	CreateFile(ctx context.Context, path string, metadata Metadata, source io.Reader) error

	// OnRead/OnWritten are stream finalizers; each must be called exactly
	// once per stream obtained from Open/Create.
	OnRead(ctx context.Context, stream ReadStream) error
	OnWritten(ctx context.Context, stream WriteStream) error
}

// Discarder is implemented by endpoints whose Create can leave state behind
// that a plain stream.Close does not release — RemoteBridged's buffered
// write fallback registers a pending finalize record consumed by OnWritten,
// so a transfer that fails before OnWritten runs must discard that record
// explicitly instead of leaking it. Callers type-assert for this optional
// interface and fall back to closing the stream directly when absent.
type Discarder interface {
	DiscardWrite(ctx context.Context, stream WriteStream) error
}

func basename(p string) string {
	if p == "" {
		return p
	}
	i := len(p) - 1
	for i >= 0 && p[i] != '/' {
		i--
	}
	return p[i+1:]
}
