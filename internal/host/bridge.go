package host

import (
	"context"
	"io"
	"sync"

	"github.com/gravitational/trace"

	"github.com/veeso/termscp-sub002/internal/fs"
	"github.com/veeso/termscp-sub002/internal/host/tempfile"
)

// RemoteBridged wraps any protocol client that implements fs.FsContract and
// adds the two embellishments spec'd for protocols whose native API cannot
// stream: a read fallback that downloads into a TempMappedFile before
// handing back a reader, and a write fallback that buffers into a
// TempMappedFile and uploads it whole on finalize. Every other FsContract
// method is the embedded client's own — RemoteBridged only intercepts the
// streaming surface.
type RemoteBridged struct {
	fs.FsContract

	mu      sync.Mutex
	pending *pendingWrite
}

// pendingWrite records the single outstanding buffered-write finalize. The
// contract (spec §4.2) allows at most one at a time; RemoteBridged.Create
// enforces this by refusing a second Create before the first is
// finalized via OnWritten.
type pendingWrite struct {
	path     string
	metadata fs.Metadata
	tmp      *tempfile.TempMappedFile
}

// NewRemoteBridged wraps client, a connected protocol backend.
func NewRemoteBridged(client fs.FsContract) *RemoteBridged {
	return &RemoteBridged{FsContract: client}
}

// Open returns the native stream if the backend supports one; otherwise it
// downloads the whole file into a TempMappedFile and returns a reader over
// that copy.
func (b *RemoteBridged) Open(ctx context.Context, path string) (fs.ReadStream, error) {
	stream, err := b.FsContract.Open(ctx, path)
	if err == nil {
		return stream, nil
	}
	if !fs.IsUnsupported(err) {
		return nil, err
	}

	tmp, err := tempfile.New()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := b.FsContract.OpenFile(ctx, path, tmp); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, trace.Wrap(err)
	}
	r, err := tmp.Reader()
	if err != nil {
		tmp.Close()
		return nil, trace.Wrap(err)
	}
	return &bufferedReadStream{Reader: r, tmp: tmp}, nil
}

// Create returns the native stream if the backend supports one; otherwise
// it buffers writes into a TempMappedFile and registers a pending finalize
// record consumed by OnWritten.
func (b *RemoteBridged) Create(ctx context.Context, path string, metadata fs.Metadata) (fs.WriteStream, error) {
	stream, err := b.FsContract.Create(ctx, path, metadata)
	if err == nil {
		return stream, nil
	}
	if !fs.IsUnsupported(err) {
		return nil, err
	}

	b.mu.Lock()
	if b.pending != nil {
		b.mu.Unlock()
		return nil, trace.BadParameter("a write is already pending finalize on this endpoint")
	}
	tmp, tmpErr := tempfile.New()
	if tmpErr != nil {
		b.mu.Unlock()
		return nil, trace.Wrap(tmpErr)
	}
	b.pending = &pendingWrite{path: path, metadata: metadata, tmp: tmp}
	b.mu.Unlock()

	return &bufferedWriteStream{tmp: tmp}, nil
}

// OnRead closes the stream. For a buffered read, that unlinks the temp
// copy; for a native stream, it delegates to the backend's own finalizer.
func (b *RemoteBridged) OnRead(ctx context.Context, stream fs.ReadStream) error {
	if buffered, ok := stream.(*bufferedReadStream); ok {
		return trace.Wrap(buffered.tmp.Close())
	}
	return b.FsContract.OnRead(ctx, stream)
}

// OnWritten finalizes the stream. For a buffered write, it syncs the temp
// file and uploads it whole via the backend's non-streaming CreateFile,
// then releases the pending record. For a native stream, it delegates to
// the backend's own finalizer.
func (b *RemoteBridged) OnWritten(ctx context.Context, stream fs.WriteStream) error {
	buffered, ok := stream.(*bufferedWriteStream)
	if !ok {
		return b.FsContract.OnWritten(ctx, stream)
	}

	b.mu.Lock()
	pending := b.pending
	b.mu.Unlock()
	if pending == nil || pending.tmp != buffered.tmp {
		return trace.BadParameter("OnWritten called on a stream with no matching pending finalize")
	}

	if err := pending.tmp.Sync(); err != nil {
		return trace.Wrap(err)
	}
	reader, err := pending.tmp.Reader()
	if err != nil {
		return trace.Wrap(err)
	}
	uploadErr := b.FsContract.CreateFile(ctx, pending.path, pending.metadata, reader)

	b.mu.Lock()
	b.pending = nil
	b.mu.Unlock()

	if closeErr := pending.tmp.Close(); closeErr != nil && uploadErr == nil {
		return trace.Wrap(closeErr)
	}
	return uploadErr
}

// DiscardWrite releases a write stream without finalizing it, for callers
// that abandon a transfer after Create but before a successful OnWritten
// (e.g. the transfer engine on a cancelled or failed copy). For a buffered
// write this clears the pending finalize record and unlinks the temp file
// instead of uploading it; for a native stream it's just a Close.
func (b *RemoteBridged) DiscardWrite(ctx context.Context, stream fs.WriteStream) error {
	buffered, ok := stream.(*bufferedWriteStream)
	if !ok {
		return trace.Wrap(stream.Close())
	}

	b.mu.Lock()
	var tmp *tempfile.TempMappedFile
	if b.pending != nil && b.pending.tmp == buffered.tmp {
		tmp = b.pending.tmp
		b.pending = nil
	}
	b.mu.Unlock()

	if tmp == nil {
		return nil
	}
	return trace.Wrap(tmp.Close())
}

// bufferedReadStream is what Open returns on the read fallback path;
// closing it releases the backing TempMappedFile.
type bufferedReadStream struct {
	io.Reader
	tmp *tempfile.TempMappedFile
}

func (b *bufferedReadStream) Close() error { return b.tmp.Close() }

// bufferedWriteStream is what Create returns on the write fallback path.
// Close is a no-op: the actual upload happens in OnWritten, which every
// FsContract caller is required to invoke exactly once.
type bufferedWriteStream struct {
	tmp *tempfile.TempMappedFile
}

func (b *bufferedWriteStream) Write(p []byte) (int, error) { return b.tmp.Write(p) }
func (b *bufferedWriteStream) Close() error                { return nil }
