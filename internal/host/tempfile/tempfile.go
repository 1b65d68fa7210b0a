// Package tempfile implements the local scratch-file adapter that lets the
// transfer engine treat every endpoint as a streaming endpoint, even when
// the underlying protocol client only exposes whole-file get/put calls.
package tempfile

import (
	"io"
	"os"
	"sync"

	"github.com/gravitational/trace"
)

// TempMappedFile is a single-writer/single-reader scratch object backed by
// a named temp file. The first Write call lazily opens a write handle and
// memoizes it; the first Read call opens a separate read handle. Sync must
// be called between the write and read phases so the reader observes every
// byte written so far.
type TempMappedFile struct {
	mu       sync.Mutex
	path     string
	writer   *os.File
	reader   *os.File
	refCount int
}

// New creates the backing temp file. Its path is stable until the last
// clone is released via Close.
func New() (*TempMappedFile, error) {
	f, err := os.CreateTemp("", "termscp-bridge-*.tmp")
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, trace.ConvertSystemError(err)
	}
	return &TempMappedFile{path: path, refCount: 1}, nil
}

// Path returns the backing file's path on the local filesystem.
func (t *TempMappedFile) Path() string {
	return t.path
}

// Clone increments the reference count; the backing file is only unlinked
// once every clone has been Close()d.
func (t *TempMappedFile) Clone() *TempMappedFile {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refCount++
	return t
}

// Write appends to the write handle, opening it lazily on first use.
func (t *TempMappedFile) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writer == nil {
		f, err := os.OpenFile(t.path, os.O_WRONLY|os.O_CREATE, 0o600)
		if err != nil {
			return 0, trace.ConvertSystemError(err)
		}
		t.writer = f
	}
	n, err := t.writer.Write(p)
	if err != nil {
		return n, trace.ConvertSystemError(err)
	}
	return n, nil
}

// Reader opens (once) and returns a handle positioned at the start of the
// file for reading. Callers must have called Sync after the write phase.
func (t *TempMappedFile) Reader() (io.Reader, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reader == nil {
		f, err := os.Open(t.path)
		if err != nil {
			return nil, trace.ConvertSystemError(err)
		}
		t.reader = f
	}
	return t.reader, nil
}

// Sync flushes and closes any open write handle so a subsequent Reader call
// observes every byte written so far. It is a no-op if nothing was written.
func (t *TempMappedFile) Sync() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writer == nil {
		return nil
	}
	if err := t.writer.Sync(); err != nil {
		return trace.ConvertSystemError(err)
	}
	err := t.writer.Close()
	t.writer = nil
	if err != nil {
		return trace.ConvertSystemError(err)
	}
	return nil
}

// Close releases this clone's handles. Once the last clone is closed, the
// backing file is unlinked.
func (t *TempMappedFile) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	if t.writer != nil {
		errs = append(errs, t.writer.Close())
		t.writer = nil
	}
	if t.reader != nil {
		errs = append(errs, t.reader.Close())
		t.reader = nil
	}

	t.refCount--
	if t.refCount <= 0 {
		if err := os.Remove(t.path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return trace.NewAggregate(errs...)
}
