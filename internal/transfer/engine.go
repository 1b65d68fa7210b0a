// Package transfer implements the recursive copy engine that moves files
// between two fs.FsContract endpoints with progress, skip-unchanged,
// cooperative tick-based cancellation, and setstat propagation (spec.md
// §4.10).
package transfer

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"

	"github.com/veeso/termscp-sub002/internal/fs"
)

// TickInterval is how often the copy loop yields to the caller's tick
// function to drain UI events and redraw, per spec.md §4.10 step 4.
const TickInterval = 500 * time.Millisecond

// bufferSize is the chunk size used by the streaming copy loop.
const bufferSize = 64 * 1024

// Progress reports done/total bytes and derived throughput for either the
// current file (Partial) or the whole transfer (Full).
type Progress struct {
	TotalBytes int64
	DoneBytes  int64
	StartedAt  time.Time
}

// Fraction returns done/total, or 0 if total is zero.
func (p Progress) Fraction() float64 {
	if p.TotalBytes == 0 {
		return 0
	}
	return float64(p.DoneBytes) / float64(p.TotalBytes)
}

// Throughput returns the average bytes/second since StartedAt.
func (p Progress) Throughput() float64 {
	elapsed := time.Since(p.StartedAt).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(p.DoneBytes) / elapsed
}

// State tracks the full/partial progress of one top-level transfer plus its
// cooperative-cancellation flag. The UI mutates Aborted via Abort(); the
// copy loop polls it every TickInterval.
type State struct {
	Full    Progress
	Partial Progress
	aborted bool
}

// Reset zeroes the state for the start of a new top-level transfer.
func (s *State) Reset(totalBytes int64) {
	now := time.Now()
	s.Full = Progress{TotalBytes: totalBytes, StartedAt: now}
	s.Partial = Progress{StartedAt: now}
	s.aborted = false
}

// Abort requests cancellation; the copy loop observes it at the next tick.
func (s *State) Abort() { s.aborted = true }

// Aborted reports whether cancellation has been requested.
func (s *State) Aborted() bool { return s.aborted }

// TickFunc is invoked roughly every TickInterval during a streaming copy so
// the caller can drain UI events and redraw. It is also invoked whenever
// partial progress advances by at least 1%, per spec.md §4.10 step 4.
type TickFunc func(state *State)

// Entry pairs a source file (or directory) with its destination path, used
// by Batch transfers.
type Entry struct {
	File fs.File
	Dst  string
}

// Request describes a single top-level transfer, mirroring spec.md
// §4.10's tagged union.
type Request struct {
	Kind RequestKind

	// SingleFile / Tree
	Source fs.File
	DstDir string
	Rename string

	// Batch
	Items []Entry
}

// RequestKind discriminates Request's variants.
type RequestKind int

const (
	KindSingleFile RequestKind = iota
	KindTree
	KindBatch
)

// Engine drives one transfer between src and dst, both already-connected
// fs.FsContract endpoints. Transfers run strictly sequentially; the engine
// holds no concurrency of its own, matching spec.md §5's single-threaded
// cooperative model.
type Engine struct {
	src, dst fs.FsContract
	state    State
	tick     TickFunc
	log      log.FieldLogger
}

// NewEngine builds an engine that copies from src to dst.
func NewEngine(src, dst fs.FsContract, tick TickFunc) *Engine {
	if tick == nil {
		tick = func(*State) {}
	}
	return &Engine{src: src, dst: dst, tick: tick, log: log.WithField(trace.Component, "transfer")}
}

// State exposes the engine's progress read-only to the UI.
func (e *Engine) State() *State { return &e.state }

// Abort requests cancellation of the in-flight transfer.
func (e *Engine) Abort() { e.state.Abort() }

// Run executes req end to end: it first walks the source (cancellable) to
// compute Full.TotalBytes, then dispatches to the recursive worker.
func (e *Engine) Run(ctx context.Context, req Request) error {
	total, err := e.computeTotalBytes(ctx, req)
	if err != nil {
		return err
	}
	e.state.Reset(total)

	switch req.Kind {
	case KindSingleFile:
		return e.sendRecurse(ctx, req.Source, req.DstDir, req.Rename)
	case KindTree:
		return e.sendRecurse(ctx, req.Source, req.DstDir, req.Rename)
	case KindBatch:
		for _, item := range req.Items {
			if e.state.Aborted() {
				return fs.ErrAbrupted
			}
			dstDir, rename := path.Split(item.Dst)
			if err := e.sendRecurse(ctx, item.File, dstDir, rename); err != nil {
				return err
			}
		}
		return nil
	default:
		return trace.BadParameter("unknown transfer request kind %d", req.Kind)
	}
}

// computeTotalBytes stat-walks the source (recursively for a directory),
// itself cancellable via the same state flag so a huge tree doesn't block
// an unresponsive UI indefinitely while "calculating transfer size...".
func (e *Engine) computeTotalBytes(ctx context.Context, req Request) (int64, error) {
	switch req.Kind {
	case KindSingleFile:
		return req.Source.Metadata.Size, nil
	case KindTree:
		return e.walkSize(ctx, req.Source)
	case KindBatch:
		var total int64
		for _, item := range req.Items {
			size, err := e.walkSize(ctx, item.File)
			if err != nil {
				return 0, err
			}
			total += size
		}
		return total, nil
	default:
		return 0, trace.BadParameter("unknown transfer request kind %d", req.Kind)
	}
}

func (e *Engine) walkSize(ctx context.Context, entry fs.File) (int64, error) {
	if e.state.Aborted() {
		return 0, fs.ErrAbrupted
	}
	if !entry.IsDir() {
		return entry.Metadata.Size, nil
	}
	children, err := e.src.ListDir(ctx, entry.Path)
	if err != nil {
		return 0, fs.RemoteIo(err)
	}
	var total int64
	for _, child := range children {
		size, err := e.walkSize(ctx, child)
		if err != nil {
			return 0, err
		}
		total += size
	}
	return total, nil
}

// sendRecurse implements spec.md §4.10's recursive worker: directories are
// created before their contents are recursed into; a file-level failure
// that leaves a partial artifact triggers best-effort cleanup before the
// error propagates.
func (e *Engine) sendRecurse(ctx context.Context, entry fs.File, dstDir, rename string) error {
	if e.state.Aborted() {
		return fs.ErrAbrupted
	}

	name := entry.Name()
	if rename != "" {
		name = rename
	}
	dstPath := path.Join(dstDir, name)

	if entry.IsDir() {
		if err := e.dst.CreateDir(ctx, dstPath, 0o755, true); err != nil {
			return fs.HostIo(err)
		}
		children, err := e.src.ListDir(ctx, entry.Path)
		if err != nil {
			return fs.RemoteIo(err)
		}
		for _, child := range children {
			if err := e.sendRecurse(ctx, child, dstPath, ""); err != nil {
				return err
			}
		}
		return nil
	}

	err := e.sendOne(ctx, entry, dstPath, name)
	if err != nil && (isAbrupted(err) || isRemoteIoOrHostIo(err)) {
		if rmErr := e.dst.RemoveFile(ctx, dstPath); rmErr != nil && !fs.IsNotFound(rmErr) {
			e.log.WithError(rmErr).Warnf("cleanup of partial artifact %s failed", dstPath)
		}
	}
	return err
}

// sendOne implements spec.md §4.10's send_one: skip-unchanged, then a
// streaming copy with a fallback to the non-streaming path when either side
// can't produce a byte stream.
func (e *Engine) sendOne(ctx context.Context, entry fs.File, dstPath, displayName string) error {
	srcMeta, err := e.src.Stat(ctx, entry.Path)
	if err != nil {
		return fs.RemoteIo(err)
	}

	if dstInfo, err := e.dst.Stat(ctx, dstPath); err == nil {
		if sameSizeAndMtime(srcMeta.Metadata, dstInfo.Metadata) {
			e.log.Debugf("%s won't be transferred since hasn't changed", displayName)
			e.advance(srcMeta.Metadata.Size)
			return nil
		}
	}

	start := time.Now()
	if err := e.streamOrFallback(ctx, entry.Path, dstPath, srcMeta.Metadata); err != nil {
		return err
	}

	if err := e.dst.Setstat(ctx, dstPath, srcMeta.Metadata); err != nil && !fs.IsUnsupported(err) {
		e.log.WithError(err).Warnf("setstat after transfer failed for %s", dstPath)
	}
	e.log.Debugf("%s transferred in %s", displayName, time.Since(start))
	return nil
}

func (e *Engine) streamOrFallback(ctx context.Context, srcPath, dstPath string, meta fs.Metadata) error {
	reader, err := e.src.Open(ctx, srcPath)
	if err != nil {
		if !fs.IsUnsupported(err) {
			return fs.RemoteIo(err)
		}
		return e.copyNonStreaming(ctx, srcPath, dstPath, meta)
	}
	defer e.src.OnRead(ctx, reader)

	writer, err := e.dst.Create(ctx, dstPath, meta)
	if err != nil {
		if !fs.IsUnsupported(err) {
			return fs.HostIo(err)
		}
		return e.copyNonStreaming(ctx, srcPath, dstPath, meta)
	}

	e.state.Partial = Progress{TotalBytes: meta.Size, StartedAt: time.Now()}

	if err := e.copyStream(ctx, reader, writer); err != nil {
		e.discardWrite(ctx, writer)
		return err
	}
	return trace.Wrap(e.dst.OnWritten(ctx, writer))
}

// copyNonStreaming is used when either side can't produce a byte stream;
// the whole file moves in one non-streaming call and progress jumps
// directly from 0 to size.
func (e *Engine) copyNonStreaming(ctx context.Context, srcPath, dstPath string, meta fs.Metadata) error {
	if e.state.Aborted() {
		return fs.ErrAbrupted
	}
	pr, pw := io.Pipe()
	errCh := make(chan error, 1)
	go func() {
		errCh <- e.src.OpenFile(ctx, srcPath, pw)
		pw.Close()
	}()
	if err := e.dst.CreateFile(ctx, dstPath, meta, pr); err != nil {
		return fs.HostIo(err)
	}
	if err := <-errCh; err != nil {
		return fs.RemoteIo(err)
	}
	e.advance(meta.Size)
	return nil
}

// copyStream loops 64KiB reads/writes, ticking the caller every
// TickInterval (so cancel/redraw can happen) and redrawing whenever partial
// progress advances by at least 1%, per spec.md §4.10 step 4-5.
func (e *Engine) copyStream(ctx context.Context, reader fs.ReadStream, writer fs.WriteStream) error {
	buf := make([]byte, bufferSize)
	lastTick := time.Now()
	lastTickFraction := 0.0

	for {
		if e.state.Aborted() {
			return fs.ErrAbrupted
		}
		select {
		case <-ctx.Done():
			return trace.Wrap(ctx.Err())
		default:
		}

		n, readErr := reader.Read(buf)
		if n > 0 {
			if _, writeErr := writer.Write(buf[:n]); writeErr != nil {
				return fs.HostIo(writeErr)
			}
			e.advance(int64(n))
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return fs.RemoteIo(readErr)
		}

		if time.Since(lastTick) >= TickInterval {
			e.tick(&e.state)
			lastTick = time.Now()
		} else if frac := e.state.Partial.Fraction(); frac-lastTickFraction >= 0.01 {
			e.tick(&e.state)
			lastTickFraction = frac
		}
	}
}

// discardWrite releases writer after a failed or cancelled streamOrFallback
// copy, since copyStream's error return skips OnWritten. Endpoints that
// leave pending state behind on Create (RemoteBridged's buffered-write
// fallback) implement fs.Discarder to clear it without uploading the
// partial content; every other endpoint just gets a plain Close.
func (e *Engine) discardWrite(ctx context.Context, writer fs.WriteStream) {
	if discarder, ok := e.dst.(fs.Discarder); ok {
		if err := discarder.DiscardWrite(ctx, writer); err != nil {
			e.log.WithError(err).Warn("failed to discard partial write stream")
		}
		return
	}
	if err := writer.Close(); err != nil {
		e.log.WithError(err).Warn("failed to close partial write stream")
	}
}

func (e *Engine) advance(n int64) {
	e.state.Partial.DoneBytes += n
	e.state.Full.DoneBytes += n
}

func sameSizeAndMtime(a, b fs.Metadata) bool {
	return a.Size == b.Size && a.Modified.Equal(b.Modified)
}

func isAbrupted(err error) bool {
	return trace.Unwrap(err) == fs.ErrAbrupted || err == fs.ErrAbrupted
}

func isRemoteIoOrHostIo(err error) bool {
	// fs.RemoteIo/fs.HostIo wrap with a fixed message prefix via trace.Wrap;
	// without a bespoke error type the prefix is the only signal, matching
	// how the rest of this package distinguishes "Transfer" errors.
	msg := err.Error()
	return strings.Contains(msg, "remote i/o error") || strings.Contains(msg, "host i/o error")
}
