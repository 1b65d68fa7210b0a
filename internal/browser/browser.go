// Package browser implements the per-endpoint navigation/listing state
// described in spec.md §4.11: working directory, a sorted listing
// snapshot, a "previous directory" stack, a marked-files queue, and an
// optional search-results view.
package browser

import (
	"context"
	"sort"
	"strings"

	"github.com/gravitational/trace"

	"github.com/veeso/termscp-sub002/internal/fs"
)

// SortBy selects the ordering applied to Files after every reload.
type SortBy int

const (
	SortByName SortBy = iota
	SortBySize
	SortByModified
	SortByType
)

// Found captures a search-results view: the matched files plus the
// directory the search started from, so the UI can render "N results in
// <origin>" and clearing the view restores the normal listing.
type Found struct {
	Files  []fs.File
	Origin string
}

// Browser owns one endpoint's working directory, listing cache, navigation
// stack and marked-files queue. It never derives pwd client-side: after any
// Cd, Wrkdir is set to whatever the endpoint's own ChangeDir/Pwd returned,
// per spec.md §4.11's invariant that the endpoint is the source of truth.
type Browser struct {
	endpoint fs.FsContract

	wrkdir     string
	files      []fs.File
	navStack   []string
	sortBy     SortBy
	showHidden bool
	queue      map[string]struct{}
	found      *Found
}

// New builds a Browser bound to endpoint, an already-connected FsContract.
// The initial Wrkdir is populated via Pwd.
func New(ctx context.Context, endpoint fs.FsContract) (*Browser, error) {
	wrkdir, err := endpoint.Pwd(ctx)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	b := &Browser{
		endpoint: endpoint,
		wrkdir:   wrkdir,
		queue:    map[string]struct{}{},
	}
	if err := b.Reload(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// Wrkdir returns the current working directory.
func (b *Browser) Wrkdir() string { return b.wrkdir }

// Files returns the current sorted listing snapshot (or, if a search is
// active, the search results).
func (b *Browser) Files() []fs.File {
	if b.found != nil {
		return b.found.Files
	}
	return b.files
}

// Cd changes directory via the endpoint, then reloads the listing. If
// pushPrev is true, the prior Wrkdir is pushed onto the nav stack for a
// later CdPrev.
func (b *Browser) Cd(ctx context.Context, path string, pushPrev bool) error {
	prev := b.wrkdir
	target, err := b.endpoint.ChangeDir(ctx, path)
	if err != nil {
		return trace.Wrap(err)
	}
	if pushPrev {
		b.navStack = append(b.navStack, prev)
	}
	b.wrkdir = target
	b.ClearFound()
	return b.Reload(ctx)
}

// CdPrev pops the nav stack and returns to that directory, if any.
func (b *Browser) CdPrev(ctx context.Context) error {
	if len(b.navStack) == 0 {
		return nil
	}
	prev := b.navStack[len(b.navStack)-1]
	b.navStack = b.navStack[:len(b.navStack)-1]
	return b.Cd(ctx, prev, false)
}

// CdUp navigates to the parent directory.
func (b *Browser) CdUp(ctx context.Context) error {
	return b.Cd(ctx, "..", true)
}

// Reload re-lists the current working directory from the endpoint and
// re-sorts per the active SortBy/show-hidden settings. It is always a fresh
// ListDir call: the Browser is the only layer that caches a sorted
// snapshot, the endpoint itself (e.g. host.Local) may cache the raw
// listing underneath.
func (b *Browser) Reload(ctx context.Context) error {
	entries, err := b.endpoint.ListDir(ctx, b.wrkdir)
	if err != nil {
		return trace.Wrap(err)
	}
	if !b.showHidden {
		filtered := make([]fs.File, 0, len(entries))
		for _, e := range entries {
			if !isHidden(e) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	sortFiles(entries, b.sortBy)
	b.files = entries
	return nil
}

// SetSort changes the active sort order and re-sorts the current listing
// in place, without a round trip to the endpoint.
func (b *Browser) SetSort(by SortBy) {
	b.sortBy = by
	sortFiles(b.files, by)
	if b.found != nil {
		sortFiles(b.found.Files, by)
	}
}

// ToggleHidden flips show-hidden and reloads.
func (b *Browser) ToggleHidden(ctx context.Context) error {
	b.showHidden = !b.showHidden
	return b.Reload(ctx)
}

// ShowHidden reports the current show-hidden setting.
func (b *Browser) ShowHidden() bool { return b.showHidden }

// Mark adds path to the queue of marked files (for multi-file operations).
func (b *Browser) Mark(path string) { b.queue[path] = struct{}{} }

// Unmark removes path from the queue.
func (b *Browser) Unmark(path string) { delete(b.queue, path) }

// Marked reports whether path is currently marked.
func (b *Browser) Marked(path string) bool {
	_, ok := b.queue[path]
	return ok
}

// Queue returns every currently marked path.
func (b *Browser) Queue() []string {
	out := make([]string, 0, len(b.queue))
	for p := range b.queue {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// ClearQueue empties the marked-files queue.
func (b *Browser) ClearQueue() { b.queue = map[string]struct{}{} }

// SetFound installs a search-results view; Files() returns it until
// ClearFound is called.
func (b *Browser) SetFound(files []fs.File, origin string) {
	sortFiles(files, b.sortBy)
	b.found = &Found{Files: files, Origin: origin}
}

// ClearFound restores the normal directory listing view.
func (b *Browser) ClearFound() { b.found = nil }

// InFound reports whether a search-results view is currently active.
func (b *Browser) InFound() bool { return b.found != nil }

func isHidden(f fs.File) bool {
	return strings.HasPrefix(f.Name(), ".")
}

func sortFiles(files []fs.File, by SortBy) {
	sort.SliceStable(files, func(i, j int) bool {
		a, b := files[i], files[j]
		// Directories first regardless of sort key, the common file-manager
		// convention every termscp predecessor (and most shells' `ls`
		// wrappers) follows.
		if a.IsDir() != b.IsDir() {
			return a.IsDir()
		}
		switch by {
		case SortBySize:
			return a.Metadata.Size < b.Metadata.Size
		case SortByModified:
			return a.Metadata.Modified.Before(b.Metadata.Modified)
		case SortByType:
			return fileExt(a.Name()) < fileExt(b.Name())
		default:
			return a.Name() < b.Name()
		}
	})
}

func fileExt(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return ""
}
