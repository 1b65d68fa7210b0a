// Package store implements the TOML-backed persistent stores: bookmarks
// (with recents MRU and encrypted passwords), user config, and theme. Every
// store follows the same shape: open reads-or-initializes a TOML file, the
// in-memory struct is mutated through typed methods, and Write
// atomically rewrites the file.
package store

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/gravitational/trace"
	"github.com/pelletier/go-toml"
	log "github.com/sirupsen/logrus"

	"github.com/veeso/termscp-sub002/internal/params"
	"github.com/veeso/termscp-sub002/internal/secret"
)

// DefaultRecentsCap bounds the recents MRU when the caller doesn't override
// it.
const DefaultRecentsCap = 16

// recentTimeLayout is the ISO-8601 basic format used for recents keys, so
// lexicographic string order equals chronological order.
const recentTimeLayout = "20060102T150405"

// BookmarkRecord is the on-disk (and in-memory) shape of a single bookmark
// or recent entry. Protocol-specific fields are all optional pointers so
// TOML serializes only the variant that applies.
type BookmarkRecord struct {
	Protocol  string         `toml:"protocol"`
	Address   string         `toml:"address,omitempty"`
	Port      int            `toml:"port,omitempty"`
	Username  string         `toml:"username,omitempty"`
	Password  string         `toml:"password,omitempty"`
	Directory string         `toml:"directory,omitempty"`
	S3        *params.AwsS3  `toml:"s3,omitempty"`
	Smb       *params.Smb    `toml:"smb,omitempty"`
	Kube      *params.Kube   `toml:"kube,omitempty"`
	WebDAV    *params.WebDAV `toml:"webdav,omitempty"`
}

type bookmarksFile struct {
	Bookmarks map[string]BookmarkRecord `toml:"bookmarks"`
	Recents   map[string]BookmarkRecord `toml:"recents"`
}

// BookmarksStore owns the named bookmark table and the bounded recents MRU,
// encrypting/decrypting passwords through a per-install key sourced from a
// secret.KeyStore (see spec.md §4.6).
type BookmarksStore struct {
	path       string
	recentsCap int
	aesKey     string

	data bookmarksFile
}

// OpenBookmarks opens (or initializes) the bookmarks file at bookmarksPath.
// The AES key is sourced from ks under the service name appropriate to the
// storage backend in use ("termscp" on keyring platforms, "bookmarks" on
// file storage; isKeyring selects between them).
func OpenBookmarks(bookmarksPath string, ks secret.KeyStore, isKeyring bool, recentsCap int, testBuild bool) (*BookmarksStore, error) {
	if recentsCap <= 0 {
		recentsCap = DefaultRecentsCap
	}
	key, err := secret.EncryptionKey(ks, isKeyring, testBuild)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	s := &BookmarksStore{path: bookmarksPath, recentsCap: recentsCap, aesKey: key}

	if _, err := os.Stat(bookmarksPath); os.IsNotExist(err) {
		s.data = bookmarksFile{Bookmarks: map[string]BookmarkRecord{}, Recents: map[string]BookmarkRecord{}}
		if err := s.Write(); err != nil {
			return nil, trace.Wrap(err)
		}
		return s, nil
	}

	raw, err := os.ReadFile(bookmarksPath)
	if err != nil {
		return nil, trace.Wrap(err, "serializer: reading %s", bookmarksPath)
	}
	var parsed bookmarksFile
	if err := toml.Unmarshal(raw, &parsed); err != nil {
		return nil, trace.Wrap(err, "serializer: parsing %s", bookmarksPath)
	}
	if parsed.Bookmarks == nil {
		parsed.Bookmarks = map[string]BookmarkRecord{}
	}
	if parsed.Recents == nil {
		parsed.Recents = map[string]BookmarkRecord{}
	}
	s.data = parsed
	return s, nil
}

// AddBookmark inserts or overwrites the named bookmark. An empty name is
// rejected. If savePassword is false the password is stripped; otherwise it
// is encrypted before being stored.
func (s *BookmarksStore) AddBookmark(name string, p params.FileTransferParams, savePassword bool) error {
	if name == "" {
		return trace.BadParameter("bookmark name must not be empty")
	}
	record, err := s.toRecord(p, savePassword)
	if err != nil {
		return trace.Wrap(err)
	}
	s.data.Bookmarks[name] = record
	return nil
}

// DelBookmark removes the named bookmark, if present.
func (s *BookmarksStore) DelBookmark(name string) {
	delete(s.data.Bookmarks, name)
}

// GetBookmark decodes the named bookmark back into FileTransferParams,
// decrypting its password. A decryption failure (key mismatch, corrupt
// payload) yields params with an empty password and is logged by
// decryptOrEmpty rather than failing the lookup.
func (s *BookmarksStore) GetBookmark(name string) (params.FileTransferParams, bool, error) {
	record, ok := s.data.Bookmarks[name]
	if !ok {
		return params.FileTransferParams{}, false, nil
	}
	p, err := s.fromRecord(record)
	if err != nil {
		return params.FileTransferParams{}, true, trace.Wrap(err)
	}
	return p, true, nil
}

// IterBookmarks returns every bookmark name, sorted.
func (s *BookmarksStore) IterBookmarks() []string {
	return sortedKeys(s.data.Bookmarks)
}

// IterRecents returns every recents key (ISO timestamp), sorted ascending
// so the caller sees oldest-first.
func (s *BookmarksStore) IterRecents() []string {
	return sortedKeys(s.data.Recents)
}

// AddRecent records params as a recent connection, stripping any password
// (recents never persist passwords per spec.md §9) and deduplicating
// against any existing recent with the same semantic identity. When adding
// pushes the MRU over its cap, the oldest entries (by ascending ISO key) are
// evicted until back within cap.
func (s *BookmarksStore) AddRecent(p params.FileTransferParams, now time.Time) error {
	record, err := s.toRecord(p, false)
	if err != nil {
		return trace.Wrap(err)
	}
	record.Password = ""

	for _, existing := range s.data.Recents {
		if recordsMatch(existing, record) {
			return nil
		}
	}

	key := now.UTC().Format(recentTimeLayout)
	s.data.Recents[key] = record

	keys := sortedKeys(s.data.Recents)
	for len(keys) > s.recentsCap {
		delete(s.data.Recents, keys[0])
		keys = keys[1:]
	}
	return nil
}

// GetRecent decodes the named recent back into FileTransferParams; recents
// always carry an empty password.
func (s *BookmarksStore) GetRecent(name string) (params.FileTransferParams, bool, error) {
	record, ok := s.data.Recents[name]
	if !ok {
		return params.FileTransferParams{}, false, nil
	}
	record.Password = ""
	p, err := s.fromRecord(record)
	if err != nil {
		return params.FileTransferParams{}, true, trace.Wrap(err)
	}
	return p, true, nil
}

// DelRecent removes the named recent, if present.
func (s *BookmarksStore) DelRecent(name string) {
	delete(s.data.Recents, name)
}

// Write serializes the store to TOML and atomically replaces the bookmarks
// file (write to a sibling temp file, then rename).
func (s *BookmarksStore) Write() error {
	out, err := toml.Marshal(s.data)
	if err != nil {
		return trace.Wrap(err, "serializer: marshaling bookmarks")
	}
	return atomicWriteFile(s.path, out, 0o600)
}

func (s *BookmarksStore) toRecord(p params.FileTransferParams, savePassword bool) (BookmarkRecord, error) {
	record := BookmarkRecord{Protocol: string(p.Protocol), Directory: p.RemotePath}
	switch {
	case p.Params.Generic != nil:
		g := p.Params.Generic
		record.Address, record.Port, record.Username = g.Address, g.Port, g.Username
		if savePassword && g.Password != "" {
			enc, err := secret.Encrypt(s.aesKey, g.Password)
			if err != nil {
				return BookmarkRecord{}, trace.Wrap(err)
			}
			record.Password = enc
		}
	case p.Params.AwsS3 != nil:
		v := *p.Params.AwsS3
		if !savePassword {
			v.SecretAccessKey = ""
		}
		record.S3 = &v
	case p.Params.Smb != nil:
		v := *p.Params.Smb
		if savePassword && v.Password != "" {
			enc, err := secret.Encrypt(s.aesKey, v.Password)
			if err != nil {
				return BookmarkRecord{}, trace.Wrap(err)
			}
			v.Password = enc
		} else {
			v.Password = ""
		}
		record.Smb = &v
	case p.Params.WebDAV != nil:
		v := *p.Params.WebDAV
		if savePassword && v.Password != "" {
			enc, err := secret.Encrypt(s.aesKey, v.Password)
			if err != nil {
				return BookmarkRecord{}, trace.Wrap(err)
			}
			v.Password = enc
		} else {
			v.Password = ""
		}
		record.WebDAV = &v
	case p.Params.Kube != nil:
		v := *p.Params.Kube
		record.Kube = &v
	default:
		return BookmarkRecord{}, trace.BadParameter("file transfer params carry no connection variant")
	}
	return record, nil
}

func (s *BookmarksStore) fromRecord(record BookmarkRecord) (params.FileTransferParams, error) {
	protocol, err := params.ParseProtocol(record.Protocol)
	if err != nil {
		return params.FileTransferParams{}, trace.Wrap(err)
	}

	var cp params.ConnectionParams
	switch {
	case record.S3 != nil:
		v := *record.S3
		cp.AwsS3 = &v
	case record.Smb != nil:
		v := *record.Smb
		v.Password = s.decryptOrEmpty(v.Password)
		cp.Smb = &v
	case record.WebDAV != nil:
		v := *record.WebDAV
		v.Password = s.decryptOrEmpty(v.Password)
		cp.WebDAV = &v
	case record.Kube != nil:
		v := *record.Kube
		cp.Kube = &v
	default:
		cp.Generic = &params.Generic{
			Address:  record.Address,
			Port:     record.Port,
			Username: record.Username,
			Password: s.decryptOrEmpty(record.Password),
		}
	}

	p, err := params.NewFileTransferParams(protocol, cp)
	if err != nil {
		return params.FileTransferParams{}, trace.Wrap(err)
	}
	p.RemotePath = record.Directory
	return p, nil
}

// decryptOrEmpty decrypts an encrypted password field, returning "" if it
// is empty or undecryptable under the current key; a decryption failure is
// logged and otherwise swallowed, per spec.md §4.6.
func (s *BookmarksStore) decryptOrEmpty(encrypted string) string {
	if encrypted == "" {
		return ""
	}
	plain, err := secret.Decrypt(s.aesKey, encrypted)
	if err != nil {
		log.WithField(trace.Component, "store:bookmarks").WithError(err).Warn("stored password could not be decrypted, treating it as missing")
		return ""
	}
	return plain
}

// recordsMatch implements the recents dedup equality: same protocol, then
// the same per-variant identity fields params.ConnectionParams.Matches
// compares (address+port+username for generic records; address, port,
// username and share for SMB; URI and username for WebDAV; bucket and
// region for S3; namespace and cluster URL for Kube). It operates on the
// on-disk shape so AddRecent doesn't need to round-trip through decryption
// first.
func recordsMatch(a, b BookmarkRecord) bool {
	if a.Protocol != b.Protocol {
		return false
	}
	switch {
	case a.Smb != nil && b.Smb != nil:
		return a.Smb.Address == b.Smb.Address && a.Smb.Port == b.Smb.Port &&
			a.Smb.Username == b.Smb.Username && a.Smb.Share == b.Smb.Share
	case a.WebDAV != nil && b.WebDAV != nil:
		return a.WebDAV.URI == b.WebDAV.URI && a.WebDAV.Username == b.WebDAV.Username
	case a.S3 != nil && b.S3 != nil:
		return a.S3.Bucket == b.S3.Bucket && a.S3.Region == b.S3.Region
	case a.Kube != nil && b.Kube != nil:
		return a.Kube.Namespace == b.Kube.Namespace && a.Kube.ClusterURL == b.Kube.ClusterURL
	case a.S3 == nil && b.S3 == nil && a.Smb == nil && b.Smb == nil && a.WebDAV == nil && b.WebDAV == nil && a.Kube == nil && b.Kube == nil:
		return a.Address == b.Address && a.Port == b.Port && a.Username == b.Username
	default:
		return false
	}
}

func sortedKeys(m map[string]BookmarkRecord) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// atomicWriteFile writes data to a sibling temp file then renames it over
// path, so a crash mid-write never leaves a truncated store file behind.
func atomicWriteFile(path string, data []byte, mode os.FileMode) error {
	tmp := fmt.Sprintf("%s.tmp-%d", path, os.Getpid())
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return trace.Wrap(err, "serializer: writing %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return trace.Wrap(err, "serializer: renaming %s to %s", tmp, path)
	}
	return nil
}
