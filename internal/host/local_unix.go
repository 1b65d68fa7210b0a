//go:build !windows

package host

import (
	"os"
	"syscall"

	"github.com/veeso/termscp-sub002/internal/fs"
)

// unixMode extracts the permission bits from a POSIX stat result. Returns
// nil if the underlying Sys() value isn't a syscall.Stat_t (e.g. on exotic
// filesystems that don't populate it).
func unixMode(info os.FileInfo) *fs.UnixPex {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}
	mode := fs.UnixPex(stat.Mode & 0o777)
	return &mode
}
