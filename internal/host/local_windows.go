//go:build windows

package host

import (
	"os"

	"github.com/veeso/termscp-sub002/internal/fs"
)

// unixMode has no equivalent on Windows; callers treat a nil Mode as "leave
// permissions alone".
func unixMode(info os.FileInfo) *fs.UnixPex {
	return nil
}
