// Package cliparse parses the CLI's endpoint-spec grammar (spec.md §6)
// into params.FileTransferParams: `protocol://[user@]host[:port][:/wrkdir]`,
// `s3://bucket@region[:profile][:/wrkdir]`, `smb://[user@]host[:port]/share[/path]`,
// and the Windows UNC form `\\server[:port]\share[\path]`. Argument parsing
// itself (flag handling, subcommands) is out of this module's scope (spec.md
// §1); this package only turns one positional string into connection
// parameters.
package cliparse

import (
	"strconv"
	"strings"

	"github.com/gravitational/trace"

	"github.com/veeso/termscp-sub002/internal/params"
)

// defaultPorts mirrors the well-known port each protocol listens on when
// the spec string doesn't name one.
var defaultPorts = map[params.Protocol]int{
	params.ProtocolSFTP: 22,
	params.ProtocolSCP:  22,
	params.ProtocolFTP:  21,
	params.ProtocolFTPS: 21,
	params.ProtocolSMB:  445,
}

// ParseEndpointSpec parses one positional endpoint-spec argument. An empty
// protocol scheme (no "proto://" prefix) falls back to defaultProto, the
// same behavior the CLI uses for a bare "user@host" shorthand.
func ParseEndpointSpec(raw string, defaultProto params.Protocol) (params.FileTransferParams, error) {
	if raw == "" {
		return params.FileTransferParams{}, trace.BadParameter("empty endpoint spec")
	}
	if isUNC(raw) {
		return parseUNC(raw)
	}

	scheme, rest, hasScheme := strings.Cut(raw, "://")
	proto := defaultProto
	if hasScheme {
		p, err := params.ParseProtocol(strings.ToUpper(scheme))
		if err != nil {
			return params.FileTransferParams{}, trace.Wrap(err)
		}
		proto = p
	} else {
		rest = raw
	}

	switch proto {
	case params.ProtocolS3:
		return parseS3(rest)
	case params.ProtocolSMB:
		return parseSmb(rest)
	case params.ProtocolWebDAV:
		return parseWebDAV(raw)
	default:
		return parseGeneric(proto, rest)
	}
}

func isUNC(raw string) bool {
	return strings.HasPrefix(raw, `\\`)
}

// parseUNC parses `\\server[:port]\share[\path]` into an SMB
// FileTransferParams; the UNC form never carries a username so one must be
// supplied separately (e.g. via a bookmark).
func parseUNC(raw string) (params.FileTransferParams, error) {
	body := strings.TrimPrefix(raw, `\\`)
	parts := strings.SplitN(body, `\`, 3)
	if len(parts) < 2 {
		return params.FileTransferParams{}, trace.BadParameter("malformed UNC path %q", raw)
	}
	host, port := splitHostPort(parts[0], defaultPorts[params.ProtocolSMB])
	share := parts[1]
	var remotePath string
	if len(parts) == 3 {
		remotePath = "/" + strings.ReplaceAll(parts[2], `\`, "/")
	}

	ftp, err := params.NewFileTransferParams(params.ProtocolSMB, params.ConnectionParams{
		Smb: &params.Smb{Address: host, Port: port, Share: share},
	})
	if err != nil {
		return params.FileTransferParams{}, trace.Wrap(err)
	}
	ftp.RemotePath = remotePath
	return ftp, nil
}

// parseGeneric handles the Generic-param protocols (sftp/scp/ftp/ftps):
// `[user@]host[:port][:/wrkdir]`.
func parseGeneric(proto params.Protocol, rest string) (params.FileTransferParams, error) {
	user, hostPortPath := splitUser(rest)
	hostPort, wrkdir := splitTrailingPath(hostPortPath)
	host, port := splitHostPort(hostPort, defaultPorts[proto])

	ftp, err := params.NewFileTransferParams(proto, params.ConnectionParams{
		Generic: &params.Generic{Address: host, Port: port, Username: user},
	})
	if err != nil {
		return params.FileTransferParams{}, trace.Wrap(err)
	}
	ftp.RemotePath = wrkdir
	return ftp, nil
}

// parseS3 handles `bucket@region[:profile][:/wrkdir]`.
func parseS3(rest string) (params.FileTransferParams, error) {
	bucket, tail := splitUser(rest)
	if bucket == "" {
		return params.FileTransferParams{}, trace.BadParameter("s3 spec must name a bucket (bucket@region)")
	}
	segments := strings.Split(tail, ":")
	region := segments[0]
	profile := ""
	wrkdir := ""
	if len(segments) > 1 {
		if strings.HasPrefix(segments[1], "/") {
			wrkdir = segments[1]
		} else {
			profile = segments[1]
		}
	}
	if len(segments) > 2 {
		wrkdir = segments[2]
	}

	ftp, err := params.NewFileTransferParams(params.ProtocolS3, params.ConnectionParams{
		AwsS3: &params.AwsS3{Bucket: bucket, Region: region, Profile: profile},
	})
	if err != nil {
		return params.FileTransferParams{}, trace.Wrap(err)
	}
	ftp.RemotePath = wrkdir
	return ftp, nil
}

// parseSmb handles `[user@]host[:port]/share[/path]`.
func parseSmb(rest string) (params.FileTransferParams, error) {
	user, hostPortShare := splitUser(rest)
	slash := strings.Index(hostPortShare, "/")
	if slash < 0 {
		return params.FileTransferParams{}, trace.BadParameter("smb spec must name a share (host/share)")
	}
	hostPort := hostPortShare[:slash]
	shareAndPath := hostPortShare[slash+1:]
	share, wrkdir, _ := strings.Cut(shareAndPath, "/")
	if wrkdir != "" {
		wrkdir = "/" + wrkdir
	}
	host, port := splitHostPort(hostPort, defaultPorts[params.ProtocolSMB])

	ftp, err := params.NewFileTransferParams(params.ProtocolSMB, params.ConnectionParams{
		Smb: &params.Smb{Address: host, Port: port, Share: share, Username: user},
	})
	if err != nil {
		return params.FileTransferParams{}, trace.Wrap(err)
	}
	ftp.RemotePath = wrkdir
	return ftp, nil
}

// parseWebDAV treats the whole spec (scheme included) as the URI, since
// WebDAV's own "protocol" is really http/https.
func parseWebDAV(raw string) (params.FileTransferParams, error) {
	uri := raw
	if !strings.HasPrefix(uri, "webdav://") {
		return params.FileTransferParams{}, trace.BadParameter("webdav spec must use the webdav:// scheme")
	}
	uri = "http://" + strings.TrimPrefix(uri, "webdav://")
	return params.NewFileTransferParams(params.ProtocolWebDAV, params.ConnectionParams{
		WebDAV: &params.WebDAV{URI: uri},
	})
}

func splitUser(s string) (user, rest string) {
	if at := strings.Index(s, "@"); at >= 0 {
		return s[:at], s[at+1:]
	}
	return "", s
}

// splitTrailingPath separates a trailing ":/wrkdir" suffix, the grammar's
// way of naming the initial remote working directory inline.
func splitTrailingPath(s string) (hostPort, wrkdir string) {
	if i := strings.Index(s, ":/"); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}

func splitHostPort(hostPort string, defaultPort int) (host string, port int) {
	if h, p, found := strings.Cut(hostPort, ":"); found {
		if n, err := strconv.Atoi(p); err == nil {
			return h, n
		}
	}
	return hostPort, defaultPort
}
