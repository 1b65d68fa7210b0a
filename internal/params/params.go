// Package params defines the connection parameter types shared by every
// protocol backend, the bookmark store, and the CLI.
package params

import (
	"fmt"

	"github.com/gravitational/trace"
)

// Protocol identifies a file-transfer protocol.
type Protocol string

const (
	ProtocolSFTP   Protocol = "SFTP"
	ProtocolSCP    Protocol = "SCP"
	ProtocolFTP    Protocol = "FTP"
	ProtocolFTPS   Protocol = "FTPS"
	ProtocolS3     Protocol = "S3"
	ProtocolSMB    Protocol = "SMB"
	ProtocolKube   Protocol = "KUBE"
	ProtocolWebDAV Protocol = "WEBDAV"
)

// ParseProtocol parses the uppercase on-disk token into a Protocol,
// defaulting callers are expected to fall back to ProtocolSFTP on error
// the same way the bookmark store does when it finds a corrupt record.
func ParseProtocol(s string) (Protocol, error) {
	switch Protocol(s) {
	case ProtocolSFTP, ProtocolSCP, ProtocolFTP, ProtocolFTPS, ProtocolS3, ProtocolSMB, ProtocolKube, ProtocolWebDAV:
		return Protocol(s), nil
	default:
		return "", trace.BadParameter("unknown protocol %q", s)
	}
}

// Generic carries the parameters shared by SFTP, SCP and FTP[S].
type Generic struct {
	Address  string
	Port     int
	Username string
	Password string
}

// AwsS3 carries the parameters for an S3 bucket endpoint.
type AwsS3 struct {
	Bucket          string
	Region          string
	Endpoint        string
	Profile         string
	AccessKey       string
	SecretAccessKey string
	NewPathStyle    bool
}

// Smb carries the parameters for a CIFS/SMB share endpoint.
type Smb struct {
	Address   string
	Port      int
	Share     string
	Workgroup string
	Username  string
	Password  string
}

// WebDAV carries the parameters for a WebDAV endpoint.
type WebDAV struct {
	URI      string
	Username string
	Password string
}

// Kube carries the parameters to read/write files inside a pod via the
// Kubernetes exec/attach subresource.
type Kube struct {
	Namespace  string
	ClusterURL string
	Username   string
	ClientCert string
	ClientKey  string
}

// ConnectionParams is a tagged union over the protocol-specific parameter
// sets. Exactly one field is populated; which one is determined by the
// owning Protocol value.
type ConnectionParams struct {
	Generic *Generic
	AwsS3   *AwsS3
	Smb     *Smb
	WebDAV  *WebDAV
	Kube    *Kube
}

// Validate checks the tagged-union invariant: exactly one variant is set.
func (p ConnectionParams) Validate() error {
	set := 0
	for _, ok := range []bool{p.Generic != nil, p.AwsS3 != nil, p.Smb != nil, p.WebDAV != nil, p.Kube != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return trace.BadParameter("connection params must carry exactly one variant, got %d", set)
	}
	return nil
}

// PasswordMissing returns true iff the active variant supports a password
// field and it is currently empty.
func (p ConnectionParams) PasswordMissing() bool {
	switch {
	case p.Generic != nil:
		return p.Generic.Password == ""
	case p.Smb != nil:
		return p.Smb.Password == ""
	case p.WebDAV != nil:
		return p.WebDAV.Password == ""
	default:
		// AwsS3 and Kube authenticate via keys/certs, not a single password.
		return false
	}
}

// Matches reports whether two ConnectionParams of the same variant share
// that variant's "semantic identity" fields (address/port/username for
// Generic), the equality BookmarksStore's recents dedup mirrors. The
// protocol is not part of ConnectionParams and is not compared here.
// Passwords are intentionally excluded.
func (p ConnectionParams) Matches(other ConnectionParams) bool {
	switch {
	case p.Generic != nil && other.Generic != nil:
		return p.Generic.Address == other.Generic.Address &&
			p.Generic.Port == other.Generic.Port &&
			p.Generic.Username == other.Generic.Username
	case p.Smb != nil && other.Smb != nil:
		return p.Smb.Address == other.Smb.Address &&
			p.Smb.Port == other.Smb.Port &&
			p.Smb.Username == other.Smb.Username &&
			p.Smb.Share == other.Smb.Share
	case p.WebDAV != nil && other.WebDAV != nil:
		return p.WebDAV.URI == other.WebDAV.URI && p.WebDAV.Username == other.WebDAV.Username
	case p.AwsS3 != nil && other.AwsS3 != nil:
		return p.AwsS3.Bucket == other.AwsS3.Bucket && p.AwsS3.Region == other.AwsS3.Region
	case p.Kube != nil && other.Kube != nil:
		return p.Kube.Namespace == other.Kube.Namespace && p.Kube.ClusterURL == other.Kube.ClusterURL
	default:
		return false
	}
}

// FileTransferParams tells the system both how to connect to the remote
// endpoint and the initial working directories on each side.
type FileTransferParams struct {
	Protocol   Protocol
	Params     ConnectionParams
	LocalPath  string
	RemotePath string
}

// NewFileTransferParams validates the protocol/params agreement invariant.
// Violating it is a programmer error, so this is the only constructor that
// may fail with a fatal-looking BadParameter.
func NewFileTransferParams(protocol Protocol, cp ConnectionParams) (FileTransferParams, error) {
	if err := cp.Validate(); err != nil {
		return FileTransferParams{}, trace.Wrap(err)
	}
	if err := protocolAgrees(protocol, cp); err != nil {
		return FileTransferParams{}, trace.Wrap(err)
	}
	return FileTransferParams{Protocol: protocol, Params: cp}, nil
}

func protocolAgrees(protocol Protocol, cp ConnectionParams) error {
	switch protocol {
	case ProtocolSFTP, ProtocolSCP, ProtocolFTP, ProtocolFTPS:
		if cp.Generic == nil {
			return trace.BadParameter("protocol %s requires generic params", protocol)
		}
	case ProtocolS3:
		if cp.AwsS3 == nil {
			return trace.BadParameter("protocol %s requires s3 params", protocol)
		}
	case ProtocolSMB:
		if cp.Smb == nil {
			return trace.BadParameter("protocol %s requires smb params", protocol)
		}
	case ProtocolWebDAV:
		if cp.WebDAV == nil {
			return trace.BadParameter("protocol %s requires webdav params", protocol)
		}
	case ProtocolKube:
		if cp.Kube == nil {
			return trace.BadParameter("protocol %s requires kube params", protocol)
		}
	default:
		return trace.BadParameter("unknown protocol %q", protocol)
	}
	return nil
}

// HostBridgeParams describes the "near" side of a transfer: either the
// local machine or another remote protocol endpoint.
type HostBridgeParams struct {
	Localhost string
	Remote    *FileTransferParams
}

// Validate checks the Localhost/Remote agreement invariant.
func (h HostBridgeParams) Validate() error {
	if h.Localhost != "" && h.Remote != nil {
		return trace.BadParameter("host bridge params must be either localhost or remote, not both")
	}
	if h.Localhost == "" && h.Remote == nil {
		return trace.BadParameter("host bridge params must specify localhost or remote")
	}
	return nil
}

// String renders a human-readable summary, used in log lines and error
// messages so operators can tell endpoints apart without dumping structs.
func (f FileTransferParams) String() string {
	switch {
	case f.Params.Generic != nil:
		return fmt.Sprintf("%s://%s@%s:%d", f.Protocol, f.Params.Generic.Username, f.Params.Generic.Address, f.Params.Generic.Port)
	case f.Params.AwsS3 != nil:
		return fmt.Sprintf("s3://%s@%s", f.Params.AwsS3.Bucket, f.Params.AwsS3.Region)
	case f.Params.Smb != nil:
		return fmt.Sprintf("smb://%s@%s:%d/%s", f.Params.Smb.Username, f.Params.Smb.Address, f.Params.Smb.Port, f.Params.Smb.Share)
	case f.Params.WebDAV != nil:
		return fmt.Sprintf("webdav://%s", f.Params.WebDAV.URI)
	case f.Params.Kube != nil:
		return fmt.Sprintf("kube://%s", f.Params.Kube.Namespace)
	default:
		return string(f.Protocol)
	}
}
