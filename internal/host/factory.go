package host

import (
	"github.com/gravitational/trace"
	"golang.org/x/crypto/ssh"

	"github.com/veeso/termscp-sub002/internal/fs"
	"github.com/veeso/termscp-sub002/internal/host/protocol"
	"github.com/veeso/termscp-sub002/internal/params"
)

// NewRemote builds the unconnected fs.FsContract appropriate for p's
// protocol, wrapped in RemoteBridged so callers get the streaming-fallback
// embellishments regardless of which backend they picked. privateKeyPEM, if
// non-empty, is used for SSH-family protocols (SFTP/SCP) in place of
// password auth, mirroring AuthActivity's password-elision rule (spec.md
// §4.12): when a registered key exists, FileTransferActivity never needs a
// password at all.
func NewRemote(p params.FileTransferParams, privateKeyPEM []byte) (fs.FsContract, error) {
	switch p.Protocol {
	case params.ProtocolSFTP:
		auth, hostKeyCb, err := sshAuth(*p.Params.Generic, privateKeyPEM)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return NewRemoteBridged(protocol.NewSFTP(*p.Params.Generic, auth, hostKeyCb)), nil
	case params.ProtocolSCP:
		auth, hostKeyCb, err := sshAuth(*p.Params.Generic, privateKeyPEM)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return NewRemoteBridged(protocol.NewSCP(*p.Params.Generic, auth, hostKeyCb)), nil
	case params.ProtocolFTP:
		return NewRemoteBridged(protocol.NewFTP(*p.Params.Generic, false)), nil
	case params.ProtocolFTPS:
		return NewRemoteBridged(protocol.NewFTP(*p.Params.Generic, true)), nil
	case params.ProtocolS3:
		return NewRemoteBridged(protocol.NewS3(*p.Params.AwsS3)), nil
	case params.ProtocolSMB:
		return NewRemoteBridged(protocol.NewSmb(*p.Params.Smb)), nil
	case params.ProtocolWebDAV:
		return NewRemoteBridged(protocol.NewWebDAV(*p.Params.WebDAV)), nil
	case params.ProtocolKube:
		return NewRemoteBridged(protocol.NewKube(*p.Params.Kube, p.Params.Kube.Username, "")), nil
	default:
		return nil, trace.BadParameter("unsupported protocol %q", p.Protocol)
	}
}

// sshAuth builds the ssh.AuthMethod for an SFTP/SCP connection: public-key
// auth when a private key is available (the password-elision path),
// otherwise password auth. Host key verification is intentionally left to
// InsecureIgnoreHostKey (protocol.NewSFTP/NewSCP's default) since this
// module has no known_hosts store of its own; see spec.md §9's open
// questions for the precedent of accepting a documented gap here.
func sshAuth(g params.Generic, privateKeyPEM []byte) (ssh.AuthMethod, ssh.HostKeyCallback, error) {
	if len(privateKeyPEM) > 0 {
		signer, err := ssh.ParsePrivateKey(privateKeyPEM)
		if err != nil {
			return nil, nil, trace.Wrap(err, "parsing ssh private key")
		}
		return ssh.PublicKeys(signer), nil, nil
	}
	return ssh.Password(g.Password), nil, nil
}
