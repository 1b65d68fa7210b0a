package host

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/veeso/termscp-sub002/internal/params"
)

func TestSshAuthPrefersPrivateKeyOverPassword(t *testing.T) {
	keyPEM := generateTestPrivateKeyPEM(t)

	auth, hostKeyCb, err := sshAuth(params.Generic{Password: "hunter2"}, keyPEM)
	require.NoError(t, err)
	require.Nil(t, hostKeyCb)
	require.NotNil(t, auth)
}

func TestSshAuthFallsBackToPassword(t *testing.T) {
	auth, hostKeyCb, err := sshAuth(params.Generic{Password: "hunter2"}, nil)
	require.NoError(t, err)
	require.Nil(t, hostKeyCb)
	require.NotNil(t, auth)
}

func TestSshAuthRejectsMalformedKey(t *testing.T) {
	_, _, err := sshAuth(params.Generic{Password: "hunter2"}, []byte("not a key"))
	require.Error(t, err)
}

// TestNewRemoteDispatchesByProtocol confirms NewRemote picks the right
// protocol.New* constructor without dialing anything: construction alone
// must never touch the network.
func TestNewRemoteDispatchesByProtocol(t *testing.T) {
	tests := []struct {
		name string
		p    params.FileTransferParams
	}{
		{"sftp", mustFTParams(t, params.ProtocolSFTP, params.ConnectionParams{Generic: &params.Generic{Address: "example.com", Port: 22, Password: "x"}})},
		{"scp", mustFTParams(t, params.ProtocolSCP, params.ConnectionParams{Generic: &params.Generic{Address: "example.com", Port: 22, Password: "x"}})},
		{"ftp", mustFTParams(t, params.ProtocolFTP, params.ConnectionParams{Generic: &params.Generic{Address: "example.com", Port: 21}})},
		{"ftps", mustFTParams(t, params.ProtocolFTPS, params.ConnectionParams{Generic: &params.Generic{Address: "example.com", Port: 21}})},
		{"s3", mustFTParams(t, params.ProtocolS3, params.ConnectionParams{AwsS3: &params.AwsS3{Bucket: "my-bucket", Region: "us-east-1"}})},
		{"smb", mustFTParams(t, params.ProtocolSMB, params.ConnectionParams{Smb: &params.Smb{Address: "fileserver", Port: 445, Share: "docs"}})},
		{"webdav", mustFTParams(t, params.ProtocolWebDAV, params.ConnectionParams{WebDAV: &params.WebDAV{URI: "http://example.com/dav"}})},
		{"kube", mustFTParams(t, params.ProtocolKube, params.ConnectionParams{Kube: &params.Kube{Namespace: "default", ClusterURL: "https://k8s.example.com"}})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsc, err := NewRemote(tt.p, nil)
			require.NoError(t, err)
			require.NotNil(t, fsc)
			require.False(t, fsc.IsConnected(), "NewRemote must not dial, only construct")
		})
	}
}

func TestNewRemoteRejectsUnsupportedProtocol(t *testing.T) {
	_, err := NewRemote(params.FileTransferParams{Protocol: params.Protocol("bogus")}, nil)
	require.Error(t, err)
}

func mustFTParams(t *testing.T, proto params.Protocol, cp params.ConnectionParams) params.FileTransferParams {
	t.Helper()
	ft, err := params.NewFileTransferParams(proto, cp)
	require.NoError(t, err)
	return ft
}

// generateTestPrivateKeyPEM produces a throwaway RSA key in PKCS#1 PEM form,
// the same format ssh.ParsePrivateKey accepts, to exercise sshAuth's
// public-key branch without any fixture key material checked into the repo.
func generateTestPrivateKeyPEM(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	return pem.EncodeToMemory(block)
}
