package cliparse

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veeso/termscp-sub002/internal/params"
)

func TestParseEndpointSpecGeneric(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		proto    params.Protocol
		address  string
		port     int
		username string
		wrkdir   string
	}{
		{"sftp with user port and wrkdir", "sftp://bob@example.com:2222:/srv/www", params.ProtocolSFTP, "example.com", 2222, "bob", "/srv/www"},
		{"scp defaults port", "scp://alice@example.com", params.ProtocolSCP, "example.com", 22, "alice", ""},
		{"ftp default port", "ftp://example.com", params.ProtocolFTP, "example.com", 21, "", ""},
		{"bare host falls back to default proto", "example.com", params.ProtocolSFTP, "example.com", 22, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEndpointSpec(tt.raw, params.ProtocolSFTP)
			require.NoError(t, err)
			require.Equal(t, tt.proto, got.Protocol)
			require.Equal(t, tt.address, got.Params.Generic.Address)
			require.Equal(t, tt.port, got.Params.Generic.Port)
			require.Equal(t, tt.username, got.Params.Generic.Username)
			require.Equal(t, tt.wrkdir, got.RemotePath)
		})
	}
}

func TestParseEndpointSpecS3(t *testing.T) {
	got, err := ParseEndpointSpec("s3://my-bucket@us-east-1:myprofile:/data", params.ProtocolSFTP)
	require.NoError(t, err)
	require.Equal(t, params.ProtocolS3, got.Protocol)
	require.Equal(t, "my-bucket", got.Params.AwsS3.Bucket)
	require.Equal(t, "us-east-1", got.Params.AwsS3.Region)
	require.Equal(t, "myprofile", got.Params.AwsS3.Profile)
	require.Equal(t, "/data", got.RemotePath)
}

func TestParseEndpointSpecS3RequiresBucket(t *testing.T) {
	_, err := ParseEndpointSpec("s3://@us-east-1", params.ProtocolSFTP)
	require.Error(t, err)
}

func TestParseEndpointSpecSmb(t *testing.T) {
	got, err := ParseEndpointSpec("smb://bob@fileserver:1445/share/docs", params.ProtocolSFTP)
	require.NoError(t, err)
	require.Equal(t, params.ProtocolSMB, got.Protocol)
	require.Equal(t, "fileserver", got.Params.Smb.Address)
	require.Equal(t, 1445, got.Params.Smb.Port)
	require.Equal(t, "share", got.Params.Smb.Share)
	require.Equal(t, "bob", got.Params.Smb.Username)
	require.Equal(t, "/docs", got.RemotePath)
}

func TestParseEndpointSpecSmbRequiresShare(t *testing.T) {
	_, err := ParseEndpointSpec("smb://fileserver", params.ProtocolSFTP)
	require.Error(t, err)
}

func TestParseEndpointSpecUNC(t *testing.T) {
	got, err := ParseEndpointSpec(`\\fileserver:1445\share\docs\reports`, params.ProtocolSFTP)
	require.NoError(t, err)
	require.Equal(t, params.ProtocolSMB, got.Protocol)
	require.Equal(t, "fileserver", got.Params.Smb.Address)
	require.Equal(t, 1445, got.Params.Smb.Port)
	require.Equal(t, "share", got.Params.Smb.Share)
	require.Equal(t, "/docs/reports", got.RemotePath)
}

func TestParseEndpointSpecUNCDefaultPort(t *testing.T) {
	got, err := ParseEndpointSpec(`\\fileserver\share`, params.ProtocolSFTP)
	require.NoError(t, err)
	require.Equal(t, 445, got.Params.Smb.Port)
}

func TestParseEndpointSpecWebDAV(t *testing.T) {
	got, err := ParseEndpointSpec("webdav://files.example.com/dav", params.ProtocolSFTP)
	require.NoError(t, err)
	require.Equal(t, params.ProtocolWebDAV, got.Protocol)
	require.Equal(t, "http://files.example.com/dav", got.Params.WebDAV.URI)
}

func TestParseEndpointSpecEmptyFails(t *testing.T) {
	_, err := ParseEndpointSpec("", params.ProtocolSFTP)
	require.Error(t, err)
}

func TestParseEndpointSpecUnknownSchemeFails(t *testing.T) {
	_, err := ParseEndpointSpec("gopher://example.com", params.ProtocolSFTP)
	require.Error(t, err)
}
