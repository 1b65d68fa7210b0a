package params

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConnectionParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		cp      ConnectionParams
		wantErr bool
	}{
		{"none set", ConnectionParams{}, true},
		{"generic only", ConnectionParams{Generic: &Generic{}}, false},
		{"two set", ConnectionParams{Generic: &Generic{}, Smb: &Smb{}}, true},
		{"all set", ConnectionParams{Generic: &Generic{}, AwsS3: &AwsS3{}, Smb: &Smb{}, WebDAV: &WebDAV{}, Kube: &Kube{}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cp.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConnectionParamsPasswordMissing(t *testing.T) {
	require.True(t, ConnectionParams{Generic: &Generic{}}.PasswordMissing())
	require.False(t, ConnectionParams{Generic: &Generic{Password: "x"}}.PasswordMissing())
	require.True(t, ConnectionParams{Smb: &Smb{}}.PasswordMissing())
	require.True(t, ConnectionParams{WebDAV: &WebDAV{}}.PasswordMissing())
	require.False(t, ConnectionParams{AwsS3: &AwsS3{}}.PasswordMissing())
	require.False(t, ConnectionParams{Kube: &Kube{}}.PasswordMissing())
}

func TestConnectionParamsMatches(t *testing.T) {
	a := ConnectionParams{Generic: &Generic{Address: "host", Port: 22, Username: "bob", Password: "a"}}
	b := ConnectionParams{Generic: &Generic{Address: "host", Port: 22, Username: "bob", Password: "b"}}
	c := ConnectionParams{Generic: &Generic{Address: "other", Port: 22, Username: "bob"}}

	require.True(t, a.Matches(b), "password must not factor into identity")
	require.False(t, a.Matches(c))
	require.False(t, a.Matches(ConnectionParams{Smb: &Smb{}}), "different variants never match")
}

func TestNewFileTransferParamsEnforcesProtocolAgreement(t *testing.T) {
	_, err := NewFileTransferParams(ProtocolSFTP, ConnectionParams{Smb: &Smb{}})
	require.Error(t, err)

	ftp, err := NewFileTransferParams(ProtocolSFTP, ConnectionParams{Generic: &Generic{Address: "host"}})
	require.NoError(t, err)
	require.Equal(t, ProtocolSFTP, ftp.Protocol)
}

func TestParseProtocol(t *testing.T) {
	p, err := ParseProtocol("SFTP")
	require.NoError(t, err)
	require.Equal(t, ProtocolSFTP, p)

	_, err = ParseProtocol("bogus")
	require.Error(t, err)
}

func TestHostBridgeParamsValidate(t *testing.T) {
	require.Error(t, HostBridgeParams{}.Validate())
	require.NoError(t, HostBridgeParams{Localhost: "/tmp"}.Validate())

	remote := &FileTransferParams{Protocol: ProtocolSFTP, Params: ConnectionParams{Generic: &Generic{}}}
	require.NoError(t, HostBridgeParams{Remote: remote}.Validate())
	require.Error(t, HostBridgeParams{Localhost: "/tmp", Remote: remote}.Validate())
}

func TestFileTransferParamsString(t *testing.T) {
	ftp, err := NewFileTransferParams(ProtocolSFTP, ConnectionParams{Generic: &Generic{Address: "h", Port: 22, Username: "u"}})
	require.NoError(t, err)
	require.Equal(t, "SFTP://u@h:22", ftp.String())
}
