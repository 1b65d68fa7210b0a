// Package secret implements the per-install secret-string storage (KeyStore)
// and the AES-128-CBC password envelope (Crypto) described in spec.md §4.4
// and §4.5.
package secret

import (
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"runtime"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"
	"github.com/zalando/go-keyring"
)

// KeyStore stores a single named secret string per service. Two
// implementations are selected at startup by platform, matching spec.md
// §4.4: KeyringStorage on platforms with a usable OS credential service,
// FileStorage everywhere else (and as the fallback when the keyring probe
// fails).
type KeyStore interface {
	// GetKey returns the stored secret for service, or ErrNoSuchKey if none
	// has been set.
	GetKey(service string) (string, error)
	// SetKey stores value under service, overwriting any previous value.
	SetKey(service, value string) error
}

// ErrNoSuchKey is returned by GetKey when no secret has been stored yet.
var ErrNoSuchKey = errors.New("no such key")

// NewKeyStore probes the OS keyring (on platforms where one exists) and
// falls back to FileStorage under configDir when the probe fails, the same
// "keyring first, else on-disk" selection the spec calls for.
func NewKeyStore(configDir string, disableKeyring bool) KeyStore {
	l := log.WithField(trace.Component, "secret:keystore")
	if !disableKeyring && keyringSupported() {
		if probeKeyring() {
			l.Debug("using OS keyring for secret storage")
			return &KeyringStorage{}
		}
		l.Debug("keyring probe failed, falling back to file storage")
	}
	return &FileStorage{dir: configDir}
}

// keyringSupported reports whether the current platform normally has a
// usable OS credential service; Linux is included because go-keyring talks
// to a Secret Service provider there, which is frequently absent on
// headless hosts — hence the additional runtime probe.
func keyringSupported() bool {
	switch runtime.GOOS {
	case "windows", "darwin", "linux":
		return true
	default:
		return false
	}
}

// probeKeyring attempts a harmless round trip against the OS keyring and
// reports whether it is actually usable in this environment.
func probeKeyring() bool {
	const probeService = "termscp-probe"
	const probeUser = "probe"
	if err := keyring.Set(probeService, probeUser, "probe"); err != nil {
		return false
	}
	_ = keyring.Delete(probeService, probeUser)
	return true
}

// KeyringStorage wraps the OS credential service via zalando/go-keyring.
type KeyringStorage struct{}

// GetKey reads service's secret from the OS keyring.
func (k *KeyringStorage) GetKey(service string) (string, error) {
	v, err := keyring.Get(service, service)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNoSuchKey
		}
		return "", trace.Wrap(err, "bad storage: keyring read for %s", service)
	}
	return v, nil
}

// SetKey writes service's secret to the OS keyring.
func (k *KeyringStorage) SetKey(service, value string) error {
	if err := keyring.Set(service, service, value); err != nil {
		return trace.Wrap(err, "bad storage: keyring write for %s", service)
	}
	return nil
}

// FileStorage stores each service's secret as a plain file named service
// under dir, the fallback used on Linux without a Secret Service provider
// and on any platform where the keyring probe failed.
type FileStorage struct {
	dir string
}

// GetKey reads the secret from <dir>/<service>.
func (f *FileStorage) GetKey(service string) (string, error) {
	data, err := os.ReadFile(filepath.Join(f.dir, service))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoSuchKey
		}
		return "", trace.Wrap(err, "bad storage: reading %s", service)
	}
	return string(data), nil
}

// SetKey writes the secret to <dir>/<service>, creating dir if needed.
func (f *FileStorage) SetKey(service, value string) error {
	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		return trace.Wrap(err, "bad storage: creating %s", f.dir)
	}
	if err := os.WriteFile(filepath.Join(f.dir, service), []byte(value), 0o600); err != nil {
		return trace.Wrap(err, "bad storage: writing %s", service)
	}
	return nil
}

// keyServiceName picks the service name a KeyStore is addressed under: on
// keyring-backed storage it's always "termscp", matching the OS credential
// manager entry users will see; on file storage it's "bookmarks", a file
// inside the config directory. Test builds get a "-test"
// suffix so they never collide with a real installation's stored key.
func keyServiceName(keyring bool, testBuild bool) string {
	name := "bookmarks"
	if keyring {
		name = "termscp"
	}
	if testBuild {
		name += "-test"
	}
	return name
}

// EncryptionKey loads the per-install AES key from ks, generating and
// persisting a fresh 256-character random alphanumeric key on first run.
// The stored string is longer than the 16 bytes AES-128 needs; Crypto
// derives the cipher key from it (see crypto.go) so the derivation, not the
// storage format, is what must stay stable across versions.
func EncryptionKey(ks KeyStore, isKeyring, testBuild bool) (string, error) {
	service := keyServiceName(isKeyring, testBuild)
	key, err := ks.GetKey(service)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, ErrNoSuchKey) {
		return "", trace.Wrap(err)
	}

	fresh, err := randomAlphanumeric(256)
	if err != nil {
		return "", trace.Wrap(err)
	}
	if err := ks.SetKey(service, fresh); err != nil {
		return "", trace.Wrap(err)
	}
	return fresh, nil
}

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

func randomAlphanumeric(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", trace.Wrap(err)
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = alphanumeric[int(b)%len(alphanumeric)]
	}
	return string(out), nil
}
