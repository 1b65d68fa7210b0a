package store

import (
	"os"
	"path/filepath"

	"github.com/gravitational/trace"
	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml"
)

// UIConfig holds the user-facing preferences under [user_interface].
type UIConfig struct {
	TextEditor               string `toml:"text_editor"`
	DefaultProtocol          string `toml:"default_protocol"`
	ShowHiddenFiles          bool   `toml:"show_hidden_files"`
	CheckForUpdates          bool   `toml:"check_for_updates"`
	PromptOnFileReplace      bool   `toml:"prompt_on_file_replace"`
	GroupDirs                string `toml:"group_dirs,omitempty"`
	FileFmt                  string `toml:"file_fmt,omitempty"`
	RemoteFileFmt            string `toml:"remote_file_fmt,omitempty"`
	Notifications            bool   `toml:"notifications"`
	NotificationThresholdMiB int64  `toml:"notification_threshold_bytes"`
}

// RemoteConfig holds remote-related preferences under [remote], including
// the SSH key registry keyed by "user@host".
type RemoteConfig struct {
	SSHConfigPath string            `toml:"ssh_config_path,omitempty"`
	SSHKeys       map[string]string `toml:"ssh_keys"`
}

type configFile struct {
	UI     UIConfig     `toml:"user_interface"`
	Remote RemoteConfig `toml:"remote"`
}

// DefaultNotificationThresholdBytes matches spec.md §4.7's 512 MiB default.
const DefaultNotificationThresholdBytes = 512 * 1024 * 1024

func defaultConfigFile() configFile {
	sshConfig := "~/.ssh/config"
	if expanded, err := homedir.Expand(sshConfig); err == nil {
		sshConfig = expanded
	}
	return configFile{
		UI: UIConfig{
			DefaultProtocol:          "SFTP",
			ShowHiddenFiles:          false,
			CheckForUpdates:          true,
			PromptOnFileReplace:      true,
			Notifications:            true,
			NotificationThresholdMiB: DefaultNotificationThresholdBytes,
		},
		Remote: RemoteConfig{
			SSHConfigPath: sshConfig,
			SSHKeys:       map[string]string{},
		},
	}
}

// ConfigStore owns the user config TOML file and the SSH key material
// directory. A degraded instance (see Degraded) is returned when either
// cannot be initialized; its getters still return defaults, its setters
// (SetUI, SetSSHConfigPath) are inert, and Write, AddSSHKey and DelSSHKey
// fail with Generic, per spec.md §4.7.
type ConfigStore struct {
	path      string
	sshKeyDir string
	degraded  bool

	data configFile
}

// OpenConfig opens (or initializes with defaults) the config file at
// configPath, ensuring sshKeyDir exists. If either step fails, a degraded
// store is returned instead of an error, matching spec.md §4.7's
// requirement that higher layers never have to special-case a missing
// config directory.
func OpenConfig(configPath, sshKeyDir string) *ConfigStore {
	if err := os.MkdirAll(sshKeyDir, 0o700); err != nil {
		return Degraded()
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		s := &ConfigStore{path: configPath, sshKeyDir: sshKeyDir, data: defaultConfigFile()}
		if err := s.Write(); err != nil {
			return Degraded()
		}
		return s
	}

	raw, err := os.ReadFile(configPath)
	if err != nil {
		return Degraded()
	}
	data := defaultConfigFile()
	if err := toml.Unmarshal(raw, &data); err != nil {
		return Degraded()
	}
	if data.Remote.SSHKeys == nil {
		data.Remote.SSHKeys = map[string]string{}
	}
	return &ConfigStore{path: configPath, sshKeyDir: sshKeyDir, data: data}
}

// Degraded returns an in-memory config store with defaults whose getters
// work normally, whose setters are inert, and whose Write, AddSSHKey and
// DelSSHKey always fail with Generic.
func Degraded() *ConfigStore {
	return &ConfigStore{degraded: true, data: defaultConfigFile()}
}

// IsDegraded reports whether this store can persist to disk.
func (c *ConfigStore) IsDegraded() bool { return c.degraded }

func (c *ConfigStore) errIfDegraded() error {
	if c.degraded {
		return trace.Errorf("generic: config store is degraded, writes are disabled")
	}
	return nil
}

// UI returns a copy of the current UI preferences.
func (c *ConfigStore) UI() UIConfig { return c.data.UI }

// SetUI replaces the UI preferences wholesale; it is inert in degraded mode.
func (c *ConfigStore) SetUI(ui UIConfig) {
	if c.degraded {
		return
	}
	c.data.UI = ui
}

// SSHConfigPath returns the configured ssh_config path. The default is
// tilde-expanded; a path read from the config file or passed to
// SetSSHConfigPath is returned as stored.
func (c *ConfigStore) SSHConfigPath() string { return c.data.Remote.SSHConfigPath }

// SetSSHConfigPath updates the configured ssh_config path; inert in
// degraded mode.
func (c *ConfigStore) SetSSHConfigPath(path string) {
	if c.degraded {
		return
	}
	c.data.Remote.SSHConfigPath = path
}

// ListSSHKeys returns a copy of every "user@host" -> keyfile mapping.
func (c *ConfigStore) ListSSHKeys() map[string]string {
	out := make(map[string]string, len(c.data.Remote.SSHKeys))
	for k, v := range c.data.Remote.SSHKeys {
		out[k] = v
	}
	return out
}

// GetSSHKey returns the keyfile path registered for "user@host", if any.
func (c *ConfigStore) GetSSHKey(userAtHost string) (string, bool) {
	path, ok := c.data.Remote.SSHKeys[userAtHost]
	return path, ok
}

// AddSSHKey writes material to <ssh_key_dir>/user@host.key, registers the
// mapping, and persists the config. The file is written before the map is
// updated so that a map-persist failure leaves only an orphan file (logged
// by the caller) rather than a dangling reference to a missing file, per
// spec.md §4.8's ordering invariant.
func (c *ConfigStore) AddSSHKey(host, user, material string) error {
	if err := c.errIfDegraded(); err != nil {
		return err
	}
	userAtHost := user + "@" + host
	keyPath := filepath.Join(c.sshKeyDir, userAtHost+".key")
	if err := os.WriteFile(keyPath, []byte(material), 0o600); err != nil {
		return trace.Wrap(err, "writing ssh key for %s", userAtHost)
	}
	c.data.Remote.SSHKeys[userAtHost] = keyPath
	return c.Write()
}

// DelSSHKey unregisters "user@host" and unlinks its key file.
func (c *ConfigStore) DelSSHKey(host, user string) error {
	if err := c.errIfDegraded(); err != nil {
		return err
	}
	userAtHost := user + "@" + host
	keyPath, ok := c.data.Remote.SSHKeys[userAtHost]
	if !ok {
		return nil
	}
	delete(c.data.Remote.SSHKeys, userAtHost)
	if err := c.Write(); err != nil {
		return trace.Wrap(err)
	}
	if err := os.Remove(keyPath); err != nil && !os.IsNotExist(err) {
		return trace.Wrap(err, "removing ssh key file %s", keyPath)
	}
	return nil
}

// Write persists the config to disk; a no-op returning Generic in degraded
// mode.
func (c *ConfigStore) Write() error {
	if err := c.errIfDegraded(); err != nil {
		return err
	}
	out, err := toml.Marshal(c.data)
	if err != nil {
		return trace.Wrap(err, "serializer: marshaling config")
	}
	return atomicWriteFile(c.path, out, 0o600)
}
