package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the profile configuration file inside a profile directory.
const FileName = "config.toml"

// IPCConfig defines socket settings.
type IPCConfig struct {
	SocketPath string `toml:"socketPath"`
}

// HTTPConfig defines the JSON tree service listener.
type HTTPConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// StorageConfig defines SQLite tuning options.
type StorageConfig struct {
	DBPath      string `toml:"dbPath"`
	JournalMode string `toml:"journalMode"`
	Synchronous string `toml:"synchronous"`
}

// VCSRemote config.
type VCSRemote struct {
	URL           string `toml:"url"`
	CredentialRef string `toml:"credentialRef"`
}

// VCSConfig defines Git snapshot options.
type VCSConfig struct {
	Enabled    bool      `toml:"enabled"`
	Branch     string    `toml:"branch"`
	AutoCommit bool      `toml:"autoCommit"`
	AutoPush   bool      `toml:"autoPush"`
	Remote     VCSRemote `toml:"remote"`
}

// LoggingConfig defines basic logging knobs.
type LoggingConfig struct {
	Level       string `toml:"level"`
	FilePath    string `toml:"filePath"`
	FileMaxSize int    `toml:"fileMaxSizeMB"`
}

// QueryConfig bounds topic queries served by the daemon.
type QueryConfig struct {
	DefaultResultLimit int `toml:"defaultResultLimit"`
	MaxResultLimit     int `toml:"maxResultLimit"`
}

// ProfileConfig aggregates service configuration for a profile.
type ProfileConfig struct {
	ProfileName string        `toml:"profileName"`
	Storage     StorageConfig `toml:"storage"`
	VCS         VCSConfig     `toml:"vcs"`
	IPC         IPCConfig     `toml:"ipc"`
	HTTP        HTTPConfig    `toml:"http"`
	Logging     LoggingConfig `toml:"logging"`
	Query       QueryConfig   `toml:"query"`
}

// DefaultProfile returns a profile with relative paths inside the profile directory.
func DefaultProfile(name string) *ProfileConfig {
	return &ProfileConfig{
		ProfileName: name,
		Storage: StorageConfig{
			DBPath:      "state.db",
			JournalMode: "WAL",
			Synchronous: "NORMAL",
		},
		VCS: VCSConfig{
			Branch:     "main",
			AutoCommit: true,
		},
		IPC:  IPCConfig{SocketPath: "ipc.sock"},
		HTTP: HTTPConfig{Listen: "127.0.0.1:8420"},
		Logging: LoggingConfig{
			Level:       "info",
			FileMaxSize: 10,
		},
		Query: QueryConfig{
			DefaultResultLimit: -1,
			MaxResultLimit:     5000,
		},
	}
}

// Load reads config.toml from the provided path.
func Load(path string) (*ProfileConfig, error) {
	var cfg ProfileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadProfile reads config.toml from a profile directory.
func LoadProfile(dir string) (*ProfileConfig, error) {
	return Load(filepath.Join(dir, FileName))
}

// Save writes cfg as TOML to path.
func Save(path string, cfg *ProfileConfig) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

// ResolvePath anchors a relative path at the profile directory.
func ResolvePath(profileDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(profileDir, path)
}

func (cfg *ProfileConfig) validate() error {
	if cfg.ProfileName == "" {
		return fmt.Errorf("profileName required")
	}
	if cfg.Storage.DBPath == "" {
		return fmt.Errorf("storage.dbPath required")
	}
	if cfg.IPC.SocketPath == "" {
		return fmt.Errorf("ipc.socketPath required")
	}
	if cfg.HTTP.Enabled && cfg.HTTP.Listen == "" {
		return fmt.Errorf("http.listen required when http is enabled")
	}
	if cfg.VCS.Branch == "" {
		cfg.VCS.Branch = "main"
	}
	if cfg.Query.DefaultResultLimit == 0 {
		cfg.Query.DefaultResultLimit = -1
	}
	if cfg.Query.MaxResultLimit < 0 {
		return fmt.Errorf("query.maxResultLimit must not be negative")
	}
	return nil
}
