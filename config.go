package casevault

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML configuration consumed by the casevault CLI.
type FileConfig struct {
	// Path is the store root directory.
	Path string `yaml:"path"`
	// KeysDir holds the file key provider's keyrings; defaults to
	// <path>/keys.
	KeysDir string `yaml:"keysDir"`
	// MasterKey is an inline 32-byte master key (base64/hex). Prefer
	// MasterKeyFile or the CASEVAULT_MASTER_KEY environment variable.
	MasterKey string `yaml:"masterKey"`
	// MasterKeyFile points at a file containing the master key.
	MasterKeyFile string `yaml:"masterKeyFile"`
	// EnvelopeVersion selects the sealing suite; zero means AES-256-GCM.
	EnvelopeVersion int `yaml:"envelopeVersion"`
	// LogLevel is a logrus level name; defaults to "info".
	LogLevel string `yaml:"logLevel"`
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("config: path is required")
	}
	if cfg.KeysDir == "" {
		cfg.KeysDir = cfg.Path + "/keys"
	}
	return &cfg, nil
}
