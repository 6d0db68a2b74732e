package casevault

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Envelope is the on-disk unit for one encrypted object. Byte fields are
// base64 on the wire via encoding/json.
type Envelope struct {
	Version    int            `json:"v"`
	KeyID      string         `json:"k"`
	Nonce      []byte         `json:"iv"`
	Ciphertext []byte         `json:"d"`
	Tag        []byte         `json:"t"`
	AAD        AssociatedData `json:"aad"`
}

// validate checks the envelope shape without touching any key material.
func (env *Envelope) validate() error {
	if !supportedVersion(env.Version) {
		return fmt.Errorf("unrecognized version %d", env.Version)
	}
	if env.KeyID == "" {
		return errors.New("missing key id")
	}
	if len(env.Nonce) != NonceSize {
		return fmt.Errorf("nonce length %d, expected %d", len(env.Nonce), NonceSize)
	}
	if len(env.Tag) != TagSize {
		return fmt.Errorf("tag length %d, expected %d", len(env.Tag), TagSize)
	}
	if env.AAD.TenantID == "" || env.AAD.Type == "" || env.AAD.ID == "" {
		return errors.New("incomplete associated data")
	}
	return nil
}

// loadEnvelope reads and schema-validates an envelope file.
func loadEnvelope(path string) (*Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &EnvelopeSchemaError{Path: path, Reason: "ciphertext file missing"}
		}
		return nil, err
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &EnvelopeSchemaError{Path: path, Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}
	if err := env.validate(); err != nil {
		return nil, &EnvelopeSchemaError{Path: path, Reason: err.Error()}
	}
	return &env, nil
}

// writeEnvelope persists an envelope via write-to-temp-then-rename so a
// crash leaves either the old or the fully-new file, never a torn one.
func writeEnvelope(path string, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".env-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
