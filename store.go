package casevault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	storeVersion     = 1
	metadataFilename = "store.meta"
)

// Config collects the inputs for Open.
type Config struct {
	// Path is the store root directory.
	Path string
	// Keys supplies tenant key material. Required.
	Keys KeyProvider
	// EnvelopeVersion selects the sealing cipher suite; zero means
	// AES-256-GCM.
	EnvelopeVersion int
	// Logger receives operational logging. A default logger is used when
	// nil.
	Logger *logrus.Logger
}

// Store is the per-process root of the encrypted evidence store. All
// tenant state lives on disk; no index or object cache is kept across
// calls. Read operations are safe to run concurrently, but mutating
// operations on the same tenant (IngestCasePack, RotateKeys) must be
// serialized by the caller, e.g. with lock.TenantLocker.
type Store struct {
	path   string
	keys   KeyProvider
	engine *Engine
	log    *logrus.Logger
}

// StoreMetadata is written once when the root is first created and is only
// touched again by explicit migration events.
type StoreMetadata struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Open initializes the store root. It is idempotent: directories are
// created if absent and the metadata record is written only on first run.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("store path is required")
	}
	if cfg.Keys == nil {
		return nil, errors.New("key provider is required")
	}

	version := cfg.EnvelopeVersion
	if version == 0 {
		version = VersionAESGCM
	}
	engine, err := NewEngine(version)
	if err != nil {
		return nil, err
	}

	log := cfg.Logger
	if log == nil {
		log = logrus.New()
	}

	if err := os.MkdirAll(filepath.Join(cfg.Path, "tenants"), 0o700); err != nil {
		return nil, err
	}

	s := &Store{path: cfg.Path, keys: cfg.Keys, engine: engine, log: log}
	if err := s.ensureMetadata(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureMetadata() error {
	metaPath := filepath.Join(s.path, metadataFilename)
	if _, err := os.Stat(metaPath); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	now := time.Now().UTC()
	meta := StoreMetadata{Version: storeVersion, CreatedAt: now, UpdatedAt: now}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(metaPath, data, 0o600)
}

// Metadata reads the store metadata record.
func (s *Store) Metadata() (*StoreMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.path, metadataFilename))
	if err != nil {
		return nil, err
	}
	var meta StoreMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// InitTenant provisions an isolated namespace: the per-type object
// subdirectories, the indexes and audits areas, an initial key, and an empty
// object index. Idempotent per tenant.
func (s *Store) InitTenant(ctx context.Context, tenantID string) error {
	if err := validateTenantID(tenantID); err != nil {
		return err
	}

	root := s.tenantPath(tenantID)
	for _, typ := range objectTypes {
		if err := os.MkdirAll(filepath.Join(root, "objects", filepath.FromSlash(typ)), 0o700); err != nil {
			return err
		}
	}
	for _, area := range []string{"indexes", "audits"} {
		if err := os.MkdirAll(filepath.Join(root, area), 0o700); err != nil {
			return err
		}
	}

	if err := s.keys.InitTenant(ctx, tenantID); err != nil {
		return fmt.Errorf("provision tenant key: %w", err)
	}

	if _, err := os.Stat(s.indexPath(tenantID)); os.IsNotExist(err) {
		if err := s.saveIndex(tenantID, NewObjectIndex()); err != nil {
			return err
		}
	}

	s.log.WithField("tenant", tenantID).Info("tenant initialized")
	return nil
}

func (s *Store) tenantPath(tenantID string) string {
	return filepath.Join(s.path, "tenants", tenantID)
}

func (s *Store) objectsPath(tenantID string) string {
	return filepath.Join(s.tenantPath(tenantID), "objects")
}

// objectRelPath is the slash-separated path of one ciphertext file below the
// objects area; it is what the index records.
func objectRelPath(typ, id string) string {
	return typ + "/" + id + ".enc"
}

func (s *Store) objectAbsPath(tenantID, relPath string) string {
	return filepath.Join(s.objectsPath(tenantID), filepath.FromSlash(relPath))
}

func (s *Store) auditPath(tenantID, name string) string {
	return filepath.Join(s.tenantPath(tenantID), "audits", name)
}

func (s *Store) indexPath(tenantID string) string {
	return filepath.Join(s.tenantPath(tenantID), "indexes", indexFilename)
}

func validateTenantID(tenantID string) error {
	if tenantID == "" {
		return errors.New("tenant id is required")
	}
	if strings.ContainsAny(tenantID, "/\\") || tenantID == "." || tenantID == ".." {
		return fmt.Errorf("invalid tenant id %q", tenantID)
	}
	return nil
}
