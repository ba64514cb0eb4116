// Package identity persists the daemon's stable per-host server id: a
// 32-character lowercase hex string generated once and reused across runs.
package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/foveate/hostd/internal/logging"
)

var log = logging.L("identity")

type record struct {
	ServerID string `yaml:"serverId"`
}

// Store resolves and caches the server id backed by a file on disk.
type Store struct {
	path  string
	value string
}

// NewStore returns a Store backed by the given well-known file path. If path
// is empty, the platform default identity file location is used.
func NewStore(path string) *Store {
	if path == "" {
		path = defaultPath()
	}
	return &Store{path: path}
}

// GetOrCreate returns the persisted server id, generating and persisting a
// fresh one on first call. Safe against two processes racing the first
// creation: the loser of the O_EXCL race re-reads the winner's file.
func (s *Store) GetOrCreate() (string, error) {
	if s.value != "" {
		return s.value, nil
	}

	if existing, err := s.read(); err == nil {
		s.value = existing
		return existing, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("identity: read existing: %w", err)
	}

	fresh := strings.ReplaceAll(uuid.NewString(), "-", "")

	if err := s.createExclusive(fresh); err != nil {
		if os.IsExist(err) {
			existing, readErr := s.read()
			if readErr != nil {
				return "", fmt.Errorf("identity: read after losing creation race: %w", readErr)
			}
			log.Debug("lost server id creation race, using existing value")
			s.value = existing
			return existing, nil
		}
		return "", fmt.Errorf("identity: create: %w", err)
	}

	log.Info("generated server id", "serverId", fresh)
	s.value = fresh
	return fresh, nil
}

func (s *Store) read() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", err
	}
	var rec record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return "", fmt.Errorf("identity: unmarshal: %w", err)
	}
	if rec.ServerID == "" {
		return "", fmt.Errorf("identity: empty serverId in %s", s.path)
	}
	return rec.ServerID, nil
}

// createExclusive creates the identity file iff it does not already exist.
// The record is written to a temp file first and then hard-linked into
// place, so a concurrent reader never observes a partial or empty file and
// the link fails with an "exists" error if another writer got there first.
func (s *Store) createExclusive(serverID string) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(record{ServerID: serverID})
	if err != nil {
		return fmt.Errorf("identity: marshal: %w", err)
	}
	t, err := renameio.TempFile(dir, s.path)
	if err != nil {
		return err
	}
	defer t.Cleanup()
	if _, err := t.Write(data); err != nil {
		return err
	}
	return os.Link(t.Name(), s.path)
}

func defaultPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "foveate-hostd", "identity.yaml")
	case "darwin":
		return "/Library/Application Support/foveate-hostd/identity.yaml"
	default:
		return "/etc/foveate-hostd/identity.yaml"
	}
}
