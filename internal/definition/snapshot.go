package definition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Snapshot is a serializable envelope of everything a saved session needs
// to resume: canonical state, derived state, and the unlock ledger. It is
// the unit a Saver persists and restores.
type Snapshot struct {
	SchemaVersion string         `json:"schemaVersion" yaml:"schemaVersion"`
	SavedAt       string         `json:"savedAt" yaml:"savedAt"`
	CanonicalState map[string]any `json:"canonicalState" yaml:"canonicalState"`
	DerivedState   map[string]any `json:"derivedState" yaml:"derivedState"`
	UnlockedRefs   []string       `json:"unlockedRefs" yaml:"unlockedRefs"`
}

// Saver persists and restores full session snapshots, keyed by an
// arbitrary session id. It is the engine's sole persistence boundary;
// actual storage medium is an external collaborator.
type Saver interface {
	Save(ctx context.Context, sessionID string, snap Snapshot) error
	Load(ctx context.Context, sessionID string) (Snapshot, error)
}

// JSONSaver persists snapshots as one JSON file per session under dir.
type JSONSaver struct {
	dir string
}

// NewJSONSaver creates a JSONSaver, ensuring dir exists.
func NewJSONSaver(dir string) (*JSONSaver, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &JSONSaver{dir: dir}, nil
}

func (s *JSONSaver) Save(ctx context.Context, sessionID string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	fn := filepath.Join(s.dir, sessionID+".json")
	if err := os.WriteFile(fn, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", fn, err)
	}
	return nil
}

func (s *JSONSaver) Load(ctx context.Context, sessionID string) (Snapshot, error) {
	fn := filepath.Join(s.dir, sessionID+".json")
	data, err := os.ReadFile(fn)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, fmt.Errorf("session %q: %w", sessionID, os.ErrNotExist)
		}
		return Snapshot{}, fmt.Errorf("read %s: %w", fn, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("json unmarshal: %w", err)
	}
	return snap, validateSnapshotSchema(snap)
}

// YAMLSaver persists snapshots as one YAML file per session under dir.
type YAMLSaver struct {
	dir string
}

// NewYAMLSaver creates a YAMLSaver, ensuring dir exists.
func NewYAMLSaver(dir string) (*YAMLSaver, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &YAMLSaver{dir: dir}, nil
}

func (s *YAMLSaver) Save(ctx context.Context, sessionID string, snap Snapshot) error {
	data, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("yaml marshal: %w", err)
	}
	fn := filepath.Join(s.dir, sessionID+".yaml")
	if err := os.WriteFile(fn, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", fn, err)
	}
	return nil
}

func (s *YAMLSaver) Load(ctx context.Context, sessionID string) (Snapshot, error) {
	fn := filepath.Join(s.dir, sessionID+".yaml")
	data, err := os.ReadFile(fn)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, fmt.Errorf("session %q: %w", sessionID, os.ErrNotExist)
		}
		return Snapshot{}, fmt.Errorf("read %s: %w", fn, err)
	}
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("yaml unmarshal: %w", err)
	}
	return snap, validateSnapshotSchema(snap)
}

// validateSnapshotSchema re-validates a loaded snapshot's schema version
// the same way YAMLPersister.Load re-validates a loaded config: load
// implies re-validate, never trust a file on disk blindly.
func validateSnapshotSchema(snap Snapshot) error {
	if snap.SchemaVersion == "" {
		return fmt.Errorf("snapshot: missing schemaVersion")
	}
	return nil
}
