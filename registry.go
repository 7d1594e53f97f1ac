package enginecore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-idle/enginecore/internal/definition"
)

// Registry manages versioned session snapshots, independently of whatever
// Saver an engine uses for plain save/load. A version is recorded every
// time the host explicitly registers one (typically at milestone moments,
// not every tick); Saver/Restore handle the ordinary save-and-resume path.
type Registry interface {
	Register(ctx context.Context, sessionID string, snap definition.Snapshot) (version string, err error)
	Latest(ctx context.Context, sessionID string) (definition.Snapshot, error)
	Version(ctx context.Context, sessionID, version string) (definition.Snapshot, error)
	ListVersions(ctx context.Context, sessionID string) ([]string, error)
	ListSessions(ctx context.Context) ([]string, error)
}

// ErrVersionNotFound and ErrSessionNotFound report lookups against a
// session or version the registry has never recorded.
var (
	ErrVersionNotFound = errors.New("enginecore: version not found")
	ErrSessionNotFound = errors.New("enginecore: session not found")
)

type versionedSnapshot struct {
	version   string
	timestamp time.Time
	snapshot  definition.Snapshot
}

// InMemoryRegistry is the default Registry: an in-process, append-only
// history of versioned snapshots per session. It never touches disk;
// WithSaver/Snapshot/Restore remain the durable persistence path.
type InMemoryRegistry struct {
	mu       sync.Mutex
	versions map[string][]versionedSnapshot
	seq      uint64
}

// NewInMemoryRegistry creates an empty InMemoryRegistry.
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{versions: make(map[string][]versionedSnapshot)}
}

func (r *InMemoryRegistry) Register(ctx context.Context, sessionID string, snap definition.Snapshot) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	version := fmt.Sprintf("v%d", r.seq)
	r.versions[sessionID] = append(r.versions[sessionID], versionedSnapshot{
		version:  version,
		snapshot: snap,
	})
	return version, nil
}

func (r *InMemoryRegistry) Latest(ctx context.Context, sessionID string) (definition.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.versions[sessionID]
	if len(entries) == 0 {
		return definition.Snapshot{}, fmt.Errorf("%w: %q", ErrSessionNotFound, sessionID)
	}
	return entries[len(entries)-1].snapshot, nil
}

func (r *InMemoryRegistry) Version(ctx context.Context, sessionID, version string) (definition.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.versions[sessionID] {
		if v.version == version {
			return v.snapshot, nil
		}
	}
	return definition.Snapshot{}, fmt.Errorf("%w: session %q version %q", ErrVersionNotFound, sessionID, version)
}

func (r *InMemoryRegistry) ListVersions(ctx context.Context, sessionID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.versions[sessionID]
	out := make([]string, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out[len(entries)-1-i] = entries[i].version
	}
	return out, nil
}

func (r *InMemoryRegistry) ListSessions(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.versions))
	for id := range r.versions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
