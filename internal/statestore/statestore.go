// Package statestore holds canonical and derived game state behind a single
// write policy: canonical state is writable through Set/Patch, derived state
// only through SetDerived, and the two namespaces can never cross.
package statestore

import (
	"fmt"
	"strings"
)

// Missing is the distinguished value returned by Get for any path whose
// segments do not resolve to a stored value. It is never equal to any
// value a content pack can author.
type Missing struct{}

// IsMissing reports whether v is the Missing sentinel.
func IsMissing(v any) bool {
	_, ok := v.(Missing)
	return ok
}

const derivedPrefix = "derived"

// Store is the sole owner of canonical and derived game state.
type Store struct {
	canonical map[string]any
	derived   map[string]any
}

// New creates a Store whose canonical namespace is seeded from a deep clone
// of initial. A nil initial yields an empty canonical namespace.
func New(initial map[string]any) *Store {
	return &Store{
		canonical: deepCloneMap(initial),
		derived:   map[string]any{},
	}
}

func isDerivedPath(path string) bool {
	return path == derivedPrefix || strings.HasPrefix(path, derivedPrefix+".")
}

// Get reads a dot-delimited path. Paths rooted at "derived" read the derived
// namespace (with the "derived." prefix stripped); every other path reads
// canonical. A path that does not resolve returns Missing{}.
func (s *Store) Get(path string) any {
	if isDerivedPath(path) {
		sub := strings.TrimPrefix(path, derivedPrefix)
		sub = strings.TrimPrefix(sub, ".")
		if sub == "" {
			return cloneValue(s.derived)
		}
		return getPath(s.derived, sub)
	}
	return getPath(s.canonical, path)
}

// Set writes value at a canonical path, replacing whatever was there. Set
// fails if path is "derived" or begins with "derived.".
func (s *Store) Set(path string, value any) error {
	if isDerivedPath(path) {
		return fmt.Errorf("statestore: Set cannot write derived path %q", path)
	}
	if path == "" {
		return fmt.Errorf("statestore: Set requires a non-empty path")
	}
	setPath(s.canonical, path, deepCloneValue(value))
	return nil
}

// Patch merges partial into the object at a canonical path. The existing
// node at path must be absent or itself an object (map[string]any); any
// other existing type is a failure. Patch fails if path is "derived" or
// begins with "derived.".
func (s *Store) Patch(path string, partial map[string]any) error {
	if isDerivedPath(path) {
		return fmt.Errorf("statestore: Patch cannot write derived path %q", path)
	}
	if path == "" {
		return fmt.Errorf("statestore: Patch requires a non-empty path")
	}

	existing := getPath(s.canonical, path)
	var target map[string]any
	switch v := existing.(type) {
	case Missing:
		target = map[string]any{}
	case map[string]any:
		target = v
	default:
		return fmt.Errorf("statestore: Patch target %q is neither absent nor an object (got %T)", path, existing)
	}

	clonedPartial := deepCloneMap(partial)
	for k, v := range clonedPartial {
		target[k] = v
	}
	setPath(s.canonical, path, target)
	return nil
}

// SetDerived writes value at a derived path. path must be "derived" or
// begin with "derived."; any other path is a failure.
func (s *Store) SetDerived(path string, value any) error {
	if !isDerivedPath(path) {
		return fmt.Errorf("statestore: SetDerived requires a \"derived\"-rooted path, got %q", path)
	}
	sub := strings.TrimPrefix(path, derivedPrefix)
	sub = strings.TrimPrefix(sub, ".")
	if sub == "" {
		m, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("statestore: SetDerived(%q, ...) requires an object value to replace the derived root", path)
		}
		s.derived = deepCloneMap(m)
		return nil
	}
	setPath(s.derived, sub, deepCloneValue(value))
	return nil
}

// Snapshot is a deep, transitively immutable read-only view over both
// namespaces as of the moment it was taken.
type Snapshot struct {
	canonical map[string]any
	derived   map[string]any
}

// Get reads path the same way Store.Get does, against the frozen snapshot.
func (s Snapshot) Get(path string) any {
	if isDerivedPath(path) {
		sub := strings.TrimPrefix(path, derivedPrefix)
		sub = strings.TrimPrefix(sub, ".")
		if sub == "" {
			return cloneValue(s.derived)
		}
		return getPath(s.derived, sub)
	}
	return getPath(s.canonical, path)
}

// Snapshot takes a deep, internally consistent copy of both namespaces.
func (s *Store) Snapshot() Snapshot {
	return Snapshot{
		canonical: deepCloneMap(s.canonical),
		derived:   deepCloneMap(s.derived),
	}
}

// ReplaceCanonical atomically swaps the canonical namespace for a deep clone
// of newCanonical. Derived state is untouched. Used by the layer reset
// service to install a restored baseline in one step.
func (s *Store) ReplaceCanonical(newCanonical map[string]any) {
	s.canonical = deepCloneMap(newCanonical)
}

// CloneMap returns a deep clone of m, the same way the store clones values
// crossing its own API boundary. Callers that build a tree to hand to
// ReplaceCanonical use this to work with an independent copy.
func CloneMap(m map[string]any) map[string]any {
	return deepCloneMap(m)
}

// GetPath reads a dot-delimited path out of a plain nested-map tree, with
// the same absent-path semantics as Store.Get. It lets callers that hold
// their own tree (outside of a Store) reuse the store's path semantics.
func GetPath(root map[string]any, path string) any {
	return getPath(root, path)
}

// SetPathIn writes value at a dot-delimited path inside a plain nested-map
// tree, deep-cloning value first. It lets callers that hold their own tree
// (outside of a Store) reuse the store's path semantics.
func SetPathIn(root map[string]any, path string, value any) {
	setPath(root, path, deepCloneValue(value))
}

// getPath walks a dot-delimited path through nested map[string]any values.
func getPath(root map[string]any, path string) any {
	if path == "" {
		return cloneValue(root)
	}
	segments := strings.Split(path, ".")
	var cur any = root
	for _, seg := range segments {
		m, ok := cur.(map[string]any)
		if !ok {
			return Missing{}
		}
		v, ok := m[seg]
		if !ok {
			return Missing{}
		}
		cur = v
	}
	return cloneValue(cur)
}

// setPath writes value at a dot-delimited path, creating intermediate
// objects as needed. Any non-object value found along the way is
// overwritten with a fresh object.
func setPath(root map[string]any, path string, value any) {
	segments := strings.Split(path, ".")
	cur := root
	for i, seg := range segments {
		if i == len(segments)-1 {
			cur[seg] = value
			return
		}
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
}

func deepCloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCloneValue(v)
	}
	return out
}

func deepCloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = deepCloneValue(e)
		}
		return out
	default:
		return val
	}
}

func cloneValue(v any) any {
	return deepCloneValue(v)
}
