package store

import (
	"fmt"

	"github.com/mcdev12/timetrial/go/internal/document"
)

// State is the GameState document: a JSON object with merge and path
// mutations on top of the generic document operations.
type State struct {
	*Document[document.Map]
}

// OpenState loads the GameState document, defaulting to def.
func OpenState(p Persister, def document.Map, cfg Config) *State {
	if def == nil {
		def = document.Map{}
	}
	s := &State{Document: Open(p, def, cfg)}
	// A stored "null" or non-object decodes to nil; keep the invariant that
	// the state is always an object.
	s.Document.Update(func(v document.Map) (document.Map, bool) {
		if v != nil {
			return v, false
		}
		return document.Map{}, true
	})
	return s
}

// Merge deep-merges partial into the state.
func (s *State) Merge(partial document.Map) error {
	norm, err := document.Normalize(partial)
	if err != nil {
		return fmt.Errorf("merge state: %w", err)
	}
	src, _ := norm.(map[string]any)

	s.Update(func(v document.Map) (document.Map, bool) {
		document.Merge(v, src)
		return v, true
	})
	return nil
}

// SetPath sets value at a dotted path; nil deletes the key.
func (s *State) SetPath(path string, value any) error {
	norm, err := document.Normalize(value)
	if err != nil {
		return fmt.Errorf("set %q: %w", path, err)
	}

	var setErr error
	s.Update(func(v document.Map) (document.Map, bool) {
		next, err := document.SetPath(v, path, norm)
		if err != nil {
			setErr = err
			return v, false
		}
		return next, true
	})
	if setErr != nil {
		return fmt.Errorf("set %q: %w", path, setErr)
	}
	return nil
}
