// Package state persists the append-only record of install actions used to
// drive rollback. The store is a single JSON file; every mutation rewrites
// it atomically through a temp file rename.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/opsforge/opsforge/pkg/hostenv"
)

// Action is one completed install step. Meta carries the driver result
// verbatim so rollback can honor whatever the driver recorded.
type Action struct {
	Component string         `json:"component"`
	Meta      map[string]any `json:"meta,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	Host      *hostenv.Info  `json:"host,omitempty"`
}

// State is the on-disk document: the ordered action list plus a small
// metadata map. Extra stores unrecognized top-level keys so a newer writer's
// fields survive a round trip through an older binary. Unknown Meta keys are
// likewise preserved and ignored by rollback.
type State struct {
	Actions []Action       `json:"actions"`
	Meta    map[string]any `json:"meta"`
	Extra   map[string]any `json:"-"`
}

// MarshalJSON merges Extra back into the document.
func (s State) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(s.Extra)+2)
	for k, v := range s.Extra {
		doc[k] = v
	}
	actions := s.Actions
	if actions == nil {
		actions = []Action{}
	}
	meta := s.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	doc["actions"] = actions
	doc["meta"] = meta
	return json.Marshal(doc)
}

// UnmarshalJSON splits known fields from the rest.
func (s *State) UnmarshalJSON(data []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	s.Actions = nil
	s.Meta = nil
	s.Extra = nil
	for k, raw := range doc {
		switch k {
		case "actions":
			if err := json.Unmarshal(raw, &s.Actions); err != nil {
				return fmt.Errorf("decode actions: %w", err)
			}
		case "meta":
			if err := json.Unmarshal(raw, &s.Meta); err != nil {
				return fmt.Errorf("decode meta: %w", err)
			}
		default:
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			if s.Extra == nil {
				s.Extra = make(map[string]any)
			}
			s.Extra[k] = v
		}
	}
	return nil
}

// Store reads and writes the state file.
type Store struct {
	path string
}

// DefaultPath returns the system-wide state location for privileged runs and
// a working-directory file otherwise.
func DefaultPath() string {
	if os.Geteuid() == 0 {
		return "/var/lib/opsforge/state.json"
	}
	return "opsforge_state.json"
}

// NewStore opens a store at path, or at DefaultPath when path is empty.
func NewStore(path string) *Store {
	if path == "" {
		path = DefaultPath()
	}
	return &Store{path: path}
}

// Path returns the backing file location.
func (s *Store) Path() string { return s.path }

// Read loads the document. A missing file is an empty state, not an error.
func (s *Store) Read() (State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("read state %s: %w", s.path, err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("parse state %s: %w", s.path, err)
	}
	return st, nil
}

// Write persists the document atomically, stamping the metadata map with the
// mutation time.
func (s *Store) Write(st State) error {
	if st.Meta == nil {
		st.Meta = map[string]any{}
	}
	st.Meta["updated_at"] = time.Now().UTC().Format(time.RFC3339)
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state %s: %w", s.path, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state %s: %w", s.path, err)
	}
	return nil
}

// AppendAction records a completed step. Appends always persist immediately
// so a later crash cannot lose a performed action.
func (s *Store) AppendAction(component string, meta map[string]any, host *hostenv.Info) error {
	st, err := s.Read()
	if err != nil {
		return err
	}
	st.Actions = append(st.Actions, Action{
		Component: component,
		Meta:      meta,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Host:      host,
	})
	return s.Write(st)
}

// RemoveAction drops the first action matching component and persists.
func (s *Store) RemoveAction(component string) error {
	st, err := s.Read()
	if err != nil {
		return err
	}
	for i, a := range st.Actions {
		if a.Component == component {
			st.Actions = append(st.Actions[:i], st.Actions[i+1:]...)
			return s.Write(st)
		}
	}
	return nil
}

// ClearAll resets the action list, keeping unknown top-level fields.
func (s *Store) ClearAll() error {
	st, err := s.Read()
	if err != nil {
		return err
	}
	st.Actions = nil
	return s.Write(st)
}
