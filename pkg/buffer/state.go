package buffer

import (
	"encoding/json"
	"sort"
)

// State maps file paths to their open ranges. It is a value: mutations
// return a new State and never disturb the receiver.
type State struct {
	files map[string]FileRanges
}

// NewState returns an empty State.
func NewState() State {
	return State{}
}

// Paths returns the open paths in sorted order.
func (s State) Paths() []string {
	paths := make([]string, 0, len(s.files))
	for path := range s.files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Get returns the open ranges of path.
func (s State) Get(path string) (FileRanges, bool) {
	fr, ok := s.files[path]
	return fr, ok
}

// Total returns the number of open lines across all files.
func (s State) Total() int {
	total := 0
	for _, fr := range s.files {
		total += fr.Total()
	}
	return total
}

// Len returns the number of open files.
func (s State) Len() int {
	return len(s.files)
}

// With returns a copy of s where path maps to fr; an empty fr drops path.
// Unchanged entries are shared.
func (s State) With(path string, fr FileRanges) State {
	files := make(map[string]FileRanges, len(s.files)+1)
	for p, existing := range s.files {
		files[p] = existing
	}
	if fr.Empty() {
		delete(files, path)
	} else {
		files[path] = fr
	}
	return State{files: files}
}

type stateJSON struct {
	OpenFiles map[string]FileRanges `json:"open_files"`
}

// MarshalJSON encodes the state as {"open_files": {path: [ranges]}}.
func (s State) MarshalJSON() ([]byte, error) {
	files := s.files
	if files == nil {
		files = map[string]FileRanges{}
	}
	return json.Marshal(stateJSON{OpenFiles: files})
}

// UnmarshalJSON decodes a state, dropping files without open ranges.
func (s *State) UnmarshalJSON(data []byte) error {
	var raw stateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	next := State{}
	for path, fr := range raw.OpenFiles {
		next = next.With(path, fr)
	}
	*s = next
	return nil
}
