// Package snapshot versions the workspace after every agent step without
// touching the user's checkout.
package snapshot

import (
	"encoding/json"
	"fmt"
)

// Provider identifiers stored in Key.Provider.
const (
	ProviderGit  = "git"
	ProviderNoop = "noop"
)

// Info locates a snapshot within its provider.
type Info struct {
	Origin string `json:"origin,omitempty"`
	Commit string `json:"commit,omitempty"`
}

// Key identifies a workspace snapshot. The JSON field names are part of the
// persisted session format.
type Key struct {
	Provider string `json:"env_id"`
	Info     Info   `json:"snapshot_info"`
}

// IsZero reports whether k was never set.
func (k Key) IsZero() bool {
	return k.Provider == "" && k.Info == (Info{})
}

func (k Key) String() string {
	if k.Info.Commit == "" {
		return k.Provider
	}
	return fmt.Sprintf("%s:%s", k.Provider, k.Info.Commit)
}

// ParseKey decodes a key from its persisted JSON form.
func ParseKey(data []byte) (Key, error) {
	var k Key
	if err := json.Unmarshal(data, &k); err != nil {
		return Key{}, fmt.Errorf("failed to parse snapshot key: %w", err)
	}
	if k.Provider == "" {
		return Key{}, fmt.Errorf("snapshot key has no env_id")
	}
	return k, nil
}
