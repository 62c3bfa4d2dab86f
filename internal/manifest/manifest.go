package manifest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Well-known meta identifiers a repo entry may use instead of a URL.
const (
	RepoLocal = "local"
	RepoMeta  = "meta"
)

// Manifest is a parsed pre-commit configuration: a top-level exclusion
// pattern plus an ordered list of hook source repos.
type Manifest struct {
	Exclude        string `yaml:"exclude,omitempty"`
	FailFast       bool   `yaml:"fail_fast,omitempty"`
	MinimumVersion string `yaml:"minimum_pre_commit_version,omitempty"`
	Repos          []Repo `yaml:"repos"`
}

// Repo is one hook source: a repository identifier, a pinned revision,
// and the hooks taken from it. Order of hooks is significant.
type Repo struct {
	Repo  string `yaml:"repo"`
	Rev   string `yaml:"rev,omitempty"`
	Hooks []Hook `yaml:"hooks"`
}

// Hook configures a single hook selected from its parent repo by ID.
type Hook struct {
	ID                     string   `yaml:"id"`
	Name                   string   `yaml:"name,omitempty"`
	Args                   []string `yaml:"args,omitempty"`
	AdditionalDependencies []string `yaml:"additional_dependencies,omitempty"`
	Files                  string   `yaml:"files,omitempty"`
	Exclude                string   `yaml:"exclude,omitempty"`
	Stages                 []string `yaml:"stages,omitempty"`
	LanguageVersion        string   `yaml:"language_version,omitempty"`
}

// IsRemote reports whether the repo identifier points at a fetchable
// repository (as opposed to the "local"/"meta" meta repos).
func (r *Repo) IsRemote() bool {
	return r.Repo != RepoLocal && r.Repo != RepoMeta
}

// GetHook returns a pointer to the hook with the given id, or nil.
func (r *Repo) GetHook(id string) *Hook {
	for i := range r.Hooks {
		if r.Hooks[i].ID == id {
			return &r.Hooks[i]
		}
	}
	return nil
}

// HookIDs returns the hook ids in declaration order.
func (r *Repo) HookIDs() []string {
	ids := make([]string, len(r.Hooks))
	for i, h := range r.Hooks {
		ids[i] = h.ID
	}
	return ids
}

// HookCount returns the total number of hook entries across all repos.
func (m *Manifest) HookCount() int {
	n := 0
	for _, r := range m.Repos {
		n += len(r.Hooks)
	}
	return n
}

// Parse decodes a YAML manifest. Unknown keys are rejected so that typos
// like "additional_dependences" surface at load time instead of being
// silently dropped on the next encode.
func Parse(data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// Encode serializes the manifest back to YAML. Repo and hook order is
// preserved, so Parse followed by Encode round-trips an equivalent
// document.
func (m *Manifest) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return buf.Bytes(), nil
}

// Checksum returns a stable hex digest of the encoded manifest, used for
// change detection between the store, the registry, and the source dir.
func (m *Manifest) Checksum() (string, error) {
	data, err := m.Encode()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
