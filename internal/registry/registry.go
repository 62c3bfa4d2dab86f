package registry

import (
	"sort"
	"sync"

	"hookhub/internal/manifest"
)

// Entry is a validated manifest held in memory for a single project.
type Entry struct {
	Project  string
	Checksum string
	Manifest *manifest.Manifest
}

// Registry caches the manifests of all known projects. It is replaced
// wholesale on startup and on source-dir reloads, and updated per
// project after API mutations.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Get returns the entry for a project, or nil.
func (r *Registry) Get(project string) *Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[project]
}

// All returns all entries sorted by project name.
func (r *Registry) All() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Project < entries[j].Project })
	return entries
}

// Projects returns the sorted project names.
func (r *Registry) Projects() []string {
	entries := r.All()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Project
	}
	return names
}

// Load replaces the full entry set. Called during startup and after
// source-dir reloads.
func (r *Registry) Load(entries []*Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*Entry, len(entries))
	for _, e := range entries {
		r.entries[e.Project] = e
	}
}

// Set upserts a single project entry.
func (r *Registry) Set(e *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.Project] = e
}

// Delete removes a project entry. Returns true if it existed.
func (r *Registry) Delete(project string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[project]
	delete(r.entries, project)
	return ok
}

// Len returns the number of cached manifests.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
