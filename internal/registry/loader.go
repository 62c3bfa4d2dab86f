package registry

import (
	"context"
	"fmt"
	"log"
	"os"

	"hookhub/internal/manifest"
	"hookhub/internal/storage"
	"hookhub/internal/store"
)

// LoadAll fills the registry from the database, then syncs manifests
// found in the source directory on top: a dir file that is new or
// differs from the stored copy is validated, persisted, and takes
// precedence. Invalid dir files are skipped with a warning so one bad
// edit cannot keep the service from starting.
func LoadAll(ctx context.Context, s *store.Store, files *storage.Local, reg *Registry) error {
	records, err := s.ListManifests(ctx)
	if err != nil {
		return fmt.Errorf("load stored manifests: %w", err)
	}

	entries := make(map[string]*Entry, len(records))
	for _, rec := range records {
		m, err := manifest.Parse([]byte(rec.Definition))
		if err != nil {
			log.Printf("WARN: stored manifest for %s does not parse: %v", rec.Project, err)
			continue
		}
		entries[rec.Project] = &Entry{Project: rec.Project, Checksum: rec.Checksum, Manifest: m}
	}

	if files != nil {
		docs, err := files.LoadAll()
		if err != nil {
			return fmt.Errorf("load manifest directory: %w", err)
		}
		for project, data := range docs {
			entry, err := syncFromFile(ctx, s, project, data, entries[project])
			if err != nil {
				log.Printf("WARN: skipping manifest file for %s: %v", project, err)
				continue
			}
			entries[project] = entry
		}
	}

	list := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		list = append(list, e)
	}
	reg.Load(list)
	log.Printf("Loaded %d manifests into registry", len(list))
	return nil
}

// ReloadProject re-reads one project's manifest file after a source-dir
// change and updates the store and registry. A missing file leaves the
// stored manifest untouched.
func ReloadProject(ctx context.Context, s *store.Store, files *storage.Local, reg *Registry, project string) error {
	data, err := os.ReadFile(files.Path(project))
	if os.IsNotExist(err) {
		log.Printf("Manifest file for %s removed; keeping stored copy", project)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read manifest file for %s: %w", project, err)
	}

	entry, err := syncFromFile(ctx, s, project, data, reg.Get(project))
	if err != nil {
		return err
	}
	reg.Set(entry)
	return nil
}

func syncFromFile(ctx context.Context, s *store.Store, project string, data []byte, current *Entry) (*Entry, error) {
	m, err := manifest.Parse(data)
	if err != nil {
		return nil, err
	}
	if issues := m.Validate(); len(issues) > 0 {
		return nil, fmt.Errorf("%d validation issues, first: %s", len(issues), issues[0].String())
	}

	checksum, err := m.Checksum()
	if err != nil {
		return nil, err
	}
	if current != nil && current.Checksum == checksum {
		return current, nil
	}

	canonical, err := m.Encode()
	if err != nil {
		return nil, err
	}
	if _, err := s.SaveManifest(ctx, project, string(canonical), checksum, "filesystem"); err != nil {
		return nil, fmt.Errorf("persist manifest for %s: %w", project, err)
	}
	log.Printf("Synced manifest for %s from source directory (%s)", project, checksum[:12])
	return &Entry{Project: project, Checksum: checksum, Manifest: m}, nil
}
