package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Local persists manifest documents as <project>.yaml files in a
// directory. The directory doubles as a human-editable source: files
// dropped into it are picked up at startup and by the watcher.
type Local struct {
	dir string
}

// NewLocal creates the directory if needed and returns the store.
func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		return nil, fmt.Errorf("manifest directory not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create manifest directory %s: %w", dir, err)
	}
	return &Local{dir: dir}, nil
}

// Dir returns the backing directory.
func (l *Local) Dir() string {
	return l.dir
}

// Path returns the file path for a project's manifest.
func (l *Local) Path(project string) string {
	return filepath.Join(l.dir, project+".yaml")
}

// SaveManifest writes the document via a temp file and rename so a
// concurrent reader never sees a partial manifest.
func (l *Local) SaveManifest(project string, data []byte) error {
	if err := checkProjectName(project); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(l.dir, "."+project+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write manifest %s: %w", project, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close manifest %s: %w", project, err)
	}
	if err := os.Rename(tmpName, l.Path(project)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename manifest %s: %w", project, err)
	}
	return nil
}

// RemoveManifest deletes a project's manifest file. Missing files are
// not an error.
func (l *Local) RemoveManifest(project string) error {
	if err := checkProjectName(project); err != nil {
		return err
	}
	err := os.Remove(l.Path(project))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove manifest %s: %w", project, err)
	}
	return nil
}

// LoadAll reads every manifest file in the directory, keyed by project
// name. Both .yaml and .yml extensions are accepted.
func (l *Local) LoadAll() (map[string][]byte, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read manifest directory %s: %w", l.dir, err)
	}

	manifests := make(map[string][]byte)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		project, ok := ProjectFromFilename(entry.Name())
		if !ok {
			continue
		}
		data, err := os.ReadFile(filepath.Join(l.dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read manifest %s: %w", entry.Name(), err)
		}
		manifests[project] = data
	}
	return manifests, nil
}

// ProjectFromFilename maps a manifest filename to its project name.
// Hidden files and non-YAML extensions are skipped.
func ProjectFromFilename(name string) (string, bool) {
	if strings.HasPrefix(name, ".") {
		return "", false
	}
	ext := filepath.Ext(name)
	if ext != ".yaml" && ext != ".yml" {
		return "", false
	}
	project := strings.TrimSuffix(name, ext)
	if project == "" {
		return "", false
	}
	return project, true
}

func checkProjectName(project string) error {
	if project == "" || strings.ContainsAny(project, `/\`) || project == "." || project == ".." {
		return fmt.Errorf("invalid project name %q", project)
	}
	return nil
}
