package manifest

import (
	"fmt"
	"regexp"
)

// HookSelection reports which of the given paths a single hook entry
// would be handed by the runner.
type HookSelection struct {
	Repo  string   `json:"repo"`
	Hook  string   `json:"hook"`
	Files []string `json:"files"`
}

// Preview is the result of evaluating a manifest's path filters against
// a candidate file list. It is pure pattern evaluation over the data
// model; nothing is executed.
type Preview struct {
	Excluded   []string        `json:"excluded"`
	Selections []HookSelection `json:"selections"`
}

// SelectFiles evaluates the top-level exclusion pattern and every hook's
// files/exclude filters against paths. Patterns must be valid; run
// Validate first to report pattern errors with field context.
func (m *Manifest) SelectFiles(paths []string) (*Preview, error) {
	globalExclude, err := compilePattern(m.Exclude)
	if err != nil {
		return nil, fmt.Errorf("top-level exclude: %w", err)
	}

	preview := &Preview{Excluded: []string{}}
	var candidates []string
	for _, p := range paths {
		if globalExclude != nil && globalExclude.MatchString(p) {
			preview.Excluded = append(preview.Excluded, p)
			continue
		}
		candidates = append(candidates, p)
	}

	for _, r := range m.Repos {
		for _, h := range r.Hooks {
			files, err := compilePattern(h.Files)
			if err != nil {
				return nil, fmt.Errorf("hook %s files: %w", h.ID, err)
			}
			exclude, err := compilePattern(h.Exclude)
			if err != nil {
				return nil, fmt.Errorf("hook %s exclude: %w", h.ID, err)
			}

			sel := HookSelection{Repo: r.Repo, Hook: h.ID, Files: []string{}}
			for _, p := range candidates {
				if files != nil && !files.MatchString(p) {
					continue
				}
				if exclude != nil && exclude.MatchString(p) {
					continue
				}
				sel.Files = append(sel.Files, p)
			}
			preview.Selections = append(preview.Selections, sel)
		}
	}
	return preview, nil
}

// compilePattern compiles a filter pattern; an empty pattern means
// "match everything" and compiles to nil.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return re, nil
}
