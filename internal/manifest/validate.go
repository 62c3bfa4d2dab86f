package manifest

import (
	"fmt"
	"regexp"
	"strings"
)

// Issue is a single validation finding. Repo is the source identifier
// (with its index for duplicated identifiers), Hook the offending hook id
// when the finding is hook-scoped.
type Issue struct {
	Repo    string `json:"repo,omitempty"`
	Hook    string `json:"hook,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	parts := make([]string, 0, 3)
	if i.Repo != "" {
		parts = append(parts, "repo "+i.Repo)
	}
	if i.Hook != "" {
		parts = append(parts, "hook "+i.Hook)
	}
	if i.Field != "" {
		parts = append(parts, "field "+i.Field)
	}
	if len(parts) == 0 {
		return i.Message
	}
	return strings.Join(parts, ", ") + ": " + i.Message
}

// movingRefs are revision names that track a branch tip instead of
// pinning an immutable state of the hook source.
var movingRefs = map[string]bool{
	"master": true,
	"main":   true,
	"HEAD":   true,
	"latest": true,
}

// Validate checks the manifest invariants and returns all findings.
// An empty slice means the manifest is acceptable.
func (m *Manifest) Validate() []Issue {
	var issues []Issue

	if m.Exclude != "" {
		if _, err := regexp.Compile(m.Exclude); err != nil {
			issues = append(issues, Issue{
				Field:   "exclude",
				Message: fmt.Sprintf("invalid pattern: %v", err),
			})
		}
	}

	if len(m.Repos) == 0 {
		issues = append(issues, Issue{
			Field:   "repos",
			Message: "manifest declares no hook sources",
		})
	}

	for i := range m.Repos {
		issues = append(issues, m.Repos[i].validate(i)...)
	}
	return issues
}

func (r *Repo) validate(index int) []Issue {
	var issues []Issue
	ident := r.Repo
	if ident == "" {
		ident = fmt.Sprintf("#%d", index)
		issues = append(issues, Issue{
			Repo:    ident,
			Field:   "repo",
			Message: "missing repo identifier",
		})
	} else if r.IsRemote() && !isRepoURL(ident) {
		issues = append(issues, Issue{
			Repo:    ident,
			Field:   "repo",
			Message: "identifier must be a repository URL, \"local\" or \"meta\"",
		})
	}

	switch {
	case r.IsRemote() && r.Rev == "":
		issues = append(issues, Issue{
			Repo:    ident,
			Field:   "rev",
			Message: "remote hook source requires a pinned rev",
		})
	case r.IsRemote() && movingRefs[r.Rev]:
		issues = append(issues, Issue{
			Repo:    ident,
			Field:   "rev",
			Message: fmt.Sprintf("rev %q is a moving ref, pin a tag or commit", r.Rev),
		})
	case !r.IsRemote() && r.Rev != "":
		issues = append(issues, Issue{
			Repo:    ident,
			Field:   "rev",
			Message: fmt.Sprintf("rev has no meaning for the %s repo", r.Repo),
		})
	}

	if len(r.Hooks) == 0 {
		issues = append(issues, Issue{
			Repo:    ident,
			Field:   "hooks",
			Message: "hook source declares no hooks",
		})
	}

	seen := make(map[string]bool, len(r.Hooks))
	for i := range r.Hooks {
		h := &r.Hooks[i]
		if h.ID == "" {
			issues = append(issues, Issue{
				Repo:    ident,
				Field:   "id",
				Message: fmt.Sprintf("hook #%d has no id", i),
			})
			continue
		}
		if seen[h.ID] {
			issues = append(issues, Issue{
				Repo:    ident,
				Hook:    h.ID,
				Field:   "id",
				Message: "duplicate hook id within its source",
			})
		}
		seen[h.ID] = true
		issues = append(issues, h.validate(ident)...)
	}
	return issues
}

func (h *Hook) validate(repo string) []Issue {
	var issues []Issue
	for _, f := range []struct{ name, pattern string }{
		{"files", h.Files},
		{"exclude", h.Exclude},
	} {
		if f.pattern == "" {
			continue
		}
		if _, err := regexp.Compile(f.pattern); err != nil {
			issues = append(issues, Issue{
				Repo:    repo,
				Hook:    h.ID,
				Field:   f.name,
				Message: fmt.Sprintf("invalid pattern: %v", err),
			})
		}
	}
	for _, dep := range h.AdditionalDependencies {
		if strings.TrimSpace(dep) == "" {
			issues = append(issues, Issue{
				Repo:    repo,
				Hook:    h.ID,
				Field:   "additional_dependencies",
				Message: "empty dependency specifier",
			})
		} else if strings.ContainsAny(dep, " \t") {
			issues = append(issues, Issue{
				Repo:    repo,
				Hook:    h.ID,
				Field:   "additional_dependencies",
				Message: fmt.Sprintf("specifier %q contains whitespace", dep),
			})
		}
	}
	return issues
}

// isRepoURL accepts scheme://host forms and scp-like git addresses.
func isRepoURL(s string) bool {
	if strings.Contains(s, "://") {
		return !strings.HasPrefix(s, "://")
	}
	return strings.HasPrefix(s, "git@") && strings.Contains(s, ":")
}
