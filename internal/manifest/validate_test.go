package manifest

import (
	"strings"
	"testing"
)

func findIssue(issues []Issue, field string) *Issue {
	for i := range issues {
		if issues[i].Field == field {
			return &issues[i]
		}
	}
	return nil
}

func TestValidate_CleanManifest(t *testing.T) {
	m, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if issues := m.Validate(); len(issues) != 0 {
		t.Fatalf("expected no issues, got %v", issues)
	}
}

func TestValidate_MissingRev(t *testing.T) {
	m := &Manifest{Repos: []Repo{
		{Repo: "https://github.com/psf/black", Hooks: []Hook{{ID: "black"}}},
	}}
	issue := findIssue(m.Validate(), "rev")
	if issue == nil {
		t.Fatal("expected a rev issue")
	}
	if !strings.Contains(issue.Message, "pinned rev") {
		t.Fatalf("unexpected message: %s", issue.Message)
	}
}

func TestValidate_MovingRef(t *testing.T) {
	for _, rev := range []string{"master", "main", "HEAD", "latest"} {
		m := &Manifest{Repos: []Repo{
			{Repo: "https://github.com/psf/black", Rev: rev, Hooks: []Hook{{ID: "black"}}},
		}}
		if findIssue(m.Validate(), "rev") == nil {
			t.Fatalf("rev %q accepted", rev)
		}
	}

	m := &Manifest{Repos: []Repo{
		{Repo: "https://github.com/psf/black", Rev: "23.3.0", Hooks: []Hook{{ID: "black"}}},
	}}
	if findIssue(m.Validate(), "rev") != nil {
		t.Fatal("pinned tag rejected")
	}
}

func TestValidate_RevOnLocalRepo(t *testing.T) {
	m := &Manifest{Repos: []Repo{
		{Repo: RepoLocal, Rev: "v1.0.0", Hooks: []Hook{{ID: "fmt"}}},
	}}
	if findIssue(m.Validate(), "rev") == nil {
		t.Fatal("expected issue for rev on local repo")
	}
}

func TestValidate_DuplicateHookID(t *testing.T) {
	m := &Manifest{Repos: []Repo{
		{Repo: "https://github.com/PyCQA/flake8", Rev: "6.0.0", Hooks: []Hook{
			{ID: "flake8"},
			{ID: "flake8"},
		}},
	}}
	issue := findIssue(m.Validate(), "id")
	if issue == nil {
		t.Fatal("expected duplicate id issue")
	}
	if issue.Hook != "flake8" {
		t.Fatalf("expected hook=flake8, got %s", issue.Hook)
	}
}

func TestValidate_EmptyHookID(t *testing.T) {
	m := &Manifest{Repos: []Repo{
		{Repo: "https://github.com/PyCQA/isort", Rev: "5.12.0", Hooks: []Hook{{}}},
	}}
	if findIssue(m.Validate(), "id") == nil {
		t.Fatal("expected issue for empty hook id")
	}
}

func TestValidate_BadPatterns(t *testing.T) {
	m := &Manifest{
		Exclude: "([unclosed",
		Repos: []Repo{
			{Repo: "https://github.com/pre-commit/mirrors-mypy", Rev: "v1.4.1", Hooks: []Hook{
				{ID: "mypy", Files: "*bad", Exclude: "(also[bad"},
			}},
		},
	}
	issues := m.Validate()
	if findIssue(issues, "exclude") == nil {
		t.Fatal("expected top-level exclude issue")
	}
	if findIssue(issues, "files") == nil {
		t.Fatal("expected files pattern issue")
	}
}

func TestValidate_BadRepoIdentifier(t *testing.T) {
	m := &Manifest{Repos: []Repo{
		{Repo: "not-a-url", Rev: "v1.0.0", Hooks: []Hook{{ID: "x"}}},
	}}
	if findIssue(m.Validate(), "repo") == nil {
		t.Fatal("expected repo identifier issue")
	}

	// scp-style git addresses are acceptable
	m = &Manifest{Repos: []Repo{
		{Repo: "git@github.com:psf/black", Rev: "23.3.0", Hooks: []Hook{{ID: "black"}}},
	}}
	if findIssue(m.Validate(), "repo") != nil {
		t.Fatal("scp-style address rejected")
	}
}

func TestValidate_AdditionalDependencies(t *testing.T) {
	m := &Manifest{Repos: []Repo{
		{Repo: "https://github.com/pre-commit/mirrors-mypy", Rev: "v1.4.1", Hooks: []Hook{
			{ID: "mypy", AdditionalDependencies: []string{"types-pytz", "", "bad specifier"}},
		}},
	}}
	var count int
	for _, issue := range m.Validate() {
		if issue.Field == "additional_dependencies" {
			count++
		}
	}
	if count != 2 {
		t.Fatalf("expected 2 dependency issues, got %d", count)
	}
}

func TestValidate_EmptyManifest(t *testing.T) {
	m := &Manifest{}
	if findIssue(m.Validate(), "repos") == nil {
		t.Fatal("expected issue for empty repo list")
	}
}

func TestIssueString(t *testing.T) {
	issue := Issue{Repo: "https://github.com/psf/black", Hook: "black", Field: "rev", Message: "missing"}
	s := issue.String()
	for _, want := range []string{"black", "rev", "missing"} {
		if !strings.Contains(s, want) {
			t.Fatalf("issue string %q missing %q", s, want)
		}
	}
}
