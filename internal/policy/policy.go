package policy

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"hookhub/internal/manifest"
	"hookhub/internal/store"
)

// Policy scopes. The expression is evaluated once per manifest, once per
// repo, or once per hook depending on scope.
const (
	ScopeManifest = "manifest"
	ScopeRepo     = "repo"
	ScopeHook     = "hook"
)

// Severities. A "block" violation rejects the manifest write; "advice"
// is reported back but does not fail the request.
const (
	SeverityAdvice = "advice"
	SeverityBlock  = "block"
)

// Policy is a compiled org-wide rule. The expression states the
// requirement: it must evaluate to true for the manifest to comply.
type Policy struct {
	store.PolicyRecord
	compiled *vm.Program
}

// Violation is one failed policy check against a manifest.
type Violation struct {
	Policy   string `json:"policy"`
	Severity string `json:"severity"`
	Repo     string `json:"repo,omitempty"`
	Hook     string `json:"hook,omitempty"`
	Message  string `json:"message"`
}

// Engine holds the active policies, reloaded from the store after
// policy mutations.
type Engine struct {
	mu       sync.RWMutex
	policies []*Policy
}

func NewEngine() *Engine {
	return &Engine{}
}

// Load replaces the policy set. Invalid records are skipped with a
// warning so one bad expression cannot take every manifest write down.
func (e *Engine) Load(records []*store.PolicyRecord) {
	policies := make([]*Policy, 0, len(records))
	for _, rec := range records {
		p := &Policy{PolicyRecord: *rec}
		if err := p.compile(); err != nil {
			log.Printf("WARN: skipping policy %s: %v", rec.Name, err)
			continue
		}
		policies = append(policies, p)
	}

	e.mu.Lock()
	e.policies = policies
	e.mu.Unlock()
}

// Reload fetches the active policies from the store and loads them.
func (e *Engine) Reload(ctx context.Context, s *store.Store) error {
	records, err := s.ListPolicies(ctx, true)
	if err != nil {
		return fmt.Errorf("load policies: %w", err)
	}
	e.Load(records)
	log.Printf("Loaded %d policies into engine", len(records))
	return nil
}

// Len returns the number of loaded policies.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.policies)
}

// Evaluate runs every loaded policy against the manifest and returns
// all violations.
func (e *Engine) Evaluate(project string, m *manifest.Manifest) []Violation {
	e.mu.RLock()
	policies := e.policies
	e.mu.RUnlock()

	var violations []Violation
	for _, p := range policies {
		violations = append(violations, p.check(project, m)...)
	}
	return violations
}

// HasBlocking reports whether any violation carries the block severity.
func HasBlocking(violations []Violation) bool {
	for _, v := range violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

func (p *Policy) compile() error {
	prog, err := expr.Compile(p.Expression, expr.AsBool())
	if err != nil {
		return fmt.Errorf("compile expression: %w", err)
	}
	p.compiled = prog
	return nil
}

func (p *Policy) check(project string, m *manifest.Manifest) []Violation {
	var violations []Violation

	switch p.Scope {
	case ScopeManifest:
		if v := p.run(project, m, nil, nil); v != nil {
			violations = append(violations, *v)
		}
	case ScopeHook:
		for i := range m.Repos {
			r := &m.Repos[i]
			for j := range r.Hooks {
				if v := p.run(project, m, r, &r.Hooks[j]); v != nil {
					violations = append(violations, *v)
				}
			}
		}
	default: // ScopeRepo
		for i := range m.Repos {
			if v := p.run(project, m, &m.Repos[i], nil); v != nil {
				violations = append(violations, *v)
			}
		}
	}
	return violations
}

func (p *Policy) run(project string, m *manifest.Manifest, r *manifest.Repo, h *manifest.Hook) *Violation {
	env := map[string]any{
		"project":  project,
		"manifest": m,
	}
	if r != nil {
		env["repo"] = r
	}
	if h != nil {
		env["hook"] = h
	}

	result, err := expr.Run(p.compiled, env)
	if err != nil {
		return p.violation(r, h, fmt.Sprintf("policy evaluation error: %v", err))
	}
	ok, _ := result.(bool)
	if ok {
		return nil
	}

	msg := p.Message
	if msg == "" {
		msg = fmt.Sprintf("policy %s not satisfied", p.Name)
	}
	return p.violation(r, h, msg)
}

func (p *Policy) violation(r *manifest.Repo, h *manifest.Hook, msg string) *Violation {
	v := &Violation{Policy: p.Name, Severity: p.Severity, Message: msg}
	if r != nil {
		v.Repo = r.Repo
	}
	if h != nil {
		v.Hook = h.ID
	}
	return v
}
