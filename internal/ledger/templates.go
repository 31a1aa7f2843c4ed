package ledger

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// TemplateRegistry gates ReadModel bootstrap on ledger schema compatibility
// (SPEC_FULL.md §12): a driver advertises the version of each template it
// serves, and bootstrap refuses to start against a version outside the
// constraint the engine was built for, rather than stream payloads whose
// shape it cannot normalize.
type TemplateRegistry struct {
	constraints map[TemplateID]*semver.Constraints
}

// NewTemplateRegistry builds a registry from template -> constraint-string
// pairs, e.g. {"Order": ">= 1.0.0, < 2.0.0"}.
func NewTemplateRegistry(constraints map[TemplateID]string) (*TemplateRegistry, error) {
	r := &TemplateRegistry{constraints: make(map[TemplateID]*semver.Constraints, len(constraints))}
	for tmpl, raw := range constraints {
		c, err := semver.NewConstraint(raw)
		if err != nil {
			return nil, fmt.Errorf("template %s: invalid constraint %q: %w", tmpl, raw, err)
		}
		r.constraints[tmpl] = c
	}
	return r, nil
}

// Check validates that version satisfies the constraint registered for
// tmpl. A template with no registered constraint is always compatible.
func (r *TemplateRegistry) Check(tmpl TemplateID, version string) error {
	c, ok := r.constraints[tmpl]
	if !ok {
		return nil
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("template %s: unparseable version %q: %w", tmpl, version, err)
	}
	if !c.Check(v) {
		return fmt.Errorf("template %s: ledger version %s does not satisfy %s", tmpl, version, c)
	}
	return nil
}
