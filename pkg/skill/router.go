package skill

import (
	"sort"
	"strings"

	"github.com/jllopis/telos/pkg/errors"
)

// Router maps request text to a skill by case-insensitive longest-prefix
// matching, stripping the matched prefix from the returned text. Unmatched
// text resolves to the default skill. Select is a pure function of its
// input: identical text always yields the same skill and the same cleaned
// text.
type Router struct {
	entries      []routeEntry
	defaultSkill Skill
}

type routeEntry struct {
	prefix string
	skill  Skill
}

// NewRouter creates a router. Prefixes are matched case-insensitively;
// longer prefixes win over shorter ones.
func NewRouter(defaultSkill Skill) (*Router, error) {
	if defaultSkill == nil {
		return nil, errors.New(errors.CodeInvalidInput, "default skill is required", nil)
	}
	return &Router{defaultSkill: defaultSkill}, nil
}

// Add registers a prefix for a skill.
func (r *Router) Add(prefix string, s Skill) error {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" {
		return errors.New(errors.CodeInvalidInput, "route prefix is required", nil)
	}
	if s == nil {
		return errors.New(errors.CodeInvalidInput, "route skill is required", nil)
	}
	for _, e := range r.entries {
		if e.prefix == prefix {
			return errors.New(errors.CodeInvalidInput, "route prefix "+prefix+" is already registered", nil)
		}
	}
	r.entries = append(r.entries, routeEntry{prefix: prefix, skill: s})
	sort.SliceStable(r.entries, func(i, j int) bool {
		return len(r.entries[i].prefix) > len(r.entries[j].prefix)
	})
	return nil
}

// Select returns the skill for the text and the text with the matched
// prefix stripped. When only the prefix was provided (nothing remains
// after stripping), the original trimmed text is returned so the model
// still receives input.
func (r *Router) Select(text string) (Skill, string) {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)

	for _, e := range r.entries {
		if !strings.HasPrefix(lower, e.prefix) {
			continue
		}
		cleaned := strings.TrimSpace(trimmed[len(e.prefix):])
		if cleaned == "" {
			cleaned = trimmed
		}
		return e.skill, cleaned
	}
	return r.defaultSkill, trimmed
}

// Default returns the default skill.
func (r *Router) Default() Skill {
	return r.defaultSkill
}
