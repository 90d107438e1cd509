// Package infer guesses workflow hints for tasks that arrive from the
// external store without them. The policy is swappable so the sync engine
// never hard-codes string matching.
package infer

import "strings"

// Policy fills in a phase hint from free text. An empty return means no
// guess; callers leave the field alone.
type Policy interface {
	InferPhase(title, description string) string
}

// Phases the keyword policy can produce.
const (
	PhaseDesign         = "design"
	PhaseImplementation = "implementation"
	PhaseTesting        = "testing"
	PhaseDocumentation  = "documentation"
	PhaseDeployment     = "deployment"
)

// KeywordPolicy matches lowercase keywords against title and description.
// The first phase whose keyword list matches wins, checked in a fixed order
// so inference is deterministic.
type KeywordPolicy struct {
	order    []string
	keywords map[string][]string
}

// NewKeywordPolicy returns the default table. Overrides replace the keyword
// list for a phase; a nil override list removes the phase entirely.
func NewKeywordPolicy(overrides map[string][]string) *KeywordPolicy {
	p := &KeywordPolicy{
		order: []string{PhaseTesting, PhaseDocumentation, PhaseDeployment, PhaseDesign, PhaseImplementation},
		keywords: map[string][]string{
			PhaseTesting:        {"test", "coverage", "regression", "flaky"},
			PhaseDocumentation:  {"document", "docs", "readme", "changelog"},
			PhaseDeployment:     {"deploy", "release", "rollout", "ship"},
			PhaseDesign:         {"design", "spec", "plan", "architecture", "rfc"},
			PhaseImplementation: {"implement", "build", "add", "fix", "refactor", "wire"},
		},
	}
	for phase, words := range overrides {
		if len(words) == 0 {
			delete(p.keywords, phase)
			continue
		}
		if _, known := p.keywords[phase]; !known {
			p.order = append(p.order, phase)
		}
		p.keywords[phase] = words
	}
	return p
}

func (p *KeywordPolicy) InferPhase(title, description string) string {
	text := strings.ToLower(title + " " + description)
	for _, phase := range p.order {
		for _, word := range p.keywords[phase] {
			if strings.Contains(text, strings.ToLower(word)) {
				return phase
			}
		}
	}
	return ""
}

// None is a Policy that never guesses.
type None struct{}

func (None) InferPhase(string, string) string { return "" }
