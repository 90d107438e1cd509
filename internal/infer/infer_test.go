package infer_test

import (
	"testing"

	"swarmline/internal/infer"
)

func TestKeywordPolicyDefaults(t *testing.T) {
	p := infer.NewKeywordPolicy(nil)
	cases := []struct {
		title, description, want string
	}{
		{"Add regression test for parser", "", infer.PhaseTesting},
		{"Write README section", "cover install steps", infer.PhaseDocumentation},
		{"Ship v2", "rollout to all workspaces", infer.PhaseDeployment},
		{"Draft architecture RFC", "", infer.PhaseDesign},
		{"Fix watcher leak", "", infer.PhaseImplementation},
		{"Untitled", "no signal here", ""},
	}
	for _, tc := range cases {
		if got := p.InferPhase(tc.title, tc.description); got != tc.want {
			t.Errorf("InferPhase(%q, %q) = %q, want %q", tc.title, tc.description, got, tc.want)
		}
	}
}

func TestKeywordPolicyPrecedenceIsStable(t *testing.T) {
	p := infer.NewKeywordPolicy(nil)
	// "test" and "implement" both match; testing is checked first.
	if got := p.InferPhase("implement the test harness", ""); got != infer.PhaseTesting {
		t.Fatalf("got %q, want testing to win", got)
	}
}

func TestKeywordPolicyOverrides(t *testing.T) {
	p := infer.NewKeywordPolicy(map[string][]string{
		infer.PhaseTesting: {"qa"},
		"triage":           {"investigate"},
	})
	if got := p.InferPhase("add regression test", ""); got == infer.PhaseTesting {
		t.Fatalf("override did not replace default keywords")
	}
	if got := p.InferPhase("qa pass on parser", ""); got != infer.PhaseTesting {
		t.Fatalf("got %q, want testing via override keyword", got)
	}
	if got := p.InferPhase("investigate crash", ""); got != "triage" {
		t.Fatalf("got %q, want custom phase", got)
	}
}

func TestNonePolicy(t *testing.T) {
	if got := (infer.None{}).InferPhase("implement tests", "deploy docs"); got != "" {
		t.Fatalf("None guessed %q", got)
	}
}
