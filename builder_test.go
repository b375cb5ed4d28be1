package petalinfer

import (
	"errors"
	"strings"
	"testing"

	"github.com/petal-labs/petalinfer/graph"
)

func TestModelBuilder_Definition(t *testing.T) {
	lower := Lit(0)
	md, err := NewModelBuilder("m").
		Constant("k", 2).
		Matrix("M", 2, 2, 1, 0, 0, 1).
		Stochastic("tau", "dgamma", Lit(1), Lit(1)).Bounded(&lower, nil).
		Logical("scaled", "multiply", Ref("k"), Ref("tau")).
		Stochastic("y", "dnorm", Lit(0), Ref("scaled")).Observe(0.5).
		Monitor("scaled").
		Definition()
	if err != nil {
		t.Fatalf("Definition: %v", err)
	}
	if md.ID != "m" || len(md.Nodes) != 5 {
		t.Fatalf("definition = %+v", md)
	}
	if got := md.Nodes[1].Dim; len(got) != 2 || got[0] != 2 || got[1] != 2 {
		t.Errorf("matrix dim = %v", got)
	}
	if md.Nodes[2].Lower == nil || md.Nodes[2].Upper != nil {
		t.Errorf("bounds = %v, %v", md.Nodes[2].Lower, md.Nodes[2].Upper)
	}
	if obs := md.Nodes[4].Observed; len(obs) != 1 || obs[0] != 0.5 {
		t.Errorf("observed = %v", obs)
	}
	if len(md.Monitor) != 1 || md.Monitor[0] != "scaled" {
		t.Errorf("monitor = %v", md.Monitor)
	}
}

func TestModelBuilder_DefinitionIsCopy(t *testing.T) {
	b := NewModelBuilder("m").Stochastic("x", "dnorm", Lit(0), Lit(1))
	md, err := b.Definition()
	if err != nil {
		t.Fatalf("Definition: %v", err)
	}
	b.Stochastic("y", "dnorm", Ref("x"), Lit(1))
	if len(md.Nodes) != 1 {
		t.Errorf("definition changed after further building: %d nodes", len(md.Nodes))
	}
}

func TestModelBuilder_Errors(t *testing.T) {
	b := NewModelBuilder("m").Observe(1).Stochastic("x", "dnorm", Lit(0), Lit(1)).Observe()
	if len(b.Errors()) != 2 {
		t.Fatalf("errors = %v", b.Errors())
	}
	if _, err := b.Build(); err == nil || !strings.Contains(err.Error(), "no node added yet") {
		t.Errorf("Build error = %v", err)
	}
}

func TestModelBuilder_BuildValidates(t *testing.T) {
	_, err := NewModelBuilder("m").
		Stochastic("y", "dnorm", Ref("mu"), Lit(1)).Observe(0).
		Build()
	var de *graph.DiagnosticError
	if !errors.As(err, &de) {
		t.Fatalf("Build error = %v, want *graph.DiagnosticError", err)
	}
}

func TestModelBuilder_MustBuild(t *testing.T) {
	g := NewModelBuilder("m").
		Stochastic("x", "dnorm", Lit(0), Lit(1)).
		Stochastic("y", "dnorm", Ref("x"), Lit(1)).Observe(1).
		MustBuild()
	if !g.Frozen() || len(g.SampledNodes()) != 1 {
		t.Errorf("graph frozen=%v sampled=%v", g.Frozen(), g.SampledNodes())
	}

	defer func() {
		if recover() == nil {
			t.Error("expected panic for an invalid model")
		}
	}()
	NewModelBuilder("bad").Logical("z", "nope", Lit(1)).MustBuild()
}
