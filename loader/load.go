package loader

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/petal-labs/petalinfer/distribution"
	"github.com/petal-labs/petalinfer/function"
	"github.com/petal-labs/petalinfer/graph"
)

// LoadModel reads a model file and validates it against the built-in
// distributions and functions.
func LoadModel(path string) (*graph.ModelDefinition, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from caller
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", path, err)
	}
	return Load(data, path)
}

// Load parses and validates a model definition. path is only used to
// detect the format. Validation errors are returned as
// *graph.DiagnosticError; warnings are dropped, use Diagnose to see them.
func Load(data []byte, path string) (*graph.ModelDefinition, error) {
	md, diags, err := parse(data, path)
	if err != nil {
		return nil, err
	}
	if graph.HasErrors(diags) {
		return nil, &graph.DiagnosticError{Diagnostics: diags}
	}
	return md, nil
}

// Diagnose parses a model definition and returns every diagnostic,
// including warnings. A parse failure is returned as err.
func Diagnose(data []byte, path string) (*graph.ModelDefinition, []graph.Diagnostic, error) {
	return parse(data, path)
}

func parse(data []byte, path string) (*graph.ModelDefinition, []graph.Diagnostic, error) {
	jsonData, err := toJSON(data, path)
	if err != nil {
		return nil, nil, err
	}
	var md graph.ModelDefinition
	if err := json.Unmarshal(jsonData, &md); err != nil {
		return nil, nil, fmt.Errorf("parsing model definition: %w", err)
	}
	diags := md.ValidateWithRegistries(distribution.Builtins(), function.Builtins())
	return &md, diags, nil
}

// Build loads the model at path and builds its graph along with the node
// IDs named by its monitor list.
func Build(path string) (*graph.ModelDefinition, *graph.Graph, error) {
	md, err := LoadModel(path)
	if err != nil {
		return nil, nil, err
	}
	g, err := graph.Build(md, distribution.Builtins(), function.Builtins())
	if err != nil {
		return nil, nil, err
	}
	return md, g, nil
}
