package recipe

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/tidwall/jsonc"
)

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals the result into a Plan. Parse does not validate.
func Parse(data []byte) (*Plan, error) {
	stripped := jsonc.ToJSON(data)

	var plan Plan
	if err := json.Unmarshal(stripped, &plan); err != nil {
		return nil, fmt.Errorf("parsing plan: %w", err)
	}
	return &plan, nil
}

// Load reads and parses a JSONC plan file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	plan, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return plan, nil
}

// Recipe returns the recipe with the given name.
func (p *Plan) Recipe(name string) (*Recipe, bool) {
	for i := range p.Recipes {
		if p.Recipes[i].Name == name {
			return &p.Recipes[i], true
		}
	}
	return nil, false
}

// SetVar overrides a plan variable, e.g. from the command line.
func (p *Plan) SetVar(name, value string) {
	if p.Vars == nil {
		p.Vars = map[string]string{}
	}
	p.Vars[name] = value
}

// ToolNames returns the tools that must be on PATH, with references to
// ${host} and ${build} expanded.
func (p *Plan) ToolNames() ([]string, error) {
	v := Vars{Values: map[string]string{"host": p.Toolchain.Host, "build": p.Toolchain.Build}}
	out := make([]string, 0, len(p.Tools))
	for _, t := range p.Tools {
		s, err := v.Expand(t)
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", t, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// References reports whether any step of the plan references the plain
// variable name, e.g. "extra".
func (p *Plan) References(name string) bool {
	found := false
	for i := range p.Recipes {
		for j := range p.Recipes[i].Steps {
			p.Recipes[i].Steps[j].each(func(_, value string) {
				if slices.Contains(references(value), name) {
					found = true
				}
			})
		}
	}
	return found
}
