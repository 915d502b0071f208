// Package plans embeds the built-in build plans.
package plans

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/goplus/crossdeps/internal/recipe"
)

const ext = ".jsonc"

//go:embed *.jsonc
var files embed.FS

// Names returns the names of the built-in plans, sorted.
func Names() []string {
	entries, _ := fs.ReadDir(files, ".")
	var names []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ext); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Source returns the JSONC text of a built-in plan.
func Source(name string) ([]byte, error) {
	data, err := files.ReadFile(path.Clean(name) + ext)
	if err != nil {
		return nil, fmt.Errorf("unknown plan %q (built-in plans: %s)", name, strings.Join(Names(), ", "))
	}
	return data, nil
}

// Lookup parses a built-in plan. The returned plan is a fresh copy the
// caller may modify.
func Lookup(name string) (*recipe.Plan, error) {
	data, err := Source(name)
	if err != nil {
		return nil, err
	}
	p, err := recipe.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", name, err)
	}
	return p, nil
}

// Resolve returns the built-in plan called nameOrPath, or else loads the
// plan file at that path.
func Resolve(nameOrPath string) (*recipe.Plan, error) {
	if !strings.ContainsAny(nameOrPath, `/\`) && !strings.HasSuffix(nameOrPath, ext) {
		return Lookup(nameOrPath)
	}
	return recipe.Load(nameOrPath)
}
