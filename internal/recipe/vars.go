package recipe

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
)

// variablePattern matches ${name} and ${namespace:arg} references. Bare
// $NAME is left alone so it reaches tools (make, sed) untouched.
var variablePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*(?::[^{}]+)?)\}`)

// Builtins are the plain variables every recipe can reference.
var Builtins = []string{
	"name", "version",
	"prefix", "src", "temp", "exports", "output", "extra",
	"host", "build",
}

// Namespaces take an argument after a colon.
var Namespaces = []string{"item", "cache", "env"}

func references(s string) []string {
	var refs []string
	for _, m := range variablePattern.FindAllStringSubmatch(s, -1) {
		refs = append(refs, m[1])
	}
	return refs
}

// Vars resolves references while a recipe runs.
type Vars struct {
	// Values holds plain variables: Builtins and plan variables.
	Values map[string]string
	// Item returns the install area of a built package.
	Item func(pkg string) (string, bool)
	// Cache returns the path of a cached source.
	Cache func(key string) (string, bool)
	// Env looks up the step environment.
	Env func(name string) (string, bool)
}

func (v *Vars) lookup(ref string) (string, bool) {
	ns, arg, ok := strings.Cut(ref, ":")
	if !ok {
		val, ok := v.Values[ref]
		return val, ok
	}
	var fn func(string) (string, bool)
	switch ns {
	case "item":
		fn = v.Item
	case "cache":
		fn = v.Cache
	case "env":
		fn = v.Env
	}
	if fn == nil {
		return "", false
	}
	return fn(arg)
}

// Expand replaces references in input. It fails listing every
// reference that has no value.
func (v *Vars) Expand(input string) (string, error) {
	var unresolved []string
	result := variablePattern.ReplaceAllStringFunc(input, func(match string) string {
		ref := match[2 : len(match)-1]
		if val, ok := v.lookup(ref); ok {
			return val
		}
		unresolved = append(unresolved, ref)
		return match
	})
	if len(unresolved) > 0 {
		return "", fmt.Errorf("unresolved variables: %s", strings.Join(unresolved, ", "))
	}
	return result, nil
}

// ExpandStep returns a copy of st with every templated field expanded.
// st itself is not modified.
func (v *Vars) ExpandStep(st Step) (Step, error) {
	out := st
	out.Env = maps.Clone(st.Env)
	out.Args = slices.Clone(st.Args)
	out.Paths = slices.Clone(st.Paths)

	var firstErr error
	exp := func(field string, p *string) {
		if firstErr != nil || *p == "" {
			return
		}
		s, err := v.Expand(*p)
		if err != nil {
			firstErr = fmt.Errorf("%s %s: %w", st.Describe(), field, err)
			return
		}
		*p = s
	}
	exp("dir", &out.Dir)
	for k, val := range out.Env {
		exp("env["+k+"]", &val)
		out.Env[k] = val
	}
	for i := range out.Args {
		exp("args", &out.Args[i])
	}
	exp("file", &out.File)
	exp("script", &out.Script)
	exp("tool", &out.Tool)
	exp("url", &out.URL)
	exp("ref", &out.Ref)
	for i := range out.Paths {
		exp("paths", &out.Paths[i])
	}
	exp("to", &out.To)
	exp("target", &out.Target)
	exp("link", &out.Link)
	exp("glob", &out.Glob)
	if firstErr != nil {
		return Step{}, firstErr
	}
	return out, nil
}
