package recipe

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// namePattern matches recipe names and cache keys: a single path
// element that does not start with a dot.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.+\-]*$`)

// Validate checks a Plan for structural issues. Returns a list of
// human-readable issue descriptions. An empty list means the plan is
// valid.
//
// Structural checks include:
//   - At least one recipe and a toolchain host are required
//   - Recipe names are unique valid path elements
//   - Every dep and ${item:<name>} names an earlier recipe
//   - Every source has a key, a URL and a digest; keys are unique per recipe
//   - Every step has a known kind and the fields that kind needs
//   - Every ${name} reference resolves: builtins, plan vars, item:,
//     cache:<key of this recipe>, env:
func Validate(p *Plan) []string {
	var issues []string

	if len(p.Recipes) == 0 {
		issues = append(issues, "plan has no recipes (at least one recipe is required)")
	}
	if p.Toolchain.Host == "" {
		issues = append(issues, "toolchain.host is required")
	}
	if _, err := p.ToolNames(); err != nil {
		issues = append(issues, fmt.Sprintf("tools: %v", err))
	}
	for name := range p.Vars {
		if slices.Contains(Builtins, name) {
			issues = append(issues, fmt.Sprintf("vars[%s]: shadows a builtin variable", name))
		}
	}

	seen := make(map[string]int, len(p.Recipes))
	for index := range p.Recipes {
		r := &p.Recipes[index]
		prefix := fmt.Sprintf("recipes[%d] %q", index, r.Name)
		if !namePattern.MatchString(r.Name) {
			issues = append(issues, fmt.Sprintf("recipes[%d]: invalid name %q", index, r.Name))
		} else if first, exists := seen[r.Name]; exists {
			issues = append(issues, fmt.Sprintf("%s: duplicate recipe name (first used at recipes[%d])", prefix, first))
		}
		issues = append(issues, validateRecipe(p, r, seen, prefix)...)
		if _, exists := seen[r.Name]; !exists {
			seen[r.Name] = index
		}
	}
	return issues
}

func validateRecipe(p *Plan, r *Recipe, earlier map[string]int, prefix string) []string {
	var issues []string

	for _, dep := range r.Deps {
		if _, ok := earlier[dep]; !ok {
			issues = append(issues, fmt.Sprintf("%s: dep %q does not name an earlier recipe", prefix, dep))
		}
	}

	keys := map[string]bool{}
	for i, s := range r.Sources {
		sp := fmt.Sprintf("%s sources[%d]", prefix, i)
		switch {
		case !namePattern.MatchString(s.Key):
			issues = append(issues, fmt.Sprintf("%s: invalid key %q", sp, s.Key))
		case keys[s.Key]:
			issues = append(issues, fmt.Sprintf("%s: duplicate key %q", sp, s.Key))
		}
		keys[s.Key] = true
		if s.URL == "" {
			issues = append(issues, sp+": url is required")
		}
		if s.Digest.IsZero() {
			issues = append(issues, sp+": digest is required")
		}
	}

	if len(r.Steps) == 0 {
		issues = append(issues, prefix+": recipe has no steps")
	}
	for i := range r.Steps {
		st := &r.Steps[i]
		sp := fmt.Sprintf("%s steps[%d] (%s)", prefix, i, st.Kind)
		issues = append(issues, validateStep(st, keys, sp)...)
		st.each(func(field, value string) {
			for _, ref := range references(value) {
				if msg := checkRef(p, ref, earlier, keys); msg != "" {
					issues = append(issues, fmt.Sprintf("%s %s: %s", sp, field, msg))
				}
			}
		})
	}
	return issues
}

func validateStep(st *Step, keys map[string]bool, sp string) []string {
	var issues []string
	need := func(ok bool, what string) {
		if !ok {
			issues = append(issues, fmt.Sprintf("%s: %s is required", sp, what))
		}
	}
	source := func() {
		if st.Source != "" && !keys[st.Source] {
			issues = append(issues, fmt.Sprintf("%s: source %q is not declared", sp, st.Source))
		}
	}

	switch st.Kind {
	case Extract:
		need(st.Source != "", "source")
		source()
	case Clone:
		need(st.URL != "", "url")
	case Patch:
		if (st.Source == "") == (st.File == "") {
			issues = append(issues, sp+": exactly one of source or file is required")
		}
		source()
	case Run:
		need(st.Tool != "", "tool")
	case Mkdir, Remove, Copy:
		need(len(st.Paths) > 0, "paths")
	case Symlink:
		need(st.Target != "", "target")
		need(st.Link != "", "link")
	case Export:
		need(st.File != "", "file")
	case LinkTools:
		need(len(st.Tools) > 0, "tools")
	case Collect:
		need(st.Glob != "", "glob")
	case Configure, CMake, Make:
	default:
		kinds := make([]string, len(Kinds))
		for i, k := range Kinds {
			kinds[i] = string(k)
		}
		issues = append(issues, fmt.Sprintf("%s: unknown kind %q (want one of %s)", sp, st.Kind, strings.Join(kinds, ", ")))
	}
	if st.Strip != nil && *st.Strip < 0 {
		issues = append(issues, sp+": strip must not be negative")
	}
	return issues
}

// checkRef returns a description of what is wrong with ref, or "".
func checkRef(p *Plan, ref string, earlier map[string]int, keys map[string]bool) string {
	ns, arg, ok := strings.Cut(ref, ":")
	if !ok {
		if slices.Contains(Builtins, ref) {
			return ""
		}
		if _, ok := p.Vars[ref]; ok {
			return ""
		}
		return fmt.Sprintf("unknown variable ${%s}", ref)
	}
	switch ns {
	case "item":
		if _, ok := earlier[arg]; !ok {
			return fmt.Sprintf("${%s} does not name an earlier recipe", ref)
		}
	case "cache":
		if !keys[arg] {
			return fmt.Sprintf("${%s} does not name a source of this recipe", ref)
		}
	case "env":
	default:
		return fmt.Sprintf("unknown namespace in ${%s} (want one of %s)", ref, strings.Join(Namespaces, ", "))
	}
	return ""
}
