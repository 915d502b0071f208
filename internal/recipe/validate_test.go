package recipe

import (
	"strings"
	"testing"

	"github.com/goplus/crossdeps/internal/digest"
)

func validPlan() *Plan {
	return &Plan{
		Name:      "test",
		Toolchain: Toolchain{Host: "i586-mingw32msvc"},
		Vars:      map[string]string{"commit": ""},
		Recipes: []Recipe{
			{
				Name:    "A",
				Version: "1.0",
				Sources: []Source{{Key: "a.tar.gz", URL: "http://example.com/a.tar.gz", Digest: digest.MustParse(zlibDigest)}},
				Steps:   []Step{{Kind: Extract, Source: "a.tar.gz"}, {Kind: Make}},
			},
			{
				Name:    "B",
				Version: "2.0",
				Deps:    []string{"A"},
				Steps:   []Step{{Kind: Run, Tool: "sh", Args: []string{"-c", "cp ${item:A}/lib/liba.a ${prefix}"}}},
			},
		},
	}
}

func TestValidateValid(t *testing.T) {
	if issues := Validate(validPlan()); len(issues) != 0 {
		t.Fatalf("Validate = %q", issues)
	}
}

func TestValidateIssues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Plan)
		want   string
	}{
		{"no recipes", func(p *Plan) { p.Recipes = nil }, "no recipes"},
		{"no host", func(p *Plan) { p.Toolchain.Host = "" }, "toolchain.host"},
		{"bad tool ref", func(p *Plan) { p.Tools = []string{"${target}-gcc"} }, "tools:"},
		{"shadowed builtin", func(p *Plan) { p.Vars["prefix"] = "/x" }, "shadows a builtin"},
		{"duplicate name", func(p *Plan) { p.Recipes[1].Name = "A"; p.Recipes[1].Deps = nil }, "duplicate recipe name"},
		{"invalid name", func(p *Plan) { p.Recipes[0].Name = "../A" }, "invalid name"},
		{"later dep", func(p *Plan) { p.Recipes[0].Deps = []string{"B"} }, `dep "B" does not name an earlier recipe`},
		{"self dep", func(p *Plan) { p.Recipes[0].Deps = []string{"A"} }, `dep "A" does not name an earlier recipe`},
		{"missing url", func(p *Plan) { p.Recipes[0].Sources[0].URL = "" }, "url is required"},
		{"missing digest", func(p *Plan) { p.Recipes[0].Sources[0].Digest = digest.Digest{} }, "digest is required"},
		{"bad key", func(p *Plan) { p.Recipes[0].Sources[0].Key = ".hidden" }, "invalid key"},
		{"undeclared source", func(p *Plan) { p.Recipes[0].Steps[0].Source = "b.tar.gz" }, "not declared"},
		{"unknown kind", func(p *Plan) { p.Recipes[0].Steps[1].Kind = "scons" }, `unknown kind "scons"`},
		{"no steps", func(p *Plan) { p.Recipes[0].Steps = nil }, "no steps"},
		{"run without tool", func(p *Plan) { p.Recipes[1].Steps[0].Tool = "" }, "tool is required"},
		{"patch source and file", func(p *Plan) {
			p.Recipes[0].Steps = append(p.Recipes[0].Steps, Step{Kind: Patch, Source: "a.tar.gz", File: "x.patch"})
		}, "exactly one of source or file"},
		{"negative strip", func(p *Plan) { n := -1; p.Recipes[0].Steps[0].Strip = &n }, "strip must not be negative"},
		{"unknown var", func(p *Plan) { p.Recipes[1].Steps[0].Args[1] = "${srcdir}" }, "unknown variable ${srcdir}"},
		{"later item", func(p *Plan) {
			p.Recipes[0].Steps[1].Args = []string{"--with-b=${item:B}"}
		}, "${item:B} does not name an earlier recipe"},
		{"foreign cache key", func(p *Plan) {
			p.Recipes[1].Steps[0].Args[1] = "${cache:a.tar.gz}"
		}, "does not name a source of this recipe"},
		{"unknown namespace", func(p *Plan) { p.Recipes[1].Steps[0].Args[1] = "${pkg:A}" }, "unknown namespace"},
		{"symlink fields", func(p *Plan) { p.Recipes[1].Steps[0] = Step{Kind: Symlink, Target: "x"} }, "link is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPlan()
			tt.mutate(p)
			issues := Validate(p)
			for _, issue := range issues {
				if strings.Contains(issue, tt.want) {
					return
				}
			}
			t.Fatalf("Validate = %q, want an issue containing %q", issues, tt.want)
		})
	}
}

func TestValidateEnvAndPlanVars(t *testing.T) {
	p := validPlan()
	p.Recipes[1].Steps[0].Args = []string{"${env:HOME}", "${commit}", "${cache:b.tar.gz}"}
	p.Recipes[1].Sources = []Source{{Key: "b.tar.gz", URL: "file:///b.tar.gz", Digest: digest.MustParse(zlibDigest)}}
	if issues := Validate(p); len(issues) != 0 {
		t.Fatalf("Validate = %q", issues)
	}
}
