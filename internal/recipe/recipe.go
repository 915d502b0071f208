// Copyright (c) 2026 The XGo Authors (xgo.dev). All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package recipe defines build plans: an ordered list of recipes, each a
// list of tagged steps, authored as JSONC.
//
// The typical flow:
//
//  1. Load or Parse: JSONC bytes → Plan
//  2. Validate: structural checks, dependency order, variable references
//  3. ExpandStep: substitute ${name} references before a step runs
package recipe

import (
	"slices"
	"strings"

	"github.com/goplus/crossdeps/internal/digest"
)

// LatestVersion is recorded for recipes without a declared version.
const LatestVersion = "latest"

// Plan is a complete build: toolchain, required tools and recipes in
// build order.
type Plan struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Toolchain   Toolchain         `json:"toolchain"`
	Tools       []string          `json:"tools,omitempty"`
	Vars        map[string]string `json:"vars,omitempty"`
	Recipes     []Recipe          `json:"recipes"`
}

// Toolchain describes the cross compiler every recipe builds with.
type Toolchain struct {
	Host      string   `json:"host"`
	Build     string   `json:"build,omitempty"`
	Configure []string `json:"configure,omitempty"`
	CMakeFile string   `json:"cmake_toolchain,omitempty"`
}

// StdConfigure returns the flags added to configure steps with std set.
func (t Toolchain) StdConfigure() []string {
	var args []string
	if t.Build != "" {
		args = append(args, "--build="+t.Build)
	}
	if t.Host != "" {
		args = append(args, "--host="+t.Host)
	}
	return append(args, t.Configure...)
}

// Recipe builds one package.
type Recipe struct {
	Name    string   `json:"name"`
	Version string   `json:"version,omitempty"`
	Sources []Source `json:"sources,omitempty"`
	Deps    []string `json:"deps,omitempty"`
	Steps   []Step   `json:"steps"`
}

// RecordedVersion is the version written to the build state once the
// recipe has been built.
func (r *Recipe) RecordedVersion() string {
	if r.Version == "" {
		return LatestVersion
	}
	return r.Version
}

// Source returns the declared source with the given cache key.
func (r *Recipe) Source(key string) (Source, bool) {
	for _, s := range r.Sources {
		if s.Key == key {
			return s, true
		}
	}
	return Source{}, false
}

// Requires returns the packages that must be built before r: its deps
// followed by every package referenced with ${item:<name>}.
func (r *Recipe) Requires() []string {
	out := slices.Clone(r.Deps)
	add := func(s string) {
		for _, ref := range references(s) {
			if pkg, ok := strings.CutPrefix(ref, "item:"); ok && !slices.Contains(out, pkg) {
				out = append(out, pkg)
			}
		}
	}
	for _, st := range r.Steps {
		st.each(func(_, s string) { add(s) })
	}
	return out
}

// Source is a downloadable archive, stored in the cache under Key.
type Source struct {
	Key    string        `json:"key"`
	URL    string        `json:"url"`
	Digest digest.Digest `json:"digest"`
}

// Kind tags a step.
type Kind string

const (
	Extract   Kind = "extract"
	Clone     Kind = "clone"
	Patch     Kind = "patch"
	Configure Kind = "configure"
	CMake     Kind = "cmake"
	Make      Kind = "make"
	Run       Kind = "run"
	Mkdir     Kind = "mkdir"
	Copy      Kind = "copy"
	Symlink   Kind = "symlink"
	Remove    Kind = "remove"
	Export    Kind = "export"
	LinkTools Kind = "link-tools"
	Collect   Kind = "collect"
)

// Kinds lists every known step kind.
var Kinds = []Kind{
	Extract, Clone, Patch, Configure, CMake, Make, Run,
	Mkdir, Copy, Symlink, Remove, Export, LinkTools, Collect,
}

// Step is one action of a recipe. Which fields apply depends on Kind.
type Step struct {
	Kind Kind              `json:"kind"`
	Dir  string            `json:"dir,omitempty"` // relative to the source tree
	Env  map[string]string `json:"env,omitempty"`
	Args []string          `json:"args,omitempty"`

	// extract, patch
	Source string `json:"source,omitempty"`
	Strip  *int   `json:"strip,omitempty"`
	// patch from a local file
	File string `json:"file,omitempty"`

	// configure
	Std      bool   `json:"std,omitempty"`
	NoPrefix bool   `json:"no_prefix,omitempty"`
	Script   string `json:"script,omitempty"`

	// run
	Tool string `json:"tool,omitempty"`

	// clone
	URL string `json:"url,omitempty"`
	Ref string `json:"ref,omitempty"`

	// mkdir, remove, copy (sources)
	Paths []string `json:"paths,omitempty"`
	// copy destination, link-tools destination
	To string `json:"to,omitempty"`

	// symlink
	Target string `json:"target,omitempty"`
	Link   string `json:"link,omitempty"`

	// export: File under lib/pkgconfig published as Name
	Name string `json:"name,omitempty"`

	// link-tools
	Tools []string `json:"tools,omitempty"`

	// collect
	Glob string `json:"glob,omitempty"`
}

// StripOr returns the strip count, or def when unset.
func (s *Step) StripOr(def int) int {
	if s.Strip == nil {
		return def
	}
	return *s.Strip
}

// Describe returns a short label for logs and errors.
func (s *Step) Describe() string {
	switch s.Kind {
	case Run:
		return string(s.Kind) + " " + s.Tool
	case Extract, Patch:
		if s.Source != "" {
			return string(s.Kind) + " " + s.Source
		}
		return string(s.Kind) + " " + s.File
	case Export:
		return string(s.Kind) + " " + s.File
	}
	return string(s.Kind)
}

// each calls fn with a field label and every templated string of s.
func (s *Step) each(fn func(field, value string)) {
	one := func(field, v string) {
		if v != "" {
			fn(field, v)
		}
	}
	one("dir", s.Dir)
	for k, v := range s.Env {
		one("env["+k+"]", v)
	}
	for _, a := range s.Args {
		one("args", a)
	}
	one("file", s.File)
	one("script", s.Script)
	one("tool", s.Tool)
	one("url", s.URL)
	one("ref", s.Ref)
	for _, p := range s.Paths {
		one("paths", p)
	}
	one("to", s.To)
	one("target", s.Target)
	one("link", s.Link)
	one("glob", s.Glob)
}
