// Copyright (c) 2026 The XGo Authors (xgo.dev). All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package internal

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"

	"github.com/goplus/crossdeps/internal/config"
	"github.com/goplus/crossdeps/internal/recipe"
	"github.com/goplus/crossdeps/internal/state"
	"github.com/goplus/crossdeps/plans"
)

// execute runs the root command with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv(config.EnvVar, "")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPlanCommands(t *testing.T) {
	out, err := execute(t, "plan", "list")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "mingw") {
		t.Errorf("plan list = %q", out)
	}

	out, err = execute(t, "plan", "validate", "mingw")
	if err != nil {
		t.Fatalf("plan validate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "16 packages, ok") {
		t.Errorf("plan validate = %q", out)
	}

	bad := filepath.Join(t.TempDir(), "bad.jsonc")
	os.WriteFile(bad, []byte(`{"toolchain": {"host": "x"}, "recipes": [{"name": "a", "deps": ["b"], "steps": [{"kind": "make"}]}]}`), 0o644)
	out, err = execute(t, "plan", "validate", bad)
	if err == nil {
		t.Fatal("invalid plan validated")
	}
	if !strings.Contains(out, `dep "b" does not name an earlier recipe`) {
		t.Errorf("plan validate = %q", out)
	}
}

func TestPrintPlan(t *testing.T) {
	plan, err := plans.Lookup("mingw")
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := printPlan(&buf, plan); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != len(plan.Recipes)+2 {
		t.Fatalf("printPlan printed %d lines:\n%s", len(lines), buf.String())
	}
	last := strings.Fields(lines[len(lines)-1])
	if last[0] != "dl_fldigi" || last[1] != "(always)" {
		t.Errorf("last line = %q", lines[len(lines)-1])
	}
}

func TestStateCommand(t *testing.T) {
	root := filepath.Join(t.TempDir(), "root")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	s, err := state.Open(root)
	if err != nil {
		t.Fatal(err)
	}
	s.Record("zlib", "1.2.7")
	s.Invalidate("libpng")
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "state", "-d", root)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"zlib", "1.2.7", "libpng"} {
		if !strings.Contains(out, want) {
			t.Errorf("state output %q lacks %q", out, want)
		}
	}
}

func TestUsesScheme(t *testing.T) {
	plan := &recipe.Plan{Recipes: []recipe.Recipe{
		{Name: "zlib", Sources: []recipe.Source{{URL: "http://zlib.net/zlib-1.2.7.tar.gz"}}},
		{Name: "fltk", Sources: []recipe.Source{{URL: "s3://mirror/fltk-1.3.0.tar.gz"}}},
	}}
	if !usesScheme(plan, "s3") {
		t.Error("usesScheme(s3) = false")
	}
	if usesScheme(plan, "ftp") {
		t.Error("usesScheme(ftp) = true")
	}
}

func TestZipDir(t *testing.T) {
	src := t.TempDir()
	os.MkdirAll(filepath.Join(src, "bin"), 0o755)
	os.WriteFile(filepath.Join(src, "dl-fldigi-3.21_setup.exe"), []byte("MZ"), 0o644)
	os.WriteFile(filepath.Join(src, "bin", "readme.txt"), []byte("hello"), 0o644)

	dest := filepath.Join(t.TempDir(), "out.zip")
	if err := zipDir(src, dest); err != nil {
		t.Fatal(err)
	}
	r, err := zip.OpenReader(dest)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	got := map[string]string{}
	for _, f := range r.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		data, _ := io.ReadAll(rc)
		rc.Close()
		got[f.Name] = string(data)
	}
	if got["dl-fldigi-3.21_setup.exe"] != "MZ" || got["bin/readme.txt"] != "hello" || len(got) != 2 {
		t.Errorf("archive = %v", got)
	}
}

func TestOutputDir(t *testing.T) {
	dir, finish, err := outputDir("/srv/out")
	if err != nil || dir != "/srv/out" || finish(true) != nil {
		t.Fatalf("outputDir(dir) = %q, %v", dir, err)
	}

	dest := filepath.Join(t.TempDir(), "products.zip")
	dir, finish, err = outputDir(dest)
	if err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(dir, "a.exe"), []byte("MZ"), 0o644)
	if err := finish(true); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Errorf("archive not written: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("staging dir left behind: %v", err)
	}

	dest2 := filepath.Join(t.TempDir(), "failed.zip")
	dir, finish, _ = outputDir(dest2)
	if err := finish(false); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dest2); !os.IsNotExist(err) {
		t.Errorf("archive written for a failed build: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("staging dir left behind: %v", err)
	}
}

func TestPrintPkgConfigInfo(t *testing.T) {
	if _, err := exec.LookPath("pkg-config"); err != nil {
		t.Skip("pkg-config not found in PATH")
	}
	exports := t.TempDir()
	pc := `prefix=/w32/items/zlib
libdir=${prefix}/lib
includedir=${prefix}/include

Name: zlib
Description: zlib compression library
Version: 1.2.7
Libs: -L${libdir} -lz
Cflags: -I${includedir}
`
	if err := os.WriteFile(filepath.Join(exports, "zlib.pc"), []byte(pc), 0o644); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := printPkgConfigInfo(&buf, exports); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "zlib: ") || !strings.Contains(buf.String(), "-lz") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestPrintPkgConfigInfoNoExports(t *testing.T) {
	var buf bytes.Buffer
	if err := printPkgConfigInfo(&buf, t.TempDir()); err != nil {
		t.Errorf("empty exports: %v", err)
	}
	if err := printPkgConfigInfo(&buf, filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("missing exports dir did not fail")
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		recorded, declared, want string
	}{
		{"", "1.2.7", "not built"},
		{"1.2.7", "1.2.7", "up to date"},
		{"1.2.6", "1.2.7", "upgrade"},
		{"1.5.12", "1.5.9", "downgrade"},
		{"1.01", "1.1", "rebuild"},
		{"latest", "", "always rebuilt"},
	}
	for _, tt := range tests {
		if got := status(tt.recorded, tt.declared); got != tt.want {
			t.Errorf("status(%q, %q) = %q, want %q", tt.recorded, tt.declared, got, tt.want)
		}
	}
}

func TestPlanStatusCommand(t *testing.T) {
	root := filepath.Join(t.TempDir(), "root")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "plan", "status", "mingw", "-d", root)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "not built") {
		t.Errorf("fresh root status = %q", out)
	}

	s, err := state.Open(root)
	if err != nil {
		t.Fatal(err)
	}
	s.Record("zlib", "0.9")
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	out, err = execute(t, "plan", "status", "mingw", "-d", root)
	if err != nil {
		t.Fatal(err)
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "zlib ") && !strings.HasSuffix(line, "upgrade") {
			t.Errorf("zlib line = %q", line)
		}
	}
}
