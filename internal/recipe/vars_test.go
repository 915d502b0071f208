package recipe

import (
	"slices"
	"strings"
	"testing"
)

func testVars() *Vars {
	items := map[string]string{"zlib": "/ws/items/zlib"}
	return &Vars{
		Values: map[string]string{"prefix": "/ws/items/curl", "host": "i586-mingw32msvc"},
		Item: func(pkg string) (string, bool) {
			v, ok := items[pkg]
			return v, ok
		},
		Cache: func(key string) (string, bool) { return "/cache/" + key, key == "curl.tar.gz" },
		Env: func(name string) (string, bool) {
			if name == "HOME" {
				return "/home/builder", true
			}
			return "", false
		},
	}
}

func TestExpand(t *testing.T) {
	v := testVars()
	tests := []struct {
		in, want string
	}{
		{"--prefix=${prefix}", "--prefix=/ws/items/curl"},
		{"--with-zlib=${item:zlib}", "--with-zlib=/ws/items/zlib"},
		{"${host}-gcc ${host}-ar", "i586-mingw32msvc-gcc i586-mingw32msvc-ar"},
		{"${cache:curl.tar.gz}", "/cache/curl.tar.gz"},
		{"${env:HOME}/.w32", "/home/builder/.w32"},
		{"s/^int usleep/\\/\\//", "s/^int usleep/\\/\\//"},
		{"$(PREFIX)/lib $HOST", "$(PREFIX)/lib $HOST"},
	}
	for _, tt := range tests {
		got, err := v.Expand(tt.in)
		if err != nil {
			t.Errorf("Expand(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Expand(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExpandUnresolved(t *testing.T) {
	v := testVars()
	_, err := v.Expand("${item:openssl} ${missing} ${env:NOPE} ${other:x}")
	if err == nil {
		t.Fatal("Expand succeeded")
	}
	for _, ref := range []string{"item:openssl", "missing", "env:NOPE", "other:x"} {
		if !strings.Contains(err.Error(), ref) {
			t.Errorf("error %q does not mention %s", err, ref)
		}
	}
}

func TestExpandStepDoesNotModifyInput(t *testing.T) {
	v := testVars()
	st := Step{
		Kind:  Configure,
		Dir:   "src",
		Env:   map[string]string{"CC": "${host}-gcc"},
		Args:  []string{"--with-zlib=${item:zlib}"},
		Paths: []string{"${prefix}/share"},
	}
	got, err := v.ExpandStep(st)
	if err != nil {
		t.Fatal(err)
	}
	if got.Env["CC"] != "i586-mingw32msvc-gcc" {
		t.Errorf("Env[CC] = %q", got.Env["CC"])
	}
	if !slices.Equal(got.Args, []string{"--with-zlib=/ws/items/zlib"}) {
		t.Errorf("Args = %q", got.Args)
	}
	if !slices.Equal(got.Paths, []string{"/ws/items/curl/share"}) {
		t.Errorf("Paths = %q", got.Paths)
	}
	if st.Env["CC"] != "${host}-gcc" || st.Args[0] != "--with-zlib=${item:zlib}" || st.Paths[0] != "${prefix}/share" {
		t.Errorf("input step modified: %+v", st)
	}
}

func TestExpandStepError(t *testing.T) {
	v := testVars()
	_, err := v.ExpandStep(Step{Kind: Run, Tool: "sed", Args: []string{"${nope}"}})
	if err == nil || !strings.Contains(err.Error(), "run sed args") {
		t.Fatalf("ExpandStep error = %v", err)
	}
}
