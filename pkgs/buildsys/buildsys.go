// Copyright (c) 2026 The XGo Authors (xgo.dev). All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package buildsys holds what the build helpers (Autotools, CMake) share:
// the lifecycle interface, the subprocess runner and environment helpers.
//
// Helpers never touch the process environment. Everything a dependency
// injects lands in the helper's own overlay, applied to the commands it
// starts and to nothing else.
package buildsys

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sort"
	"strings"
)

// BuildSystem captures shared capabilities of build helpers (CMake, Autotools, etc).
// It keeps the common lifecycle and dependency/env setup; implementations add their own extras.
type BuildSystem interface {
	// Use injects a built dependency into the environment.
	Use(dep Dep)

	// Basic paths.
	Source(dir string)
	InstallDir(dir string)

	// Environment helper.
	Env(key, val string)

	// Lifecycle.
	Configure(ctx context.Context, args ...string) error
	Build(ctx context.Context, args ...string) error
	Install(ctx context.Context, args ...string) error

	// Where artifacts land.
	OutputDir() string
}

// Dep is an already built package.
type Dep struct {
	Name string
	Dir  string // install area: include/, lib/, lib/pkgconfig/
}

// Command is one external tool invocation.
type Command struct {
	Tool  string
	Args  []string
	Dir   string
	Env   []string // complete environment; nil inherits the process environment
	Stdin io.Reader
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Tool}, c.Args...), " ")
}

// Runner starts commands and waits for them.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// CommandError reports a command that could not start or exited non-zero.
type CommandError struct {
	Command Command
	Err     error
	Output  string // tail of stderr when it was captured
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Command, e.Err)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Exec runs commands with os/exec. Nil writers discard output.
type Exec struct {
	Stdout io.Writer
	Stderr io.Writer
}

func (x Exec) Run(ctx context.Context, c Command) error {
	cmd := exec.CommandContext(ctx, c.Tool, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	cmd.Stdin = c.Stdin
	cmd.Stdout = x.Stdout
	var tail tailBuffer
	if x.Stderr != nil {
		cmd.Stderr = io.MultiWriter(x.Stderr, &tail)
	} else {
		cmd.Stderr = &tail
	}
	if err := cmd.Run(); err != nil {
		out := ""
		if x.Stderr == nil {
			out = tail.String()
		}
		return &CommandError{Command: c, Err: err, Output: out}
	}
	return nil
}

// tailBuffer keeps the last bytes written to it.
type tailBuffer struct {
	buf bytes.Buffer
}

const tailSize = 2048

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf.Write(p)
	if extra := t.buf.Len() - tailSize; extra > 0 {
		t.buf.Next(extra)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return strings.TrimSpace(t.buf.String())
}

// MergeEnv returns base with the override entries replacing or extending
// it, sorted by key.
func MergeEnv(base []string, override map[string]string) []string {
	envMap := make(map[string]string, len(base))
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok {
			envMap[k] = v
		}
	}
	for k, v := range override {
		envMap[k] = v
	}
	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+envMap[k])
	}
	return out
}

// Lookup returns the value of key in an environment list.
func Lookup(env []string, key string) string {
	for i := len(env) - 1; i >= 0; i-- {
		if k, v, ok := strings.Cut(env[i], "="); ok && k == key {
			return v
		}
	}
	return ""
}

// PrependEnv prepends a value to a list variable in overlay, falling back
// to base for the current value.
func PrependEnv(overlay map[string]string, base []string, key, value string) {
	sep := ":"
	if runtime.GOOS == "windows" {
		sep = ";"
	}
	current, ok := overlay[key]
	if !ok {
		current = Lookup(base, key)
	}
	if current == "" {
		overlay[key] = value
	} else {
		overlay[key] = value + sep + current
	}
}

// AppendFlag appends a flag to a space-separated list.
func AppendFlag(flags, flag string) string {
	return strings.TrimSpace(flags + " " + flag)
}
