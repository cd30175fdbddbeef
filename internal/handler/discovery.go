package handler

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Discovery computes the ordered candidate list for handler binding.
// Candidate locations, in priority order: an operator-specified override
// directory; an extensions/ subdirectory under every ancestor of the
// running executable; the executable's own directory and its parent; and
// cwd/extensions, unless the executable lives under a packaged dependency
// tree (any path element named node_modules), where a developer working
// directory must not leak in.
type Discovery struct {
	// Override, when non-empty, is searched ahead of the computed
	// locations.
	Override string
	// Exe and Cwd default from the running process when empty.
	Exe string
	Cwd string
}

// Candidate is a discovered script file, prior to binding.
type Candidate struct {
	Name string // base file name
	Path string // full path as discovered
}

// Candidates walks the candidate directories and returns the recognized
// script files sorted lexicographically by full path. Directories are
// deduplicated by resolved path; the running executable itself is excluded.
// Unreadable or absent directories are silently skipped.
func (d *Discovery) Candidates() []Candidate {
	exe := d.Exe
	if exe == "" {
		if p, err := os.Executable(); err == nil {
			exe = p
		}
	}
	resolvedExe := normalizePath(exe)
	cwd := d.Cwd
	if cwd == "" {
		cwd, _ = os.Getwd()
	}

	var dirs []string
	if d.Override != "" {
		dirs = append(dirs, d.Override)
	}
	if exe != "" {
		exeDir := filepath.Dir(exe)
		for dir := exeDir; ; dir = filepath.Dir(dir) {
			dirs = append(dirs, filepath.Join(dir, "extensions"))
			if filepath.Dir(dir) == dir {
				break
			}
		}
		dirs = append(dirs, exeDir, filepath.Dir(exeDir))
	}
	if cwd != "" && !underNodeModules(resolvedExe) {
		dirs = append(dirs, filepath.Join(cwd, "extensions"))
	}

	seen := make(map[string]struct{})
	var out []Candidate
	for _, dir := range dirs {
		resolved := normalizePath(dir)
		if resolved == "" {
			continue
		}
		if _, dup := seen[resolved]; dup {
			continue
		}
		seen[resolved] = struct{}{}
		out = append(out, scanDir(resolved, resolvedExe)...)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// scanDir lists the recognized script files in one directory.
func scanDir(dir, resolvedExe string) []Candidate {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []Candidate
	for _, e := range entries {
		if !recognizedExt(e.Name()) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if resolvedExe != "" && normalizePath(p) == resolvedExe {
			continue
		}
		out = append(out, Candidate{Name: e.Name(), Path: p})
	}
	return out
}

func recognizedExt(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".js", ".cjs", ".mjs":
		return true
	}
	return false
}

// normalizePath produces a stable identity for a path: absolute, cleaned,
// and with symlinks resolved when possible.
func normalizePath(p string) string {
	if p == "" {
		return ""
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return filepath.Clean(abs)
}

func underNodeModules(path string) bool {
	if path == "" {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == "node_modules" {
			return true
		}
	}
	return false
}
