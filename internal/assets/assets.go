// Package assets locates the engine binaries and the variant rules file.
package assets

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"fishnet/internal/common/fsutil"
	"fishnet/internal/engine"
	"fishnet/internal/notation"
)

// Default executable names looked up on PATH when nothing is configured.
const (
	OfficialName     = "stockfish"
	MultiVariantName = "fairy-stockfish"
)

// Candidate is an engine executable found in a directory.
type Candidate struct {
	Name   string
	Path   string
	Flavor notation.Flavor
}

// Scan lists executables in dir whose name starts with a known engine name.
// Fairy-Stockfish builds are multi-variant, every other stockfish build is official.
func Scan(dir string) ([]Candidate, error) {
	abs, err := fsutil.Resolve(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var out []Candidate
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		lower := strings.ToLower(name)
		p := filepath.Join(abs, name)
		if !fsutil.IsExecutable(p) {
			continue
		}
		switch {
		case strings.HasPrefix(lower, MultiVariantName):
			out = append(out, Candidate{Name: name, Path: p, Flavor: notation.FlavorMultiVariant})
		case strings.HasPrefix(lower, OfficialName):
			out = append(out, Candidate{Name: name, Path: p, Flavor: notation.FlavorOfficial})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Engines are the resolved executables per flavor.
type Engines map[notation.Flavor]string

// Resolve finds the engine for each flavor. Explicit settings win; otherwise
// dirs are scanned in order, then PATH is searched. A missing official
// engine is a dependency error; a missing multi-variant engine is not.
func Resolve(officialBin, multiVariantBin string, dirs []string) (Engines, error) {
	found := Engines{}
	for _, d := range dirs {
		cands, err := Scan(d)
		if err != nil {
			continue
		}
		for _, c := range cands {
			if _, ok := found[c.Flavor]; !ok {
				found[c.Flavor] = c.Path
			}
		}
	}
	out := Engines{}
	official, err := pick(officialBin, found[notation.FlavorOfficial], OfficialName)
	if err != nil {
		return nil, engine.ErrDependencyUnavailable("official engine: " + err.Error())
	}
	out[notation.FlavorOfficial] = official
	if mv, err := pick(multiVariantBin, found[notation.FlavorMultiVariant], MultiVariantName); err == nil {
		out[notation.FlavorMultiVariant] = mv
	} else if multiVariantBin != "" {
		return nil, engine.ErrDependencyUnavailable("multi-variant engine: " + err.Error())
	}
	return out, nil
}

func pick(configured, scanned, name string) (string, error) {
	if configured != "" {
		return executable(configured)
	}
	if scanned != "" {
		return scanned, nil
	}
	p, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH", name)
	}
	return fsutil.Resolve(p)
}

// executable resolves a configured engine: a bare name goes through PATH, a
// path must point at an executable file.
func executable(name string) (string, error) {
	if !strings.ContainsRune(name, os.PathSeparator) && !strings.HasPrefix(name, "~") {
		p, err := exec.LookPath(name)
		if err != nil {
			return "", fmt.Errorf("%s not found in PATH", name)
		}
		return fsutil.Resolve(p)
	}
	p, err := fsutil.Resolve(name)
	if err != nil {
		return "", err
	}
	if !fsutil.IsExecutable(p) {
		return "", fmt.Errorf("%s is not an executable file", p)
	}
	return p, nil
}

// RulesFile resolves the optional variant rules file.
func RulesFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	p, err := fsutil.Resolve(path)
	if err != nil {
		return "", err
	}
	if !fsutil.PathExists(p) {
		return "", fmt.Errorf("variant rules file %s does not exist", p)
	}
	return p, nil
}
