// Package prompt serves the system prompts of the report agents. Built-in
// templates can be replaced per agent by dropping <name>.txt into the
// configured prompts directory.
package prompt

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Prompt names, one per agent type.
const (
	Center   = "center"
	Research = "research"
	NL2SQL   = "nl2sql"
	Chart    = "chart"
	Summary  = "summary"
)

var builtins = map[string]string{
	Center:   centerPrompt,
	Research: researchPrompt,
	NL2SQL:   nl2sqlPrompt,
	Chart:    chartPrompt,
	Summary:  summaryPrompt,
}

// Store resolves prompt templates. Override files are read on every call
// so edits apply to the next run. Safe for concurrent use.
type Store struct {
	dir string
}

// NewStore creates a Store reading overrides from dir. An empty dir
// disables overrides.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Template returns the raw template for name: the override file when it
// exists, else the built-in. Unknown names without an override return "".
func (s *Store) Template(name string) string {
	if s != nil && s.dir != "" {
		data, err := os.ReadFile(filepath.Join(s.dir, name+".txt"))
		switch {
		case err == nil:
			return string(data)
		case !errors.Is(err, fs.ErrNotExist):
			slog.Warn("Failed to read prompt override, using built-in",
				"prompt", name, "dir", s.dir, "error", err)
		}
	}
	return builtins[name]
}

// Render returns the template for name with every {key} in vars replaced.
// Placeholders without a value are left as they are.
func (s *Store) Render(name string, vars map[string]string) string {
	tmpl := s.Template(name)
	if len(vars) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
