package templates

import (
	"sort"
	"time"

	"github.com/flosch/pongo2/v6"

	apperrors "github.com/conneroisu/tmplserve/internal/errors"
)

// Environment is an immutable snapshot of every template under the root.
// Once published by a Store it is never modified, so it is safe to share
// between any number of concurrent renders.
type Environment struct {
	generation uint64
	loadedAt   time.Time
	root       string
	set        *pongo2.TemplateSet
	templates  map[string]*Template
	failures   map[string]error
}

// Template is a compiled template bound to the environment it came from.
type Template struct {
	name string
	tpl  *pongo2.Template
}

// Get returns the template registered under name, a slash separated path
// relative to the template root.
func (e *Environment) Get(name string) (*Template, error) {
	if tpl, ok := e.templates[name]; ok {
		return tpl, nil
	}
	if err, ok := e.failures[name]; ok {
		return nil, apperrors.NewTemplateParseError(name, err)
	}
	return nil, apperrors.NewTemplateNotFoundError(name)
}

// Generation increases by one with every published environment.
func (e *Environment) Generation() uint64 { return e.generation }

// LoadedAt is when the snapshot finished parsing.
func (e *Environment) LoadedAt() time.Time { return e.loadedAt }

// Root is the directory the snapshot was loaded from.
func (e *Environment) Root() string { return e.root }

// Names lists the templates that parsed successfully, sorted.
func (e *Environment) Names() []string {
	names := make([]string, 0, len(e.templates))
	for name := range e.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Failures returns a copy of the parse error recorded for each broken file.
func (e *Environment) Failures() map[string]error {
	out := make(map[string]error, len(e.failures))
	for name, err := range e.failures {
		out[name] = err
	}
	return out
}

// Name returns the template's registered name.
func (t *Template) Name() string { return t.name }

// Render executes the template against ctx. On failure nothing is
// returned besides the error.
func (t *Template) Render(ctx pongo2.Context) (string, error) {
	if ctx == nil {
		ctx = pongo2.Context{}
	}
	out, err := t.tpl.Execute(ctx)
	if err != nil {
		return "", apperrors.NewRenderError(t.name, err)
	}
	return out, nil
}
