// Package templates loads a directory of pongo2 (Jinja-style) templates
// into an Environment and hands out consistent snapshots of it.
//
// A Store owns exactly one current Environment behind an atomic pointer.
// Readers call Acquire and always see a complete snapshot. Reload builds
// a brand new Environment off to the side and publishes it in a single
// pointer swap, or keeps the previous one if any template fails to parse.
package templates

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flosch/pongo2/v6"

	apperrors "github.com/conneroisu/tmplserve/internal/errors"
	"github.com/conneroisu/tmplserve/internal/logging"
	"github.com/conneroisu/tmplserve/internal/watcher"
)

// DefaultExtension is the suffix of files treated as templates.
const DefaultExtension = ".html"

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger.WithComponent("templates")
		}
	}
}

// WithExtension overrides DefaultExtension.
func WithExtension(ext string) Option {
	return func(s *Store) {
		ext = strings.TrimSpace(ext)
		if ext == "" {
			return
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		s.ext = ext
	}
}

// WithGlobals makes vars visible to every template in every generation.
// Per-render data takes precedence.
func WithGlobals(vars pongo2.Context) Option {
	return func(s *Store) {
		s.globals = pongo2.Context{}
		s.globals.Update(vars)
	}
}

// Store is the process-wide template state.
type Store struct {
	root    string
	ext     string
	logger  logging.Logger
	globals pongo2.Context

	current atomic.Pointer[Environment]

	// reloadMu serializes builds so there is a single writer.
	reloadMu   sync.Mutex
	generation uint64

	subsMu      sync.RWMutex
	subscribers []func(*Environment)
}

// New loads every template under root. Files that fail to parse do not
// fail construction; their errors are recorded and returned by Get.
func New(root string, opts ...Option) (*Store, error) {
	s := &Store{
		root:   filepath.Clean(root),
		ext:    DefaultExtension,
		logger: logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	env, err := s.build(s.generation + 1)
	if err != nil {
		return nil, err
	}
	s.publish(env)

	for name, perr := range env.failures {
		s.logger.Warn(context.Background(), perr, "Template failed to parse", "template", name)
	}
	s.logger.Info(context.Background(), "Templates loaded",
		"root", s.root,
		"templates", len(env.templates),
		"failures", len(env.failures))

	return s, nil
}

// Root returns the template directory.
func (s *Store) Root() string { return s.root }

// Extension returns the template file suffix.
func (s *Store) Extension() string { return s.ext }

// Acquire returns the current environment. It never blocks on a reload.
func (s *Store) Acquire() (*Environment, error) {
	env := s.current.Load()
	if env == nil {
		return nil, apperrors.NewEnvironmentError(apperrors.ErrCodeNoEnvironment, "no template environment loaded", nil)
	}
	return env, nil
}

// Render acquires the current environment, looks up name and renders it.
func (s *Store) Render(name string, data pongo2.Context) (string, error) {
	env, err := s.Acquire()
	if err != nil {
		return "", err
	}
	tpl, err := env.Get(name)
	if err != nil {
		return "", err
	}
	return tpl.Render(data)
}

// Subscribe registers fn to run after every successful environment swap.
// fn runs on the reload path and must not block.
func (s *Store) Subscribe(fn func(*Environment)) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Reload re-parses the whole template root. The new environment is
// published only when every template parsed; otherwise the previous one
// stays current and the parse errors are returned.
func (s *Store) Reload() (*Environment, error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	env, err := s.build(s.generation + 1)
	if err != nil {
		return nil, err
	}

	if len(env.failures) > 0 {
		errs := make([]error, 0, len(env.failures))
		for _, name := range slices.Sorted(maps.Keys(env.failures)) {
			errs = append(errs, apperrors.NewTemplateParseError(name, env.failures[name]))
		}
		return nil, fmt.Errorf("reload rejected, keeping generation %d: %w", s.generation, errors.Join(errs...))
	}

	s.publish(env)
	s.logger.Info(context.Background(), "Templates reloaded",
		"generation", env.generation,
		"templates", len(env.templates))

	s.subsMu.RLock()
	subs := s.subscribers
	s.subsMu.RUnlock()
	for _, fn := range subs {
		fn(env)
	}

	return env, nil
}

// Watch reloads the store whenever fw reports a change under the template
// root. fw must not have been started yet; Watch starts it.
func (s *Store) Watch(ctx context.Context, fw *watcher.FileWatcher) error {
	fw.AddFilter(watcher.ExtensionFilter(s.ext))
	fw.AddFilter(watcher.NoHiddenFilter)
	fw.AddFilter(watcher.NoGitFilter)

	if err := fw.AddRecursive(s.root); err != nil {
		return apperrors.NewEnvironmentError(apperrors.ErrCodeWatchFailed, "unable to watch template root", err)
	}

	fw.AddHandler(func(events []watcher.ChangeEvent) error {
		s.logger.Debug(ctx, "Template change detected", "events", len(events))
		_, err := s.Reload()
		return err
	})

	if err := fw.Start(ctx); err != nil {
		return apperrors.NewEnvironmentError(apperrors.ErrCodeWatchFailed, "unable to start watcher", err)
	}
	return nil
}

// must hold reloadMu
func (s *Store) publish(env *Environment) {
	s.generation = env.generation
	s.current.Store(env)
}

func (s *Store) build(generation uint64) (*Environment, error) {
	info, err := os.Stat(s.root)
	if err != nil {
		return nil, apperrors.NewIOError(apperrors.ErrCodeWalkFailed, "template root is not readable", err)
	}
	if !info.IsDir() {
		return nil, apperrors.NewIOError(apperrors.ErrCodeWalkFailed,
			fmt.Sprintf("template root %s is not a directory", s.root), nil)
	}

	loader, err := pongo2.NewLocalFileSystemLoader(s.root)
	if err != nil {
		return nil, apperrors.NewIOError(apperrors.ErrCodeWalkFailed, "unable to create template loader", err)
	}

	// A fresh set per build so nothing cached leaks between generations.
	set := pongo2.NewSet(fmt.Sprintf("tmplserve-%d", generation), loader)
	if s.globals != nil {
		set.Globals.Update(s.globals)
	}

	env := &Environment{
		generation: generation,
		root:       s.root,
		set:        set,
		templates:  make(map[string]*Template),
		failures:   make(map[string]error),
	}

	names, err := s.scan()
	if err != nil {
		return nil, err
	}

	for _, name := range names {
		tpl, perr := set.FromFile(name)
		if perr != nil {
			env.failures[name] = perr
			continue
		}
		env.templates[name] = &Template{name: name, tpl: tpl}
	}
	env.loadedAt = time.Now()

	return env, nil
}

// scan lists template files under root as slash separated relative paths.
func (s *Store) scan() ([]string, error) {
	var names []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && path != s.root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || filepath.Ext(path) != s.ext {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, apperrors.NewIOError(apperrors.ErrCodeWalkFailed, "unable to scan template root", err)
	}
	return names, nil
}
