package server

import (
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/conneroisu/tmplserve/internal/config"
	apperrors "github.com/conneroisu/tmplserve/internal/errors"
	"github.com/conneroisu/tmplserve/internal/logging"
)

// staticHandler serves the content root. Anything it cannot serve, along
// with the template directory and hidden files, gets the not-found
// document with status 404.
type staticHandler struct {
	root      string
	templates string
	notFound  string
	files     http.Handler
	logger    logging.Logger
}

func newStaticHandler(content config.ContentConfig, logger logging.Logger) (*staticHandler, error) {
	root, err := absPath(content.Root)
	if err != nil {
		return nil, err
	}
	templates, err := absPath(content.Templates)
	if err != nil {
		return nil, err
	}
	if strings.Contains(content.NotFound, "..") || filepath.IsAbs(content.NotFound) {
		return nil, apperrors.NewConfigError(apperrors.ErrCodeInvalidPath,
			fmt.Sprintf("not-found document %q must be relative to the content root", content.NotFound))
	}

	return &staticHandler{
		root:      root,
		templates: templates,
		notFound:  filepath.Join(root, filepath.FromSlash(content.NotFound)),
		files:     http.FileServer(http.Dir(root)),
		logger:    logger,
	}, nil
}

func (h *staticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	full, ok := h.resolve(r.URL.Path)
	if !ok {
		h.serveNotFound(w, r)
		return
	}

	info, err := os.Stat(full)
	if err != nil {
		h.serveNotFound(w, r)
		return
	}
	if info.IsDir() {
		if _, err := os.Stat(filepath.Join(full, "index.html")); err != nil {
			h.serveNotFound(w, r)
			return
		}
	}

	h.files.ServeHTTP(w, r)
}

// resolve maps a URL path onto the content root, rejecting hidden entries
// and anything inside the template directory.
func (h *staticHandler) resolve(urlPath string) (string, bool) {
	clean := path.Clean("/" + urlPath)
	for _, part := range strings.Split(clean, "/") {
		if strings.HasPrefix(part, ".") {
			return "", false
		}
	}

	full := filepath.Join(h.root, filepath.FromSlash(clean))
	if within(h.templates, full) {
		return "", false
	}
	return full, true
}

func within(dir, target string) bool {
	rel, err := filepath.Rel(dir, target)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// serveNotFound writes the not-found document, or a bare 404 if it is
// missing. It is read per request so edits show up without a restart.
func (h *staticHandler) serveNotFound(w http.ResponseWriter, r *http.Request) {
	body, err := os.ReadFile(h.notFound)
	if err != nil {
		h.logger.Warn(r.Context(), err, "Not-found document unavailable", "path", h.notFound)
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	if r.Method != http.MethodHead {
		_, _ = w.Write(body)
	}
}

func absPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", apperrors.NewIOError(apperrors.ErrCodeInvalidPath, fmt.Sprintf("unable to resolve %s", p), err)
	}
	return abs, nil
}
