package server

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"

	"github.com/flosch/pongo2/v6"

	apperrors "github.com/conneroisu/tmplserve/internal/errors"
)

// maxFormBytes caps the name form body.
const maxFormBytes = 1 << 20

const formMediaType = "application/x-www-form-urlencoded"

// HandleHome renders the home page with an empty context.
func (s *Server) HandleHome(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, HomeTemplate, pongo2.Context{})
}

// HandleName greets the submitted name. Sanitizer output is already
// escaped HTML, so it is handed to the template as a safe value and
// autoescape leaves it alone.
func (s *Server) HandleName(w http.ResponseWriter, r *http.Request) {
	name, err := decodeName(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.render(w, r, NameTemplate, pongo2.Context{"name": pongo2.AsSafeValue(s.sanitizer.Clean(name))})
}

type healthResponse struct {
	Status     string `json:"status"`
	Generation uint64 `json:"generation"`
}

// HandleHealth reports the generation of the current environment.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	status := http.StatusOK

	env, err := s.store.Acquire()
	if err != nil {
		s.errHandler.Handle(r.Context(), err)
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	} else {
		resp.Generation = env.Generation()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn(r.Context(), err, "Failed to encode health response")
	}
}

// decodeName reads the name field from a urlencoded body. A query string
// name does not count.
func decodeName(w http.ResponseWriter, r *http.Request) (string, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != formMediaType {
		return "", apperrors.NewValidationError(apperrors.ErrCodeUnsupportedMedia,
			"expected Content-Type "+formMediaType)
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", apperrors.NewValidationError(apperrors.ErrCodeBodyTooLarge, "form body too large")
		}
		return "", apperrors.NewValidationError(apperrors.ErrCodeFormInvalid, "malformed form body: "+err.Error())
	}

	values, ok := r.PostForm["name"]
	if !ok || len(values) == 0 {
		return "", apperrors.NewValidationError(apperrors.ErrCodeFieldMissing, "missing form field: name")
	}
	return values[0], nil
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, data pongo2.Context) {
	out, err := s.store.Render(name, data)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(out)); err != nil {
		s.logger.Debug(r.Context(), "Client went away mid-write", "template", name, "error", err.Error())
	}
}

// fail logs err and answers with a bare status.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.errHandler.Handle(r.Context(), err)
	w.WriteHeader(apperrors.HTTPStatus(err))
}
