// Package handlers provides HTTP handlers for the query builder API.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"corpus_dashboard/auth"
	"corpus_dashboard/config"
	"corpus_dashboard/query"
	"corpus_dashboard/templates"
)

// QueryDocsFile is the markdown file describing the query language.
const QueryDocsFile = "query-language.md"

var (
	mu       sync.RWMutex
	staticFS fs.FS
	docsFS   fs.FS
	store    *templates.Store
)

// SetEmbeddedFS sets the filesystems the index and docs handlers read from.
// A nil filesystem falls back to the working directory.
func SetEmbeddedFS(static, docs fs.FS) {
	mu.Lock()
	defer mu.Unlock()
	staticFS = static
	docsFS = docs
}

// SetTemplateStore sets the store used by the template handlers.
func SetTemplateStore(s *templates.Store) {
	mu.Lock()
	defer mu.Unlock()
	store = s
}

func templateStore() *templates.Store {
	mu.RLock()
	defer mu.RUnlock()
	return store
}

// maxQueryLength returns the configured input bound.
func maxQueryLength() int {
	if cfg := config.Get(); cfg != nil && cfg.MaxQueryLength > 0 {
		return cfg.MaxQueryLength
	}
	return config.DefaultMaxQueryLength
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// readBody reads a request body no larger than the configured limit.
// It writes the error response itself and returns false on failure.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	limit := maxQueryLength()
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(limit)))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body exceeds "+strconv.Itoa(limit)+" bytes")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	return data, true
}

// queryParam returns the q parameter, rejecting it when over the limit.
func queryParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	q := r.URL.Query().Get("q")
	if limit := maxQueryLength(); len(q) > limit {
		writeError(w, http.StatusRequestEntityTooLarge, "query exceeds "+strconv.Itoa(limit)+" bytes")
		return "", false
	}
	return q, true
}

// SerializeResponse is returned by SerializeHandler.
type SerializeResponse struct {
	Query      string           `json:"query"`
	Validation query.Validation `json:"validation"`
}

// SerializeHandler handles POST /api/query/serialize.
// The body is an element sequence; the reply is its query string and verdict.
func SerializeHandler(w http.ResponseWriter, r *http.Request) {
	data, ok := readBody(w, r)
	if !ok {
		return
	}

	var seq query.Sequence
	if err := json.Unmarshal(data, &seq); err != nil {
		writeError(w, http.StatusBadRequest, "invalid element sequence: "+err.Error())
		return
	}

	q := query.Serialize(seq)
	writeJSON(w, http.StatusOK, SerializeResponse{Query: q, Validation: query.Validate(q)})
}

// ParseHandler handles GET /api/query/parse?q=...
// With strict=1 the result carries the parser's diagnostics and is invalid
// whenever something was dropped.
func ParseHandler(w http.ResponseWriter, r *http.Request) {
	q, ok := queryParam(w, r)
	if !ok {
		return
	}

	result := query.Compile(q)
	if strict, _ := strconv.ParseBool(r.URL.Query().Get("strict")); !strict {
		result.Diagnostics = nil
		result.Valid = query.Validate(q).Valid
	}
	writeJSON(w, http.StatusOK, result)
}

// ValidateHandler handles GET /api/query/validate?q=...
func ValidateHandler(w http.ResponseWriter, r *http.Request) {
	q, ok := queryParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, query.Validate(q))
}

// ListTemplatesHandler handles GET /api/templates.
func ListTemplatesHandler(w http.ResponseWriter, r *http.Request) {
	s := templateStore()
	if s == nil {
		writeError(w, http.StatusServiceUnavailable, "template store not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.List())
}

// GetTemplateHandler handles GET /api/templates/{name}.
func GetTemplateHandler(w http.ResponseWriter, r *http.Request) {
	s := templateStore()
	if s == nil {
		writeError(w, http.StatusServiceUnavailable, "template store not configured")
		return
	}

	t, ok := s.Get(r.PathValue("name"))
	if !ok {
		writeError(w, http.StatusNotFound, templates.ErrNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// SaveTemplateHandler handles POST /api/templates. It answers 201 when the
// template is new and 200 when it replaced an existing one.
func SaveTemplateHandler(w http.ResponseWriter, r *http.Request) {
	s := templateStore()
	if s == nil {
		writeError(w, http.StatusServiceUnavailable, "template store not configured")
		return
	}

	data, ok := readBody(w, r)
	if !ok {
		return
	}
	var t templates.Template
	if err := json.Unmarshal(data, &t); err != nil {
		writeError(w, http.StatusBadRequest, "invalid template: "+err.Error())
		return
	}

	_, existed := s.Get(t.Name)
	user := auth.GetUserFromContext(r.Context()).DisplayName()
	saved, err := s.Save(t, user)
	switch {
	case errors.Is(err, templates.ErrInvalidName), errors.Is(err, templates.ErrInvalidQuery):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusCreated
	if existed {
		status = http.StatusOK
	}
	writeJSON(w, status, saved)
}

// DeleteTemplateHandler handles DELETE /api/templates/{name}.
func DeleteTemplateHandler(w http.ResponseWriter, r *http.Request) {
	s := templateStore()
	if s == nil {
		writeError(w, http.StatusServiceUnavailable, "template store not configured")
		return
	}

	user := auth.GetUserFromContext(r.Context()).DisplayName()
	err := s.Delete(r.PathValue("name"), user)
	switch {
	case errors.Is(err, templates.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// IndexHandler serves the editor page.
func IndexHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	mu.RLock()
	static := staticFS
	mu.RUnlock()

	if static == nil {
		http.ServeFile(w, r, "static/index.html")
		return
	}
	page, err := fs.ReadFile(static, "index.html")
	if err != nil {
		http.Error(w, "Editor page not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

// QueryDocsHandler handles GET /api/docs/query.
// It renders the query language documentation as HTML.
func QueryDocsHandler(w http.ResponseWriter, r *http.Request) {
	mu.RLock()
	docs := docsFS
	mu.RUnlock()

	var (
		mdContent []byte
		err       error
	)
	if docs != nil {
		mdContent, err = fs.ReadFile(docs, QueryDocsFile)
	} else {
		mdContent, err = os.ReadFile("docs/" + QueryDocsFile)
	}
	if err != nil {
		http.Error(w, "Documentation not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(RenderMarkdown(mdContent))
}

// RenderMarkdown converts markdown to HTML with heading anchors and links
// opening in a new tab.
func RenderMarkdown(md []byte) []byte {
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs | parser.NoEmptyLineBeforeBlock
	p := parser.NewWithExtensions(extensions)
	doc := p.Parse(md)

	opts := html.RendererOptions{Flags: html.CommonFlags | html.HrefTargetBlank}
	return markdown.Render(doc, html.NewRenderer(opts))
}
