package prompts

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"toolmesh/internal/descriptor"
	stderrors "toolmesh/internal/errors"
)

// Lookuper is the subset of *registry.Registry a Handler needs: looking up
// a registered prompt by name. Kept as an interface so handler tests don't
// need a live registry.
type Lookuper interface {
	Lookup(kind descriptor.Kind, name string) (*descriptor.RegistryEntry, error)
}

// Handler serves prompt rendering over HTTP.
type Handler struct {
	reg Lookuper
}

// New constructs a prompt render handler bound to reg.
func New(reg Lookuper) *Handler {
	return &Handler{reg: reg}
}

type renderRequest struct {
	Variables map[string]interface{} `json:"variables"`
	Context   map[string]interface{} `json:"context"`
}

type renderResponse struct {
	Rendered string `json:"rendered"`
}

// HandleRender implements POST /prompts/{name}/render: looks up the named
// prompt, validates and substitutes variables/context into its template,
// and returns the rendered text.
func (h *Handler) HandleRender(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	entry, err := h.reg.Lookup(descriptor.KindPrompt, name)
	if err != nil {
		writeError(w, err)
		return
	}

	var req renderRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err.Error() != "EOF" {
			writeError(w, stderrors.NewInvalidInput("malformed request body", nil))
			return
		}
	}

	rendered, err := entry.PromptBody(req.Variables, req.Context)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(renderResponse{Rendered: rendered})
}

func writeError(w http.ResponseWriter, err error) {
	se, ok := err.(*stderrors.StandardError)
	if !ok {
		se = stderrors.NewInternal(err.Error())
	}
	stderrors.WriteHTTPError(w, se)
}
