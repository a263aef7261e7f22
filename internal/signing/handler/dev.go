package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"docsign-engine/backend/internal/platform/httpx"
)

// SampleDocumentPath serves a fixed document so development requests have something to hash.
const SampleDocumentPath = "/dev/documents/sample"

// SampleDocument is the content served at SampleDocumentPath.
var SampleDocument = []byte("%PDF-1.4\n% docsign development sample document\n1 0 obj << /Type /Catalog >> endobj\ntrailer << /Root 1 0 R >>\n%%EOF\n")

// DevRoutes mounts development helpers. Never mount them in production.
func (h *Handler) DevRoutes(r chi.Router) {
	r.Get("/dev/sign/{token}/otp", h.devOTP)
	r.Get(SampleDocumentPath, sampleDocument)
}

func (h *Handler) devOTP(w http.ResponseWriter, r *http.Request) {
	code, err := h.svc.DevOTP(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"otp": code})
}

func sampleDocument(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(SampleDocument)
}
