package handlers

import "net/http"

// NewRouter wires the API routes. Go 1.22 method patterns handle the method
// dispatch; unknown paths fall through to the catch-all.
func NewRouter(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/render", h.HandleRender)
	mux.HandleFunc("GET /v1/profiles", h.HandleProfiles)
	mux.HandleFunc("GET /healthz", h.HandleHealth)

	// Wrong-method hits on known paths should say so rather than 404.
	mux.HandleFunc("/v1/render", h.HandleMethodNotAllowed)
	mux.HandleFunc("/v1/profiles", h.HandleMethodNotAllowed)
	mux.HandleFunc("/healthz", h.HandleMethodNotAllowed)

	mux.HandleFunc("/", h.HandleNotFound)

	return mux
}
