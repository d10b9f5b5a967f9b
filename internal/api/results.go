// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleResult serves a published evidence image.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	path, err := s.results.Resolve(chi.URLParam(r, "name"))
	if err != nil {
		writeProblem(w, r, http.StatusNotFound, "NOT_FOUND", "result not found")
		return
	}
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeFile(w, r, path)
}
