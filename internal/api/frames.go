package api

import (
	"errors"
	"net/http"

	"github.com/smazurov/camnode/internal/types"
)

// handleFrames upgrades GET /ws/frames?uri= to a websocket carrying one
// binary message per frame. It sits outside Huma, so auth is checked here.
func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	if s.options.AuthUsername != "" && s.options.AuthPassword != "" {
		user, pass, err := credentials(r.Header.Get("Authorization"), r.URL.Query().Get("auth"))
		if err != nil || user != s.options.AuthUsername || pass != s.options.AuthPassword {
			w.Header().Set("WWW-Authenticate", authRealm)
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}
	}

	uri := r.URL.Query().Get("uri")
	if uri == "" {
		http.Error(w, "uri is required", http.StatusBadRequest)
		return
	}

	if err := s.host.ServeFrames(uri, w, r); err != nil {
		var domainErr *types.Error
		switch {
		case errors.Is(err, types.ErrDeviceNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.As(err, &domainErr):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			// The upgrader has already replied.
			s.logger.Debug("Websocket upgrade failed", "uri", uri, "error", err)
		}
	}
}
