package http

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/dealradar/dealradar/internal/domain"
	"github.com/dealradar/dealradar/internal/persistence"
)

func (s *Server) handlePreferencesGet(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user"]
	pref, err := s.store.Preferences.Get(r.Context(), userID)
	if errors.Is(err, persistence.ErrNotFound) {
		respondError(w, http.StatusNotFound, "no preferences for user")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("preference lookup failed")
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, pref)
}

func (s *Server) handlePreferencesPut(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user"]

	var prefs domain.Preferences
	if err := decodeJSON(r, &prefs); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	existing, err := s.store.Preferences.Get(r.Context(), userID)
	if errors.Is(err, persistence.ErrNotFound) {
		existing = &domain.UserPreference{UserID: userID}
	} else if err != nil {
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	existing.Preferences = prefs

	if err := s.store.Preferences.Put(r.Context(), existing); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("preference save failed")
		respondError(w, http.StatusInternalServerError, "save failed")
		return
	}
	respondJSON(w, http.StatusOK, existing)
}
