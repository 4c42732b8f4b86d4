package http

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/dealradar/dealradar/internal/domain"
	"github.com/dealradar/dealradar/internal/persistence"
)

type watchCreateRequest struct {
	UserID             string   `json:"user_id"`
	DealID             string   `json:"deal_id"`
	PriceThreshold     *float64 `json:"price_threshold,omitempty"`
	InventoryThreshold *int     `json:"inventory_threshold,omitempty"`
}

func (s *Server) handleWatchCreate(w http.ResponseWriter, r *http.Request) {
	var req watchCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" || req.DealID == "" {
		respondError(w, http.StatusBadRequest, "user_id and deal_id are required")
		return
	}
	if req.PriceThreshold == nil && req.InventoryThreshold == nil {
		respondError(w, http.StatusBadRequest, "at least one threshold is required")
		return
	}

	if _, err := s.store.Deals.Get(r.Context(), req.DealID); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			respondError(w, http.StatusNotFound, "deal not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	watch := &domain.PriceWatch{
		WatchID:            uuid.NewString(),
		UserID:             req.UserID,
		DealID:             req.DealID,
		PriceThreshold:     req.PriceThreshold,
		InventoryThreshold: req.InventoryThreshold,
		Active:             true,
	}
	if err := s.store.Watches.Create(r.Context(), watch); err != nil {
		if errors.Is(err, persistence.ErrDuplicate) {
			respondError(w, http.StatusConflict, "watch already exists")
			return
		}
		s.log.Error().Err(err).Msg("watch create failed")
		respondError(w, http.StatusInternalServerError, "create failed")
		return
	}
	respondJSON(w, http.StatusCreated, watch)
}

func (s *Server) handleWatchList(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	watches, err := s.store.Watches.ListByUser(r.Context(), userID)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("watch list failed")
		respondError(w, http.StatusInternalServerError, "list failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"watches": watches, "count": len(watches)})
}

func (s *Server) handleWatchDelete(w http.ResponseWriter, r *http.Request) {
	watchID := mux.Vars(r)["id"]
	if err := s.store.Watches.Deactivate(r.Context(), watchID); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			respondError(w, http.StatusNotFound, "watch not found")
			return
		}
		s.log.Error().Err(err).Str("watch_id", watchID).Msg("watch delete failed")
		respondError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deactivated", "watch_id": watchID})
}
