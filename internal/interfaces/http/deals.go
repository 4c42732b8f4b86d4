package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/dealradar/dealradar/internal/cache"
	"github.com/dealradar/dealradar/internal/domain"
	"github.com/dealradar/dealradar/internal/persistence"
)

// handleDealSearch lists active deals. Responses are cached briefly; the
// same filter within the window never hits the store twice.
func (s *Server) handleDealSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := persistence.DealFilter{
		Type:        domain.DealType(q.Get("type")),
		Origin:      q.Get("origin"),
		Destination: q.Get("destination"),
	}
	if v := q.Get("min_score"); v != "" {
		filter.MinScore, _ = strconv.ParseFloat(v, 64)
	}
	if v := q.Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}

	key := cache.Key("deal_search",
		string(filter.Type), filter.Origin, filter.Destination,
		strconv.FormatFloat(filter.MinScore, 'f', -1, 64),
		strconv.Itoa(filter.Limit))
	if cached, err := s.cache.Get(r.Context(), key); err == nil {
		s.metrics.CacheHits.WithLabelValues("deal_search").Inc()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(cached)
		return
	}
	s.metrics.CacheMisses.WithLabelValues("deal_search").Inc()

	deals, err := s.store.Deals.List(r.Context(), filter)
	if err != nil {
		s.log.Error().Err(err).Msg("deal search failed")
		respondError(w, http.StatusInternalServerError, "search failed")
		return
	}

	body, err := json.Marshal(map[string]any{"deals": deals, "count": len(deals)})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "encoding failed")
		return
	}
	if err := s.cache.Set(r.Context(), key, body, cache.TTLDealSearch); err != nil {
		s.log.Warn().Err(err).Msg("failed to cache deal search")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleDealGet(w http.ResponseWriter, r *http.Request) {
	dealID := mux.Vars(r)["id"]
	deal, err := s.store.Deals.Get(r.Context(), dealID)
	if errors.Is(err, persistence.ErrNotFound) {
		respondError(w, http.StatusNotFound, "deal not found")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("deal_id", dealID).Msg("deal lookup failed")
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, deal)
}

func (s *Server) handleDealExplain(w http.ResponseWriter, r *http.Request) {
	dealID := mux.Vars(r)["id"]
	deal, err := s.store.Deals.Get(r.Context(), dealID)
	if errors.Is(err, persistence.ErrNotFound) {
		respondError(w, http.StatusNotFound, "deal not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	explanation, err := s.engine.ExplainDeal(r.Context(), deal)
	if err != nil {
		s.log.Error().Err(err).Str("deal_id", dealID).Msg("explanation failed")
		respondError(w, http.StatusInternalServerError, "explanation failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"deal_id":     dealID,
		"explanation": explanation,
	})
}
