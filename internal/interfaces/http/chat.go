package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/dealradar/dealradar/internal/domain"
	"github.com/dealradar/dealradar/internal/intent"
	"github.com/dealradar/dealradar/internal/persistence"
	"github.com/dealradar/dealradar/internal/planner"
)

type chatRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

type chatResponse struct {
	Intent   string            `json:"intent"`
	Entities intent.Entities   `json:"entities"`
	Source   string            `json:"source"`
	Deals    []domain.Deal     `json:"deals,omitempty"`
	Plans    []domain.TripPlan `json:"plans,omitempty"`
	Answer   string            `json:"answer,omitempty"`
}

// handleChat is the conversational entry point: parse the message, then
// route the parsed intent to the matching search surface.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil || req.Message == "" {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.UserID == "" {
		req.UserID = "anonymous"
	}

	result, err := s.parser.Parse(r.Context(), req.UserID, req.Message)
	if err != nil {
		s.log.Error().Err(err).Msg("intent parse failed")
		respondError(w, http.StatusInternalServerError, "parse failed")
		return
	}

	resp := chatResponse{Intent: result.Intent, Entities: result.Entities, Source: result.Source}
	switch result.Intent {
	case intent.IntentSearchFlights:
		resp.Deals = s.searchByEntities(r.Context(), domain.DealTypeFlight, &result.Entities)
	case intent.IntentSearchHotels:
		resp.Deals = s.searchByEntities(r.Context(), domain.DealTypeHotel, &result.Entities)
	case intent.IntentSearch, intent.IntentFindDeals:
		resp.Deals = s.searchByEntities(r.Context(), "", &result.Entities)
	case intent.IntentPlanTrip:
		plans, err := s.planner.Plan(r.Context(), &planner.Request{
			UserID:      req.UserID,
			Origin:      result.Entities.Origin,
			Destination: result.Entities.Destination,
			Budget:      result.Entities.Budget,
			PartySize:   result.Entities.PartySize,
			Preferences: result.Entities.Preferences,
			StartDate:   result.Entities.StartDate,
			EndDate:     result.Entities.EndDate,
		})
		if err != nil {
			s.log.Warn().Err(err).Msg("chat trip planning failed")
		} else {
			resp.Plans = plans
		}
	case intent.IntentQuestion:
		answer, err := s.policy.Answer(r.Context(), req.Message)
		if err != nil {
			s.log.Warn().Err(err).Msg("policy answer failed")
		} else {
			resp.Answer = answer
		}
	case intent.IntentRefine:
		merged := s.refinedEntities(r.Context(), req.UserID, req.Message, result.Entities)
		resp.Entities = merged
		resp.Deals = s.searchByEntities(r.Context(), "", &merged)
	case intent.IntentTrack:
		resp.Deals = s.searchByEntities(r.Context(), "", &result.Entities)
		resp.Answer = s.trackBestMatch(r.Context(), req.UserID, resp.Deals)
	}

	s.rememberPreferences(r.Context(), req.UserID, &resp.Entities)
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) searchByEntities(ctx context.Context, dealType domain.DealType, e *intent.Entities) []domain.Deal {
	deals, err := s.store.Deals.List(ctx, persistence.DealFilter{
		Type:        dealType,
		Origin:      e.Origin,
		Destination: e.Destination,
		Limit:       10,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("chat deal search failed")
		return nil
	}
	if e.Budget > 0 {
		filtered := deals[:0]
		for _, d := range deals {
			if d.Price <= e.Budget {
				filtered = append(filtered, d)
			}
		}
		deals = filtered
	}
	return deals
}

// refinedEntities merges a refinement message onto the user's most recent
// parsed entities and re-runs the search with the delta applied. The parse
// already appended the current turn, so that row is skipped. With no usable
// history the refinement stands on its own.
func (s *Server) refinedEntities(ctx context.Context, userID, message string, current intent.Entities) intent.Entities {
	recent, err := s.store.Conversations.RecentByUser(ctx, userID, 10)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("conversation history load failed")
		return current
	}
	for i := range recent {
		if recent[i].Message == message || len(recent[i].Entities) == 0 {
			continue
		}
		return intent.Refine(intent.EntitiesFromMap(recent[i].Entities), message)
	}
	return current
}

// trackBestMatch registers a price watch on the best-matching deal at its
// current price, so any drop alerts the user.
func (s *Server) trackBestMatch(ctx context.Context, userID string, deals []domain.Deal) string {
	if userID == "anonymous" || len(deals) == 0 {
		return ""
	}
	deal := &deals[0]
	threshold := deal.Price
	watch := &domain.PriceWatch{
		WatchID:        uuid.NewString(),
		UserID:         userID,
		DealID:         deal.DealID,
		PriceThreshold: &threshold,
		Active:         true,
	}
	if err := s.store.Watches.Create(ctx, watch); err != nil {
		if !errors.Is(err, persistence.ErrDuplicate) {
			s.log.Warn().Err(err).Str("deal_id", deal.DealID).Msg("chat watch create failed")
		}
		return ""
	}
	return fmt.Sprintf("Watching %s - you will be alerted when the price drops below %s",
		deal.Title, domain.FormatPrice(threshold))
}

// rememberPreferences updates the user profile from whatever the parse
// extracted. Best effort; profile writes never fail a chat request.
func (s *Server) rememberPreferences(ctx context.Context, userID string, e *intent.Entities) {
	if userID == "anonymous" {
		return
	}
	pref, err := s.store.Preferences.Get(ctx, userID)
	if errors.Is(err, persistence.ErrNotFound) {
		pref = &domain.UserPreference{UserID: userID}
	} else if err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("preference load failed")
		return
	}

	pref.SearchCount++
	if e.Budget > 0 {
		pref.Preferences.BudgetMax = e.Budget
	}
	if e.Destination != "" {
		pref.Preferences.RememberDestination(e.Destination)
		if e.Origin != "" {
			pref.Preferences.RememberRoute(e.Origin + "-" + e.Destination)
		}
	}
	if e.DirectOnly {
		pref.Preferences.DirectFlightsOnly = true
	}
	if e.TimePreference != "" {
		pref.Preferences.TimePreference = e.TimePreference
	}

	if err := s.store.Preferences.Put(ctx, pref); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("preference save failed")
	}
}

func (s *Server) handleTripPlan(w http.ResponseWriter, r *http.Request) {
	var req planner.Request
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// no destination means no destination filter; the planner bundles
	// across the whole inventory
	plans, err := s.planner.Plan(r.Context(), &req)
	if err != nil {
		s.log.Error().Err(err).Msg("trip planning failed")
		respondError(w, http.StatusInternalServerError, "planning failed")
		return
	}
	if len(plans) == 0 {
		respondError(w, http.StatusNotFound, "no bundles available for this trip")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"plans": plans, "count": len(plans)})
}

type policyRequest struct {
	Question string `json:"question"`
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	var req policyRequest
	if err := decodeJSON(r, &req); err != nil || req.Question == "" {
		respondError(w, http.StatusBadRequest, "question is required")
		return
	}
	answer, err := s.policy.Answer(r.Context(), req.Question)
	if err != nil {
		s.log.Error().Err(err).Msg("policy answer failed")
		respondError(w, http.StatusInternalServerError, "answer failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"answer": answer})
}
