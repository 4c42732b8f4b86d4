// Package intent turns free-text user queries into structured search
// intents. The primary path asks the external text model; its output is
// validated hard and anything suspicious falls through to a deterministic
// regex extractor, so the service answers sensibly with the model down.
package intent

// Intent names produced by the parser.
const (
	IntentSearch         = "search"
	IntentSearchFlights  = "search_flights"
	IntentSearchHotels   = "search_hotels"
	IntentPlanTrip       = "plan_trip"
	IntentFindDeals      = "find_deals"
	IntentQuestion       = "question"
	IntentRefine         = "refine"
	IntentTrack          = "track"
	IntentGeneralInquiry = "general_inquiry"
)

// Entities are the structured slots extracted from a query.
type Entities struct {
	Origin      string   `json:"origin,omitempty"`
	Destination string   `json:"destination,omitempty"`
	StartDate   string   `json:"start_date,omitempty"`
	EndDate     string   `json:"end_date,omitempty"`
	Budget      float64  `json:"budget,omitempty"`
	PartySize   int      `json:"party_size,omitempty"`
	Preferences []string `json:"preferences,omitempty"`

	DirectOnly     bool   `json:"direct_only,omitempty"`
	TimePreference string `json:"time_preference,omitempty"`
}

// Result is one parsed query.
type Result struct {
	Intent     string   `json:"intent"`
	Entities   Entities `json:"entities"`
	Confidence float64  `json:"confidence"`
	Source     string   `json:"source"` // model, fallback, or cache
}
