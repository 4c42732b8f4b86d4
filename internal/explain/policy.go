package explain

import (
	"context"
	"strings"

	"github.com/dealradar/dealradar/internal/cache"
	"github.com/dealradar/dealradar/internal/llm"
)

// airlinePolicies holds per-carrier answers, checked before the general KB.
var airlinePolicies = map[string]map[string]string{
	"delta": {
		"baggage":      "Delta: first checked bag $30, second $40, carry-on included.",
		"change":       "Delta has eliminated change fees on most fares; only the fare difference applies.",
		"cancellation": "Delta: free cancellation for eCredits, full refund within 24 hours of booking.",
	},
	"united": {
		"baggage":      "United: first checked bag $35, second $45, carry-on included.",
		"change":       "United has eliminated change fees on most fares; only the fare difference applies.",
		"cancellation": "United: eCredits issued for cancellations, full refund within 24 hours of booking.",
	},
	"american": {
		"baggage":      "American: first checked bag $30, second $40, carry-on included.",
		"change":       "American has eliminated change fees on most fares; only the fare difference applies.",
		"cancellation": "American: flight credits issued, full refund within 24 hours of booking.",
	},
	"southwest": {
		"baggage":      "Southwest: two free checked bags and carry-on included.",
		"change":       "Southwest has no change fees; only the fare difference applies.",
		"cancellation": "Southwest: no cancellation fees, reusable travel credits issued.",
	},
	"spirit": {
		"baggage":      "Spirit: first checked bag $41, second $46, carry-on $55 (not included).",
		"change":       "Spirit charges a $90 change fee plus any fare difference.",
		"cancellation": "Spirit: $90 cancellation fee, remainder issued as credit.",
	},
	"jetblue": {
		"baggage":      "JetBlue: first checked bag $35, second $45, carry-on included.",
		"change":       "JetBlue has eliminated change fees on most fares; only the fare difference applies.",
		"cancellation": "JetBlue: credits issued for cancellations, full refund within 24 hours of booking.",
	},
}

const (
	policyFlightCancellation = "Most airlines allow free cancellation within 24 hours of booking. " +
		"Basic Economy tickets are typically non-refundable; refundable tickets can be canceled anytime " +
		"with a full refund, and non-refundable tickets may offer credit for future travel. " +
		"Premium cabins usually have more flexible terms."
	policyHotelCancellation = "Standard hotel rates allow free cancellation 24-48 hours before check-in. " +
		"Non-refundable rates cannot be canceled or changed, luxury properties often require 72 hours or " +
		"more notice, and no-shows are charged in full."
	policyCarryOn = "Carry-on bags are typically limited to 22\" x 14\" x 9\" plus one personal item. " +
		"Liquids must be in 3.4oz (100ml) containers inside one quart bag. Basic Economy may not include " +
		"overhead bin access."
	policyChecked = "Most airlines charge $30-35 for the first checked bag on domestic flights, with a " +
		"50 lb (23 kg) weight limit and 62 linear inch size limit. Overweight fees run $75-200. Premium " +
		"cabins include additional free bags."
	policyBaggageFees = "Baggage fees vary by airline. Southwest allows two free checked bags; most " +
		"other airlines charge $30-35 for the first bag and $40-45 for the second. Budget carriers like " +
		"Spirit also charge for carry-on bags."
	policyChangeFees = "Most major airlines have eliminated change fees for domestic flights; you only " +
		"pay the fare difference. Basic Economy tickets are usually non-changeable."
	policyFlightChanges = "Same-day flight changes usually cost $75-100. The fare difference always " +
		"applies when moving to a higher fare. Premium tickets often change free; Basic Economy " +
		"typically cannot be changed."
	policyHotelChanges = "Hotel date and room changes are usually allowed subject to availability, with " +
		"the new rate applying. Guest name changes are often free."
	policyRefunds = "Refunds take 7-20 business days back to the original payment method. Travel " +
		"credits are issued immediately and are typically valid for one year. Hotel refunds take 5-10 " +
		"business days."
	policy24Hour = "US regulations require airlines to allow free cancellation within 24 hours of " +
		"booking if the flight is at least 7 days away, including non-refundable fares."
)

var knownAirlines = []string{"delta", "united", "american", "southwest", "spirit", "jetblue"}

// PolicyAnswerer answers travel-policy questions from the knowledge base,
// falling back to the text model for anything the KB does not cover.
type PolicyAnswerer struct {
	model llm.Client
	cache cache.Cache
}

// NewPolicyAnswerer creates the Q&A layer.
func NewPolicyAnswerer(model llm.Client, c cache.Cache) *PolicyAnswerer {
	return &PolicyAnswerer{model: model, cache: c}
}

// Answer resolves one question. Airline-specific matches win over the
// general KB; model answers are used only when neither matches. Answers are
// cached for a day.
func (p *PolicyAnswerer) Answer(ctx context.Context, question string) (string, error) {
	key := cache.Key("policy", question)
	if cached, err := p.cache.Get(ctx, key); err == nil {
		return string(cached), nil
	}

	answer := lookupPolicy(question)
	if answer == "" {
		out, err := p.model.Generate(ctx,
			"Answer this travel policy question clearly and concisely (2-3 sentences).\n\nQuestion: "+question,
			llm.Options{Temperature: 0.3, MaxTokens: 150})
		if err != nil {
			return "I'm unable to answer that question at the moment. Please try rephrasing or check with the provider directly.", nil
		}
		answer = out
	}

	_ = p.cache.Set(ctx, key, []byte(answer), cache.TTLPolicy)
	return answer, nil
}

// lookupPolicy is the deterministic KB match. Empty means no KB hit.
func lookupPolicy(question string) string {
	q := strings.ToLower(question)
	has := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(q, w) {
				return true
			}
		}
		return false
	}

	// airline-specific questions take priority
	for _, airline := range knownAirlines {
		if !strings.Contains(q, airline) {
			continue
		}
		switch {
		case has("baggage", "bag", "luggage"):
			return airlinePolicies[airline]["baggage"]
		case has("change", "modify"):
			return airlinePolicies[airline]["change"]
		case has("cancel"):
			return airlinePolicies[airline]["cancellation"]
		}
	}

	switch {
	case has("baggage", "bag", "luggage", "carry", "checked"):
		switch {
		case has("fee", "cost", "how much"):
			return policyBaggageFees
		case has("carry"):
			return policyCarryOn
		default:
			return policyChecked
		}
	case has("cancel"):
		if has("hotel") {
			return policyHotelCancellation
		}
		return policyFlightCancellation
	case has("change", "modify"):
		switch {
		case has("fee"):
			return policyChangeFees
		case has("hotel"):
			return policyHotelChanges
		default:
			return policyFlightChanges
		}
	case has("refund", "money back"):
		return policyRefunds
	case strings.Contains(q, "24") && has("hour", "free"):
		return policy24Hour
	}
	return ""
}
