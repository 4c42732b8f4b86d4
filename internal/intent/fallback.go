package intent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dealradar/dealradar/internal/geo"
)

var (
	fromToRe = regexp.MustCompile(`(?:from\s+)?([a-z][a-z\s]*?)\s+to\s+([a-z][a-z\s]*?)(?:\s+(?:on|for|in|under|next|with|during)\b|\s*$)`)
	toOnlyRe = regexp.MustCompile(`\b(?:to|in)\s+([a-z][a-z\s]*?)(?:\s+(?:on|for|under|next|with|during)\b|\s*$)`)
	budgetRe = regexp.MustCompile(`(?:budget\s+(?:of\s+)?|under\s+|for\s+)\$?(\d+)\s*(?:dollars?|usd)?\b`)
	partyRe  = regexp.MustCompile(`(\d+)\s+(?:people|persons?|passengers?|guests?|travellers?|travelers?|adults?)`)
	monthNames = `january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sep|oct|nov|dec`
	dateRe     = regexp.MustCompile(`(` + monthNames + `)\s+(\d{1,2})(?:st|nd|rd|th)?`)
	// "december 23rd to 25th" and "dec 30 to jan 2" forms
	dateRangeRe = regexp.MustCompile(`(` + monthNames + `)\s+(\d{1,2})(?:st|nd|rd|th)?\s*(?:to|-|until|through)\s*(?:(` + monthNames + `)\s+)?(\d{1,2})(?:st|nd|rd|th)?\b`)
)

var months = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

// queryWords are tokens the extractor must never mistake for a place.
var queryWords = map[string]bool{
	"find": true, "flight": true, "flights": true, "fly": true, "from": true,
	"plan": true, "trip": true, "show": true, "search": true, "cheap": true,
	"vacation": true, "hotel": true, "hotels": true, "stay": true, "me": true,
	"a": true, "the": true, "deal": true, "deals": true, "book": true,
	"go": true, "going": true, "travel": true, "next": true, "week": true,
	"weekend": true, "people": true, "person": true,
}

// Fallback extracts intent and entities with regexes and the alias table.
// Deterministic, always succeeds, confidence fixed at 0.5.
func Fallback(message string, now time.Time) *Result {
	lowered := strings.ToLower(strings.TrimSpace(message))
	var ent Entities

	if m := fromToRe.FindStringSubmatch(lowered); m != nil {
		ent.Origin = placeCode(m[1])
		ent.Destination = placeCode(m[2])
	}
	if ent.Destination == "" {
		if m := toOnlyRe.FindStringSubmatch(lowered); m != nil {
			ent.Destination = placeCode(m[1])
		}
	}

	if m := dateRangeRe.FindStringSubmatch(lowered); m != nil {
		ent.StartDate = resolveDate(m[1], m[2], now)
		endMonth := m[3]
		if endMonth == "" {
			endMonth = m[1]
		}
		ent.EndDate = resolveDate(endMonth, m[4], now)
	} else if m := dateRe.FindStringSubmatch(lowered); m != nil {
		ent.StartDate = resolveDate(m[1], m[2], now)
	}
	if m := partyRe.FindStringSubmatch(lowered); m != nil {
		ent.PartySize, _ = strconv.Atoi(m[1])
	}
	// strip party phrases first so "for 2 people" is never read as a budget
	if m := budgetRe.FindStringSubmatch(partyRe.ReplaceAllString(lowered, " ")); m != nil {
		ent.Budget, _ = strconv.ParseFloat(m[1], 64)
	}

	return &Result{
		Intent:     keywordIntent(lowered, ent.Budget > 0),
		Entities:   ent,
		Confidence: 0.5,
		Source:     "fallback",
	}
}

func keywordIntent(lowered string, hasBudget bool) string {
	has := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(lowered, w) {
				return true
			}
		}
		return false
	}
	switch {
	case has("track", "watch", "alert me", "notify"):
		return IntentTrack
	case has("cheaper", "less expensive", "instead", "what about"):
		return IntentRefine
	case has("flight", "fly", "plane"):
		return IntentSearchFlights
	case has("hotel", "stay", "room"):
		return IntentSearchHotels
	case has("trip", "vacation") && hasBudget:
		return IntentPlanTrip
	case has("deal", "cheap"):
		return IntentFindDeals
	default:
		return IntentGeneralInquiry
	}
}

// placeCode turns a captured place phrase into an airport code, or empty
// when the phrase is query noise. "cheap flights to dubai" captures "cheap
// flights" on the left of "to"; stripping query words leaves nothing, so no
// origin is extracted.
func placeCode(raw string) string {
	words := strings.Fields(raw)
	for len(words) > 0 && queryWords[words[0]] {
		words = words[1:]
	}
	for len(words) > 0 && queryWords[words[len(words)-1]] {
		words = words[:len(words)-1]
	}
	place := strings.Join(words, " ")
	if place == "" {
		return ""
	}
	if geo.KnownCity(place) || len(place) == 3 {
		return geo.ResolveCode(place)
	}
	return ""
}

// resolveDate picks the next occurrence of month/day relative to now.
func resolveDate(month, day string, now time.Time) string {
	m, ok := months[month]
	if !ok {
		return ""
	}
	d, err := strconv.Atoi(day)
	if err != nil || d < 1 || d > 31 {
		return ""
	}
	year := now.Year()
	candidate := time.Date(year, m, d, 0, 0, 0, 0, time.UTC)
	if candidate.Before(now.Truncate(24 * time.Hour)) {
		candidate = candidate.AddDate(1, 0, 0)
	}
	return fmt.Sprintf("%04d-%02d-%02d", candidate.Year(), candidate.Month(), candidate.Day())
}
