package intent

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var refineBudgetRe = regexp.MustCompile(`\$?(\d{2,})\s*(?:dollars?|usd)?\b`)

var timeNow = time.Now

// Refine applies a refinement message on top of previously extracted
// entities, changing only what the refinement mentions. Deterministic; the
// merged entities keep the previous intent's context.
func Refine(previous Entities, refinement string) Entities {
	lowered := strings.ToLower(refinement)
	next := previous

	switch {
	case strings.Contains(lowered, "cheaper") || strings.Contains(lowered, "less expensive"):
		if m := refineBudgetRe.FindStringSubmatch(lowered); m != nil {
			next.Budget, _ = strconv.ParseFloat(m[1], 64)
		} else if previous.Budget > 0 {
			next.Budget = previous.Budget * 0.8
		}
	case strings.Contains(lowered, "budget"):
		if m := refineBudgetRe.FindStringSubmatch(lowered); m != nil {
			next.Budget, _ = strconv.ParseFloat(m[1], 64)
		}
	}

	if strings.Contains(lowered, "direct") || strings.Contains(lowered, "non-stop") ||
		strings.Contains(lowered, "nonstop") {
		next.DirectOnly = true
	}
	if strings.Contains(lowered, "morning") {
		next.TimePreference = "morning"
	} else if strings.Contains(lowered, "evening") {
		next.TimePreference = "evening"
	}

	// A refinement can also retarget the trip ("actually, to miami").
	fresh := Fallback(refinement, timeNow())
	if fresh.Entities.Destination != "" {
		next.Destination = fresh.Entities.Destination
	}
	if fresh.Entities.Origin != "" {
		next.Origin = fresh.Entities.Origin
	}
	if fresh.Entities.PartySize > 0 {
		next.PartySize = fresh.Entities.PartySize
	}
	return next
}
