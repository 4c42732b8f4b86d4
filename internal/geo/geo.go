// Package geo holds the airport and city alias tables shared by the trip
// planner and the intent parser.
package geo

import "strings"

// airportGroups expands one canonical code into the set of airports serving
// the same metro area.
var airportGroups = map[string][]string{
	"NRT": {"NRT", "HND"},
	"HND": {"NRT", "HND"},
	"JFK": {"JFK", "LGA", "EWR"},
	"LGA": {"JFK", "LGA", "EWR"},
	"EWR": {"JFK", "LGA", "EWR"},
	"ORD": {"ORD", "MDW"},
	"MDW": {"ORD", "MDW"},
}

// airportToCity maps an airport code to the upper-cased city name used for
// hotel city matching.
var airportToCity = map[string]string{
	"NRT": "TOKYO", "HND": "TOKYO",
	"JFK": "NEW YORK", "LGA": "NEW YORK", "EWR": "NEW YORK",
	"ORD": "CHICAGO", "MDW": "CHICAGO",
	"LAX": "LOS ANGELES", "SFO": "SAN FRANCISCO",
	"MIA": "MIAMI", "BOS": "BOSTON", "SEA": "SEATTLE",
	"LAS": "LAS VEGAS", "DEN": "DENVER", "ATL": "ATLANTA",
	"DFW": "DALLAS", "SJC": "SAN JOSE",
	"LHR": "LONDON", "CDG": "PARIS", "FRA": "FRANKFURT",
	"FCO": "ROME", "BCN": "BARCELONA", "AMS": "AMSTERDAM",
	"DXB": "DUBAI", "SIN": "SINGAPORE", "SYD": "SYDNEY",
	"BKK": "BANGKOK", "HKG": "HONG KONG",
	"MEX": "MEXICO CITY", "YYZ": "TORONTO", "YUL": "MONTREAL",
}

// cityToAirport maps free-text city names (and common abbreviations) to the
// canonical airport code.
var cityToAirport = map[string]string{
	"san francisco": "SFO", "sf": "SFO",
	"los angeles": "LAX", "la": "LAX",
	"new york": "JFK", "nyc": "JFK", "new york city": "JFK",
	"san jose": "SJC",
	"miami":    "MIA",
	"chicago":  "ORD",
	"boston":   "BOS",
	"seattle":  "SEA",
	"las vegas": "LAS", "vegas": "LAS",
	"denver":  "DEN",
	"atlanta": "ATL",
	"dallas":  "DFW",
	"london":  "LHR",
	"paris":   "CDG",
	"tokyo":   "NRT",
	"dubai":   "DXB",
	"singapore": "SIN",
	"sydney":    "SYD",
	"bangkok":   "BKK",
	"hong kong": "HKG",
	"barcelona": "BCN",
	"rome":      "FCO",
	"amsterdam": "AMS",
	"frankfurt": "FRA",
	"mexico city": "MEX",
	"toronto":     "YYZ",
	"montreal":    "YUL",
}

// ExpandAirports returns every airport code serving the destination. The
// input may be an airport code, a metro alias like NYC, or a city name;
// unknown codes expand to themselves.
func ExpandAirports(destination string) []string {
	code := ResolveCode(destination)
	if code == "" {
		return nil
	}
	if group, ok := airportGroups[code]; ok {
		return group
	}
	return []string{code}
}

// CityFor returns the upper-cased city name for an airport code or alias,
// used for hotel city substring matching. Unknown codes fall back to the
// input upper-cased.
func CityFor(destination string) string {
	code := ResolveCode(destination)
	if code == "" {
		return ""
	}
	if city, ok := airportToCity[code]; ok {
		return city
	}
	return code
}

// ResolveCode maps free text to an airport code: 3-letter inputs pass
// through upper-cased, known city names resolve via the alias table, and
// anything else returns upper-cased as-is.
func ResolveCode(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if code, ok := cityToAirport[strings.ToLower(s)]; ok {
		return code
	}
	return strings.ToUpper(s)
}

// KnownCity reports whether the string is a city name in the alias table.
func KnownCity(s string) bool {
	_, ok := cityToAirport[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// KnownAirport reports whether the code appears in the airport tables.
func KnownAirport(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	if _, ok := airportToCity[code]; ok {
		return true
	}
	_, ok := airportGroups[code]
	return ok
}

// CityNameAppearsIn reports whether any alias resolving to the same code as
// dest is textually present in the message. Used by intent validation to
// reject hallucinated destinations.
func CityNameAppearsIn(message, dest string) bool {
	lowered := strings.ToLower(message)
	code := ResolveCode(dest)
	if strings.Contains(strings.ToUpper(message), strings.ToUpper(dest)) {
		return true
	}
	for city, c := range cityToAirport {
		if c == code && strings.Contains(lowered, city) {
			return true
		}
	}
	return false
}
