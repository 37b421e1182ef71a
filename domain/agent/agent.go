// Package agent provides billing classification for AI agent usage events.
// All functions are pure - no side effects, no I/O.
package agent

import "strings"

// Category is a billing category for an agent.
// Each event is priced by a flat per-event rate for its category.
type Category string

const (
	SDR        Category = "SDR Agent"
	Marketing  Category = "Marketing Agent"
	Search     Category = "Search Agent"
	WebScraper Category = "WebScraper"
	RAG        Category = "RAG"
	Quote      Category = "Quote"
	Other      Category = "Other"
)

// costPerEvent is the flat USD price charged per event for each category.
var costPerEvent = map[Category]float64{
	SDR:        0.05,
	Marketing:  0.10,
	Search:     0.02,
	WebScraper: 0.03,
	RAG:        0.08,
	Quote:      0.15,
	Other:      0.01,
}

// aliases maps lowercased producer-supplied agent names to categories.
// Adding a category or alias is a data change here, not new branch logic.
var aliases = map[string]Category{
	"sdr agent":       SDR,
	"marketing agent": Marketing,
	"search agent":    Search,
	"webscraper":      WebScraper,
	"web-scraper":     WebScraper,
	"scraper":         WebScraper,
	"rag":             RAG,
	"quote":           Quote,
}

// Normalize maps a free-text agent name to its billing category.
// Matching is case-insensitive exact matching against the alias table.
// Unmatched or empty input maps to Other; this never fails.
func Normalize(name string) Category {
	if c, ok := aliases[strings.ToLower(name)]; ok {
		return c
	}
	return Other
}

// Cost returns the per-event USD price for a category.
// Unknown categories price as Other.
func Cost(c Category) float64 {
	if price, ok := costPerEvent[c]; ok {
		return price
	}
	return costPerEvent[Other]
}

// Classify resolves an agent name to its category and per-event cost.
func Classify(name string) (Category, float64) {
	c := Normalize(name)
	return c, Cost(c)
}

// Categories returns all billing categories.
func Categories() []Category {
	return []Category{SDR, Marketing, Search, WebScraper, RAG, Quote, Other}
}

// Provider derives a provider identifier from a model version string.
// Producers supply model identifiers but not provider identifiers, so the
// provider is inferred by prefix on a lowercased copy of the model string.
func Provider(model string) string {
	m := strings.ToLower(model)
	switch {
	case m == "":
		return "unknown"
	case strings.HasPrefix(m, "gemini"):
		return "google"
	case strings.HasPrefix(m, "gpt"):
		return "openai"
	case strings.HasPrefix(m, "claude"):
		return "anthropic"
	default:
		return "other"
	}
}
