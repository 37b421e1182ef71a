// Package event provides usage event types and the ingestion payload
// contract. All functions are pure - no side effects.
package event

import (
	"time"

	"github.com/artpar/agentmeter/domain/agent"
)

// Event represents a single recorded usage event (immutable value type).
// Events are created exactly once per accepted ingestion call and are
// never updated or deleted afterwards.
type Event struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	KeyID  string `json:"key_id"`

	// Seq is the per-user persistence sequence, assigned by the store at
	// insert time. Contiguous per user; live subscribers use it to detect
	// missed deliveries.
	Seq int64 `json:"seq"`

	EventType string         `json:"event_type"` // Producer-supplied label, e.g. "chat_message"
	AgentType agent.Category `json:"agent_type"` // Billing category derived from the agent hint
	Provider  string         `json:"provider"`   // Derived from the model version, never producer-supplied
	Model     string         `json:"model"`      // Producer-supplied model version, free text

	TokensUsed       int64 `json:"tokens_used"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`

	CostUSD float64 `json:"cost_usd"`

	ConversationID string         `json:"conversation_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"` // Persisted verbatim

	CreatedAt time.Time `json:"created_at"`
}

// Day returns the event's UTC calendar day as "YYYY-MM-DD".
// This is the bucket key for the daily cost series.
func (e Event) Day() string {
	return e.CreatedAt.UTC().Format("2006-01-02")
}

// EffectiveProvider returns the provider bucket key, defaulting to
// "unknown" when no provider was derived.
func (e Event) EffectiveProvider() string {
	if e.Provider == "" {
		return "unknown"
	}
	return e.Provider
}

// Payload is the producer-supplied ingestion body.
type Payload struct {
	EventType      string         `json:"event_type"`
	AgentName      string         `json:"agent_name,omitempty"`
	ModelVersion   string         `json:"model_version,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Validate checks the payload's required fields.
// Numeric fields are never required; absent token counts default to zero.
func (p Payload) Validate() *ErrorResponse {
	if p.EventType == "" {
		return &ErrMissingEventType
	}
	return nil
}

// TokenCounts extracts provider token-count fields from the payload
// metadata. Providers report counts under their own field names
// (totalTokenCount, promptTokenCount, candidatesTokenCount); anything
// absent or non-numeric counts as zero. Negative values clamp to zero.
func (p Payload) TokenCounts() (total, prompt, completion int64) {
	total = numField(p.Metadata, "totalTokenCount")
	prompt = numField(p.Metadata, "promptTokenCount")
	completion = numField(p.Metadata, "candidatesTokenCount")
	return total, prompt, completion
}

// Build constructs the Event recorded for a validated payload.
// Classification, pricing and provider derivation happen here; the caller
// supplies identity, ownership and time.
func Build(p Payload, id, userID, keyID string, now time.Time) Event {
	category, cost := agent.Classify(p.AgentName)
	total, prompt, completion := p.TokenCounts()

	return Event{
		ID:               id,
		UserID:           userID,
		KeyID:            keyID,
		EventType:        p.EventType,
		AgentType:        category,
		Provider:         agent.Provider(p.ModelVersion),
		Model:            p.ModelVersion,
		TokensUsed:       total,
		PromptTokens:     prompt,
		CompletionTokens: completion,
		CostUSD:          cost,
		ConversationID:   p.ConversationID,
		Metadata:         p.Metadata,
		CreatedAt:        now,
	}
}

// numField reads a numeric metadata field as int64.
// JSON decoding produces float64; maps built in Go may carry int types.
func numField(m map[string]any, field string) int64 {
	v, ok := m[field]
	if !ok {
		return 0
	}

	var n int64
	switch x := v.(type) {
	case float64:
		n = int64(x)
	case int:
		n = int64(x)
	case int64:
		n = x
	default:
		return 0
	}

	if n < 0 {
		return 0
	}
	return n
}
