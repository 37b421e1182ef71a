// Package snapshot provides the derived dashboard aggregate for one user
// and the two ways of computing it: a full build over the complete event
// history and an incremental per-event update. Both are pure functions;
// the incremental path is an algebraic shortcut that must always agree
// with a full rebuild over the same history.
package snapshot

import (
	"github.com/artpar/agentmeter/domain/agent"
	"github.com/artpar/agentmeter/domain/event"
)

// RecentLimit caps the recent-activity list.
const RecentLimit = 20

// Totals holds the headline dashboard numbers.
type Totals struct {
	TotalCost    float64 `json:"total_cost"`
	TotalTokens  int64   `json:"total_tokens"`
	ActiveAgents int     `json:"active_agents"`
	TotalEvents  int64   `json:"total_events"`
}

// AgentBucket accumulates cost and event count for one billing category.
type AgentBucket struct {
	Cost   float64 `json:"cost"`
	Events int64   `json:"events"`
}

// Activity is one entry of the recent-activity feed.
type Activity struct {
	ID         string         `json:"id"`
	AgentType  agent.Category `json:"agent_name"`
	CostUSD    float64        `json:"cost_usd"`
	TokensUsed int64          `json:"tokens_used"`
	Provider   string         `json:"provider"`
	CreatedAt  string         `json:"created_at"`
}

// Snapshot is the derived aggregate view for one user at a point in time.
// It owns no identity of its own: it is rebuilt from history or advanced
// one event at a time, and replaced wholesale on each change.
//
// Invariants: Totals.TotalCost equals the sum of CostByAgent costs, of
// CostByProvider values, and of CostByDay values; Totals.TotalEvents
// equals the sum of CostByAgent event counts; Totals.ActiveAgents equals
// len(CostByAgent); Recent holds at most RecentLimit entries newest-first.
type Snapshot struct {
	Totals         Totals                         `json:"totals"`
	CostByAgent    map[agent.Category]AgentBucket `json:"costByAgent"`
	CostByDay      map[string]float64             `json:"costOverTime"`
	CostByProvider map[string]float64             `json:"providerCosts"`
	Recent         []Activity                     `json:"recent"`
}

// Empty returns a zero snapshot with initialized buckets.
func Empty() Snapshot {
	return Snapshot{
		CostByAgent:    make(map[agent.Category]AgentBucket),
		CostByDay:      make(map[string]float64),
		CostByProvider: make(map[string]float64),
		Recent:         []Activity{},
	}
}

// Build computes the snapshot from a user's complete event history in a
// single pass. Events must be in persistence order (oldest first), which
// is how the store returns them.
// This is a PURE function and the correctness reference for Apply.
func Build(events []event.Event) Snapshot {
	s := Empty()

	for _, e := range events {
		s.Totals.TotalCost += e.CostUSD
		s.Totals.TotalTokens += e.TokensUsed
		s.Totals.TotalEvents++

		bucket := s.CostByAgent[e.AgentType]
		bucket.Cost += e.CostUSD
		bucket.Events++
		s.CostByAgent[e.AgentType] = bucket

		s.CostByDay[e.Day()] += e.CostUSD
		s.CostByProvider[e.EffectiveProvider()] += e.CostUSD
	}

	// Active agents is the cardinality of the agent map, never a
	// separately maintained counter.
	s.Totals.ActiveAgents = len(s.CostByAgent)

	// Recent feed: the last RecentLimit events, newest first.
	start := len(events) - RecentLimit
	if start < 0 {
		start = 0
	}
	for i := len(events) - 1; i >= start; i-- {
		s.Recent = append(s.Recent, toActivity(events[i]))
	}

	return s
}

// Apply advances a snapshot by one newly recorded event without
// re-reading history. Equivalent to rebuilding from the full history
// including e. The input snapshot is not mutated.
// This is a PURE function and must never perform I/O.
func Apply(s Snapshot, e event.Event) Snapshot {
	out := clone(s)

	out.Totals.TotalCost += e.CostUSD
	out.Totals.TotalTokens += e.TokensUsed
	out.Totals.TotalEvents++

	if _, seen := out.CostByAgent[e.AgentType]; !seen {
		out.Totals.ActiveAgents++
	}
	bucket := out.CostByAgent[e.AgentType]
	bucket.Cost += e.CostUSD
	bucket.Events++
	out.CostByAgent[e.AgentType] = bucket

	out.CostByDay[e.Day()] += e.CostUSD
	out.CostByProvider[e.EffectiveProvider()] += e.CostUSD

	recent := make([]Activity, 0, len(out.Recent)+1)
	recent = append(recent, toActivity(e))
	recent = append(recent, out.Recent...)
	if len(recent) > RecentLimit {
		recent = recent[:RecentLimit]
	}
	out.Recent = recent

	return out
}

func toActivity(e event.Event) Activity {
	return Activity{
		ID:         e.ID,
		AgentType:  e.AgentType,
		CostUSD:    e.CostUSD,
		TokensUsed: e.TokensUsed,
		Provider:   e.EffectiveProvider(),
		CreatedAt:  e.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

func clone(s Snapshot) Snapshot {
	out := Snapshot{
		Totals:         s.Totals,
		CostByAgent:    make(map[agent.Category]AgentBucket, len(s.CostByAgent)),
		CostByDay:      make(map[string]float64, len(s.CostByDay)),
		CostByProvider: make(map[string]float64, len(s.CostByProvider)),
		Recent:         append([]Activity{}, s.Recent...),
	}
	for k, v := range s.CostByAgent {
		out.CostByAgent[k] = v
	}
	for k, v := range s.CostByDay {
		out.CostByDay[k] = v
	}
	for k, v := range s.CostByProvider {
		out.CostByProvider[k] = v
	}
	return out
}
