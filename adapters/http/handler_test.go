package http_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/artpar/agentmeter/adapters/clock"
	"github.com/artpar/agentmeter/adapters/hasher"
	httpadapter "github.com/artpar/agentmeter/adapters/http"
	"github.com/artpar/agentmeter/adapters/idgen"
	"github.com/artpar/agentmeter/adapters/memory"
	"github.com/artpar/agentmeter/adapters/metrics"
	"github.com/artpar/agentmeter/app"
	"github.com/artpar/agentmeter/domain/key"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const rawTestKey = "am_0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

type testEnv struct {
	handler http.Handler
	keys    *memory.KeyStore
	events  *memory.EventStore
	bus     *memory.Bus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		keys:   memory.NewKeyStore(),
		events: memory.NewEventStore(),
		bus:    memory.NewBus(),
	}
	t.Cleanup(func() { env.bus.Close() })

	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	ingest := app.NewIngestService(app.IngestDeps{
		Keys:    env.keys,
		Events:  env.events,
		Feed:    env.bus,
		Hasher:  hasher.Fake{},
		Clock:   clock.NewFake(baseTime),
		IDGen:   idgen.NewSequential("evt-"),
		Metrics: m,
		Logger:  zerolog.Nop(),
	}, "am_")
	dash := app.NewDashboardService(app.DashboardDeps{
		Events:  env.events,
		Feed:    env.bus,
		Metrics: m,
		Logger:  zerolog.Nop(),
	}, 0)

	env.handler = httpadapter.NewHandler(httpadapter.HandlerConfig{
		Ingest:  ingest,
		Dash:    dash,
		Metrics: m,
		Logger:  zerolog.Nop(),
		Version: "test",
	}).Router()

	env.keys.Create(context.Background(), key.Key{
		ID:        "key-1",
		UserID:    "user-1",
		Hash:      []byte(rawTestKey), // hasher.Fake compares plaintext
		Prefix:    rawTestKey[:key.PrefixLen],
		CreatedAt: baseTime.Add(-time.Hour),
	})
	return env
}

func doJSON(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRecordUsage(t *testing.T) {
	env := newTestEnv(t)

	body := `{
		"event_type": "api_call",
		"agent_name": "RAG",
		"model_version": "gemini-1.5-pro",
		"metadata": {"totalTokenCount": 500, "promptTokenCount": 420, "candidatesTokenCount": 80}
	}`
	w := doJSON(t, env.handler, "POST", "/api/usage", rawTestKey, body)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp httpadapter.RecordResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.AgentType != "RAG" {
		t.Errorf("AgentType = %s", resp.AgentType)
	}
	if resp.CostUSD != 0.08 {
		t.Errorf("CostUSD = %v", resp.CostUSD)
	}
	if resp.Seq != 1 {
		t.Errorf("Seq = %d", resp.Seq)
	}

	if env.events.Count() != 1 {
		t.Errorf("store has %d events", env.events.Count())
	}
}

func TestRecordUsage_AuthErrors(t *testing.T) {
	env := newTestEnv(t)
	body := `{"event_type": "api_call"}`

	cases := []struct {
		name        string
		token       string
		wantMessage string
	}{
		{"no header", "", "Missing or invalid authorization header. Use: Authorization: Bearer <api_key>"},
		{"unknown key", "am_ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff", "Invalid or inactive API key"},
		{"malformed key", "nope", "Invalid or inactive API key"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(t, env.handler, "POST", "/api/usage", tc.token, body)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d", w.Code)
			}
			var resp struct {
				Error struct {
					Code    string `json:"code"`
					Message string `json:"message"`
				} `json:"error"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Error.Message != tc.wantMessage {
				t.Errorf("message = %q, want %q", resp.Error.Message, tc.wantMessage)
			}
		})
	}

	if env.events.Count() != 0 {
		t.Error("unauthenticated request persisted an event")
	}
}

func TestRecordUsage_Validation(t *testing.T) {
	env := newTestEnv(t)

	w := doJSON(t, env.handler, "POST", "/api/usage", rawTestKey, `{"agent_name": "RAG"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "event_type is required") {
		t.Errorf("body = %s", w.Body.String())
	}

	w = doJSON(t, env.handler, "POST", "/api/usage", rawTestKey, `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed JSON status = %d", w.Code)
	}
}

func TestRecentUsage(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 5; i++ {
		w := doJSON(t, env.handler, "POST", "/api/usage", rawTestKey, `{"event_type": "api_call", "agent_name": "Search Agent"}`)
		if w.Code != http.StatusCreated {
			t.Fatalf("seed event %d: status %d", i, w.Code)
		}
	}

	w := doJSON(t, env.handler, "GET", "/api/usage?limit=3", rawTestKey, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp struct {
		Key struct {
			ID string `json:"id"`
		} `json:"key"`
		Events []struct {
			Seq int64 `json:"seq"`
		} `json:"events"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Key.ID == "" {
		t.Error("response key info is empty")
	}
	if len(resp.Events) != 3 {
		t.Fatalf("got %d events, want 3", len(resp.Events))
	}
	if resp.Events[0].Seq != 5 {
		t.Errorf("first event seq = %d, want newest", resp.Events[0].Seq)
	}

	// Without an explicit limit the default (100) applies, so all five
	// seeded events come back.
	w = doJSON(t, env.handler, "GET", "/api/usage", rawTestKey, "")
	if w.Code != http.StatusOK {
		t.Fatalf("default limit status = %d", w.Code)
	}
	var all struct {
		Events []json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &all); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(all.Events) != 5 {
		t.Errorf("default limit returned %d events, want all 5", len(all.Events))
	}

	w = doJSON(t, env.handler, "GET", "/api/usage?limit=bogus", rawTestKey, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", w.Code)
	}
	w = doJSON(t, env.handler, "GET", "/api/usage?limit=101", rawTestKey, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("over-max limit status = %d", w.Code)
	}
}

func TestDashboard(t *testing.T) {
	env := newTestEnv(t)

	payloads := []string{
		`{"event_type": "api_call", "agent_name": "RAG", "model_version": "gemini-1.5-pro"}`,
		`{"event_type": "api_call", "agent_name": "Quote", "model_version": "gpt-4"}`,
	}
	for _, p := range payloads {
		if w := doJSON(t, env.handler, "POST", "/api/usage", rawTestKey, p); w.Code != http.StatusCreated {
			t.Fatalf("seed: status %d", w.Code)
		}
	}

	w := doJSON(t, env.handler, "GET", "/api/dashboard", rawTestKey, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp map[string]json.RawMessage
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, field := range []string{"totals", "costByAgent", "costOverTime", "providerCosts", "recent"} {
		if _, ok := resp[field]; !ok {
			t.Errorf("response missing %q", field)
		}
	}

	var totals struct {
		Totals struct {
			TotalCost    float64 `json:"total_cost"`
			ActiveAgents int     `json:"active_agents"`
			TotalEvents  int64   `json:"total_events"`
		} `json:"totals"`
	}
	json.Unmarshal(w.Body.Bytes(), &totals)
	if totals.Totals.TotalEvents != 2 || totals.Totals.ActiveAgents != 2 {
		t.Errorf("totals = %+v", totals.Totals)
	}
	wantCost := 0.08 + 0.15
	if diff := totals.Totals.TotalCost - wantCost; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("TotalCost = %v, want %v", totals.Totals.TotalCost, wantCost)
	}

	if w := doJSON(t, env.handler, "GET", "/api/dashboard", "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated dashboard status = %d", w.Code)
	}
}

func TestHealthAndVersion(t *testing.T) {
	env := newTestEnv(t)

	w := doJSON(t, env.handler, "GET", "/healthz", "", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("healthz: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, env.handler, "GET", "/version", "", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "agentmeter") {
		t.Errorf("version: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, env.handler, "GET", "/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("metrics status = %d", w.Code)
	}
}

func TestDashboardStream(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.handler)
	defer server.Close()

	if w := doJSON(t, env.handler, "POST", "/api/usage", rawTestKey, `{"event_type": "api_call", "agent_name": "RAG"}`); w.Code != http.StatusCreated {
		t.Fatalf("seed: status %d", w.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, "GET", server.URL+"/api/dashboard/stream", nil)
	req.Header.Set("Authorization", "Bearer "+rawTestKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %s", ct)
	}

	reader := bufio.NewReader(resp.Body)
	first := readSnapshotEvent(t, reader)
	if first.Totals.TotalEvents != 1 {
		t.Errorf("initial snapshot TotalEvents = %d", first.Totals.TotalEvents)
	}

	// A newly ingested event must arrive as a fresh snapshot.
	if w := doJSON(t, env.handler, "POST", "/api/usage", rawTestKey, `{"event_type": "api_call", "agent_name": "Quote"}`); w.Code != http.StatusCreated {
		t.Fatalf("live event: status %d", w.Code)
	}

	second := readSnapshotEvent(t, reader)
	if second.Totals.TotalEvents != 2 {
		t.Errorf("live snapshot TotalEvents = %d", second.Totals.TotalEvents)
	}
	if second.Totals.ActiveAgents != 2 {
		t.Errorf("live snapshot ActiveAgents = %d", second.Totals.ActiveAgents)
	}
}

type streamSnapshot struct {
	Totals struct {
		TotalEvents  int64 `json:"total_events"`
		ActiveAgents int   `json:"active_agents"`
	} `json:"totals"`
}

// readSnapshotEvent reads lines until one SSE snapshot event is complete.
func readSnapshotEvent(t *testing.T, reader *bufio.Reader) streamSnapshot {
	t.Helper()
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var snap streamSnapshot
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &snap); err != nil {
			t.Fatalf("decode snapshot: %v", err)
		}
		return snap
	}
}
