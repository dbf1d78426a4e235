package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/daniacca/membranedb/internal/psystem"
)

func releaseSystem() *SystemBuilder {
	return NewSystem("release").
		Model("transition").
		Skin(1, 1).
		Membrane(2, 2, 1).
		Initial(1, Objects{"resource": 5}).
		Initial(2, Objects{"trigger": 1, "resource": 3}).
		Rule(
			NewRule(1).Consume("resource", 1).Produce("product", 1),
			NewRule(2).Name("burst").Consume("trigger", 1).Produce("product", 2).Dissolve(),
		)
}

func TestSystemBuilder(t *testing.T) {
	cfg := releaseSystem().Build()

	if cfg.Name != "release" || cfg.Model != "transition" {
		t.Errorf("Expected release/transition, got %s/%s", cfg.Name, cfg.Model)
	}
	if len(cfg.Membranes) != 2 || cfg.Membranes[1].Parent != 1 {
		t.Errorf("Unexpected membranes: %+v", cfg.Membranes)
	}
	if cfg.Initial["2"]["resource"] != 3 || cfg.Initial["1"]["resource"] != 5 {
		t.Errorf("Unexpected initial multisets: %v", cfg.Initial)
	}
	if len(cfg.Rules) != 2 {
		t.Fatalf("Expected 2 rules, got %d", len(cfg.Rules))
	}
	if cfg.Rules[1].Name != "burst" || !cfg.Rules[1].Dissolve || cfg.Rules[1].RHS["product"] != 2 {
		t.Errorf("Unexpected second rule: %+v", cfg.Rules[1])
	}
	if err := psystem.ValidateSystemConfig(cfg); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}
}

func TestSystemBuilder_InitialAccumulates(t *testing.T) {
	cfg := NewSystem("acc").Skin(1, 1).
		Initial(1, Objects{"a": 1}).
		Initial(1, Objects{"a": 2, "b": 1}).
		Build()
	if cfg.Initial["1"]["a"] != 3 || cfg.Initial["1"]["b"] != 1 {
		t.Errorf("Expected {a:3, b:1}, got %v", cfg.Initial["1"])
	}
}

func TestRuleBuilder_Targets(t *testing.T) {
	tests := []struct {
		name    string
		rule    *RuleBuilder
		target  string
		label   *int
		id      *int
		wantErr bool
	}{
		{"default", NewRule(1).Consume("a", 1), "", nil, nil, false},
		{"here", NewRule(1).Consume("a", 1).Here(), "here", nil, nil, false},
		{"out", NewRule(1).Consume("a", 1).Out(), "out", nil, nil, false},
		{"in label", NewRule(1).Consume("a", 1).In(2), "in", intPtr(2), nil, false},
		{"in id", NewRule(1).Consume("a", 1).InMembrane(3), "in", nil, intPtr(3), false},
		{"last wins", NewRule(1).Consume("a", 1).In(2).Out(), "out", nil, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.rule.Build()
			if cfg.Target != tt.target {
				t.Errorf("Expected target %q, got %q", tt.target, cfg.Target)
			}
			if !equalPtr(cfg.TargetLabel, tt.label) || !equalPtr(cfg.TargetID, tt.id) {
				t.Errorf("Unexpected target refs: label=%v id=%v", cfg.TargetLabel, cfg.TargetID)
			}
		})
	}
}

func TestRuleBuilder_BuildCopies(t *testing.T) {
	rb := NewRule(1).Consume("a", 1).Produce("b", 1)
	first := rb.Build()
	rb.Consume("a", 1)
	if first.LHS["a"] != 1 {
		t.Errorf("Expected built config to be independent of the builder, got a=%d", first.LHS["a"])
	}
	if NewRule(1).Consume("a", 1).Build().RHS != nil {
		t.Error("Expected nil right-hand side when nothing is produced")
	}
}

func TestSystemBuilder_Compile(t *testing.T) {
	sys, err := releaseSystem().Compile()
	if err != nil {
		t.Fatalf("Failed to compile: %v", err)
	}
	result := psystem.Simulate(sys, 10, false)
	if !result.Halted || result.Steps != 2 {
		t.Errorf("Expected halt after 2 steps, got halted=%t steps=%d", result.Halted, result.Steps)
	}
	if got := result.Final.Multiset(1).Count("product"); got != 10 {
		t.Errorf("Expected product{10}, got %d", got)
	}

	_, err = NewSystem("bad").Skin(1, 1).Rule(NewRule(1)).Compile()
	var verr *psystem.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("Expected ValidationError for an empty left-hand side, got %v", err)
	}
}

func intPtr(v int) *int { return &v }

func equalPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// fakeServer records requests and answers with canned JSON.
type fakeServer struct {
	t        *testing.T
	requests []string
	bodies   map[string]string
	replies  map[string]string
}

func newFakeServer(t *testing.T) (*fakeServer, *Client) {
	f := &fakeServer{t: t, bodies: map[string]string{}, replies: map[string]string{}}
	ts := httptest.NewServer(f)
	t.Cleanup(ts.Close)
	return f, New(ts.URL, WithHTTPClient(ts.Client()))
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.URL.Path
	f.requests = append(f.requests, key+"?"+r.URL.RawQuery)
	body, _ := io.ReadAll(r.Body)
	f.bodies[key] = r.Header.Get("Content-Type") + "|" + string(body)

	reply, ok := f.replies[key]
	if !ok {
		http.Error(w, "environment not found", http.StatusNotFound)
		return
	}
	_, _ = w.Write([]byte(reply))
}

func TestClient_LoadSystem(t *testing.T) {
	f, c := newFakeServer(t)
	f.replies["POST /env/prod/system"] = "system loaded"

	if err := c.LoadSystem(context.Background(), "prod", releaseSystem()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	ct, body, _ := strings.Cut(f.bodies["POST /env/prod/system"], "|")
	if ct != "application/json" {
		t.Errorf("Expected application/json, got %q", ct)
	}
	var cfg psystem.SystemConfig
	if err := json.Unmarshal([]byte(body), &cfg); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if cfg.Name != "release" || len(cfg.Rules) != 2 {
		t.Errorf("Unexpected system sent: %+v", cfg)
	}

	if err := c.LoadSource(context.Background(), "prod", "def x() { }"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !strings.HasPrefix(f.bodies["POST /env/prod/system"], "text/plain") {
		t.Errorf("Expected text/plain for DSL source, got %q", f.bodies["POST /env/prod/system"])
	}
}

func TestClient_StepAndState(t *testing.T) {
	f, c := newFakeServer(t)
	f.replies["POST /env/e/step"] = `{
		"report": {"step": 1, "firings": [{"membrane": 1, "rule": 0, "count": 5}], "dissolved": [2], "discarded": {}},
		"halted": false,
		"configuration": {"step": 1, "active": [1], "multisets": {"1": {"product": 7, "resource": 3}}}
	}`
	f.replies["GET /env/e/configuration"] = `{"configuration": {"step": 1, "active": [1], "multisets": {"1": {"product": 7}}}, "halted": true, "running": false}`

	res, err := c.Step(context.Background(), "e")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if res.Report.Step != 1 || res.Report.Fired() != 5 || len(res.Report.Dissolved) != 1 {
		t.Errorf("Unexpected report: %+v", res.Report)
	}
	if res.Configuration.Objects(1)["product"] != 7 {
		t.Errorf("Expected product{7}, got %v", res.Configuration.Objects(1))
	}
	if res.Configuration.Objects(2) != nil {
		t.Errorf("Expected no objects for membrane 2, got %v", res.Configuration.Objects(2))
	}

	st, err := c.State(context.Background(), "e")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !st.Halted || st.Running || st.Configuration.Step != 1 {
		t.Errorf("Unexpected state: %+v", st)
	}
}

func TestClient_InjectAndSimulate(t *testing.T) {
	f, c := newFakeServer(t)
	f.replies["POST /env/e/inject"] = "ok"
	f.replies["POST /env/e/simulate"] = `{"run_id": "r1", "final_config": {"step": 2, "active": [1], "multisets": {"1": {"product": 10}}}, "steps": 2, "halted": true}`

	if err := c.Inject(context.Background(), "e", 2, Objects{"a": 3}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	_, body, _ := strings.Cut(f.bodies["POST /env/e/inject"], "|")
	if body != `{"membrane":2,"objects":{"a":3}}` {
		t.Errorf("Unexpected inject body: %s", body)
	}

	res, err := c.Simulate(context.Background(), "e", 50, true)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if res.RunID != "r1" || res.Steps != 2 || !res.Halted || res.Final.Objects(1)["product"] != 10 {
		t.Errorf("Unexpected result: %+v", res)
	}
	last := f.requests[len(f.requests)-1]
	if last != "POST /env/e/simulate?max_steps=50&trace=true" {
		t.Errorf("Unexpected request: %s", last)
	}
}

func TestClient_Errors(t *testing.T) {
	_, c := newFakeServer(t)

	_, err := c.Step(context.Background(), "missing")
	var serr *StatusError
	if !errors.As(err, &serr) {
		t.Fatalf("Expected StatusError, got %v", err)
	}
	if serr.StatusCode != http.StatusNotFound || serr.Body != "environment not found" {
		t.Errorf("Unexpected status error: %+v", serr)
	}

	if err := c.DeleteEnvironment(context.Background(), "missing"); err == nil {
		t.Error("Expected error deleting a missing environment")
	}

	unreachable := New("http://127.0.0.1:1")
	if err := unreachable.Reset(context.Background(), "e"); err == nil {
		t.Error("Expected error for an unreachable server")
	}
}

func TestClient_Environments(t *testing.T) {
	f, c := newFakeServer(t)
	f.replies["GET /envs"] = `{"environments": ["b", "a"]}`

	ids, err := c.Environments(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("Expected [a b], got %v", ids)
	}
}
