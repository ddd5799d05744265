package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"SkillMesh-Registry/internal/anchor"
	"SkillMesh-Registry/internal/badge"
	"SkillMesh-Registry/internal/certification"
	"SkillMesh-Registry/internal/contribution"
	"SkillMesh-Registry/internal/reputation"
	"SkillMesh-Registry/internal/trust"
)

type testEnv struct {
	server    *Server
	handler   http.Handler
	ledger    *reputation.Ledger
	processor *contribution.Processor
	queue     *contribution.MemoryQueue
	events    *contribution.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repStore := reputation.NewMemoryStore()
	badgeStore := badge.NewMemoryStore()
	grantor := badge.NewGrantor(badgeStore)
	ledger := reputation.NewLedger(repStore,
		reputation.WithGrantor(grantor),
		reputation.WithMinTenure(0),
	)

	events := contribution.NewMemoryStore()
	queue := contribution.NewMemoryQueue(64)
	svc := contribution.NewService(events, queue, ledger)
	processor := contribution.NewProcessor(ledger, events, queue, queue)

	proposals := certification.NewManager(certification.NewMemoryStore(), ledger, grantor, certification.Config{})

	env := &testEnv{
		ledger:    ledger,
		processor: processor,
		queue:     queue,
		events:    events,
	}
	env.server = NewServer(":0", Deps{
		Ledger:        ledger,
		Badges:        grantor,
		Contributions: svc,
		Proposals:     proposals,
		TrustEngine:   trust.NewEngine(trust.Config{}),
		TrustApplier:  trust.NewApplier(ledger, 0),
	})
	env.handler = env.server.Handler()
	return env
}

// drain 同步消费队列中积压的事件，模拟处理器完成一轮处理。
func (e *testEnv) drain(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for {
		events, err := e.events.List(ctx, contribution.ListOptions{
			Statuses: []contribution.Status{contribution.StatusPending},
		})
		if err != nil {
			t.Fatalf("list pending events: %v", err)
		}
		if len(events) == 0 {
			return
		}
		for _, event := range events {
			if err := e.processor.Handle(ctx, event.ID); err != nil {
				t.Fatalf("handle event %s: %v", event.ID, err)
			}
		}
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestContributionRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/contributions", map[string]any{
		"agent_id": "agent-a",
		"delta":    3,
		"reason":   "published unit",
		"unit_id":  "unit-1",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit contribution: status %d body %s", rec.Code, rec.Body.String())
	}
	var event contribution.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.Status != contribution.StatusPending {
		t.Fatalf("event status = %s, want pending", event.Status)
	}

	env.drain(t)

	rec = env.do(t, http.MethodGet, "/api/v1/contributions/"+event.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get event: status %d", rec.Code)
	}
	var applied contribution.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &applied); err != nil {
		t.Fatalf("decode applied event: %v", err)
	}
	if applied.Status != contribution.StatusApplied {
		t.Fatalf("event status = %s, want applied", applied.Status)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/agents/agent-a/reputation", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get reputation: status %d body %s", rec.Code, rec.Body.String())
	}
	var record reputation.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record.Score != 3 || record.Contributions != 1 {
		t.Fatalf("unexpected record %+v", record)
	}
}

func TestReputationUnknownAgentReturnsZeroRecord(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/agents/ghost/reputation", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var record reputation.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record.AgentID != "ghost" || record.Score != 0 || record.Contributions != 0 {
		t.Fatalf("unexpected zero record %+v", record)
	}
}

func TestLeaderboardPaging(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, seed := range []struct {
		agent string
		delta float64
	}{{"agent-a", 30}, {"agent-b", 20}, {"agent-c", 10}} {
		if _, err := env.ledger.Upsert(ctx, seed.agent, seed.delta, reputation.KindContribution, "seed"); err != nil {
			t.Fatalf("seed %s: %v", seed.agent, err)
		}
	}

	rec := env.do(t, http.MethodGet, "/api/v1/leaderboard?limit=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("leaderboard: status %d", rec.Code)
	}
	var resp struct {
		Total   int                  `json:"total"`
		Records []*reputation.Record `json:"records"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode leaderboard: %v", err)
	}
	if resp.Total != 3 || len(resp.Records) != 2 {
		t.Fatalf("total=%d len=%d, want 3/2", resp.Total, len(resp.Records))
	}
	if resp.Records[0].AgentID != "agent-a" || resp.Records[1].AgentID != "agent-b" {
		t.Fatalf("unexpected order: %s, %s", resp.Records[0].AgentID, resp.Records[1].AgentID)
	}
}

func TestProposalLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, voter := range []string{"v1", "v2", "v3", "v4", "v5"} {
		if _, err := env.ledger.Upsert(ctx, voter, 16, reputation.KindContribution, "seed"); err != nil {
			t.Fatalf("seed voter %s: %v", voter, err)
		}
	}

	rec := env.do(t, http.MethodPost, "/api/v1/proposals", map[string]any{
		"agent_id":     "agent-a",
		"target_level": string(badge.LevelGold),
		"proposed_by":  "v1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create proposal: status %d body %s", rec.Code, rec.Body.String())
	}
	var proposal certification.Proposal
	if err := json.Unmarshal(rec.Body.Bytes(), &proposal); err != nil {
		t.Fatalf("decode proposal: %v", err)
	}

	for _, voter := range []string{"v1", "v2", "v3", "v4", "v5"} {
		rec = env.do(t, http.MethodPost, "/api/v1/proposals/"+proposal.ID+"/votes", map[string]any{
			"voter_id": voter,
			"approve":  true,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("vote %s: status %d body %s", voter, rec.Code, rec.Body.String())
		}
	}

	rec = env.do(t, http.MethodGet, "/api/v1/proposals/"+proposal.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get proposal: status %d", rec.Code)
	}
	var resolved certification.Proposal
	if err := json.Unmarshal(rec.Body.Bytes(), &resolved); err != nil {
		t.Fatalf("decode resolved proposal: %v", err)
	}
	if resolved.Status != certification.StatusApproved {
		t.Fatalf("proposal status = %s, want approved", resolved.Status)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/agents/agent-a/badges", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get badges: status %d", rec.Code)
	}
	var badges struct {
		Badges []*badge.Badge `json:"badges"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &badges); err != nil {
		t.Fatalf("decode badges: %v", err)
	}
	if len(badges.Badges) != 1 || badges.Badges[0].Level != badge.LevelGold {
		t.Fatalf("unexpected badges %+v", badges.Badges)
	}

	// 重复投票应返回 409。
	rec = env.do(t, http.MethodPost, "/api/v1/proposals/"+proposal.ID+"/votes", map[string]any{
		"voter_id": "v1",
		"approve":  true,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("vote on closed proposal: status %d, want 409", rec.Code)
	}
}

func TestTrustRecomputeEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	votes := []struct {
		validator, target string
	}{
		{"agent-a", "agent-b"},
		{"agent-b", "agent-c"},
		{"agent-c", "agent-a"},
	}
	for _, v := range votes {
		if _, err := env.ledger.Upsert(ctx, v.validator, 1, reputation.KindContribution, "seed"); err != nil {
			t.Fatalf("seed: %v", err)
		}
		if err := env.ledger.RecordVote(ctx, reputation.ValidationVote{
			ValidatorID: v.validator,
			TargetID:    v.target,
			Valid:       true,
		}); err != nil {
			t.Fatalf("record vote: %v", err)
		}
	}

	rec := env.do(t, http.MethodPost, "/api/v1/trust/recompute", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("recompute: status %d body %s", rec.Code, rec.Body.String())
	}
	var resp trustRecomputeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Converged {
		t.Fatal("expected convergence on a 3-node cycle")
	}
	if resp.Digest == "" {
		t.Fatal("digest must not be empty")
	}
	if len(resp.Scores) != 3 {
		t.Fatalf("expected 3 scores, got %d", len(resp.Scores))
	}
}

// stubAnchorer 返回固定凭据，验证锚定结果在响应中的序列化。
type stubAnchorer struct {
	receipt *anchor.Receipt
}

func (s *stubAnchorer) Anchor(_ context.Context, digest string) (*anchor.Receipt, error) {
	r := *s.receipt
	r.Digest = digest
	return &r, nil
}

func TestTrustRecomputeIncludesAnchorReceipt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	anchoredAt := time.Unix(1700000000, 0).UTC()
	env.server.deps.Anchorer = &stubAnchorer{receipt: &anchor.Receipt{
		Chain:       "sepolia",
		ChainID:     "11155111",
		BlockNumber: 42,
		AnchoredAt:  anchoredAt,
	}}
	env.handler = env.server.Handler()

	if _, err := env.ledger.Upsert(ctx, "agent-a", 1, reputation.KindContribution, "seed"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := env.ledger.RecordVote(ctx, reputation.ValidationVote{
		ValidatorID: "agent-a",
		TargetID:    "agent-b",
		Valid:       true,
	}); err != nil {
		t.Fatalf("record vote: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/api/v1/trust/recompute", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("recompute: status %d body %s", rec.Code, rec.Body.String())
	}
	var resp trustRecomputeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Receipt == nil {
		t.Fatal("expected anchor receipt in response")
	}
	if resp.Receipt.Chain != "sepolia" || resp.Receipt.BlockNumber != 42 {
		t.Fatalf("unexpected receipt %+v", resp.Receipt)
	}
	if resp.Receipt.AnchoredAt != anchoredAt.Unix() {
		t.Fatalf("anchored_at = %d, want unix %d", resp.Receipt.AnchoredAt, anchoredAt.Unix())
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: status %d", rec.Code)
	}
}
