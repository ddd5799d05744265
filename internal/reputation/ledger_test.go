package reputation

import (
	"context"
	"testing"
	"time"
)

func TestUpsertClampsScoreAtZero(t *testing.T) {
	ledger := NewLedger(NewMemoryStore())
	ctx := context.Background()

	if _, err := ledger.Upsert(ctx, "agent-a", 5, KindContribution, "seed"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	record, err := ledger.Upsert(ctx, "agent-a", -12, KindAdjustment, "penalty")
	if err != nil {
		t.Fatalf("upsert negative: %v", err)
	}
	if record.Score != 0 {
		t.Fatalf("score = %v, want clamp at 0", record.Score)
	}
	// 原始 delta 原样写入历史，截断只作用于累计值。
	if len(record.History) != 2 || record.History[1].Delta != -12 {
		t.Fatalf("unexpected history %+v", record.History)
	}
}

func TestUpsertCountsContributionsAndValidations(t *testing.T) {
	ledger := NewLedger(NewMemoryStore())
	ctx := context.Background()

	if _, err := ledger.Upsert(ctx, "agent-a", 3, KindContribution, "unit"); err != nil {
		t.Fatalf("contribution: %v", err)
	}
	if _, err := ledger.Upsert(ctx, "agent-a", 2, KindValidation, "peer review"); err != nil {
		t.Fatalf("validation: %v", err)
	}
	// 负向修正不增加贡献计数。
	record, err := ledger.Upsert(ctx, "agent-a", -1, KindAdjustment, "drift")
	if err != nil {
		t.Fatalf("adjustment: %v", err)
	}
	if record.Contributions != 2 {
		t.Fatalf("contributions = %d, want 2", record.Contributions)
	}
	if record.Validations != 1 {
		t.Fatalf("validations = %d, want 1", record.Validations)
	}
}

func TestUpsertRejectsInvalidInput(t *testing.T) {
	ledger := NewLedger(NewMemoryStore())
	ctx := context.Background()

	if _, err := ledger.Upsert(ctx, "  ", 1, KindContribution, "x"); err == nil {
		t.Fatal("expected error for blank agent id")
	}
	if _, err := ledger.Upsert(ctx, "agent-a", 1, EventKind("bogus"), "x"); err == nil {
		t.Fatal("expected error for unknown event kind")
	}
}

func TestLeaderboardOrderAndTotal(t *testing.T) {
	base := time.Unix(1700000000, 0)
	clock := base
	ledger := NewLedger(NewMemoryStore(), WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	// agent-b 先注册，和 agent-c 同分时应排在前面。
	seeds := []struct {
		agent string
		delta float64
	}{{"agent-b", 10}, {"agent-c", 10}, {"agent-a", 30}}
	for _, seed := range seeds {
		if _, err := ledger.Upsert(ctx, seed.agent, seed.delta, KindContribution, "seed"); err != nil {
			t.Fatalf("seed %s: %v", seed.agent, err)
		}
		clock = clock.Add(time.Minute)
	}

	records, total, err := ledger.Leaderboard(ctx, 0, 10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
	order := []string{"agent-a", "agent-b", "agent-c"}
	for i, want := range order {
		if records[i].AgentID != want {
			t.Fatalf("position %d = %s, want %s", i, records[i].AgentID, want)
		}
	}

	page, total, err := ledger.Leaderboard(ctx, 2, 10)
	if err != nil {
		t.Fatalf("leaderboard page: %v", err)
	}
	if total != 3 || len(page) != 1 || page[0].AgentID != "agent-c" {
		t.Fatalf("unexpected page %+v total %d", page, total)
	}
}

func TestLeaderboardSameSecondTieBreaksByRegistration(t *testing.T) {
	// 同一秒内注册、同分的智能体按注册次序排序，而非字典序。
	base := time.Unix(1700000000, 0)
	ledger := NewLedger(NewMemoryStore(), WithClock(func() time.Time { return base }))
	ctx := context.Background()

	for _, agent := range []string{"agent-z", "agent-m", "agent-a"} {
		if _, err := ledger.Upsert(ctx, agent, 10, KindContribution, "seed"); err != nil {
			t.Fatalf("seed %s: %v", agent, err)
		}
	}

	records, _, err := ledger.Leaderboard(ctx, 0, 10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	order := []string{"agent-z", "agent-m", "agent-a"}
	for i, want := range order {
		if records[i].AgentID != want {
			t.Fatalf("position %d = %s, want %s", i, records[i].AgentID, want)
		}
	}
}

func TestCanVoteRequiresTenure(t *testing.T) {
	base := time.Unix(1700000000, 0)
	clock := base
	ledger := NewLedger(NewMemoryStore(), WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	if ok, err := ledger.CanVote(ctx, "ghost"); err != nil || ok {
		t.Fatalf("unknown agent: ok=%v err=%v, want false/nil", ok, err)
	}

	if _, err := ledger.Upsert(ctx, "agent-a", 100, KindContribution, "seed"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if ok, _ := ledger.CanVote(ctx, "agent-a"); ok {
		t.Fatal("fresh agent must not vote regardless of score")
	}

	clock = base.Add(DefaultMinTenure + time.Hour)
	if ok, _ := ledger.CanVote(ctx, "agent-a"); !ok {
		t.Fatal("agent past tenure must be allowed to vote")
	}
}

func TestWithMinTenureZeroDisablesGate(t *testing.T) {
	base := time.Unix(1700000000, 0)
	ledger := NewLedger(NewMemoryStore(),
		WithClock(func() time.Time { return base }),
		WithMinTenure(0),
	)
	ctx := context.Background()

	if _, err := ledger.Upsert(ctx, "agent-a", 1, KindContribution, "seed"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// 账龄门槛置零后，刚注册的智能体立刻可投票。
	if ok, err := ledger.CanVote(ctx, "agent-a"); err != nil || !ok {
		t.Fatalf("zero tenure gate: ok=%v err=%v, want true/nil", ok, err)
	}
}

func TestWithMinTenureRejectsNegative(t *testing.T) {
	base := time.Unix(1700000000, 0)
	clock := base
	ledger := NewLedger(NewMemoryStore(),
		WithClock(func() time.Time { return clock }),
		WithMinTenure(-time.Hour),
	)
	ctx := context.Background()

	if _, err := ledger.Upsert(ctx, "agent-a", 1, KindContribution, "seed"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// 负的账龄无效，默认 30 天门槛仍然生效。
	if ok, _ := ledger.CanVote(ctx, "agent-a"); ok {
		t.Fatal("negative tenure must keep the default gate")
	}
	clock = base.Add(DefaultMinTenure + time.Hour)
	if ok, _ := ledger.CanVote(ctx, "agent-a"); !ok {
		t.Fatal("agent past default tenure must be allowed to vote")
	}
}

func TestGetUnknownAgentReturnsZeroRecord(t *testing.T) {
	ledger := NewLedger(NewMemoryStore())
	record, err := ledger.Get(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.AgentID != "ghost" || record.Score != 0 {
		t.Fatalf("unexpected record %+v", record)
	}
}

func TestRecordVoteFillsTimestamp(t *testing.T) {
	base := time.Unix(1700000000, 0)
	ledger := NewLedger(NewMemoryStore(), WithClock(func() time.Time { return base }))
	ctx := context.Background()

	if err := ledger.RecordVote(ctx, ValidationVote{ValidatorID: "v", TargetID: "t", Valid: true}); err != nil {
		t.Fatalf("record vote: %v", err)
	}
	votes, err := ledger.Votes(ctx)
	if err != nil {
		t.Fatalf("votes: %v", err)
	}
	if len(votes) != 1 || votes[0].Timestamp != base.Unix() {
		t.Fatalf("unexpected votes %+v", votes)
	}

	if err := ledger.RecordVote(ctx, ValidationVote{ValidatorID: "", TargetID: "t"}); err == nil {
		t.Fatal("expected error for blank validator")
	}
}
