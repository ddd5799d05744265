package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"SkillMesh-Registry/internal/badge"
	"SkillMesh-Registry/internal/certification"
	"SkillMesh-Registry/internal/contribution"
	"SkillMesh-Registry/internal/reputation"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "skillmesh.db")})
	if err != nil {
		t.Fatalf("打开测试数据库失败: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestReputationStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store := NewReputationStore(db)

	if _, err := store.GetRecord(ctx, "missing"); !errors.Is(err, reputation.ErrRecordNotFound) {
		t.Fatalf("missing record: got %v, want ErrRecordNotFound", err)
	}

	record := &reputation.Record{
		AgentID:       "agent-1",
		Score:         5,
		Contributions: 1,
		CreatedAt:     100,
		UpdatedAt:     100,
	}
	entry := &reputation.HistoryEntry{Timestamp: 100, Delta: 5, Reason: "unit published"}
	if err := store.SaveRecord(ctx, record, entry); err != nil {
		t.Fatalf("SaveRecord: %v", err)
	}

	record.Score = 8
	record.Contributions = 2
	record.UpdatedAt = 200
	if err := store.SaveRecord(ctx, record, &reputation.HistoryEntry{Timestamp: 200, Delta: 3, Reason: "unit published"}); err != nil {
		t.Fatalf("SaveRecord update: %v", err)
	}

	got, err := store.GetRecord(ctx, "agent-1")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got.Score != 8 || got.Contributions != 2 {
		t.Fatalf("record: score=%v contributions=%d", got.Score, got.Contributions)
	}
	if len(got.History) != 2 || got.History[0].Delta != 5 || got.History[1].Delta != 3 {
		t.Fatalf("history: %+v", got.History)
	}
}

func TestReputationStoreLeaderboardOrder(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store := NewReputationStore(db)

	// agent-c 与 agent-b 同分且创建时间相同，先注册的 agent-c 排在前面。
	seed := []struct {
		agent string
		score float64
	}{
		{"agent-c", 10},
		{"agent-a", 30},
		{"agent-b", 10},
	}
	for _, s := range seed {
		record := &reputation.Record{AgentID: s.agent, Score: s.score, CreatedAt: 100, UpdatedAt: 100}
		if err := store.SaveRecord(ctx, record, nil); err != nil {
			t.Fatalf("SaveRecord(%s): %v", s.agent, err)
		}
	}

	records, total, err := store.ListRecords(ctx, 0, 10)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if total != 3 {
		t.Fatalf("total: got %d, want 3", total)
	}
	wantOrder := []string{"agent-a", "agent-c", "agent-b"}
	for i, want := range wantOrder {
		if records[i].AgentID != want {
			t.Fatalf("position %d: got %s, want %s", i, records[i].AgentID, want)
		}
	}

	// 覆盖已有记录不应重新分配注册序号。
	if err := store.SaveRecord(ctx, &reputation.Record{AgentID: "agent-c", Score: 10, CreatedAt: 100, UpdatedAt: 200}, nil); err != nil {
		t.Fatalf("SaveRecord update: %v", err)
	}
	records, _, err = store.ListRecords(ctx, 0, 10)
	if err != nil {
		t.Fatalf("ListRecords after update: %v", err)
	}
	if records[1].AgentID != "agent-c" {
		t.Fatalf("agent-c moved after update: %v", records[1].AgentID)
	}
}

func TestValidationVoteUpsert(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store := NewReputationStore(db)

	vote := reputation.ValidationVote{ValidatorID: "v1", TargetID: "t1", UnitID: "u1", Valid: true, Timestamp: 100}
	if err := store.AppendVote(ctx, vote); err != nil {
		t.Fatalf("AppendVote: %v", err)
	}
	vote.Valid = false
	vote.Timestamp = 200
	if err := store.AppendVote(ctx, vote); err != nil {
		t.Fatalf("AppendVote replace: %v", err)
	}

	votes, err := store.ListVotes(ctx)
	if err != nil {
		t.Fatalf("ListVotes: %v", err)
	}
	if len(votes) != 1 {
		t.Fatalf("votes: got %d, want 1", len(votes))
	}
	if votes[0].Valid || votes[0].Timestamp != 200 {
		t.Fatalf("vote not replaced: %+v", votes[0])
	}
}

func TestBadgeStoreGrantIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store := NewBadgeStore(db)

	b := &badge.Badge{
		ID:        "badge-1",
		AgentID:   "agent-1",
		Domain:    badge.DefaultDomain,
		Level:     badge.LevelBronze,
		GrantedAt: 100,
		GrantedBy: badge.GrantedBySystem,
	}
	if err := store.Grant(ctx, b); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	dup := *b
	dup.ID = "badge-2"
	dup.GrantedAt = 200
	if err := store.Grant(ctx, &dup); err != nil {
		t.Fatalf("duplicate Grant: %v", err)
	}

	badges, err := store.List(ctx, "agent-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(badges) != 1 {
		t.Fatalf("badges: got %d, want 1", len(badges))
	}
	if badges[0].ID != "badge-1" || badges[0].GrantedAt != 100 {
		t.Fatalf("first grant must win: %+v", badges[0])
	}
	has, err := store.Has(ctx, "agent-1", badge.DefaultDomain, badge.LevelBronze)
	if err != nil {
		t.Fatalf("Has: %v", err)
	}
	if !has {
		t.Fatalf("expected badge to exist")
	}
}

func TestCertificationStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store := NewCertificationStore(db)

	proposal := &certification.Proposal{
		ID:          "prop-1",
		AgentID:     "agent-1",
		Domain:      badge.DefaultDomain,
		TargetLevel: badge.LevelGold,
		ProposedBy:  "operator",
		Status:      certification.StatusOpen,
		CreatedAt:   100,
		ClosesAt:    200,
	}
	if err := store.Create(ctx, proposal); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(ctx, proposal); !errors.Is(err, certification.ErrProposalConflict) {
		t.Fatalf("duplicate create: got %v, want ErrProposalConflict", err)
	}

	if err := store.SaveVote(ctx, "prop-1", certification.Vote{VoterID: "v1", Approve: true, Weight: 3}); err != nil {
		t.Fatalf("SaveVote: %v", err)
	}
	if err := store.SaveVote(ctx, "prop-1", certification.Vote{VoterID: "v1", Approve: false, Weight: 4}); err != nil {
		t.Fatalf("SaveVote upsert: %v", err)
	}

	got, err := store.Get(ctx, "prop-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Votes) != 1 || got.Votes[0].Approve || got.Votes[0].Weight != 4 {
		t.Fatalf("vote upsert: %+v", got.Votes)
	}

	open, err := store.ListOpen(ctx)
	if err != nil {
		t.Fatalf("ListOpen: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("open proposals: got %d, want 1", len(open))
	}

	if err := store.SetStatus(ctx, "prop-1", certification.StatusApproved); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	open, err = store.ListOpen(ctx)
	if err != nil {
		t.Fatalf("ListOpen after close: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("open proposals after close: got %d, want 0", len(open))
	}
}

func TestContributionStoreClaimLifecycle(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store := NewContributionStore(db)

	event := &contribution.Event{
		ID:          "evt-1",
		AgentID:     "agent-1",
		Kind:        reputation.KindValidation,
		Delta:       2,
		Reason:      "validation of agent-2",
		UnitID:      "unit-1",
		Vote:        &reputation.ValidationVote{ValidatorID: "agent-1", TargetID: "agent-2", UnitID: "unit-1", Valid: true, Timestamp: 100},
		Status:      contribution.StatusPending,
		MaxAttempts: 2,
	}
	if err := store.Create(ctx, event); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(ctx, event); !errors.Is(err, contribution.ErrEventConflict) {
		t.Fatalf("duplicate create: got %v, want ErrEventConflict", err)
	}

	claimed, err := store.Claim(ctx, "evt-1")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if claimed.Status != contribution.StatusProcessing || claimed.Attempts != 1 {
		t.Fatalf("claimed: status=%s attempts=%d", claimed.Status, claimed.Attempts)
	}
	if claimed.Vote == nil || claimed.Vote.TargetID != "agent-2" {
		t.Fatalf("vote not round-tripped: %+v", claimed.Vote)
	}
	if _, err := store.Claim(ctx, "evt-1"); !errors.Is(err, contribution.ErrEventConflict) {
		t.Fatalf("second claim: got %v, want ErrEventConflict", err)
	}

	if err := store.MarkFailed(ctx, "evt-1", contribution.CodeEventProcessing, "ledger unavailable", false); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	claimed, err = store.Claim(ctx, "evt-1")
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if claimed.Attempts != 2 {
		t.Fatalf("reclaim attempts: got %d, want 2", claimed.Attempts)
	}

	if err := store.MarkApplied(ctx, "evt-1"); err != nil {
		t.Fatalf("MarkApplied: %v", err)
	}
	if _, err := store.Claim(ctx, "evt-1"); !errors.Is(err, contribution.ErrEventApplied) {
		t.Fatalf("claim applied: got %v, want ErrEventApplied", err)
	}

	pending, err := store.List(ctx, contribution.ListOptions{Statuses: []contribution.Status{contribution.StatusApplied}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("applied events: got %d, want 1", len(pending))
	}
}
