package contribution

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"SkillMesh-Registry/internal/reputation"
)

func newTestLedger() *reputation.Ledger {
	return reputation.NewLedger(reputation.NewMemoryStore(), reputation.WithMinTenure(0))
}

func TestProcessorAppliesContributionEvents(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ledger := newTestLedger()
	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)

	service := NewService(store, queue, ledger)
	processor := NewProcessor(ledger, store, queue, queue, WithWorkerCount(4))

	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	total := 50
	for i := 0; i < total; i++ {
		agentID := fmt.Sprintf("agent-%d", i%5)
		if _, err := service.SubmitContribution(ctx, agentID, 3, "unit published", fmt.Sprintf("unit-%d", i)); err != nil {
			t.Fatalf("提交贡献事件失败: %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for {
		applied, err := store.List(ctx, ListOptions{Statuses: []Status{StatusApplied}, Limit: total})
		if err != nil {
			t.Fatalf("查询事件失败: %v", err)
		}
		if len(applied) >= total {
			cancel()
			break
		}
		select {
		case <-deadline:
			t.Fatalf("事件未能及时入账，已完成 %d", len(applied))
		case <-time.After(50 * time.Millisecond):
		}
	}

	record, err := ledger.Get(context.Background(), "agent-0")
	if err != nil {
		t.Fatalf("查询声誉记录失败: %v", err)
	}
	if record.Score != 30 {
		t.Fatalf("agent-0 score: got %v, want 30", record.Score)
	}
	if record.Contributions != 10 {
		t.Fatalf("agent-0 contributions: got %d, want 10", record.Contributions)
	}
}

func TestProcessorAppliesValidationEvents(t *testing.T) {
	ctx := context.Background()

	ledger := newTestLedger()
	store := NewMemoryStore()
	queue := NewMemoryQueue(16)

	// 校验者需要先有账本记录才能通过账龄门槛。
	if _, err := ledger.Upsert(ctx, "validator", 5, reputation.KindContribution, "seed"); err != nil {
		t.Fatalf("seed validator: %v", err)
	}

	service := NewService(store, queue, ledger, WithValidationDelta(2))
	processor := NewProcessor(ledger, store, queue, queue)

	event, err := service.SubmitValidation(ctx, "validator", "target", "unit-1", true)
	if err != nil {
		t.Fatalf("提交校验事件失败: %v", err)
	}
	if err := processor.Handle(ctx, event.ID); err != nil {
		t.Fatalf("处理校验事件失败: %v", err)
	}

	record, err := ledger.Get(ctx, "validator")
	if err != nil {
		t.Fatalf("查询声誉记录失败: %v", err)
	}
	if record.Score != 7 {
		t.Fatalf("validator score: got %v, want 7", record.Score)
	}
	if record.Validations != 1 {
		t.Fatalf("validator validations: got %d, want 1", record.Validations)
	}

	votes, err := ledger.Votes(ctx)
	if err != nil {
		t.Fatalf("查询投票流水失败: %v", err)
	}
	if len(votes) != 1 {
		t.Fatalf("votes: got %d, want 1", len(votes))
	}
	if votes[0].ValidatorID != "validator" || votes[0].TargetID != "target" || !votes[0].Valid {
		t.Fatalf("unexpected vote: %+v", votes[0])
	}

	got, err := store.Get(ctx, event.ID)
	if err != nil {
		t.Fatalf("查询事件失败: %v", err)
	}
	if got.Status != StatusApplied {
		t.Fatalf("event status: got %s, want %s", got.Status, StatusApplied)
	}
}

func TestSubmitValidationRejectsSelfValidation(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()
	service := NewService(NewMemoryStore(), NewMemoryQueue(4), ledger)

	if _, err := ledger.Upsert(ctx, "agent-1", 5, reputation.KindContribution, "seed"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := service.SubmitValidation(ctx, "agent-1", "agent-1", "unit-1", true); err == nil {
		t.Fatalf("expected self-validation to be rejected")
	}
}

func TestSubmitValidationRequiresTenure(t *testing.T) {
	ctx := context.Background()
	ledger := reputation.NewLedger(reputation.NewMemoryStore())
	service := NewService(NewMemoryStore(), NewMemoryQueue(4), ledger)

	if _, err := ledger.Upsert(ctx, "rookie", 5, reputation.KindContribution, "seed"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := service.SubmitValidation(ctx, "rookie", "target", "unit-1", true); err == nil {
		t.Fatalf("expected fresh validator to be rejected")
	}
}

func TestProcessorSkipsExhaustedEvents(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()
	store := NewMemoryStore()
	queue := NewMemoryQueue(4)

	event := &Event{
		ID:          "exhausted-1",
		AgentID:     "agent-1",
		Kind:        reputation.KindContribution,
		Delta:       3,
		Reason:      "unit published",
		Status:      StatusPending,
		Attempts:    3,
		MaxAttempts: 3,
	}
	if err := store.Create(ctx, event); err != nil {
		t.Fatalf("创建事件失败: %v", err)
	}

	processor := NewProcessor(ledger, store, queue, queue)
	if err := processor.Handle(ctx, event.ID); err != nil {
		t.Fatalf("处理耗尽事件应跳过而非报错: %v", err)
	}
	record, err := ledger.Get(ctx, "agent-1")
	if err != nil {
		t.Fatalf("查询声誉记录失败: %v", err)
	}
	if record.Score != 0 {
		t.Fatalf("耗尽事件不应入账，score = %v", record.Score)
	}
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	event := &Event{
		ID:          "evt-1",
		AgentID:     "agent-1",
		Kind:        reputation.KindContribution,
		Delta:       1,
		Status:      StatusPending,
		MaxAttempts: 2,
	}
	if err := store.Create(ctx, event); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(ctx, event); !errors.Is(err, ErrEventConflict) {
		t.Fatalf("duplicate create: got %v, want ErrEventConflict", err)
	}

	claimed, err := store.Claim(ctx, "evt-1")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if claimed.Status != StatusProcessing || claimed.Attempts != 1 {
		t.Fatalf("claimed: status=%s attempts=%d", claimed.Status, claimed.Attempts)
	}
	if _, err := store.Claim(ctx, "evt-1"); !errors.Is(err, ErrEventConflict) {
		t.Fatalf("second claim: got %v, want ErrEventConflict", err)
	}

	if err := store.MarkApplied(ctx, "evt-1"); err != nil {
		t.Fatalf("MarkApplied: %v", err)
	}
	if _, err := store.Claim(ctx, "evt-1"); !errors.Is(err, ErrEventApplied) {
		t.Fatalf("claim applied: got %v, want ErrEventApplied", err)
	}
}
