package trust

import (
	"context"
	"math"
	"reflect"
	"testing"

	"SkillMesh-Registry/internal/reputation"
)

func vote(validator, target string, valid bool) reputation.ValidationVote {
	return reputation.ValidationVote{ValidatorID: validator, TargetID: target, Valid: valid}
}

func TestComputeEmptyVoteLog(t *testing.T) {
	result := NewEngine(Config{}).Compute(nil)
	if len(result.Scores) != 0 {
		t.Fatalf("expected empty scores, got %v", result.Scores)
	}
	if result.Iterations != 0 || !result.Converged {
		t.Fatalf("expected 0 iterations and convergence, got %+v", result)
	}
}

func TestComputeNormalizesToOne(t *testing.T) {
	votes := []reputation.ValidationVote{
		vote("a", "b", true),
		vote("b", "c", true),
		vote("c", "a", true),
		vote("a", "c", false),
	}
	result := NewEngine(Config{}).Compute(votes)
	if !result.Converged {
		t.Fatalf("expected convergence, got %+v", result)
	}
	var sum float64
	for _, score := range result.Scores {
		if score < 0 {
			t.Fatalf("negative score in %v", result.Scores)
		}
		sum += score
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("scores sum to %v, want 1", sum)
	}
}

func TestCompleteGraphYieldsUniformTrust(t *testing.T) {
	// 所有智能体互相给出有效票时，信任质量应近似均分。
	agents := []string{"a", "b", "c", "d", "e"}
	var votes []reputation.ValidationVote
	for _, validator := range agents {
		for _, target := range agents {
			if validator == target {
				continue
			}
			votes = append(votes, vote(validator, target, true))
		}
	}
	result := NewEngine(Config{}).Compute(votes)
	if !result.Converged {
		t.Fatalf("expected convergence, got %+v", result)
	}
	if len(result.Scores) != len(agents) {
		t.Fatalf("expected %d scores, got %d", len(agents), len(result.Scores))
	}
	want := 1.0 / float64(len(agents))
	for id, score := range result.Scores {
		if math.Abs(score-want) > 1e-6 {
			t.Fatalf("agent %s score %v, want ≈ %v", id, score, want)
		}
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	votes := []reputation.ValidationVote{
		vote("a", "b", true),
		vote("b", "c", true),
		vote("d", "a", true),
		vote("c", "d", false),
	}
	engine := NewEngine(Config{})
	first := engine.Compute(votes)
	second := engine.Compute(votes)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("results differ:\n%+v\n%+v", first, second)
	}
}

func TestDampingBoundsCliqueMass(t *testing.T) {
	// 两个合谋节点互刷有效票，其余节点形成正常投票环。
	votes := []reputation.ValidationVote{
		vote("sybil-1", "sybil-2", true),
		vote("sybil-2", "sybil-1", true),
		vote("a", "b", true),
		vote("b", "c", true),
		vote("c", "a", true),
	}
	result := NewEngine(Config{}).Compute(votes)
	mass := result.Scores["sybil-1"] + result.Scores["sybil-2"]
	if mass >= 0.9 {
		t.Fatalf("isolated clique captured %v of total trust", mass)
	}
	for _, honest := range []string{"a", "b", "c"} {
		if result.Scores[honest] <= 0 {
			t.Fatalf("honest node %s starved: %v", honest, result.Scores)
		}
	}
}

func TestPreTrustedBiasesScores(t *testing.T) {
	votes := []reputation.ValidationVote{
		vote("a", "b", true),
		vote("b", "a", true),
		vote("c", "d", true),
		vote("d", "c", true),
	}
	neutral := NewEngine(Config{}).Compute(votes)
	biased := NewEngine(Config{PreTrusted: []string{"a"}}).Compute(votes)
	if biased.Scores["a"] <= neutral.Scores["a"] {
		t.Fatalf("pre-trust must raise a's score: neutral=%v biased=%v",
			neutral.Scores["a"], biased.Scores["a"])
	}
	// 列表里不在投票图中的 ID 被忽略，退回均匀预信任。
	ignored := NewEngine(Config{PreTrusted: []string{"ghost"}}).Compute(votes)
	if math.Abs(ignored.Scores["a"]-neutral.Scores["a"]) > 1e-9 {
		t.Fatalf("unknown pre-trusted id must not change scores")
	}
}

func TestNegativeNetTrustContributesNothing(t *testing.T) {
	// b 对 c 的净信任为负，归一化后 b 的信任全部流向 a。
	votes := []reputation.ValidationVote{
		vote("a", "b", true),
		vote("b", "a", true),
		vote("b", "c", false),
		vote("c", "a", true),
	}
	result := NewEngine(Config{}).Compute(votes)
	if result.Scores["c"] >= result.Scores["a"] {
		t.Fatalf("c should rank below a: %v", result.Scores)
	}
}

func TestApplierReplacesInsteadOfAccumulates(t *testing.T) {
	ledger := reputation.NewLedger(reputation.NewMemoryStore())
	ctx := context.Background()
	if _, err := ledger.Upsert(ctx, "agent-a", 10, reputation.KindContribution, "seed"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	applier := NewApplier(ledger, 100)
	result := Result{Scores: map[string]float64{"agent-a": 0.25}, Iterations: 1, Converged: true}

	for i := 0; i < 3; i++ {
		if _, err := applier.Apply(ctx, result); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}
	record, err := ledger.Get(ctx, "agent-a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// 重复回写同一结果必须收敛到 scale*score，而不是不断叠加。
	if math.Abs(record.Score-25) > 1e-9 {
		t.Fatalf("score = %v, want 25", record.Score)
	}
	// 首次正向修正计入一次贡献，之后 delta 为零不再累计。
	if record.Contributions != 2 {
		t.Fatalf("contributions = %d, want 2", record.Contributions)
	}
}

func TestDigestIsStable(t *testing.T) {
	result := Result{Scores: map[string]float64{"b": 0.5, "a": 0.5}, Iterations: 3, Converged: true}
	first := Digest(result)
	second := Digest(Result{Scores: map[string]float64{"a": 0.5, "b": 0.5}, Iterations: 3, Converged: true})
	if first == "" || first != second {
		t.Fatalf("digest must be stable across map ordering: %q vs %q", first, second)
	}
	changed := Digest(Result{Scores: map[string]float64{"a": 0.6, "b": 0.4}, Iterations: 3, Converged: true})
	if changed == first {
		t.Fatal("digest must change when scores change")
	}
}
