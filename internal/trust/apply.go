package trust

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	xerrors "SkillMesh-Registry/internal/errors"
	"SkillMesh-Registry/internal/reputation"
	"SkillMesh-Registry/pkg/logger"
)

// DefaultScale 是全局信任值回写账本前的放大倍数。
const DefaultScale = 100.0

// ApplyReason 写入每条回写历史，便于审计区分普通贡献与全局修正。
const ApplyReason = "trust propagation"

// Applier 将引擎输出按“替换而非叠加”的方式回写账本：
// 每个智能体的 delta 为放大后的信任值与当前分数之差，
// 使周期性重算修正漂移而不会无限累积。
type Applier struct {
	ledger *reputation.Ledger
	scale  float64
}

// NewApplier 构造回写器。scale <= 0 时使用默认倍数。
func NewApplier(ledger *reputation.Ledger, scale float64) *Applier {
	if scale <= 0 {
		scale = DefaultScale
	}
	return &Applier{ledger: ledger, scale: scale}
}

// Apply 将结果逐个智能体回写。回写是一批普通的 Upsert 调用，
// 不持有任何跨批次的锁；单个失败不阻断其余智能体，最终合并返回。
func (a *Applier) Apply(ctx context.Context, result Result) (int, error) {
	if a == nil || a.ledger == nil {
		return 0, xerrors.New(xerrors.CodeInitializationFailure, "信任回写器未初始化")
	}

	agents := make([]string, 0, len(result.Scores))
	for id := range result.Scores {
		agents = append(agents, id)
	}
	sort.Strings(agents)

	applied := 0
	var errs []error
	for _, agentID := range agents {
		current, err := a.ledger.Get(ctx, agentID)
		if err != nil {
			errs = append(errs, fmt.Errorf("agent %s: %w", agentID, err))
			continue
		}
		delta := result.Scores[agentID]*a.scale - current.Score
		if delta == 0 {
			continue
		}
		if _, err := a.ledger.Upsert(ctx, agentID, delta, reputation.KindAdjustment, ApplyReason); err != nil {
			errs = append(errs, fmt.Errorf("agent %s: %w", agentID, err))
			continue
		}
		applied++
	}

	logger.Audit().Info("全局信任已回写",
		slog.Int("agents", len(agents)),
		slog.Int("applied", applied),
		slog.Int("iterations", result.Iterations),
		slog.Bool("converged", result.Converged),
	)
	if len(errs) > 0 {
		return applied, xerrors.Wrap(xerrors.CodeStorageFailure, stdErrors.Join(errs...), "部分信任结果回写失败")
	}
	return applied, nil
}

// Digest 计算结果的规范化摘要，供审计与链上锚定使用。
// 按智能体 ID 排序后逐行哈希，同一结果恒得同一摘要。
func Digest(result Result) string {
	agents := make([]string, 0, len(result.Scores))
	for id := range result.Scores {
		agents = append(agents, id)
	}
	sort.Strings(agents)

	h := sha256.New()
	for _, id := range agents {
		h.Write([]byte(id))
		h.Write([]byte{'='})
		h.Write([]byte(strconv.FormatFloat(result.Scores[id], 'f', 12, 64)))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
