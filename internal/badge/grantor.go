package badge

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "SkillMesh-Registry/internal/errors"
	"SkillMesh-Registry/internal/reputation"
	"SkillMesh-Registry/pkg/logger"
)

// Grantor 在账本每次更新后评估计数器，自动授予 bronze/silver。
// gold/authority 永远不会自动授予，只能经由社区认证投票产生。
type Grantor struct {
	store Store
	now   func() time.Time
}

// GrantorOption 定义可选配置。
type GrantorOption func(*Grantor)

// WithGrantorClock 覆盖时间源，仅测试使用。
func WithGrantorClock(now func() time.Time) GrantorOption {
	return func(g *Grantor) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGrantor 构造徽章授予器。
func NewGrantor(store Store, opts ...GrantorOption) *Grantor {
	g := &Grantor{store: store, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Evaluate 幂等地检查阈值并授予系统徽章：
// bronze 需累计贡献 >= 10，silver 需贡献 >= 50 且校验 >= 20。
func (g *Grantor) Evaluate(ctx context.Context, record *reputation.Record) error {
	if g == nil || g.store == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "徽章授予器未初始化")
	}
	if record == nil || record.AgentID == "" {
		return nil
	}
	if record.Contributions >= BronzeContributions {
		if err := g.grantSystem(ctx, record.AgentID, LevelBronze); err != nil {
			return err
		}
	}
	if record.Contributions >= SilverContributions && record.Validations >= SilverValidations {
		if err := g.grantSystem(ctx, record.AgentID, LevelSilver); err != nil {
			return err
		}
	}
	return nil
}

func (g *Grantor) grantSystem(ctx context.Context, agentID string, level Level) error {
	has, err := g.store.Has(ctx, agentID, DefaultDomain, level)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	badge := &Badge{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Domain:    DefaultDomain,
		Level:     level,
		GrantedAt: g.now().Unix(),
		GrantedBy: GrantedBySystem,
	}
	if err := g.store.Grant(ctx, badge); err != nil {
		return err
	}
	logger.Audit().Info("系统徽章已授予",
		slog.String("agent_id", agentID),
		slog.String("domain", DefaultDomain),
		slog.String("level", string(level)),
	)
	return nil
}

// GrantBadge 幂等地授予一枚徽章，供认证投票通过后调用。
func (g *Grantor) GrantBadge(ctx context.Context, badge *Badge) error {
	if g == nil || g.store == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "徽章授予器未初始化")
	}
	if badge == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "badge 不能为空")
	}
	if strings.TrimSpace(badge.ID) == "" {
		badge.ID = uuid.NewString()
	}
	if badge.GrantedAt == 0 {
		badge.GrantedAt = g.now().Unix()
	}
	if err := g.store.Grant(ctx, badge); err != nil {
		return err
	}
	logger.Audit().Info("徽章已授予",
		slog.String("agent_id", badge.AgentID),
		slog.String("domain", badge.Domain),
		slog.String("level", string(badge.Level)),
		slog.String("granted_by", badge.GrantedBy),
	)
	return nil
}

// HasBadge 判断指定键的徽章是否已授予。
func (g *Grantor) HasBadge(ctx context.Context, agentID, domain string, level Level) (bool, error) {
	if g == nil || g.store == nil {
		return false, xerrors.New(xerrors.CodeInitializationFailure, "徽章授予器未初始化")
	}
	return g.store.Has(ctx, agentID, domain, level)
}

// Badges 返回智能体持有的全部徽章。
func (g *Grantor) Badges(ctx context.Context, agentID string) ([]*Badge, error) {
	if g == nil || g.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "徽章授予器未初始化")
	}
	return g.store.List(ctx, agentID)
}

// Close 释放底层存储资源。
func (g *Grantor) Close() error {
	if g == nil || g.store == nil {
		return nil
	}
	return g.store.Close()
}

var _ reputation.Grantor = (*Grantor)(nil)
