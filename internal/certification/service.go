package certification

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"SkillMesh-Registry/internal/badge"
	"SkillMesh-Registry/internal/reputation"
	"SkillMesh-Registry/pkg/logger"
)

// 提案解算的默认参数。
const (
	DefaultQuorum       = 5
	DefaultApproveRatio = 0.60
	DefaultRejectRatio  = 0.40
	DefaultVotingPeriod = 7 * 24 * time.Hour
)

// Config 控制法定票数和通过阈值。
type Config struct {
	Quorum       int
	ApproveRatio float64
	RejectRatio  float64
	VotingPeriod time.Duration
}

func (c *Config) applyDefaults() {
	if c.Quorum <= 0 {
		c.Quorum = DefaultQuorum
	}
	if c.ApproveRatio <= 0 {
		c.ApproveRatio = DefaultApproveRatio
	}
	if c.RejectRatio <= 0 {
		c.RejectRatio = DefaultRejectRatio
	}
	if c.VotingPeriod <= 0 {
		c.VotingPeriod = DefaultVotingPeriod
	}
}

// Manager 承载提案创建、加权投票与自动解算。
type Manager struct {
	store   Store
	ledger  *reputation.Ledger
	grantor *badge.Grantor
	cfg     Config

	// locks 按提案 ID 串行化投票与解算，避免并发投票下重复终结。
	locks sync.Map
	now   func() time.Time
}

// ManagerOption 配置 Manager 的可选参数。
type ManagerOption func(*Manager)

// WithManagerClock 注入时钟，测试用。
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager 创建认证服务。
func NewManager(store Store, ledger *reputation.Ledger, grantor *badge.Grantor, cfg Config, opts ...ManagerOption) *Manager {
	cfg.applyDefaults()
	m := &Manager{
		store:   store,
		ledger:  ledger,
		grantor: grantor,
		cfg:     cfg,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) lock(proposalID string) *sync.Mutex {
	mu, _ := m.locks.LoadOrStore(proposalID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// CreateProposal 创建一个 open 状态的认证提案。
// 只有 gold 与 authority 可以走社区投票路径。
func (m *Manager) CreateProposal(ctx context.Context, agentID, domain string, target badge.Level, proposedBy string) (*Proposal, error) {
	if !badge.IsCertifiableLevel(target) {
		return nil, ErrInvalidTargetLevel
	}
	if domain == "" {
		domain = badge.DefaultDomain
	}
	now := m.now()
	p := &Proposal{
		ID:          uuid.NewString(),
		AgentID:     agentID,
		Domain:      domain,
		TargetLevel: target,
		ProposedBy:  proposedBy,
		Votes:       []Vote{},
		Status:      StatusOpen,
		CreatedAt:   now.Unix(),
		ClosesAt:    now.Add(m.cfg.VotingPeriod).Unix(),
	}
	if err := m.store.Create(ctx, p); err != nil {
		return nil, err
	}
	logger.Audit().Info("认证提案已创建",
		slog.String("proposal_id", p.ID),
		slog.String("agent_id", p.AgentID),
		slog.String("target_level", string(p.TargetLevel)),
		slog.String("proposed_by", p.ProposedBy),
	)
	return cloneProposal(p), nil
}

// Vote 记录一张加权票并在达到法定票数时尝试解算。
// 票重为 voter 当前声誉分的平方根，负分按零处理。
func (m *Manager) Vote(ctx context.Context, proposalID, voterID string, approve bool) (*Proposal, error) {
	mu := m.lock(proposalID)
	mu.Lock()
	defer mu.Unlock()

	p, err := m.store.Get(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusOpen {
		return nil, ErrProposalClosed
	}
	eligible, err := m.ledger.CanVote(ctx, voterID)
	if err != nil {
		return nil, err
	}
	if !eligible {
		return nil, ErrVoterIneligible
	}
	for _, v := range p.Votes {
		if v.VoterID == voterID {
			return nil, ErrDuplicateVote
		}
	}

	record, err := m.ledger.Get(ctx, voterID)
	if err != nil {
		return nil, err
	}
	vote := Vote{
		VoterID: voterID,
		Approve: approve,
		Weight:  math.Sqrt(math.Max(0, record.Score)),
	}
	if err := m.store.SaveVote(ctx, proposalID, vote); err != nil {
		return nil, err
	}
	p.Votes = append(p.Votes, vote)

	logger.Audit().Info("认证投票已记录",
		slog.String("proposal_id", p.ID),
		slog.String("voter_id", voterID),
		slog.Bool("approve", approve),
		slog.Float64("weight", vote.Weight),
	)

	if err := m.resolve(ctx, p, false); err != nil {
		return nil, err
	}
	return cloneProposal(p), nil
}

// Proposal 返回单个提案。
func (m *Manager) Proposal(ctx context.Context, id string) (*Proposal, error) {
	return m.store.Get(ctx, id)
}

// OpenProposals 返回所有待决提案。
func (m *Manager) OpenProposals(ctx context.Context) ([]*Proposal, error) {
	return m.store.ListOpen(ctx)
}

// SweepExpired 终结所有超过截止时间的 open 提案。
// 过期解算不要求法定票数：有效权重下的通过比达到阈值即 approved，
// 否则 rejected。返回本次终结的提案数。
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	open, err := m.store.ListOpen(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := m.now().Unix()
	resolved := 0
	for _, stale := range open {
		if stale.ClosesAt > cutoff {
			continue
		}
		mu := m.lock(stale.ID)
		mu.Lock()
		p, err := m.store.Get(ctx, stale.ID)
		if err != nil {
			mu.Unlock()
			return resolved, err
		}
		if p.Status == StatusOpen {
			if err := m.resolve(ctx, p, true); err != nil {
				mu.Unlock()
				return resolved, err
			}
			if p.Status != StatusOpen {
				resolved++
			} else {
				// 零权重票仍无法表达任何倾向，过期后直接否决。
				if err := m.finalize(ctx, p, StatusRejected); err != nil {
					mu.Unlock()
					return resolved, err
				}
				resolved++
			}
		}
		mu.Unlock()
	}
	return resolved, nil
}

// resolve 在持有提案锁的前提下做终结判定。expired 为 true 时跳过法定票数。
func (m *Manager) resolve(ctx context.Context, p *Proposal, expired bool) error {
	if !expired && len(p.Votes) < m.cfg.Quorum {
		return nil
	}
	var totalW, approveW float64
	for _, v := range p.Votes {
		totalW += v.Weight
		if v.Approve {
			approveW += v.Weight
		}
	}
	// 全零权重无法形成有效表决，提案保持 open。
	if totalW <= 0 {
		return nil
	}
	ratio := approveW / totalW
	switch {
	case ratio >= m.cfg.ApproveRatio:
		return m.finalize(ctx, p, StatusApproved)
	case (totalW-approveW)/totalW > m.cfg.RejectRatio:
		return m.finalize(ctx, p, StatusRejected)
	}
	return nil
}

func (m *Manager) finalize(ctx context.Context, p *Proposal, status Status) error {
	if err := m.store.SetStatus(ctx, p.ID, status); err != nil {
		return err
	}
	p.Status = status
	if status == StatusApproved {
		grant := &badge.Badge{
			AgentID:   p.AgentID,
			Domain:    p.Domain,
			Level:     p.TargetLevel,
			GrantedBy: badge.GrantedByCommunityVote,
		}
		if err := m.grantor.GrantBadge(ctx, grant); err != nil {
			return err
		}
	}
	logger.Audit().Info("认证提案已解算",
		slog.String("proposal_id", p.ID),
		slog.String("agent_id", p.AgentID),
		slog.String("target_level", string(p.TargetLevel)),
		slog.String("status", string(status)),
	)
	return nil
}
