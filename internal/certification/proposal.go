package certification

import (
	"SkillMesh-Registry/internal/badge"
	xerrors "SkillMesh-Registry/internal/errors"
)

// Status 表示认证提案在生命周期中的状态。
// open 之后只能进入 approved 或 rejected，两者均为终态。
type Status string

const (
	StatusOpen     Status = "open"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Vote 是提案上的一张加权票。每个 voter 至多一张。
type Vote struct {
	VoterID string  `json:"voter_id"`
	Approve bool    `json:"approve"`
	Weight  float64 `json:"weight"`
}

// Proposal 描述一次把智能体提升到高信任层级的社区投票。
type Proposal struct {
	ID          string      `json:"proposal_id"`
	AgentID     string      `json:"agent_id"`
	Domain      string      `json:"domain"`
	TargetLevel badge.Level `json:"target_level"`
	ProposedBy  string      `json:"proposed_by"`
	Votes       []Vote      `json:"votes"`
	Status      Status      `json:"status"`
	CreatedAt   int64       `json:"created_at"`
	// ClosesAt 为建议性截止时间（创建后 7 天）。低于法定票数的提案
	// 不会自动过期，只能由运维主动触发清扫。
	ClosesAt int64 `json:"closes_at"`
}

var (
	// ErrProposalNotFound 表示指定的提案不存在。
	ErrProposalNotFound = xerrors.New(CodeProposalNotFound, "proposal not found")
	// ErrProposalClosed 表示提案已经终结，不再接受投票。
	ErrProposalClosed = xerrors.New(CodeProposalClosed, "proposal is not open")
	// ErrDuplicateVote 表示同一 voter 在同一提案上重复投票。
	ErrDuplicateVote = xerrors.New(CodeDuplicateVote, "voter has already voted on this proposal")
	// ErrVoterIneligible 表示 voter 未通过账龄门槛。
	ErrVoterIneligible = xerrors.New(CodeVoterIneligible, "voter does not meet the tenure requirement")
	// ErrInvalidTargetLevel 表示目标层级不属于社区可认证范围。
	ErrInvalidTargetLevel = xerrors.New(CodeInvalidTargetLevel, "target level is not community certifiable")
	// ErrProposalConflict 表示提案 ID 冲突。
	ErrProposalConflict = xerrors.New(CodeProposalConflict, "proposal already exists")
)

const (
	CodeProposalNotFound   xerrors.Code = "PROPOSAL_NOT_FOUND"
	CodeProposalClosed     xerrors.Code = "PROPOSAL_CLOSED"
	CodeDuplicateVote      xerrors.Code = "PROPOSAL_DUPLICATE_VOTE"
	CodeVoterIneligible    xerrors.Code = "PROPOSAL_VOTER_INELIGIBLE"
	CodeInvalidTargetLevel xerrors.Code = "PROPOSAL_INVALID_TARGET_LEVEL"
	CodeProposalConflict   xerrors.Code = "PROPOSAL_CONFLICT"
)

func init() {
	xerrors.Register(CodeProposalNotFound, xerrors.Attributes{
		Message:   "proposal not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeProposalClosed, xerrors.Attributes{
		Message:   "proposal is not open",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeDuplicateVote, xerrors.Attributes{
		Message:   "duplicate vote",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeVoterIneligible, xerrors.Attributes{
		Message:   "voter ineligible",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeInvalidTargetLevel, xerrors.Attributes{
		Message:   "invalid target level",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeProposalConflict, xerrors.Attributes{
		Message:   "proposal conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}

func cloneProposal(p *Proposal) *Proposal {
	if p == nil {
		return nil
	}
	clone := *p
	if p.Votes != nil {
		clone.Votes = append([]Vote(nil), p.Votes...)
	}
	return &clone
}
