package reputation

import (
	xerrors "SkillMesh-Registry/internal/errors"
)

// EventKind 显式标记一次声誉变更的业务类型，取代从 reason 文本推断。
type EventKind string

const (
	// KindContribution 表示一次知识贡献带来的声誉变更。
	KindContribution EventKind = "contribution"
	// KindValidation 表示一次同行校验行为带来的声誉变更。
	KindValidation EventKind = "validation"
	// KindAdjustment 表示全局信任重算回写产生的修正，不影响行为计数。
	KindAdjustment EventKind = "adjustment"
)

// IsValidKind 检查事件类型是否为支持的枚举值。
func IsValidKind(kind EventKind) bool {
	switch kind {
	case KindContribution, KindValidation, KindAdjustment:
		return true
	default:
		return false
	}
}

// HistoryEntry 记录一次声誉变更的原始增量。
type HistoryEntry struct {
	Timestamp int64   `json:"timestamp"`
	Delta     float64 `json:"delta"`
	Reason    string  `json:"reason"`
}

// Record 描述一个智能体的声誉账目。Score 永不为负，
// Contributions 与 Validations 单调递增，History 仅追加。
type Record struct {
	AgentID       string         `json:"agent_id"`
	Score         float64        `json:"score"`
	Contributions int64          `json:"contributions"`
	Validations   int64          `json:"validations"`
	History       []HistoryEntry `json:"history,omitempty"`
	CreatedAt     int64          `json:"created_at"`
	UpdatedAt     int64          `json:"updated_at"`
}

// ValidationVote 是同行校验投票日志中的一条记录，只追加、不修改。
type ValidationVote struct {
	ValidatorID string `json:"validator_id"`
	TargetID    string `json:"target_id"`
	UnitID      string `json:"unit_id"`
	Valid       bool   `json:"valid"`
	Timestamp   int64  `json:"timestamp"`
}

var (
	// ErrRecordNotFound 表示指定智能体尚无声誉记录。
	ErrRecordNotFound = xerrors.New(CodeRecordNotFound, "reputation record not found")
)

const (
	CodeRecordNotFound    xerrors.Code = "REPUTATION_NOT_FOUND"
	CodeInvalidEventKind  xerrors.Code = "REPUTATION_INVALID_EVENT_KIND"
	CodeLedgerUnavailable xerrors.Code = "REPUTATION_LEDGER_UNAVAILABLE"
)

func init() {
	xerrors.Register(CodeRecordNotFound, xerrors.Attributes{
		Message:   "reputation record not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeInvalidEventKind, xerrors.Attributes{
		Message:   "invalid reputation event kind",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeLedgerUnavailable, xerrors.Attributes{
		Message:   "reputation ledger not initialized",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

func cloneRecord(record *Record) *Record {
	if record == nil {
		return nil
	}
	clone := *record
	if record.History != nil {
		clone.History = append([]HistoryEntry(nil), record.History...)
	}
	return &clone
}
