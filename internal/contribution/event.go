package contribution

import (
	xerrors "SkillMesh-Registry/internal/errors"

	"SkillMesh-Registry/internal/reputation"
)

// Status 表示贡献事件在生命周期中的状态。
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusApplied    Status = "applied"
	StatusFailed     Status = "failed"
)

// DefaultMaxAttempts 是单个事件的默认最大处理次数。
const DefaultMaxAttempts = 3

// Event 描述一次待入账的声誉变更信号。
// 校验类事件同时携带 Vote，入账时一并写入投票流水供信任传播使用。
type Event struct {
	ID          string                     `json:"id"`
	AgentID     string                     `json:"agent_id"`
	Kind        reputation.EventKind       `json:"kind"`
	Delta       float64                    `json:"delta"`
	Reason      string                     `json:"reason"`
	UnitID      string                     `json:"unit_id,omitempty"`
	Vote        *reputation.ValidationVote `json:"vote,omitempty"`
	Status      Status                     `json:"status"`
	Attempts    int                        `json:"attempts"`
	MaxAttempts int                        `json:"max_attempts"`
	LastError   string                     `json:"last_error,omitempty"`
	ErrorCode   string                     `json:"error_code,omitempty"`
	CreatedAt   int64                      `json:"created_at"`
	UpdatedAt   int64                      `json:"updated_at"`
}

var (
	// ErrEventNotFound 表示指定的事件不存在。
	ErrEventNotFound = xerrors.New(CodeEventNotFound, "contribution event not found")
	// ErrEventConflict 表示事件在当前状态下无法进行所请求的操作。
	ErrEventConflict = xerrors.New(CodeEventConflict, "contribution event conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrEventApplied 表示事件已经入账完成。
	ErrEventApplied = xerrors.New(CodeEventApplied, "contribution event already applied", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrEventExhausted 表示事件的重试次数已经耗尽。
	ErrEventExhausted = xerrors.New(CodeEventExhausted, "contribution event retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
)

const (
	CodeEventNotFound   xerrors.Code = "CONTRIBUTION_NOT_FOUND"
	CodeEventConflict   xerrors.Code = "CONTRIBUTION_CONFLICT"
	CodeEventApplied    xerrors.Code = "CONTRIBUTION_APPLIED"
	CodeEventExhausted  xerrors.Code = "CONTRIBUTION_RETRIES_EXHAUSTED"
	CodeEventValidation xerrors.Code = "CONTRIBUTION_VALIDATION_FAILED"
	CodeEventPublish    xerrors.Code = "CONTRIBUTION_PUBLISH_FAILED"
	CodeEventProcessing xerrors.Code = "CONTRIBUTION_PROCESSING_FAILED"
)

func init() {
	xerrors.Register(CodeEventNotFound, xerrors.Attributes{
		Message:   "contribution event not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeEventConflict, xerrors.Attributes{
		Message:   "contribution event conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeEventApplied, xerrors.Attributes{
		Message:   "contribution event already applied",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeEventExhausted, xerrors.Attributes{
		Message:   "contribution event retries exhausted",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeEventValidation, xerrors.Attributes{
		Message:   "contribution event validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeEventPublish, xerrors.Attributes{
		Message:   "failed to publish contribution event",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeEventProcessing, xerrors.Attributes{
		Message:   "contribution event processing failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

// IsValidStatus 检查给定的事件状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusProcessing, StatusApplied, StatusFailed:
		return true
	default:
		return false
	}
}

func cloneEvent(event *Event) *Event {
	clone := *event
	if event.Vote != nil {
		voteCopy := *event.Vote
		clone.Vote = &voteCopy
	}
	return &clone
}
