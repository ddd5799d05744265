package contribution

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "SkillMesh-Registry/internal/errors"
	"SkillMesh-Registry/internal/reputation"
	"SkillMesh-Registry/pkg/logger"
)

// DefaultValidationDelta 是一次校验行为的默认声誉奖励。
const DefaultValidationDelta = 2

// Service 负责贡献事件的受理与查询，入账由 Processor 异步完成。
type Service struct {
	store           Store
	producer        Producer
	ledger          *reputation.Ledger
	maxAttempts     int
	validationDelta float64
	now             func() time.Time
}

// ServiceOption 配置 Service 的可选参数。
type ServiceOption func(*Service)

// WithMaxAttempts 设置事件的最大处理次数。
func WithMaxAttempts(attempts int) ServiceOption {
	return func(s *Service) {
		if attempts > 0 {
			s.maxAttempts = attempts
		}
	}
}

// WithValidationDelta 设置校验行为的声誉奖励。
func WithValidationDelta(delta float64) ServiceOption {
	return func(s *Service) {
		if delta > 0 {
			s.validationDelta = delta
		}
	}
}

// WithServiceClock 注入时钟，测试用。
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService 构造贡献事件服务。
func NewService(store Store, producer Producer, ledger *reputation.Ledger, opts ...ServiceOption) *Service {
	s := &Service{
		store:           store,
		producer:        producer,
		ledger:          ledger,
		maxAttempts:     DefaultMaxAttempts,
		validationDelta: DefaultValidationDelta,
		now:             time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// SubmitContribution 受理一次知识贡献信号并推送到队列。
func (s *Service) SubmitContribution(ctx context.Context, agentID string, delta float64, reason, unitID string) (*Event, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, xerrors.New(CodeEventValidation, "agent_id 不能为空")
	}
	if reason == "" {
		reason = "knowledge contribution"
	}
	event := &Event{
		ID:          uuid.NewString(),
		AgentID:     agentID,
		Kind:        reputation.KindContribution,
		Delta:       delta,
		Reason:      reason,
		UnitID:      unitID,
		Status:      StatusPending,
		MaxAttempts: s.maxAttempts,
	}
	return s.submit(ctx, event)
}

// SubmitValidation 受理一次知识校验信号。
// 校验者按配置的奖励入账，同时写入 validator 对 target 的投票流水，
// 供信任传播引擎使用。校验者必须满足账龄门槛。
func (s *Service) SubmitValidation(ctx context.Context, validatorID, targetID, unitID string, valid bool) (*Event, error) {
	if strings.TrimSpace(validatorID) == "" || strings.TrimSpace(targetID) == "" {
		return nil, xerrors.New(CodeEventValidation, "validator_id 与 target_id 不能为空")
	}
	if validatorID == targetID {
		return nil, xerrors.New(CodeEventValidation, "不能校验自己的贡献")
	}
	eligible, err := s.ledger.CanVote(ctx, validatorID)
	if err != nil {
		return nil, err
	}
	if !eligible {
		return nil, xerrors.New(CodeEventValidation, "校验者未满足账龄门槛")
	}
	event := &Event{
		ID:      uuid.NewString(),
		AgentID: validatorID,
		Kind:    reputation.KindValidation,
		Delta:   s.validationDelta,
		Reason:  "validation of " + targetID,
		UnitID:  unitID,
		Vote: &reputation.ValidationVote{
			ValidatorID: validatorID,
			TargetID:    targetID,
			UnitID:      unitID,
			Valid:       valid,
			Timestamp:   s.now().Unix(),
		},
		Status:      StatusPending,
		MaxAttempts: s.maxAttempts,
	}
	return s.submit(ctx, event)
}

func (s *Service) submit(ctx context.Context, event *Event) (*Event, error) {
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "贡献事件服务未初始化")
	}
	if err := s.store.Create(ctx, event); err != nil {
		if stdErrors.Is(err, ErrEventConflict) {
			existing, getErr := s.store.Get(ctx, event.ID)
			if getErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, event.ID); err != nil {
		logger.L().Error("贡献事件入队失败", slog.Any("error", err), slog.String("event_id", event.ID))
		wrapped := xerrors.Wrap(CodeEventPublish, err, "发布贡献事件到队列失败")
		_ = s.store.MarkFailed(ctx, event.ID, CodeEventPublish, wrapped.Error(), true)
		return nil, wrapped
	}
	logger.Audit().Info("贡献事件入队成功",
		slog.String("event_id", event.ID),
		slog.String("agent_id", event.AgentID),
		slog.String("kind", string(event.Kind)),
		slog.Float64("delta", event.Delta),
	)
	return event, nil
}

// Get 返回指定事件的状态。
func (s *Service) Get(ctx context.Context, id string) (*Event, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "贡献事件存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的事件列表。
func (s *Service) List(ctx context.Context, opts ListOptions) ([]*Event, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "贡献事件存储未初始化")
	}
	return s.store.List(ctx, opts)
}

// Requeue 将遗留的 pending 事件重新投递，进程重启后调用。
func (s *Service) Requeue(ctx context.Context) (int, error) {
	if s.store == nil || s.producer == nil {
		return 0, xerrors.New(xerrors.CodeInitializationFailure, "贡献事件服务未初始化")
	}
	pending, err := s.store.List(ctx, ListOptions{Statuses: []Status{StatusPending}, Limit: 1000})
	if err != nil {
		return 0, err
	}
	requeued := 0
	for _, event := range pending {
		if err := s.producer.Publish(ctx, event.ID); err != nil {
			return requeued, xerrors.Wrap(CodeEventPublish, err, "重投贡献事件失败")
		}
		requeued++
	}
	if requeued > 0 {
		logger.L().Info("遗留贡献事件已重投", slog.Int("count", requeued))
	}
	return requeued, nil
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}
