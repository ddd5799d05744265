package contribution

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	xerrors "SkillMesh-Registry/internal/errors"
	"SkillMesh-Registry/internal/observability/alerting"
	"SkillMesh-Registry/internal/reputation"
	"SkillMesh-Registry/pkg/logger"
)

// Processor 负责从队列消费事件并写入声誉账本。
type Processor struct {
	ledger      *reputation.Ledger
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(ledger *reputation.Ledger, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		ledger:      ledger,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动事件处理循环。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置事件消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.Handle)
}

// Handle 处理单个事件 ID，由消费协程调用。
func (p *Processor) Handle(ctx context.Context, eventID string) error {
	if p.store == nil || p.ledger == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	event, err := p.store.Claim(ctx, eventID)
	if err != nil {
		if stdErrors.Is(err, ErrEventNotFound) || stdErrors.Is(err, ErrEventApplied) || stdErrors.Is(err, ErrEventExhausted) {
			p.logDebug("跳过事件", slog.String("event_id", eventID), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取事件失败", slog.Any("error", err), slog.String("event_id", eventID))
		return err
	}

	if applyErr := p.apply(ctx, event); applyErr != nil {
		return p.handleFailure(ctx, event, applyErr)
	}

	if err := p.store.MarkApplied(ctx, event.ID); err != nil {
		logger.L().Error("标记事件入账状态失败", slog.Any("error", err), slog.String("event_id", event.ID))
		return err
	}
	logger.Audit().Info("贡献事件入账成功",
		slog.String("event_id", event.ID),
		slog.String("agent_id", event.AgentID),
		slog.String("kind", string(event.Kind)),
		slog.Float64("delta", event.Delta),
	)
	return nil
}

// apply 把事件写入账本。校验类事件在入账后追加投票流水，投票写入
// 失败不回滚已入账的分值，只按失败处理留待重试，流水写入是幂等的。
func (p *Processor) apply(ctx context.Context, event *Event) error {
	if _, err := p.ledger.Upsert(ctx, event.AgentID, event.Delta, event.Kind, event.Reason); err != nil {
		return err
	}
	if event.Kind == reputation.KindValidation && event.Vote != nil {
		if err := p.ledger.RecordVote(ctx, *event.Vote); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) handleFailure(ctx context.Context, event *Event, applyErr error) error {
	code := xerrors.CodeOf(applyErr)
	if code == xerrors.CodeUnknown {
		code = CodeEventProcessing
	}
	retryable := xerrors.RetryableError(applyErr)
	terminal := event.Attempts >= event.MaxAttempts || !retryable

	if storeErr := p.store.MarkFailed(ctx, event.ID, code, applyErr.Error(), terminal); storeErr != nil {
		logger.L().Error("标记事件失败状态出错", slog.Any("error", storeErr), slog.String("event_id", event.ID))
		return storeErr
	}
	logger.Audit().Warn("贡献事件入账失败",
		slog.String("event_id", event.ID),
		slog.String("agent_id", event.AgentID),
		slog.Bool("terminal", terminal),
		slog.String("error", applyErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", event.Attempts),
		slog.Int("max_attempts", event.MaxAttempts),
	)

	if terminal {
		p.emitAlert(ctx, event, code, applyErr, "terminal")
		return nil
	}
	if pubErr := p.producer.Publish(ctx, event.ID); pubErr != nil {
		return xerrors.Wrap(CodeEventPublish, pubErr, "事件 "+event.ID+" 重投失败")
	}
	p.logDebug("事件已重新排队", slog.String("event_id", event.ID), slog.Int("attempts", event.Attempts))
	return nil
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		p.logger.Debug(msg, args...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, event *Event, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || event == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	if cause != nil {
		message = cause.Error()
	}
	metadata := map[string]string{
		"stage": stage,
	}
	if cause != nil {
		metadata["cause"] = cause.Error()
	}
	alert := alerting.Event{
		Code:        code,
		Message:     message,
		Severity:    attrs.Severity,
		AgentID:     event.AgentID,
		EventID:     event.ID,
		Attempts:    event.Attempts,
		MaxAttempts: event.MaxAttempts,
		Metadata:    metadata,
		OccurredAt:  time.Now(),
	}
	if err := p.alerter.Notify(ctx, alert); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("event_id", event.ID),
			slog.String("stage", stage),
		)
	}
}
