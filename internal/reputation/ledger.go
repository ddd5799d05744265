package reputation

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	xerrors "SkillMesh-Registry/internal/errors"
	"SkillMesh-Registry/pkg/logger"
)

// DefaultMinTenure 是参与治理投票前要求的最短账龄，用于削弱
// “先刷声誉、立刻投票”的女巫攻击。
const DefaultMinTenure = 30 * 24 * time.Hour

// Grantor 描述账本提交后需要回调的徽章评估能力。
type Grantor interface {
	Evaluate(ctx context.Context, record *Record) error
}

// Option 定义账本的可选配置。
type Option func(*Ledger)

// WithMinTenure 覆盖投票资格要求的最短账龄，零值表示关闭门槛。
func WithMinTenure(tenure time.Duration) Option {
	return func(l *Ledger) {
		if tenure >= 0 {
			l.minTenure = tenure
		}
	}
}

// WithGrantor 配置账本提交后的徽章评估回调。
func WithGrantor(grantor Grantor) Option {
	return func(l *Ledger) {
		l.grantor = grantor
	}
}

// WithClock 覆盖时间源，仅测试使用。
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// Ledger 负责每个智能体的声誉记账：增量更新、审计历史、
// 排行榜与投票资格判定。同一智能体的写入在进程内串行化。
type Ledger struct {
	store     Store
	grantor   Grantor
	minTenure time.Duration
	now       func() time.Time

	locks sync.Map // agentID -> *sync.Mutex
}

// NewLedger 构造声誉账本。
func NewLedger(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:     store,
		minTenure: DefaultMinTenure,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

func (l *Ledger) lock(agentID string) *sync.Mutex {
	mu, _ := l.locks.LoadOrStore(agentID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Upsert 为指定智能体累加 delta。结果在 0 处截断，原始 delta 原样写入历史；
// delta 为正时贡献计数 +1，kind 为同行校验时校验计数 +1。
// 首次调用时创建记录，提交后触发徽章评估。
func (l *Ledger) Upsert(ctx context.Context, agentID string, delta float64, kind EventKind, reason string) (*Record, error) {
	if l == nil || l.store == nil {
		return nil, xerrors.New(CodeLedgerUnavailable, "声誉账本未初始化")
	}
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "agent ID 不能为空")
	}
	if !IsValidKind(kind) {
		return nil, xerrors.New(CodeInvalidEventKind, "不支持的事件类型: "+string(kind))
	}

	mu := l.lock(agentID)
	mu.Lock()
	defer mu.Unlock()

	now := l.now()
	record, err := l.store.GetRecord(ctx, agentID)
	if err != nil {
		if !stdErrors.Is(err, ErrRecordNotFound) {
			return nil, err
		}
		record = &Record{AgentID: agentID, CreatedAt: now.Unix()}
	}

	score := record.Score + delta
	if score < 0 {
		score = 0
	}
	record.Score = score
	if delta > 0 {
		record.Contributions++
	}
	if kind == KindValidation {
		record.Validations++
	}
	entry := HistoryEntry{Timestamp: now.Unix(), Delta: delta, Reason: reason}
	record.History = append(record.History, entry)
	record.UpdatedAt = now.Unix()

	if err := l.store.SaveRecord(ctx, record, &entry); err != nil {
		return nil, err
	}

	logger.Audit().Info("声誉已更新",
		slog.String("agent_id", agentID),
		slog.Float64("delta", delta),
		slog.Float64("score", record.Score),
		slog.String("kind", string(kind)),
		slog.String("reason", reason),
	)

	if l.grantor != nil {
		if err := l.grantor.Evaluate(ctx, cloneRecord(record)); err != nil {
			// 徽章评估失败不回滚账目，记录后由下一次更新重新评估。
			logger.L().Error("徽章评估失败",
				slog.Any("error", err),
				slog.String("agent_id", agentID),
			)
		}
	}
	return cloneRecord(record), nil
}

// Get 返回指定智能体的记录。未知智能体返回零值记录而非错误。
func (l *Ledger) Get(ctx context.Context, agentID string) (*Record, error) {
	if l == nil || l.store == nil {
		return nil, xerrors.New(CodeLedgerUnavailable, "声誉账本未初始化")
	}
	record, err := l.store.GetRecord(ctx, agentID)
	if err != nil {
		if stdErrors.Is(err, ErrRecordNotFound) {
			return &Record{AgentID: strings.TrimSpace(agentID)}, nil
		}
		return nil, err
	}
	return record, nil
}

// Leaderboard 返回按分数降序的分页记录与总数。
func (l *Ledger) Leaderboard(ctx context.Context, offset, limit int) ([]*Record, int, error) {
	if l == nil || l.store == nil {
		return nil, 0, xerrors.New(CodeLedgerUnavailable, "声誉账本未初始化")
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return l.store.ListRecords(ctx, offset, limit)
}

// CanVote 实现纯账龄门槛：记录存在且创建时间距今不少于最短账龄。
// 与分数无关。
func (l *Ledger) CanVote(ctx context.Context, agentID string) (bool, error) {
	if l == nil || l.store == nil {
		return false, xerrors.New(CodeLedgerUnavailable, "声誉账本未初始化")
	}
	record, err := l.store.GetRecord(ctx, agentID)
	if err != nil {
		if stdErrors.Is(err, ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	age := l.now().Sub(time.Unix(record.CreatedAt, 0))
	return age >= l.minTenure, nil
}

// RecordVote 追加一条同行校验投票。
func (l *Ledger) RecordVote(ctx context.Context, vote ValidationVote) error {
	if l == nil || l.store == nil {
		return xerrors.New(CodeLedgerUnavailable, "声誉账本未初始化")
	}
	if strings.TrimSpace(vote.ValidatorID) == "" || strings.TrimSpace(vote.TargetID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "投票的 validator 与 target 不能为空")
	}
	if vote.Timestamp == 0 {
		vote.Timestamp = l.now().Unix()
	}
	return l.store.AppendVote(ctx, vote)
}

// Votes 返回投票日志快照，供信任传播引擎离线计算。
func (l *Ledger) Votes(ctx context.Context) ([]ValidationVote, error) {
	if l == nil || l.store == nil {
		return nil, xerrors.New(CodeLedgerUnavailable, "声誉账本未初始化")
	}
	return l.store.ListVotes(ctx)
}

// Close 释放底层存储资源。
func (l *Ledger) Close() error {
	if l == nil || l.store == nil {
		return nil
	}
	return l.store.Close()
}
