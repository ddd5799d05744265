package reputation

import "context"

// Store 抽象了声誉记录与校验投票日志的持久化接口。
type Store interface {
	// GetRecord 返回指定智能体的完整记录（含历史），不存在时返回 ErrRecordNotFound。
	GetRecord(ctx context.Context, agentID string) (*Record, error)
	// SaveRecord 以 upsert 方式写入记录的标量字段，entry 非空时追加一条历史。
	SaveRecord(ctx context.Context, record *Record, entry *HistoryEntry) error
	// ListRecords 按 Score 降序返回分页记录（同分按创建顺序），并返回总数。
	// 为控制负载，返回的记录不携带历史。
	ListRecords(ctx context.Context, offset, limit int) ([]*Record, int, error)
	// AppendVote 追加一条校验投票。日志只增不改。
	AppendVote(ctx context.Context, vote ValidationVote) error
	// ListVotes 返回全部校验投票，供信任传播引擎做快照计算。
	ListVotes(ctx context.Context) ([]ValidationVote, error)
	Close() error
}
