package certification

import "context"

// Store 定义认证提案的持久化接口。
// SaveVote 按 voter 做幂等 upsert，重复投票的业务校验在服务层完成，
// 存储层的幂等写入只是并发下的兜底。
type Store interface {
	Create(ctx context.Context, proposal *Proposal) error
	Get(ctx context.Context, id string) (*Proposal, error)
	ListOpen(ctx context.Context) ([]*Proposal, error)
	SaveVote(ctx context.Context, proposalID string, vote Vote) error
	SetStatus(ctx context.Context, proposalID string, status Status) error
	Close() error
}
