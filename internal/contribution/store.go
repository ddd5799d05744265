package contribution

import (
	"context"

	xerrors "SkillMesh-Registry/internal/errors"
)

// ListOptions 控制事件列表查询。
type ListOptions struct {
	Statuses []Status
	Limit    int
}

func (o *ListOptions) applyDefaults() {
	if o.Limit <= 0 {
		o.Limit = 50
	}
}

// Store 抽象了贡献事件状态的持久化接口。
type Store interface {
	Create(ctx context.Context, event *Event) error
	Get(ctx context.Context, id string) (*Event, error)
	Claim(ctx context.Context, id string) (*Event, error)
	MarkApplied(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error
	List(ctx context.Context, opts ListOptions) ([]*Event, error)
	Close() error
}
