package badge

import "context"

// Store 抽象徽章的持久化接口。徽章一经授予不可修改或撤销，
// 因此接口只有幂等插入与读取。
type Store interface {
	// Grant 插入一枚徽章。(agent, domain, level) 已存在时为无操作。
	Grant(ctx context.Context, badge *Badge) error
	// Has 判断指定键的徽章是否已授予。
	Has(ctx context.Context, agentID, domain string, level Level) (bool, error)
	// List 返回智能体持有的全部徽章，按授予时间升序。
	List(ctx context.Context, agentID string) ([]*Badge, error)
	Close() error
}
