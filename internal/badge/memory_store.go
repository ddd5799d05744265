package badge

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "SkillMesh-Registry/internal/errors"
)

type badgeKey struct {
	agentID string
	domain  string
	level   Level
}

// MemoryStore 以内存方式保存徽章，主要用于测试与单机部署。
type MemoryStore struct {
	mu     sync.RWMutex
	badges map[badgeKey]*Badge
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{badges: make(map[badgeKey]*Badge)}
}

// Grant 实现 Store 接口，重复授予为无操作。
func (m *MemoryStore) Grant(_ context.Context, badge *Badge) error {
	if badge == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "badge 不能为空")
	}
	if badge.AgentID == "" || badge.Domain == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "徽章的 agent 与 domain 不能为空")
	}
	if !IsValidLevel(badge.Level) {
		return xerrors.New(CodeInvalidLevel, "不支持的徽章层级: "+string(badge.Level))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := badgeKey{agentID: badge.AgentID, domain: badge.Domain, level: badge.Level}
	if _, ok := m.badges[key]; ok {
		return nil
	}
	clone := *badge
	if clone.GrantedAt == 0 {
		clone.GrantedAt = time.Now().Unix()
	}
	m.badges[key] = &clone
	return nil
}

// Has 实现 Store 接口。
func (m *MemoryStore) Has(_ context.Context, agentID, domain string, level Level) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.badges[badgeKey{agentID: agentID, domain: domain, level: level}]
	return ok, nil
}

// List 返回智能体的徽章，按授予时间升序。
func (m *MemoryStore) List(_ context.Context, agentID string) ([]*Badge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*Badge, 0, 4)
	for _, badge := range m.badges {
		if badge.AgentID != agentID {
			continue
		}
		clone := *badge
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].GrantedAt == result[j].GrantedAt {
			return result[i].ID < result[j].ID
		}
		return result[i].GrantedAt < result[j].GrantedAt
	})
	return result, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
