package contribution

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "SkillMesh-Registry/internal/errors"
)

// MemoryStore 以内存方式保存贡献事件，主要用于测试与单机部署。
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string]*Event
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string]*Event)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "event 不能为空")
	}
	if event.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "事件 ID 不能为空")
	}
	if _, ok := m.events[event.ID]; ok {
		return ErrEventConflict
	}
	now := time.Now().Unix()
	if event.CreatedAt == 0 {
		event.CreatedAt = now
	}
	event.UpdatedAt = now
	m.events[event.ID] = cloneEvent(event)
	return nil
}

// Get 返回事件副本。
func (m *MemoryStore) Get(_ context.Context, id string) (*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	event, ok := m.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	return cloneEvent(event), nil
}

// Claim 将事件状态更新为处理中并累加尝试次数。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	event, ok := m.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	switch event.Status {
	case StatusApplied:
		return cloneEvent(event), ErrEventApplied
	case StatusProcessing:
		return cloneEvent(event), ErrEventConflict
	}
	if event.Attempts >= event.MaxAttempts {
		return cloneEvent(event), ErrEventExhausted
	}
	event.Status = StatusProcessing
	event.Attempts++
	event.LastError = ""
	event.ErrorCode = ""
	event.UpdatedAt = time.Now().Unix()
	return cloneEvent(event), nil
}

// MarkApplied 记录入账完成。
func (m *MemoryStore) MarkApplied(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event, ok := m.events[id]
	if !ok {
		return ErrEventNotFound
	}
	event.Status = StatusApplied
	event.LastError = ""
	event.ErrorCode = ""
	event.UpdatedAt = time.Now().Unix()
	return nil
}

// MarkFailed 标记事件失败。非终态失败会被重新投递，这里统一回写
// pending，terminal 为 true 时落入 failed 终态。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event, ok := m.events[id]
	if !ok {
		return ErrEventNotFound
	}
	if terminal {
		event.Status = StatusFailed
	} else {
		event.Status = StatusPending
	}
	event.LastError = lastError
	event.ErrorCode = string(code)
	event.UpdatedAt = time.Now().Unix()
	return nil
}

// List 按更新时间倒序返回事件。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	matchesStatus := func(event *Event) bool {
		if len(opts.Statuses) == 0 {
			return true
		}
		for _, status := range opts.Statuses {
			if event.Status == status {
				return true
			}
		}
		return false
	}

	results := make([]*Event, 0, len(m.events))
	for _, event := range m.events {
		if !matchesStatus(event) {
			continue
		}
		results = append(results, cloneEvent(event))
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].UpdatedAt == results[j].UpdatedAt {
			if results[i].CreatedAt == results[j].CreatedAt {
				return results[i].ID < results[j].ID
			}
			return results[i].CreatedAt > results[j].CreatedAt
		}
		return results[i].UpdatedAt > results[j].UpdatedAt
	})

	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
