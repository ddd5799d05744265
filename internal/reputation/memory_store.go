package reputation

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "SkillMesh-Registry/internal/errors"
)

// MemoryStore 以内存方式保存声誉账目，主要用于测试与单机部署。
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	seqs    map[string]int64
	nextSeq int64
	votes   []ValidationVote
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		seqs:    make(map[string]int64),
	}
}

// GetRecord 实现 Store 接口。
func (m *MemoryStore) GetRecord(_ context.Context, agentID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[agentID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return cloneRecord(record), nil
}

// SaveRecord 实现 Store 接口。内存实现直接整体覆盖，历史由调用方维护。
func (m *MemoryStore) SaveRecord(_ context.Context, record *Record, _ *HistoryEntry) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "record 不能为空")
	}
	if record.AgentID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "agent ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().Unix()
	if record.CreatedAt == 0 {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	// 注册序号仅在首次写入时分配，供排行榜同分时保持注册次序。
	if _, ok := m.seqs[record.AgentID]; !ok {
		m.nextSeq++
		m.seqs[record.AgentID] = m.nextSeq
	}
	m.records[record.AgentID] = cloneRecord(record)
	return nil
}

// ListRecords 按分数降序返回记录，历史不随列表返回。
func (m *MemoryStore) ListRecords(_ context.Context, offset, limit int) ([]*Record, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*Record, 0, len(m.records))
	for _, record := range m.records {
		clone := *record
		clone.History = nil
		all = append(all, &clone)
	}

	// 同分时按注册序号保持稳定顺序，保证分页结果可复现。
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Score == all[j].Score {
			si, sj := m.seqs[all[i].AgentID], m.seqs[all[j].AgentID]
			if si == sj {
				return all[i].AgentID < all[j].AgentID
			}
			return si < sj
		}
		return all[i].Score > all[j].Score
	})

	total := len(all)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []*Record{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], total, nil
}

// AppendVote 追加一条校验投票。
func (m *MemoryStore) AppendVote(_ context.Context, vote ValidationVote) error {
	if vote.ValidatorID == "" || vote.TargetID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "投票的 validator 与 target 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if vote.Timestamp == 0 {
		vote.Timestamp = time.Now().Unix()
	}
	m.votes = append(m.votes, vote)
	return nil
}

// ListVotes 返回投票日志的快照副本。
func (m *MemoryStore) ListVotes(_ context.Context) ([]ValidationVote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	votes := make([]ValidationVote, len(m.votes))
	copy(votes, m.votes)
	return votes, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
