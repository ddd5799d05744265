package certification

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore 是面向测试和单机部署的内存实现。
type MemoryStore struct {
	mu        sync.RWMutex
	proposals map[string]*Proposal
}

// NewMemoryStore 创建空的内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{proposals: make(map[string]*Proposal)}
}

// Create 保存新提案，ID 冲突时返回错误。
func (s *MemoryStore) Create(_ context.Context, proposal *Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proposals[proposal.ID]; ok {
		return ErrProposalConflict
	}
	s.proposals[proposal.ID] = cloneProposal(proposal)
	return nil
}

// Get 返回提案的副本。
func (s *MemoryStore) Get(_ context.Context, id string) (*Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[id]
	if !ok {
		return nil, ErrProposalNotFound
	}
	return cloneProposal(p), nil
}

// ListOpen 返回所有仍处于 open 状态的提案，按创建时间排序。
func (s *MemoryStore) ListOpen(_ context.Context) ([]*Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	open := make([]*Proposal, 0)
	for _, p := range s.proposals {
		if p.Status == StatusOpen {
			open = append(open, cloneProposal(p))
		}
	}
	sort.Slice(open, func(i, j int) bool {
		if open[i].CreatedAt != open[j].CreatedAt {
			return open[i].CreatedAt < open[j].CreatedAt
		}
		return open[i].ID < open[j].ID
	})
	return open, nil
}

// SaveVote 按 voter 幂等写入投票。
func (s *MemoryStore) SaveVote(_ context.Context, proposalID string, vote Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[proposalID]
	if !ok {
		return ErrProposalNotFound
	}
	for i := range p.Votes {
		if p.Votes[i].VoterID == vote.VoterID {
			p.Votes[i] = vote
			return nil
		}
	}
	p.Votes = append(p.Votes, vote)
	return nil
}

// SetStatus 更新提案状态。
func (s *MemoryStore) SetStatus(_ context.Context, proposalID string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[proposalID]
	if !ok {
		return ErrProposalNotFound
	}
	p.Status = status
	return nil
}

// Close 释放资源，内存实现为空操作。
func (s *MemoryStore) Close() error {
	return nil
}
