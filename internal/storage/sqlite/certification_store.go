package sqlite

import (
	"context"
	"database/sql"
	stdErrors "errors"

	"SkillMesh-Registry/internal/badge"
	"SkillMesh-Registry/internal/certification"
	xerrors "SkillMesh-Registry/internal/errors"
)

// CertificationStore 使用 SQLite 保存认证提案与投票。
type CertificationStore struct {
	db *DB
}

// NewCertificationStore 创建认证仓库。
func NewCertificationStore(db *DB) *CertificationStore {
	return &CertificationStore{db: db}
}

// Create 插入新提案。单连接池下先查再插即可保证唯一。
func (s *CertificationStore) Create(ctx context.Context, proposal *certification.Proposal) error {
	var count int
	if err := s.db.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cert_proposals WHERE id = ?`, proposal.ID,
	).Scan(&count); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询认证提案失败")
	}
	if count > 0 {
		return certification.ErrProposalConflict
	}

	const stmt = `INSERT INTO cert_proposals
        (id, agent_id, domain, target_level, proposed_by, status, created_at, closes_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	if _, err := s.db.sql.ExecContext(ctx, stmt,
		proposal.ID,
		proposal.AgentID,
		proposal.Domain,
		string(proposal.TargetLevel),
		proposal.ProposedBy,
		string(proposal.Status),
		proposal.CreatedAt,
		proposal.ClosesAt,
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入认证提案失败")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProposal(row rowScanner) (*certification.Proposal, error) {
	var proposal certification.Proposal
	var level, status string
	if err := row.Scan(
		&proposal.ID,
		&proposal.AgentID,
		&proposal.Domain,
		&level,
		&proposal.ProposedBy,
		&status,
		&proposal.CreatedAt,
		&proposal.ClosesAt,
	); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, certification.ErrProposalNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询认证提案失败")
	}
	proposal.TargetLevel = badge.Level(level)
	proposal.Status = certification.Status(status)
	return &proposal, nil
}

// Get 返回提案及其全部投票。
func (s *CertificationStore) Get(ctx context.Context, id string) (*certification.Proposal, error) {
	const stmt = `SELECT id, agent_id, domain, target_level, proposed_by, status, created_at, closes_at
        FROM cert_proposals WHERE id = ?`

	proposal, err := scanProposal(s.db.sql.QueryRowContext(ctx, stmt, id))
	if err != nil {
		return nil, err
	}
	votes, err := s.loadVotes(ctx, id)
	if err != nil {
		return nil, err
	}
	proposal.Votes = votes
	return proposal, nil
}

func (s *CertificationStore) loadVotes(ctx context.Context, proposalID string) ([]certification.Vote, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT voter_id, approve, weight FROM cert_votes WHERE proposal_id = ? ORDER BY voter_id ASC`, proposalID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询提案投票失败")
	}
	defer rows.Close()

	votes := []certification.Vote{}
	for rows.Next() {
		var vote certification.Vote
		var approve int
		if err := rows.Scan(&vote.VoterID, &approve, &vote.Weight); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析提案投票失败")
		}
		vote.Approve = approve != 0
		votes = append(votes, vote)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历提案投票失败")
	}
	return votes, nil
}

// ListOpen 返回所有 open 状态的提案，按创建时间升序。
func (s *CertificationStore) ListOpen(ctx context.Context) ([]*certification.Proposal, error) {
	const stmt = `SELECT id, agent_id, domain, target_level, proposed_by, status, created_at, closes_at
        FROM cert_proposals WHERE status = ? ORDER BY created_at ASC, id ASC`

	rows, err := s.db.sql.QueryContext(ctx, stmt, string(certification.StatusOpen))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询待决提案失败")
	}
	defer rows.Close()

	var proposals []*certification.Proposal
	for rows.Next() {
		proposal, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, proposal)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历待决提案失败")
	}
	for _, proposal := range proposals {
		votes, err := s.loadVotes(ctx, proposal.ID)
		if err != nil {
			return nil, err
		}
		proposal.Votes = votes
	}
	return proposals, nil
}

// SaveVote 按 voter 幂等写入投票。
func (s *CertificationStore) SaveVote(ctx context.Context, proposalID string, vote certification.Vote) error {
	const stmt = `INSERT INTO cert_votes (proposal_id, voter_id, approve, weight)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(proposal_id, voter_id) DO UPDATE SET
        approve = excluded.approve, weight = excluded.weight`

	approve := 0
	if vote.Approve {
		approve = 1
	}
	if _, err := s.db.sql.ExecContext(ctx, stmt, proposalID, vote.VoterID, approve, vote.Weight); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入提案投票失败")
	}
	return nil
}

// SetStatus 更新提案状态。
func (s *CertificationStore) SetStatus(ctx context.Context, proposalID string, status certification.Status) error {
	res, err := s.db.sql.ExecContext(ctx,
		`UPDATE cert_proposals SET status = ? WHERE id = ?`, string(status), proposalID)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新提案状态失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return certification.ErrProposalNotFound
	}
	return nil
}

// Close 由共享的 DB 统一关闭连接。
func (s *CertificationStore) Close() error {
	return nil
}

var _ certification.Store = (*CertificationStore)(nil)
