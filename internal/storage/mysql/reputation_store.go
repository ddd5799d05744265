package mysql

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"time"

	xerrors "SkillMesh-Registry/internal/errors"
	"SkillMesh-Registry/internal/reputation"
)

// ReputationStore 使用 MySQL 保存声誉记录与校验投票日志。
type ReputationStore struct {
	db *DB
}

// NewReputationStore 创建声誉仓库。
func NewReputationStore(db *DB) *ReputationStore {
	return &ReputationStore{db: db}
}

// GetRecord 返回完整记录与历史。
func (s *ReputationStore) GetRecord(ctx context.Context, agentID string) (*reputation.Record, error) {
	const stmt = `SELECT agent_id, score, contributions, validations, created_at, updated_at
        FROM reputation_records WHERE agent_id = ?`

	var record reputation.Record
	if err := s.db.sql.QueryRowContext(ctx, stmt, agentID).Scan(
		&record.AgentID,
		&record.Score,
		&record.Contributions,
		&record.Validations,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, reputation.ErrRecordNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询声誉记录失败")
	}

	history, err := s.loadHistory(ctx, agentID)
	if err != nil {
		return nil, err
	}
	record.History = history
	return &record, nil
}

func (s *ReputationStore) loadHistory(ctx context.Context, agentID string) ([]reputation.HistoryEntry, error) {
	const stmt = `SELECT ts, delta, reason FROM reputation_history WHERE agent_id = ? ORDER BY seq ASC`

	rows, err := s.db.sql.QueryContext(ctx, stmt, agentID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询声誉历史失败")
	}
	defer rows.Close()

	var history []reputation.HistoryEntry
	for rows.Next() {
		var entry reputation.HistoryEntry
		var reason sql.NullString
		if err := rows.Scan(&entry.Timestamp, &entry.Delta, &reason); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析声誉历史失败")
		}
		entry.Reason = reason.String
		history = append(history, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历声誉历史失败")
	}
	return history, nil
}

// SaveRecord 以 upsert 方式写入标量字段，entry 非空时在同一事务内追加历史。
func (s *ReputationStore) SaveRecord(ctx context.Context, record *reputation.Record, entry *reputation.HistoryEntry) error {
	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启声誉写入事务失败")
	}

	// reg_seq 仅在首次插入时分配，保证排行榜同分时严格按注册次序。
	var nextSeq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(reg_seq), 0) + 1 FROM reputation_records`,
	).Scan(&nextSeq); err != nil {
		tx.Rollback()
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询注册序号失败")
	}

	const upsert = `INSERT INTO reputation_records
        (agent_id, score, contributions, validations, reg_seq, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
        score = VALUES(score), contributions = VALUES(contributions),
        validations = VALUES(validations), updated_at = VALUES(updated_at)`

	if _, err := tx.ExecContext(ctx, upsert,
		record.AgentID,
		record.Score,
		record.Contributions,
		record.Validations,
		nextSeq,
		record.CreatedAt,
		record.UpdatedAt,
	); err != nil {
		tx.Rollback()
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入声誉记录失败")
	}

	if entry != nil {
		var maxSeq sql.NullInt64
		if err := tx.QueryRowContext(ctx,
			`SELECT MAX(seq) FROM reputation_history WHERE agent_id = ?`, record.AgentID,
		).Scan(&maxSeq); err != nil {
			tx.Rollback()
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询历史序号失败")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO reputation_history (agent_id, seq, ts, delta, reason) VALUES (?, ?, ?, ?, ?)`,
			record.AgentID, maxSeq.Int64+1, entry.Timestamp, entry.Delta, entry.Reason,
		); err != nil {
			tx.Rollback()
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "追加声誉历史失败")
		}
	}

	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交声誉写入事务失败")
	}
	return nil
}

// ListRecords 按分值降序返回分页记录（不含历史）与总数。
func (s *ReputationStore) ListRecords(ctx context.Context, offset, limit int) ([]*reputation.Record, int, error) {
	var total int
	if err := s.db.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM reputation_records`).Scan(&total); err != nil {
		return nil, 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计声誉记录失败")
	}

	const stmt = `SELECT agent_id, score, contributions, validations, created_at, updated_at
        FROM reputation_records
        ORDER BY score DESC, reg_seq ASC, agent_id ASC
        LIMIT ? OFFSET ?`

	rows, err := s.db.sql.QueryContext(ctx, stmt, limit, offset)
	if err != nil {
		return nil, 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询声誉排行失败")
	}
	defer rows.Close()

	records := make([]*reputation.Record, 0, limit)
	for rows.Next() {
		var record reputation.Record
		if err := rows.Scan(
			&record.AgentID,
			&record.Score,
			&record.Contributions,
			&record.Validations,
			&record.CreatedAt,
			&record.UpdatedAt,
		); err != nil {
			return nil, 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析声誉记录失败")
		}
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历声誉记录失败")
	}
	return records, total, nil
}

// AppendVote 写入一条校验投票。同一 (validator, target, unit) 幂等覆盖。
func (s *ReputationStore) AppendVote(ctx context.Context, vote reputation.ValidationVote) error {
	const stmt = `REPLACE INTO validation_votes (validator_id, target_id, unit_id, valid, ts)
        VALUES (?, ?, ?, ?, ?)`

	valid := 0
	if vote.Valid {
		valid = 1
	}
	if _, err := s.db.sql.ExecContext(ctx, stmt,
		vote.ValidatorID, vote.TargetID, vote.UnitID, valid, vote.Timestamp,
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入校验投票失败")
	}
	return nil
}

// ListVotes 返回全部校验投票供信任传播引擎做快照计算。
func (s *ReputationStore) ListVotes(ctx context.Context) ([]reputation.ValidationVote, error) {
	const stmt = `SELECT validator_id, target_id, unit_id, valid, ts FROM validation_votes`

	rows, err := s.db.sql.QueryContext(ctx, stmt)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询校验投票失败")
	}
	defer rows.Close()

	var votes []reputation.ValidationVote
	for rows.Next() {
		var vote reputation.ValidationVote
		var valid int
		if err := rows.Scan(&vote.ValidatorID, &vote.TargetID, &vote.UnitID, &valid, &vote.Timestamp); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析校验投票失败")
		}
		vote.Valid = valid != 0
		votes = append(votes, vote)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历校验投票失败")
	}
	return votes, nil
}

// Close 由共享的 DB 统一关闭连接。
func (s *ReputationStore) Close() error {
	return nil
}

var _ reputation.Store = (*ReputationStore)(nil)

// nowUnix 便于测试覆盖。
var nowUnix = func() int64 { return time.Now().Unix() }
