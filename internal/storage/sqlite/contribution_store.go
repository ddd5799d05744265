package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	"SkillMesh-Registry/internal/contribution"
	xerrors "SkillMesh-Registry/internal/errors"
	"SkillMesh-Registry/internal/reputation"
)

// ContributionStore 使用 SQLite 保存贡献事件。
type ContributionStore struct {
	db *DB
}

// NewContributionStore 创建贡献事件仓库。
func NewContributionStore(db *DB) *ContributionStore {
	return &ContributionStore{db: db}
}

// Create 插入新的事件记录。
func (s *ContributionStore) Create(ctx context.Context, event *contribution.Event) error {
	if event == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "event 不能为空")
	}
	if strings.TrimSpace(event.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "事件 ID 不能为空")
	}

	var count int
	if err := s.db.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contribution_events WHERE id = ?`, event.ID,
	).Scan(&count); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询贡献事件失败")
	}
	if count > 0 {
		return contribution.ErrEventConflict
	}

	now := time.Now().Unix()
	if event.CreatedAt == 0 {
		event.CreatedAt = now
	}
	event.UpdatedAt = now

	var voteValue any
	if event.Vote != nil {
		encoded, err := json.Marshal(event.Vote)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码事件 vote 失败")
		}
		voteValue = string(encoded)
	}

	const stmt = `INSERT INTO contribution_events
        (id, agent_id, kind, delta, reason, unit_id, vote, status, attempts, max_attempts, last_error, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)`

	if _, err := s.db.sql.ExecContext(ctx, stmt,
		event.ID,
		event.AgentID,
		string(event.Kind),
		event.Delta,
		event.Reason,
		event.UnitID,
		voteValue,
		string(event.Status),
		event.Attempts,
		event.MaxAttempts,
		event.CreatedAt,
		event.UpdatedAt,
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入贡献事件失败")
	}
	return nil
}

// Get 查询指定事件。
func (s *ContributionStore) Get(ctx context.Context, id string) (*contribution.Event, error) {
	const stmt = `SELECT id, agent_id, kind, delta, reason, unit_id, vote, status, attempts, max_attempts,
        last_error, error_code, created_at, updated_at
        FROM contribution_events WHERE id = ?`

	return scanEvent(s.db.sql.QueryRowContext(ctx, stmt, id))
}

func scanEvent(row rowScanner) (*contribution.Event, error) {
	var event contribution.Event
	var kind, status string
	var reason, vote, lastError sql.NullString
	if err := row.Scan(
		&event.ID,
		&event.AgentID,
		&kind,
		&event.Delta,
		&reason,
		&event.UnitID,
		&vote,
		&status,
		&event.Attempts,
		&event.MaxAttempts,
		&lastError,
		&event.ErrorCode,
		&event.CreatedAt,
		&event.UpdatedAt,
	); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, contribution.ErrEventNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询贡献事件失败")
	}
	event.Kind = reputation.EventKind(kind)
	event.Status = contribution.Status(status)
	event.Reason = reason.String
	event.LastError = lastError.String

	if vote.Valid && strings.TrimSpace(vote.String) != "" {
		var decoded reputation.ValidationVote
		if err := json.Unmarshal([]byte(vote.String), &decoded); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析事件 vote 失败")
		}
		event.Vote = &decoded
	}
	return &event, nil
}

// Claim 将事件标记为处理中并返回最新状态。
func (s *ContributionStore) Claim(ctx context.Context, id string) (*contribution.Event, error) {
	const updateStmt = `UPDATE contribution_events
        SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status IN (?, ?) AND attempts < max_attempts`

	res, err := s.db.sql.ExecContext(ctx, updateStmt,
		string(contribution.StatusProcessing),
		time.Now().Unix(),
		id,
		string(contribution.StatusPending),
		string(contribution.StatusFailed),
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新事件状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		event, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		switch event.Status {
		case contribution.StatusApplied:
			return event, contribution.ErrEventApplied
		case contribution.StatusProcessing:
			return event, contribution.ErrEventConflict
		default:
			if event.Attempts >= event.MaxAttempts {
				return event, contribution.ErrEventExhausted
			}
			return event, contribution.ErrEventConflict
		}
	}
	return s.Get(ctx, id)
}

// MarkApplied 将事件标记为入账完成。
func (s *ContributionStore) MarkApplied(ctx context.Context, id string) error {
	res, err := s.db.sql.ExecContext(ctx,
		`UPDATE contribution_events SET status = ?, updated_at = ?, last_error = '', error_code = '' WHERE id = ?`,
		string(contribution.StatusApplied), time.Now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记事件入账失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return contribution.ErrEventNotFound
	}
	return nil
}

// MarkFailed 标记事件失败，非终态回到 pending 等待重投。
func (s *ContributionStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	status := contribution.StatusPending
	if terminal {
		status = contribution.StatusFailed
	}
	res, err := s.db.sql.ExecContext(ctx,
		`UPDATE contribution_events SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`,
		string(status), lastError, string(code), time.Now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记事件失败失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return contribution.ErrEventNotFound
	}
	return nil
}

// List 按更新时间倒序返回事件。
func (s *ContributionStore) List(ctx context.Context, opts contribution.ListOptions) ([]*contribution.Event, error) {
	query := `SELECT id, agent_id, kind, delta, reason, unit_id, vote, status, attempts, max_attempts,
        last_error, error_code, created_at, updated_at FROM contribution_events`

	var args []any
	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for _, status := range opts.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(status))
		}
		query += " WHERE status IN (" + strings.Join(placeholders, ", ") + ")"
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY updated_at DESC, created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询贡献事件列表失败")
	}
	defer rows.Close()

	events := make([]*contribution.Event, 0, limit)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历贡献事件失败")
	}
	return events, nil
}

// Close 由共享的 DB 统一关闭连接。
func (s *ContributionStore) Close() error {
	return nil
}

var _ contribution.Store = (*ContributionStore)(nil)
