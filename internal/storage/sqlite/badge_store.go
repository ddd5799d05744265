package sqlite

import (
	"context"

	"SkillMesh-Registry/internal/badge"
	xerrors "SkillMesh-Registry/internal/errors"
)

// BadgeStore 使用 SQLite 保存徽章。
type BadgeStore struct {
	db *DB
}

// NewBadgeStore 创建徽章仓库。
func NewBadgeStore(db *DB) *BadgeStore {
	return &BadgeStore{db: db}
}

// Grant 插入一枚徽章。(agent, domain, level) 已存在时为无操作。
func (s *BadgeStore) Grant(ctx context.Context, b *badge.Badge) error {
	const stmt = `INSERT INTO badges (agent_id, domain, level, badge_id, granted_at, granted_by)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(agent_id, domain, level) DO NOTHING`

	if _, err := s.db.sql.ExecContext(ctx, stmt,
		b.AgentID, b.Domain, string(b.Level), b.ID, b.GrantedAt, b.GrantedBy,
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入徽章失败")
	}
	return nil
}

// Has 判断指定键的徽章是否已授予。
func (s *BadgeStore) Has(ctx context.Context, agentID, domain string, level badge.Level) (bool, error) {
	const stmt = `SELECT COUNT(*) FROM badges WHERE agent_id = ? AND domain = ? AND level = ?`

	var count int
	if err := s.db.sql.QueryRowContext(ctx, stmt, agentID, domain, string(level)).Scan(&count); err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询徽章失败")
	}
	return count > 0, nil
}

// List 返回智能体持有的全部徽章，按授予时间升序。
func (s *BadgeStore) List(ctx context.Context, agentID string) ([]*badge.Badge, error) {
	const stmt = `SELECT agent_id, domain, level, badge_id, granted_at, granted_by
        FROM badges WHERE agent_id = ? ORDER BY granted_at ASC, badge_id ASC`

	rows, err := s.db.sql.QueryContext(ctx, stmt, agentID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询徽章列表失败")
	}
	defer rows.Close()

	var badges []*badge.Badge
	for rows.Next() {
		var b badge.Badge
		var level string
		if err := rows.Scan(&b.AgentID, &b.Domain, &level, &b.ID, &b.GrantedAt, &b.GrantedBy); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析徽章失败")
		}
		b.Level = badge.Level(level)
		badges = append(badges, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历徽章失败")
	}
	return badges, nil
}

// Close 由共享的 DB 统一关闭连接。
func (s *BadgeStore) Close() error {
	return nil
}

var _ badge.Store = (*BadgeStore)(nil)
