package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// Config 描述 SQLite 数据库参数。
type Config struct {
	// Path 为数据库文件路径，":memory:" 表示纯内存库。
	Path string
}

// DB 包装单连接句柄，四个领域仓库共用。
type DB struct {
	sql *sql.DB
}

// Open 打开数据库文件并执行缺失的 schema 迁移。
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("SQLite 路径不能为空")
	}

	handle, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("打开 SQLite 失败: %w", err)
	}
	// 写操作串行化，避免 SQLITE_BUSY。
	handle.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
		`PRAGMA foreign_keys = ON`,
	} {
		if _, err := handle.ExecContext(ctx, pragma); err != nil {
			handle.Close()
			return nil, fmt.Errorf("设置 SQLite pragma 失败: %w", err)
		}
	}

	db := &DB{sql: handle}
	if err := db.runMigrations(ctx); err != nil {
		handle.Close()
		return nil, err
	}
	return db, nil
}

// Close 关闭数据库。
func (db *DB) Close() error {
	if db == nil || db.sql == nil {
		return nil
	}
	return db.sql.Close()
}
