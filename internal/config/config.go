package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述 SkillMesh 注册中心在启动阶段需要加载的核心配置。
type Config struct {
	Server        ServerConfig        `json:"server"`
	Storage       StorageConfig       `json:"storage"`
	Queue         QueueConfig         `json:"queue"`
	Trust         TrustConfig         `json:"trust"`
	Certification CertificationConfig `json:"certification"`
	Rewards       RewardsConfig       `json:"rewards"`
	Auth          AuthConfig          `json:"auth"`
	Anchor        AnchorConfig        `json:"anchor"`
	Logging       LoggingConfig       `json:"logging"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address        string `json:"address"`
	MetricsAddress string `json:"metrics_address"`
}

// StorageConfig 统一描述声誉账本的持久化后端。
type StorageConfig struct {
	Driver string       `json:"driver"`
	SQLite SQLiteConfig `json:"sqlite"`
	MySQL  MySQLConfig  `json:"mysql"`
}

// SQLiteConfig 描述嵌入式 SQLite 后端。
type SQLiteConfig struct {
	Path string `json:"path"`
}

// MySQLConfig 描述 MySQL 后端的连接信息与连接池参数。
type MySQLConfig struct {
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// QueueConfig 描述贡献事件队列的驱动与消费参数。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Worker   int            `json:"worker"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述基于 Redis List 的队列。
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Queue     string `json:"queue"`
	BlockWait int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述基于 RabbitMQ 的队列。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// TrustConfig 控制全局信任传播的计算参数。
type TrustConfig struct {
	Damping       float64  `json:"damping"`
	Epsilon       float64  `json:"epsilon"`
	MaxIterations int      `json:"max_iterations"`
	PreTrusted    []string `json:"pre_trusted"`
}

// CertificationConfig 控制认证提案的裁决参数。
type CertificationConfig struct {
	Quorum            int     `json:"quorum"`
	ApproveRatio      float64 `json:"approve_ratio"`
	RejectRatio       float64 `json:"reject_ratio"`
	VotingPeriodHours int     `json:"voting_period_hours"`
	MinTenureDays     int     `json:"min_tenure_days"`
}

// RewardsConfig 控制贡献事件的计分与重试参数。
type RewardsConfig struct {
	ValidationDelta float64 `json:"validation_delta"`
	MaxAttempts     int     `json:"max_attempts"`
}

// AuthConfig 描述 API Key 认证的模式与静态密钥。
type AuthConfig struct {
	Mode string          `json:"mode"`
	Keys []AuthKeyConfig `json:"keys"`
}

// AuthKeyConfig 定义一条静态 API Key 及其绑定的主体与范围。
type AuthKeyConfig struct {
	Key      string   `json:"key"`
	AgentID  string   `json:"agent_id"`
	Scopes   []string `json:"scopes"`
	Disabled bool     `json:"disabled"`
}

// AnchorConfig 控制信任向量摘要的链上锚定。
type AnchorConfig struct {
	Enabled    bool   `json:"enabled"`
	Chain      string `json:"chain"`
	ChainsFile string `json:"chains_file"`
}

// LoggingConfig 控制运行日志与审计日志输出。
type LoggingConfig struct {
	Level       string         `json:"level"`
	Format      string         `json:"format"`
	OutputPaths []string       `json:"output_paths"`
	Audit       AuditLogConfig `json:"audit"`
}

// AuditLogConfig 控制审计日志文件的轮转策略。
type AuditLogConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.SQLite.Path == "" {
		c.Storage.SQLite.Path = filepath.Join(baseDir, "data", "skillmesh.db")
	} else if !filepath.IsAbs(c.Storage.SQLite.Path) {
		c.Storage.SQLite.Path = filepath.Join(baseDir, c.Storage.SQLite.Path)
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Worker <= 0 {
		c.Queue.Worker = 4
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}

	if c.Anchor.ChainsFile != "" && !filepath.IsAbs(c.Anchor.ChainsFile) {
		c.Anchor.ChainsFile = filepath.Join(baseDir, c.Anchor.ChainsFile)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Audit.Enabled {
		if c.Logging.Audit.Path == "" {
			c.Logging.Audit.Path = filepath.Join(baseDir, "logs", "audit.log")
		} else if !filepath.IsAbs(c.Logging.Audit.Path) {
			c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
		}
	}
}
