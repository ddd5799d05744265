package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"SkillMesh-Registry/internal/anchor"
	"SkillMesh-Registry/internal/api"
	"SkillMesh-Registry/internal/auth"
	"SkillMesh-Registry/internal/badge"
	"SkillMesh-Registry/internal/certification"
	"SkillMesh-Registry/internal/config"
	"SkillMesh-Registry/internal/contribution"
	"SkillMesh-Registry/internal/observability/alerting"
	"SkillMesh-Registry/internal/observability/metrics"
	"SkillMesh-Registry/internal/reputation"
	"SkillMesh-Registry/internal/storage/mysql"
	"SkillMesh-Registry/internal/storage/sqlite"
	"SkillMesh-Registry/internal/trust"
	"SkillMesh-Registry/pkg/logger"
)

// main 是 SkillMesh 注册中心守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("skillmeshd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("SKILLMESH_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "skillmesh.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	// 按配置选择持久化后端。
	stores, cleanup, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	badgeGrantor := badge.NewGrantor(stores.badges)
	ledgerOpts := []reputation.Option{reputation.WithGrantor(badgeGrantor)}
	if cfg.Certification.MinTenureDays > 0 {
		ledgerOpts = append(ledgerOpts,
			reputation.WithMinTenure(time.Duration(cfg.Certification.MinTenureDays)*24*time.Hour))
	}
	ledger := reputation.NewLedger(stores.reputation, ledgerOpts...)

	certManager := certification.NewManager(stores.proposals, ledger, badgeGrantor, certification.Config{
		Quorum:       cfg.Certification.Quorum,
		ApproveRatio: cfg.Certification.ApproveRatio,
		RejectRatio:  cfg.Certification.RejectRatio,
		VotingPeriod: time.Duration(cfg.Certification.VotingPeriodHours) * time.Hour,
	})

	queue, err := openQueue(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.L().Warn("关闭事件队列失败", "error", err)
		}
	}()

	svcOpts := []contribution.ServiceOption{}
	if cfg.Rewards.MaxAttempts > 0 {
		svcOpts = append(svcOpts, contribution.WithMaxAttempts(cfg.Rewards.MaxAttempts))
	}
	if cfg.Rewards.ValidationDelta > 0 {
		svcOpts = append(svcOpts, contribution.WithValidationDelta(cfg.Rewards.ValidationDelta))
	}
	contributionSvc := contribution.NewService(stores.events, queue, ledger, svcOpts...)

	// 重启后把仍处于 pending 的事件重新投递。
	if requeued, err := contributionSvc.Requeue(ctx); err != nil {
		logger.L().Warn("重投积压事件失败", "error", err)
	} else if requeued > 0 {
		logger.L().Info("重投积压事件", "count", requeued)
	}

	alerts := alerting.NewFanout(&alerting.LogNotifier{})
	processor := contribution.NewProcessor(ledger, stores.events, queue, queue,
		contribution.WithWorkerCount(cfg.Queue.Worker),
		contribution.WithAlertDispatcher(alerts),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("事件处理器异常退出", "error", err)
		}
	}()

	var anchorer api.Anchorer
	if cfg.Anchor.Enabled {
		defs, err := anchor.LoadChainDefinitions(cfg.Anchor.ChainsFile)
		if err != nil {
			return err
		}
		a, err := anchor.New(ctx, cfg.Anchor.Chain, defs)
		if err != nil {
			return err
		}
		defer a.Close()
		anchorer = a
	}

	authSvc, err := auth.NewService(ctx, auth.Config{
		Mode: auth.Mode(cfg.Auth.Mode),
		Keys: authSeeds(cfg.Auth.Keys),
	})
	if err != nil {
		return err
	}

	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("指标服务异常退出", "error", err)
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, api.Deps{
		Ledger:        ledger,
		Badges:        badgeGrantor,
		Contributions: contributionSvc,
		Proposals:     certManager,
		TrustEngine: trust.NewEngine(trust.Config{
			Damping:       cfg.Trust.Damping,
			Epsilon:       cfg.Trust.Epsilon,
			MaxIterations: cfg.Trust.MaxIterations,
			PreTrusted:    cfg.Trust.PreTrusted,
		}),
		TrustApplier: trust.NewApplier(ledger, 0),
		Anchorer:     anchorer,
		Auth:         authSvc,
		Alerts:       alerts,
	})

	logger.L().Info("skillmeshd 启动", "address", cfg.Server.Address, "storage", cfg.Storage.Driver, "queue", cfg.Queue.Driver)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// storeSet 汇集四类领域存储，便于按驱动整体切换。
type storeSet struct {
	reputation reputation.Store
	badges     badge.Store
	proposals  certification.Store
	events     contribution.Store
}

// openStores 按配置打开持久化后端，返回存储集合与统一清理函数。
func openStores(ctx context.Context, cfg *config.Config) (*storeSet, func(), error) {
	switch cfg.Storage.Driver {
	case "", "memory":
		return &storeSet{
			reputation: reputation.NewMemoryStore(),
			badges:     badge.NewMemoryStore(),
			proposals:  certification.NewMemoryStore(),
			events:     contribution.NewMemoryStore(),
		}, func() {}, nil
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLite.Path), 0o755); err != nil {
			return nil, nil, err
		}
		db, err := sqlite.Open(ctx, sqlite.Config{Path: cfg.Storage.SQLite.Path})
		if err != nil {
			return nil, nil, err
		}
		return &storeSet{
			reputation: sqlite.NewReputationStore(db),
			badges:     sqlite.NewBadgeStore(db),
			proposals:  sqlite.NewCertificationStore(db),
			events:     sqlite.NewContributionStore(db),
		}, func() { _ = db.Close() }, nil
	case "mysql":
		db, err := mysql.Open(ctx, mysql.Config{
			DSN:             cfg.Storage.MySQL.DSN,
			MaxOpenConns:    cfg.Storage.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MySQL.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Storage.MySQL.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.Storage.MySQL.ConnMaxIdleTimeSeconds) * time.Second,
		})
		if err != nil {
			return nil, nil, err
		}
		return &storeSet{
			reputation: mysql.NewReputationStore(db),
			badges:     mysql.NewBadgeStore(db),
			proposals:  mysql.NewCertificationStore(db),
			events:     mysql.NewContributionStore(db),
		}, func() { _ = db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}
}

// openQueue 按配置打开贡献事件队列。
func openQueue(cfg *config.Config) (contribution.Queue, error) {
	switch cfg.Queue.Driver {
	case "", "memory":
		return contribution.NewMemoryQueue(1024), nil
	case "redis":
		return contribution.NewRedisQueue(contribution.RedisQueueConfig{
			Address:   cfg.Queue.Redis.Address,
			Password:  cfg.Queue.Redis.Password,
			DB:        cfg.Queue.Redis.DB,
			Queue:     cfg.Queue.Redis.Queue,
			BlockWait: time.Duration(cfg.Queue.Redis.BlockWait) * time.Second,
		})
	case "rabbitmq":
		return contribution.NewRabbitMQQueue(contribution.RabbitMQConfig{
			URL:        cfg.Queue.RabbitMQ.URL,
			Queue:      cfg.Queue.RabbitMQ.Queue,
			Prefetch:   cfg.Queue.RabbitMQ.Prefetch,
			Durable:    cfg.Queue.RabbitMQ.Durable,
			AutoDelete: cfg.Queue.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}
}

// authSeeds 把配置项转换为认证服务的种子。
func authSeeds(keys []config.AuthKeyConfig) []auth.KeySeed {
	seeds := make([]auth.KeySeed, 0, len(keys))
	for _, key := range keys {
		seeds = append(seeds, auth.KeySeed{
			Key:      key.Key,
			AgentID:  key.AgentID,
			Scopes:   key.Scopes,
			Disabled: key.Disabled,
		})
	}
	return seeds
}
