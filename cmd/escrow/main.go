package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/pkg/messagequeue/outbox"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/wyfcoding/investportal/internal/escrow/application"
	"github.com/wyfcoding/investportal/internal/escrow/domain"
	"github.com/wyfcoding/investportal/internal/escrow/infrastructure/messaging"
	"github.com/wyfcoding/investportal/internal/escrow/infrastructure/persistence"
	escrowmysql "github.com/wyfcoding/investportal/internal/escrow/infrastructure/persistence/mysql"
	escrowredis "github.com/wyfcoding/investportal/internal/escrow/infrastructure/persistence/redis"
	"github.com/wyfcoding/investportal/internal/escrow/interfaces/consumer"
	grpcserver "github.com/wyfcoding/investportal/internal/escrow/interfaces/grpc"
	escrowhttp "github.com/wyfcoding/investportal/internal/escrow/interfaces/http"
	validationapp "github.com/wyfcoding/investportal/internal/validation/application"
	validationdomain "github.com/wyfcoding/investportal/internal/validation/domain"
	validationmysql "github.com/wyfcoding/investportal/internal/validation/infrastructure/persistence/mysql"
	validationhttp "github.com/wyfcoding/investportal/internal/validation/interfaces/http"
	"github.com/wyfcoding/investportal/pkg/cache"
	"github.com/wyfcoding/investportal/pkg/config"
	"github.com/wyfcoding/investportal/pkg/db"
	"github.com/wyfcoding/investportal/pkg/logger"
	"github.com/wyfcoding/investportal/pkg/metrics"
	"github.com/wyfcoding/investportal/pkg/middleware"
	"github.com/wyfcoding/investportal/pkg/mq"
	"github.com/wyfcoding/investportal/pkg/ratelimit"
)

var configPath = flag.String("config", "configs/escrow/config.toml", "config file path")

func main() {
	flag.Parse()

	// 1. 初始化配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
		Service:    cfg.ServiceName,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to init logger: %v", err))
	}

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. 初始化指标
	m := metrics.New(cfg.ServiceName)

	// 4. 初始化基础设施
	database, err := db.Open(db.Config{
		Driver:             cfg.Database.Driver,
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	}, log)
	if err != nil {
		return err
	}
	defer database.Close()

	if cfg.Database.AutoMigrate {
		if err := migrate(database.DB); err != nil {
			return err
		}
	}

	var redisCache *cache.RedisCache
	if cfg.Redis.Enabled {
		redisCache, err = cache.New(cache.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			MaxPoolSize:  cfg.Redis.MaxPoolSize,
			ConnTimeout:  cfg.Redis.ConnTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		}, log)
		if err != nil {
			return err
		}
		defer redisCache.Close()
	}

	// 5. 初始化仓储
	var accounts domain.AccountRepository = escrowmysql.NewAccountRepository(database.DB)
	if redisCache != nil {
		ttl := time.Duration(cfg.Escrow.CacheTTL) * time.Second
		accounts = persistence.NewCompositeAccountRepository(accounts, escrowredis.NewAccountCache(redisCache, ttl))
	}
	outboxMgr := outbox.NewManager(database.DB, log)
	events := messaging.NewOutboxPublisher(outboxMgr)
	uow := db.NewTxManager(database.DB)

	// 6. 初始化应用服务
	ledger := application.NewEscrowLedger(accounts, escrowmysql.NewTransactionRepository(database.DB), events, uow, log,
		application.WithLedgerMetrics(m),
		application.WithEventTopic(cfg.Kafka.EventsTopic),
	)
	tracker := application.NewReleaseConditionTracker(escrowmysql.NewConditionRepository(database.DB), accounts, events, uow, cfg.Kafka.EventsTopic, log)
	scheduler := application.NewAutoReleaseScheduler(ledger, tracker, accounts, log,
		application.WithSchedule(cfg.Escrow.AutoReleaseSchedule),
		application.WithBatchSize(cfg.Escrow.SweepBatchSize),
		application.WithAutoReleaseMetrics(m),
	)

	rules := validationdomain.DefaultRules(cfg.Validation.RestrictedJurisdictions)
	if cfg.Validation.RulesFile != "" {
		custom, err := validationdomain.LoadRulePackFile(cfg.Validation.RulesFile)
		if err != nil {
			return err
		}
		rules = append(rules, custom...)
	}
	engine := validationdomain.NewRuleEngine(
		validationdomain.WithLogger(log),
		validationdomain.WithRules(rules...),
		validationdomain.WithFailureObserver(m),
	)
	validationSvc := validationapp.NewValidationService(
		validationmysql.NewOpportunityRepository(database.DB),
		engine,
		consumer.NewLocalSink(scheduler),
		m,
		log,
	)

	// 7. 初始化接口层
	grpcSrv := grpcserver.NewServer(func(ctx context.Context) error {
		sqlDB, err := database.DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}, log)

	if cfg.Environment == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(middleware.GinRecovery(log), middleware.GinLogging(log), middleware.GinMetrics(m), middleware.GinCORS())

	var writeGuards []gin.HandlerFunc
	if cfg.RateLimit.Enabled && redisCache != nil {
		limiter := ratelimit.NewRedisRateLimiter(redisCache.Client())
		writeGuards = append(writeGuards, middleware.RateLimit(limiter, rateLimitPolicy(cfg.RateLimit), log))
	} else if cfg.RateLimit.Enabled {
		log.Warn("rate limiting requires redis, write endpoints are unguarded")
	}

	api := r.Group("/api/v1")
	validationhttp.NewHandler(validationSvc).RegisterRoutes(api)
	escrowhttp.NewHandler(ledger, tracker, scheduler).RegisterRoutes(api, writeGuards...)

	// 8. 启动服务
	g, ctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		g.Go(func() error { return m.Serve(ctx, cfg.Metrics.Port, cfg.Metrics.Path, log) })
	}

	g.Go(func() error {
		return grpcSrv.Serve(ctx, fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port), 10*time.Second)
	})

	g.Go(func() error {
		server := &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
			Handler:      r,
			ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
			WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
		log.Info("HTTP server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error { return scheduler.Start(ctx) })

	if cfg.Kafka.Enabled {
		producer := startMessaging(ctx, g, cfg, log, m, outboxMgr, scheduler)
		defer producer.Close()
	} else {
		log.Info("kafka disabled, ledger events stay in outbox")
	}

	// 9. 优雅关闭
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down servers...")
		return nil
	})

	return g.Wait()
}

func rateLimitPolicy(cfg config.RateLimitConfig) ratelimit.Policy {
	policy := ratelimit.Policy{
		Default: ratelimit.PerSecond(cfg.QPS, cfg.Burst),
		Scopes:  make(map[string]ratelimit.Limit, len(cfg.Routes)),
	}
	for scope, l := range cfg.Routes {
		policy.Scopes[scope] = ratelimit.PerSecond(l.QPS, l.Burst)
	}
	return policy
}

func migrate(gdb *gorm.DB) error {
	if err := validationmysql.AutoMigrate(gdb); err != nil {
		return fmt.Errorf("failed to migrate validation tables: %w", err)
	}
	if err := escrowmysql.AutoMigrate(gdb); err != nil {
		return fmt.Errorf("failed to migrate escrow tables: %w", err)
	}
	return nil
}

// startMessaging 启动 outbox 投递与条件信号消费者，返回的 producer 在所有任务退出后关闭
func startMessaging(ctx context.Context, g *errgroup.Group, cfg *config.Config, log *slog.Logger, m *metrics.Metrics, outboxMgr *outbox.Manager, scheduler *application.AutoReleaseScheduler) *mq.Producer {
	kafkaCfg := mq.KafkaConfig{
		Brokers:        cfg.Kafka.Brokers,
		GroupID:        cfg.Kafka.GroupID,
		SessionTimeout: cfg.Kafka.SessionTimeout,
		MaxRetries:     cfg.Kafka.MaxRetries,
		RetryBackoff:   cfg.Kafka.RetryBackoff,
	}
	producer := mq.NewProducer(kafkaCfg, log)

	outboxProcessor := outbox.NewProcessor(outboxMgr, messaging.NewKafkaPusher(producer, m, log),
		cfg.Escrow.OutboxBatchSize, time.Duration(cfg.Escrow.OutboxRelayInterval)*time.Second)
	g.Go(func() error {
		outboxProcessor.Start()
		<-ctx.Done()
		outboxProcessor.Stop()
		return nil
	})

	signals := consumer.NewSignalConsumer(scheduler, map[string]domain.ConditionType{
		cfg.Kafka.MilestoneTopic: domain.ConditionMilestoneCompletion,
		cfg.Kafka.DocumentTopic:  domain.ConditionDocumentUpload,
	}, log)
	dlq := mq.NewDeadLetterQueue(producer, cfg.Kafka.DeadLetterTopic)

	for _, topic := range []string{cfg.Kafka.MilestoneTopic, cfg.Kafka.DocumentTopic} {
		c := mq.NewConsumer(kafkaCfg, topic, dlq, log)
		g.Go(func() error {
			defer c.Close()
			return c.Run(ctx, signals.Handle)
		})
	}
	return producer
}
