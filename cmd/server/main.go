package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"opay/internal/backend"
	"opay/internal/config"
	"opay/internal/handler"
	"opay/internal/infrastructure/cache"
	"opay/internal/infrastructure/database"
	"opay/internal/infrastructure/lock"
	"opay/internal/infrastructure/mq"
	"opay/internal/job"
	"opay/internal/metrics"
	"opay/internal/model"
	"opay/internal/repository"
	"opay/internal/scan"
	"opay/internal/service"
	"opay/internal/wizard"
	"opay/pkg/idgen"
	"opay/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	workerID := flag.Int64("worker", 1, "雪花算法 worker id，多实例部署时各不相同")
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New("opay", cfg.Server.Env, cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, *workerID, log); err != nil {
		log.Fatal("服务异常退出", zap.Error(err))
	}
}

func run(cfg *config.Config, workerID int64, log *zap.Logger) error {
	// 初始化 ID 生成器
	if err := idgen.Init(workerID); err != nil {
		return err
	}
	metrics.Register()

	// 初始化 MySQL
	db, err := database.InitMySQL(&cfg.MySQL, cfg.Server.Env, log)
	if err != nil {
		return err
	}

	// 初始化 Redis
	rdb, err := cache.InitRedis(&cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	// 初始化 Kafka
	producer, err := mq.NewProducer(&cfg.Kafka)
	if err != nil {
		return err
	}
	defer producer.Close()

	client, err := backend.New(backend.Config{
		URL:        cfg.Backend.URL,
		APIKey:     cfg.Backend.APIKey,
		ServiceKey: cfg.Backend.ServiceKey,
		Timeout:    time.Duration(cfg.Backend.TimeoutSeconds) * time.Second,
	}, log)
	if err != nil {
		return err
	}

	usdRate, err := cfg.Business.USDRate()
	if err != nil {
		return err
	}
	rates, err := cfg.Business.Rates()
	if err != nil {
		return err
	}

	biz := cfg.Business
	store := cache.NewStore(rdb)
	locker := lock.NewLocker(rdb, 30*time.Second)
	outboxRepo := repository.NewOutboxRepository(db)
	reviewLogs := repository.NewReviewLogRepository(db)
	cameras := scan.NewRegistry()

	// ========== 业务服务 ==========
	flow := service.FlowDeps{
		Tx:          db,
		Outbox:      outboxRepo,
		ReviewLogs:  reviewLogs,
		Locker:      locker,
		TopicPrefix: cfg.Kafka.TopicPrefix,
		Log:         log,
	}

	policies := service.NewPolicyService(repository.NewFeePolicyRepository(db), store, biz.PolicyCacheTTL(), log)
	balances := service.NewBalanceService(client, store, biz.BalanceCacheTTL(), log)
	unique := service.NewUniqueAmountService(client, store, biz.UniqueAmountMaxOffset, biz.UniqueAmountTTL(), biz.RequestTimeout(), log)

	deposits := service.NewDepositService(flow, service.DepositDeps{
		Store:          repository.NewRequestRepository[model.Deposit](db),
		Policies:       policies,
		Unique:         unique,
		Balances:       balances,
		Ledger:         client,
		URLs:           client,
		ReceiptsBucket: cfg.Backend.ReceiptsBucket,
		Timeout:        biz.RequestTimeout(),
	})
	withdrawals := service.NewWithdrawalService(flow, repository.NewRequestRepository[model.Withdrawal](db), policies, balances, client)
	transfers := service.NewTransferService(flow, repository.NewRequestRepository[model.Transfer](db), policies, balances, client)
	orders := service.NewOrderService(flow, repository.NewRequestRepository[model.Order](db), policies, balances, client, client, usdRate)
	giftcards := service.NewGiftCardService(flow, repository.NewRequestRepository[model.GiftCardRedemption](db), client, client, balances)
	betting := service.NewBettingService(flow, repository.NewRequestRepository[model.BettingDeposit](db), policies, balances, client)
	diaspora := service.NewDiasporaService(flow, repository.NewRequestRepository[model.DiasporaTransfer](db), policies, rates)

	admin := service.NewAdminService(client, store, biz.RoleCacheTTL(), balances,
		service.PendingCounters(deposits, withdrawals, orders, betting, diaspora), log)

	wizards := service.NewWizardService(service.WizardDeps{
		Catalog:   wizard.NewCatalog(policies.AmountCheck(model.ServiceFlexyDeposit)),
		Store:     wizard.NewRedisStore(rdb, biz.WizardTTL()),
		Locker:    locker,
		Unique:    unique,
		Deposits:  deposits,
		Transfers: transfers,
		GiftCards: giftcards,
		Cameras:   cameras,
		Log:       log,
	})

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ========== 后台任务 ==========
	outboxSender := job.NewOutboxSender(outboxRepo, producer, biz.MaxRetryCount, log)
	go outboxSender.Start(ctx)

	timeoutJob := job.NewRequestTimeoutJob(deposits, log)
	go timeoutJob.Start(ctx)

	compensateJob := job.NewApprovingCompensateJob(map[string]job.Reverter{
		model.KindDeposit:    deposits,
		model.KindWithdrawal: withdrawals,
		model.KindOrder:      orders,
		model.KindBetting:    betting,
		model.KindDiaspora:   diaspora,
	}, biz.ApprovingTimeout(), log)
	go compensateJob.Start(ctx)

	recalcJob := job.NewBalanceRecalcJob(balances, biz.RecalcInterval(), log)
	go recalcJob.Start(ctx)

	limiter := handler.NewRateLimiter(biz.RateLimitPerSecond, biz.RateLimitBurst, log)
	limiter.StartCleanup(ctx, 10*time.Minute)

	// ========== HTTP ==========
	h := handler.NewHandler(handler.Services{
		Policies:       policies,
		Balances:       balances,
		Deposits:       deposits,
		Withdrawals:    withdrawals,
		Transfers:      transfers,
		Orders:         orders,
		GiftCards:      giftcards,
		Betting:        betting,
		Diaspora:       diaspora,
		Admin:          admin,
		Wizard:         wizards,
		Outbox:         outboxRepo,
		ReviewLogs:     reviewLogs,
		Objects:        client,
		ReceiptsBucket: cfg.Backend.ReceiptsBucket,
	}, log)

	health := dependencyHealth(db, store)
	router := handler.SetupRouter(cfg, h, client, limiter, func() map[string]string {
		return health(context.Background())
	}, log)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}
	metricsServer := metrics.NewServer(cfg.Metrics.Port, func(ctx context.Context) error {
		for dep, status := range health(ctx) {
			if status != "ok" {
				return fmt.Errorf("%s: %s", dep, status)
			}
		}
		return nil
	})

	serveErr := make(chan error, 2)
	go func() {
		log.Info("服务启动", zap.Int("port", cfg.Server.Port), zap.String("env", cfg.Server.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("HTTP 服务启动失败: %w", err)
		}
	}()
	go func() {
		log.Info("指标服务启动", zap.Int("port", cfg.Metrics.Port))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("指标服务启动失败: %w", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		log.Info("正在关闭服务...", zap.String("signal", sig.String()))
	case runErr = <-serveErr:
		log.Error("服务异常，开始关闭", zap.Error(runErr))
	}

	// 取消上下文，停止后台任务
	cancel()

	// 所有摄像头会话立即释放
	cameras.ReleaseAll()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("服务关闭异常", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("指标服务关闭异常", zap.Error(err))
	}

	log.Info("服务已关闭")
	return runErr
}

// dependencyHealth MySQL / Redis 连通性
func dependencyHealth(db *gorm.DB, store *cache.Store) func(ctx context.Context) map[string]string {
	return func(ctx context.Context) map[string]string {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		out := map[string]string{"mysql": "ok", "redis": "ok"}
		if sqlDB, err := db.DB(); err != nil {
			out["mysql"] = err.Error()
		} else if err := sqlDB.PingContext(ctx); err != nil {
			out["mysql"] = err.Error()
		}
		if err := store.Ping(ctx); err != nil {
			out["redis"] = err.Error()
		}
		return out
	}
}
