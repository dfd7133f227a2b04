package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"matchday-service/config"
	"matchday-service/database"
	"matchday-service/services"
	"matchday-service/web"
)

func main() {
	log.Println("Starting Matchday Live Service...")

	// 加载配置
	cfg := config.Load()

	// 连接数据库
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// 运行数据库迁移
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	log.Println("Database connected and migrated")

	store := database.NewSQLStore(db)

	// 广播 Hub 和读缓存
	hub := services.NewBroadcastHub()
	cache := services.NewReadCache(cfg.StateCacheTTL)

	// AMQP 对外通知镜像 (未配置时禁用)
	notifier := services.NewAMQPNotifier(cfg.AMQPUrl, cfg.AMQPExchange)
	if err := notifier.Connect(); err != nil {
		// 对外镜像是尽力而为的，连不上不阻止启动
		log.Printf("AMQP notifier unavailable: %v", err)
	}

	effects := services.NewSideEffects(cache, hub, notifier)

	// 协作方：授权、配额、位置分类
	auth := services.NewCreatorAuthorizer(store)
	quota := services.UnlimitedQuota{}
	classifier := services.GridClassifier{}

	// 核心组件
	projector := services.NewScoreProjector(store)
	periods := services.NewPeriodTracker(store, auth, effects)
	machine := services.NewStateMachine(store, auth, periods, projector, effects)
	ledger := services.NewEventLedger(store, auth, quota, projector, effects)
	lineups := services.NewLineupTracker(store, auth, ledger, effects)
	formations := services.NewFormationSnapshotter(store, auth, ledger, classifier, effects)

	// 启动 Web 服务器
	server := web.NewServer(cfg, store, machine, periods, ledger, lineups, formations, hub, cache)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("Web server error: %v", err)
		}
	}()

	log.Printf("Web server started on port %s", cfg.Port)
	log.Println("Service is running. Press Ctrl+C to stop.")

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down service...")

	// 清理资源
	server.Stop()
	hub.Close()
	cache.Stop()
	notifier.Close()

	log.Println("Service stopped")
}
