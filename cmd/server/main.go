package main

import (
	"context"
	"log"

	"github.com/carelog/internal/config"
	"github.com/carelog/internal/db"
	"github.com/carelog/internal/handler"
	"github.com/carelog/internal/router"
	"github.com/carelog/internal/service"
	"github.com/carelog/internal/sink"
	"github.com/gin-gonic/gin"
)

func main() {
	cfg := config.Load()
	gin.SetMode(cfg.GinMode)

	// 初始化数据库
	if err := db.Init(cfg.DatabasePath); err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}

	if err := db.EnsureUser(cfg.SuperRootUserName, cfg.SuperRootPassword); err != nil {
		log.Fatalf("failed to ensure root user: %v", err)
	}

	// 进程内通知触发器，触发与交互回调由 FiringService 消费
	localSink := sink.NewLocalSink()
	defer localSink.Close()

	api := handler.NewAPI(db.DB, localSink)
	api.Scheduler().WithSinkTimeout(cfg.SinkTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	firing := service.NewFiringService(db.DB, api.Scheduler(), api.Notifications(), api.Responses())
	go firing.Run(ctx, localSink.Fired(), localSink.Responses())

	// 周期巡检收敛提醒定义与触发器映射的漂移
	sweeper := service.NewSweeper(db.DB, api.Scheduler(), cfg.SweepInterval)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// 设置并运行 Gin 服务器
	r := router.SetupRouter(api, cfg.SessionSecret)
	if err := r.Run(cfg.ListenAddr); err != nil {
		log.Fatalf("failed to run server: %v", err)
	}
}
