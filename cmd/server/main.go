package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"resolvify/internal/config"
	"resolvify/internal/handlers"
	"resolvify/internal/metrics"
	"resolvify/internal/middleware"
	"resolvify/internal/models"
	"resolvify/internal/observability"
	"resolvify/internal/queue"
	"resolvify/internal/scheduler"
	"resolvify/internal/services"
	"resolvify/pkg/directory"
	"resolvify/pkg/mailer"
	"resolvify/pkg/scriptrun"
	"resolvify/pkg/vpnctl"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"
)

func main() {
	// 读取配置文件（默认 ./config.yml）并初始化日志
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg := config.Load()
	if err := config.InitLogger(cfg); err != nil {
		logrus.Warnf("init logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	// 链路追踪（可选）
	if cfg.Monitoring.Tracing.Enabled {
		shutdown, err := observability.SetupTracing(rootCtx, cfg)
		if err != nil {
			appLogger.Warnf("Failed to set up tracing: %v", err)
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					appLogger.Warnf("Tracing shutdown: %v", err)
				}
			}()
		}
	}

	// 构建 Postgres DSN 并连接数据库
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
			cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port,
		)
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		appLogger.Fatalf("Failed to connect to database: %v", err)
	}
	if cfg.Monitoring.Tracing.Enabled {
		if err := db.Use(gormtracing.NewPlugin()); err != nil {
			appLogger.Warnf("Failed to enable database tracing: %v", err)
		}
	}
	if sqlDB, err := db.DB(); err == nil {
		if cfg.Database.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		}
		if cfg.Database.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		}
		if cfg.Database.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
		}
	}

	// 根据需要迁移（此处默认迁移，生产可改为条件控制）
	if err := db.AutoMigrate(
		&models.User{}, &models.Ticket{}, &models.AutomationExecution{},
		&models.ApprovalRequest{}, &models.AutomationPolicy{}, &models.AuditLog{},
	); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	// 初始化外部能力客户端
	dirClient := directory.NewClient(&directory.Config{
		BaseURL:      cfg.Directory.BaseURL,
		TenantID:     cfg.Directory.TenantID,
		ClientID:     cfg.Directory.ClientID,
		ClientSecret: cfg.Directory.ClientSecret,
		Timeout:      cfg.Directory.Timeout,
	}, appLogger)
	vpnClient := vpnctl.NewClient(&vpnctl.Config{
		APIURL:  cfg.VPN.APIURL,
		APIKey:  cfg.VPN.APIKey,
		Timeout: cfg.VPN.Timeout,
	}, appLogger)
	mailClient := mailer.New(&mailer.Config{
		SMTPServer: cfg.Email.SMTPServer,
		SMTPPort:   cfg.Email.SMTPPort,
		Username:   cfg.Email.Username,
		Password:   cfg.Email.Password,
		FromName:   cfg.Email.FromName,
	}, appLogger)
	scriptRunner := scriptrun.New(&scriptrun.Config{
		Enabled:         cfg.Scripts.Enabled,
		InterpreterPath: cfg.Scripts.InterpreterPath,
		ScriptDir:       cfg.Scripts.ScriptDir,
	}, appLogger)

	// 初始化业务服务
	eventHub := services.NewTicketEventHub(appLogger)
	go eventHub.Run(rootCtx)

	jobs := queue.New(cfg.Queue.Workers, cfg.Queue.BufferSize, cfg.Queue.MaxRedeliver, appLogger)

	auditService := services.NewAuditService(db, appLogger)
	classifier := services.NewRuleClassifier(cfg.Automation.AutoResolveThreshold, appLogger)
	diagnosisService := services.NewDiagnosisService(appLogger)
	policyService := services.NewPolicyService(db, cfg.Automation, appLogger)
	engine := services.NewAutomationEngine(dirClient, vpnClient, mailClient, scriptRunner, cfg.Automation.Timeout, appLogger)
	orchestrator := services.NewOrchestratorService(db, cfg.Automation, diagnosisService, policyService, engine, auditService, mailClient, eventHub, appLogger)
	ticketService := services.NewTicketService(db, classifier, jobs, auditService, eventHub, appLogger)
	approvalService := services.NewApprovalService(db, jobs, auditService, appLogger)
	userService := services.NewUserService(db, cfg.JWT, appLogger)
	dashboardService := services.NewDashboardService(db, appLogger)

	if err := policyService.EnsureDefaults(rootCtx); err != nil {
		appLogger.Warnf("Failed to seed default policies: %v", err)
	}

	// 队列消费者：工单处理、审批后执行、失败重试
	jobs.Register(queue.JobProcessTicket, func(ctx context.Context, job queue.Job) error {
		return orchestrator.ProcessTicket(ctx, job.TicketID)
	})
	jobs.Register(queue.JobExecuteApproved, func(ctx context.Context, job queue.Job) error {
		return orchestrator.ExecuteApproved(ctx, job.TicketID, job.ApproverID)
	})
	jobs.Register(queue.JobRetryExecution, func(ctx context.Context, job queue.Job) error {
		return orchestrator.RetryExecution(ctx, job.ExecutionID)
	})
	jobs.Start(rootCtx)

	// 定时任务：滞留工单巡检 + 队列深度上报
	sched := scheduler.New(appLogger)
	if err := sched.AddJob("stuck-ticket-sweep", cfg.Automation.StuckSweepSchedule, func(ctx context.Context) {
		swept, err := orchestrator.SweepStuck(ctx)
		if err != nil {
			appLogger.Errorf("Stuck ticket sweep failed: %v", err)
			return
		}
		if swept > 0 {
			appLogger.Infof("Stuck ticket sweep moved %d tickets to failed", swept)
		}
	}); err != nil {
		appLogger.Fatalf("Failed to schedule stuck ticket sweep: %v", err)
	}
	if err := sched.AddJob("queue-depth-gauge", "@every 15s", func(ctx context.Context) {
		metrics.QueueDepth.Set(float64(jobs.Depth()))
	}); err != nil {
		appLogger.Fatalf("Failed to schedule queue depth gauge: %v", err)
	}
	go func() {
		if err := sched.Start(rootCtx); err != nil && err != context.Canceled {
			appLogger.Errorf("Scheduler stopped: %v", err)
		}
	}()

	// 初始化 Gin
	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(middleware.CORSMiddleware(cfg))
	if cfg.Security.RateLimiting.Enabled {
		r.Use(middleware.RateLimitMiddleware(cfg))
	}
	if cfg.Monitoring.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Monitoring.Tracing.ServiceName))
	}

	// 健康检查与指标
	healthHandler := handlers.NewHealthHandler()
	r.GET("/health", healthHandler.Health)
	r.GET("/ready", healthHandler.Ready)
	if cfg.Monitoring.Enabled {
		metricsPath := cfg.Monitoring.MetricsPath
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		r.GET(metricsPath, gin.WrapH(promhttp.Handler()))
	}

	ticketHandler := handlers.NewTicketHandler(ticketService, orchestrator, appLogger)
	automationHandler := handlers.NewAutomationHandler(orchestrator, approvalService, policyService, engine, jobs, appLogger)
	dashboardHandler := handlers.NewDashboardHandler(dashboardService, auditService, appLogger)
	userHandler := handlers.NewUserHandler(userService, appLogger)
	eventsHandler := handlers.NewEventsHandler(eventHub)

	// 公开路由：登录与事件推送
	public := r.Group("/api")
	handlers.RegisterAuthRoutes(public, userHandler)
	public.GET("/events/ws", eventsHandler.HandleWebSocket)

	// 鉴权路由：按资源粒度控制读写权限
	api := r.Group("/api")
	api.Use(middleware.AuthMiddleware(cfg))
	api.GET("/events/stats", eventsHandler.GetStats)
	handlers.RegisterUserRoutes(userGroup(api), userHandler)

	tickets := api.Group("/")
	tickets.Use(middleware.RequireResourcePermission("tickets"))
	handlers.RegisterTicketRoutes(tickets, ticketHandler)

	automation := api.Group("/")
	automation.Use(middleware.RequireResourcePermission("automations"))
	handlers.RegisterAutomationRoutes(automation, automationHandler)

	dashboard := api.Group("/")
	dashboard.Use(middleware.RequireResourcePermission("dashboard"))
	handlers.RegisterDashboardRoutes(dashboard, dashboardHandler)

	// 启动服务器
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: r,
	}
	go func() {
		appLogger.Infof("Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 优雅关闭：先停 HTTP，再停队列与调度器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Errorf("Server forced to shutdown: %v", err)
	}
	jobs.Stop()
	stop()
	appLogger.Info("Server exited")
}

// userGroup 用户管理接口走独立的资源权限（/auth/me 仅要求已登录）
func userGroup(api *gin.RouterGroup) *gin.RouterGroup {
	users := api.Group("/")
	users.Use(func(c *gin.Context) {
		if c.FullPath() == "/api/auth/me" {
			c.Next()
			return
		}
		middleware.RequireResourcePermission("users")(c)
	})
	return users
}
