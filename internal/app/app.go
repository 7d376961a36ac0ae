// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/api"
	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/config"
	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/engine"
	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/journal"
	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/patterns"
	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/services"
	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/storage"
	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/utils"
	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/validation"
)

const defaultShutdownTimeout = 30 * time.Second

// server 抽象 http.Server，方便测试替换
type server interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// App 应用程序结构
type App struct {
	config  *config.AppConfig
	router  *gin.Engine
	server  server
	logger  *utils.Logger
	metrics *utils.APIMetrics

	catalog *patterns.Catalog
	store   storage.Store
	locks   *services.LockManager
	journal *journal.EmergenceJournal
	hub     *api.ThoughtHub
	service *services.ConsciousnessService

	stopChan        chan os.Signal
	shutdownTimeout time.Duration
	cleanupOnce     sync.Once
}

// New 按依赖顺序创建所有组件
func New(cfg *config.AppConfig) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}
	logger := utils.GetLogger()
	metrics := utils.NewAPIMetrics(nil, logger)

	catalog, err := patterns.Load(cfg.PatternCatalog)
	if err != nil {
		return nil, fmt.Errorf("加载模式库失败: %w", err)
	}

	if err := ensureDirs(cfg); err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("打开存储失败: %w", err)
	}

	a := &App{
		config:          cfg,
		logger:          logger,
		metrics:         metrics,
		catalog:         catalog,
		store:           store,
		locks:           services.NewLockManager(),
		journal:         journal.NewEmergenceJournal(cfg.JournalDir),
		hub:             api.NewThoughtHub(logger, metrics),
		stopChan:        make(chan os.Signal, 1),
		shutdownTimeout: defaultShutdownTimeout,
	}

	validator, err := validation.NewValidator()
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("编译请求校验规则失败: %w", err)
	}

	a.service, err = services.NewConsciousnessService(services.Dependencies{
		Catalog:       catalog,
		Engine:        engine.NewEngine(),
		Store:         store,
		Locks:         a.locks,
		Journal:       a.journal,
		Publisher:     a.hub,
		Metrics:       metrics,
		Logger:        logger,
		EngineTimeout: cfg.EngineTimeout,
		StoreTimeout:  cfg.StoreTimeout,
	})
	if err != nil {
		a.cleanup()
		return nil, err
	}

	handler := api.NewHandler(api.HandlerOptions{
		Service:       a.service,
		Validator:     validator,
		Hub:           a.hub,
		Metrics:       metrics,
		Logger:        logger,
		AllowedOrigin: cfg.AllowedOrigin,
		Version:       cfg.Version,
	})
	a.router = api.SetupRouter(handler, api.RouterOptions{
		AllowedOrigin: cfg.AllowedOrigin,
		DebugMode:     cfg.DebugMode,
		Logger:        logger,
		Metrics:       metrics,
	})
	a.server = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("✅ 应用组件初始化完成", map[string]interface{}{
		"store_driver": cfg.StoreDriver,
		"patterns":     len(catalog.ListAll()),
	})
	return a, nil
}

func ensureDirs(cfg *config.AppConfig) error {
	dirs := []string{cfg.DataDir, cfg.JournalDir}
	if cfg.StoreDriver == config.StoreDriverSQLite {
		dirs = append(dirs, filepath.Dir(cfg.SQLitePath))
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建目录失败 %s: %w", dir, err)
		}
	}
	return nil
}

// Config 获取应用配置
func (a *App) Config() *config.AppConfig {
	return a.config
}

// Router 返回HTTP路由
func (a *App) Router() *gin.Engine {
	return a.router
}

// Catalog 返回已加载的模式库
func (a *App) Catalog() *patterns.Catalog {
	return a.catalog
}

// Run 启动HTTP服务和思绪流分发，直到收到停止信号或ctx结束
func (a *App) Run(ctx context.Context) error {
	signal.Notify(a.stopChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(a.stopChan)
	defer a.cleanup()

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.hub.Run(hubCtx)
	})

	g.Go(func() error {
		a.logger.Info("🌐 服务器启动", map[string]interface{}{"addr": a.config.Addr()})
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("启动服务器失败: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		select {
		case sig := <-a.stopChan:
			a.logger.Info("🛑 收到停止信号，正在关闭服务器...", map[string]interface{}{"signal": sig.String()})
		case <-gctx.Done():
			a.logger.Info("🛑 正在关闭服务器...", nil)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()
		defer stopHub()

		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("服务器强制关闭: %w", err)
		}
		a.logger.Info("✅ 服务器优雅关闭完成", nil)
		return nil
	})

	return g.Wait()
}

// cleanup 释放所有资源，可重复调用
func (a *App) cleanup() {
	a.cleanupOnce.Do(func() {
		if a.locks != nil {
			a.locks.Stop()
		}
		if a.journal != nil {
			if err := a.journal.Close(); err != nil {
				a.logger.Warn("⚠️ 关闭日志归档失败", map[string]interface{}{"error": err.Error()})
			}
		}
		if a.store != nil {
			if err := a.store.Close(); err != nil {
				a.logger.Warn("⚠️ 关闭存储失败", map[string]interface{}{"error": err.Error()})
			}
		}
		_ = a.logger.Sync()
	})
}
