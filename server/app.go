package server

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"virthub/config"
	"virthub/internal/api"
	"virthub/internal/collector"
	"virthub/internal/controller"
	"virthub/internal/db"
	"virthub/internal/health"
	"virthub/internal/logs"
	"virthub/internal/middleware"
	"virthub/internal/models"
	"virthub/internal/orchestrator"
	"virthub/internal/repo"
	"virthub/internal/telemetry"
	"virthub/internal/vault"
	"virthub/internal/vsphere"
)

// App — сборка приложения: БД, хранилища, оркестратор, коллектор, HTTP.
type App struct {
	Router *mux.Router
	DB     *gorm.DB
	Cfg    *config.Config

	orch *orchestrator.Orchestrator
	coll *collector.Collector
	srv  *http.Server
}

// Initialize поднимает зависимости и монтирует маршруты. Паникует при
// невозможности стартовать: без БД или ключа vault приложение бесполезно.
func (a *App) Initialize(cfg *config.Config) {
	a.Cfg = cfg

	logs.Init(logs.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})

	gdb, err := db.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logs.Logger.Fatalf("db open: %v", err)
	}
	a.DB = gdb

	if err := a.DB.AutoMigrate(
		&models.Platform{},
		&models.Credential{},
		&models.InventoryRecord{},
		&models.MetricSample{},
		&models.SyncRun{},
	); err != nil {
		logs.Logger.Fatalf("db migrate: %v", err)
	}

	vlt := vault.New(cfg.Vault.MasterKey)
	if !vlt.Ready() {
		logs.Logger.Fatal("vault: master key not configured")
	}

	platforms := repo.NewPlatformStore(a.DB)
	creds := repo.NewCredentialStore(a.DB)
	inventory := repo.NewInventoryStore(a.DB)
	metrics := repo.NewMetricStore(a.DB)
	runs := repo.NewRunStore(a.DB)

	sessOpts := vsphere.Options{
		ConnectTimeout:    cfg.Sync.ConnectTimeout,
		ExecuteTimeout:    cfg.Sync.ExecuteTimeout,
		RequestsPerSecond: cfg.Sync.RequestsPerSecond,
	}

	rec := &controller.Reconciler{Inventory: inventory}
	a.orch = orchestrator.New(platforms, creds, runs, rec,
		func(p *models.Platform, c *models.Credential) orchestrator.Endpoint {
			return vsphere.NewClient(p, c, vlt, sessOpts)
		})
	a.coll = collector.New(platforms, creds, inventory, metrics,
		func(p *models.Platform, c *models.Credential) collector.Endpoint {
			return vsphere.NewClient(p, c, vlt, sessOpts)
		},
		collector.Options{
			Window:     cfg.Collector.Window,
			Retention:  cfg.Collector.Retention,
			EvictBatch: cfg.Collector.EvictBatch,
		})

	telemetry.Register()

	a.Router = mux.NewRouter()
	a.Router.Use(middleware.RequestID, middleware.Recoverer, middleware.LoggerMW)

	h := &api.Handler{
		Platforms: platforms,
		Creds:     creds,
		Inventory: inventory,
		Metrics:   metrics,
		Runs:      runs,
		Orch:      a.orch,
		Vault:     vlt,
	}
	h.RegisterRoutes(a.Router)
	health.RegisterRoutes(a.Router, a.DB)
	a.Router.Handle("/metrics", telemetry.Handler()).Methods(http.MethodGet)
}

// Run запускает фоновые циклы и HTTP-сервер; блокируется до SIGINT/SIGTERM,
// затем мягко гасит сервер и циклы.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go a.syncLoop(ctx)
	go a.collectLoop(ctx)
	go a.evictLoop(ctx)

	addr := net.JoinHostPort(a.Cfg.Server.Address, a.Cfg.Server.HTTPPort)
	a.srv = &http.Server{
		Addr:         addr,
		Handler:      a.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  90 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logs.Logger.Infof("http: listening on %s", addr)
		if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logs.Logger.Infof("shutdown: signal %s", sig)
	}

	cancel()
	shutdownCtx, stopShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopShutdown()
	return a.srv.Shutdown(shutdownCtx)
}

// syncLoop — плановая синхронизация всех платформ, кроме suspended.
// Занятый слот пропускается молча: совмещение с ручным триггером штатно.
func (a *App) syncLoop(ctx context.Context) {
	if a.Cfg.Sync.Interval <= 0 {
		logs.Logger.Info("sync: scheduled runs disabled")
		return
	}
	t := time.NewTicker(a.Cfg.Sync.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			platforms, err := a.orch.Platforms.ListSyncable(ctx)
			if err != nil {
				logs.Logger.Errorf("sync: list platforms: %v", err)
				continue
			}
			for i := range platforms {
				if ctx.Err() != nil {
					return
				}
				if err := a.orch.RunScheduledSync(ctx, platforms[i].UUID); err != nil {
					logs.Logger.Warnf("%v", err)
				}
			}
		}
	}
}

func (a *App) collectLoop(ctx context.Context) {
	if a.Cfg.Collector.Interval <= 0 {
		logs.Logger.Info("collector: scheduled runs disabled")
		return
	}
	t := time.NewTicker(a.Cfg.Collector.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.coll.CollectAll(ctx)
		}
	}
}

// evictLoop — часовая уборка сэмплов за горизонтом хранения.
func (a *App) evictLoop(ctx context.Context) {
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := a.coll.Evict(ctx); err != nil && ctx.Err() == nil {
				logs.Logger.Errorf("collector: evict: %v", err)
			}
		}
	}
}
