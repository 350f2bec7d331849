package server

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"turnstile/config"
	"turnstile/internal/admsapi"
	"turnstile/internal/cmdqueue"
	"turnstile/internal/db"
	"turnstile/internal/enroll"
	"turnstile/internal/health"
	"turnstile/internal/iclock"
	"turnstile/internal/ingest"
	"turnstile/internal/logs"
	"turnstile/internal/middleware"
	"turnstile/internal/models"
	"turnstile/internal/rawlog"
	"turnstile/internal/registry"
	"turnstile/internal/repo"

	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

type App struct {
	cfg        *config.Config
	Router     *mux.Router
	httpServer *http.Server

	db     *gorm.DB
	ctx    context.Context
	cancel context.CancelFunc

	registry *registry.Service
	relay    *ingest.Relay
	enroll   *enroll.Service
}

func (a *App) Initialize(cfg *config.Config) {
	a.cfg = cfg

	// 1) Логи
	logs.Init(logs.Options{
		Level:  a.cfg.Logging.Level,
		Format: a.cfg.Logging.Format,
		File:   a.cfg.Logging.File,
	})

	// 2) БД (опционально: без driver работаем in-memory — dev/тесты)
	if drv := a.cfg.Database.Driver; drv != "" {
		d, err := db.Open(drv, a.cfg.Database.DSN)
		if err != nil {
			log.Fatalf("db open failed: %v", err)
		}
		a.db = d
	}

	if a.db != nil {
		if err := a.db.AutoMigrate(
			&models.Device{},
			&models.DeviceCommand{},
			&models.AttendanceLog{},
			&models.DeviceUser{},
			&models.FingerTemplate{},
			&models.RawLog{},
		); err != nil {
			log.Fatalf("db migrate failed: %v", err)
		}
		// составной уникальный индекс отметок: AutoMigrate его не чинит
		if err := db.MigrateAttendanceUniqueIndex(a.db); err != nil {
			logs.Logger.Warnf("attendance unique index migration: %v", err)
		}
	}

	// 3) Хранилища: gorm при подключённой БД, иначе in-memory
	var (
		devStore registry.Store
		cmdStore cmdqueue.Store
		attStore ingest.AttendanceStore
		enrStore enroll.Store
		logStore rawlog.Store
	)
	if a.db != nil {
		devStore = repo.NewDeviceStore(a.db)
		cmdStore = repo.NewCommandStore(a.db)
		attStore = repo.NewAttendanceStore(a.db)
		enrStore = repo.NewEnrollStore(a.db)
		logStore = repo.NewRawLogStore(a.db)
	} else {
		logs.Logger.Warn("no database configured, running with in-memory stores")
		devStore = registry.NewMemStore()
		cmdStore = cmdqueue.NewMemStore()
		attStore = ingest.NewMemStore()
		enrStore = enroll.NewMemStore()
		logStore = rawlog.NewMemStore()
	}

	// 4) Сервисы
	a.registry = registry.NewService(devStore, registry.Opts{
		ErrorDelay:    a.cfg.ADMS.ErrorDelay,
		Delay:         a.cfg.ADMS.Delay,
		TransInterval: a.cfg.ADMS.TransInterval,
	})
	queue := cmdqueue.New(cmdStore)
	if a.cfg.Relay.BaseURL != "" {
		a.relay = ingest.NewRelay(&http.Client{}, a.cfg.Relay.BaseURL, a.cfg.Relay.Secret, a.cfg.RelayTimeout(), 4)
	}
	pipeline := ingest.NewPipeline(attStore, a.relay)
	a.enroll = enroll.NewService(enrStore, queue, devStore, a.cfg.ADMS.AutoClone, 4)
	audit := rawlog.New(logStore)

	// 5) Роутер + middleware
	a.Router = mux.NewRouter()
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(middleware.LoggerMW)

	a.RegisterWebUI("/ui/")

	if a.db != nil {
		health.RegisterRoutesWithDB(a.Router, a.db) // /healthz и /readyz
	} else {
		health.RegisterRoutes(a.Router)
	}

	// 6) Терминальные ручки + management API
	iclock.RegisterRoutes(a.Router, iclock.NewController(a.registry, queue, pipeline, a.enroll, audit))
	admsapi.NewHTTP(a.registry, queue, a.enroll, audit).RegisterRoutes(a.Router)

	a.Router.Walk(func(rt *mux.Route, r *mux.Router, ancestors []*mux.Route) error {
		path, _ := rt.GetPathTemplate()
		methods, _ := rt.GetMethods()
		log.Printf("route: %-6v %s", methods, path)
		return nil
	})
}

func (a *App) Run() error {
	if a.Router == nil || a.cfg == nil {
		return ErrNotInitialized
	}
	bind := net.JoinHostPort(a.cfg.Server.Address, a.cfg.Server.HTTPPort)

	a.ctx, a.cancel = context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() { <-sigs; a.cancel() }()

	go a.reconcileLoop()

	a.httpServer = &http.Server{
		Addr:         bind,
		Handler:      a.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("HTTP listening on %s", bind)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-a.ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.httpServer.Shutdown(ctx)
	if a.enroll != nil {
		a.enroll.Close()
	}
	if a.relay != nil {
		a.relay.Close()
	}
	return nil
}

// reconcileLoop периодически помечает offline устройства, не выходившие на
// связь три интервала подряд.
func (a *App) reconcileLoop() {
	interval := a.cfg.SyncInterval()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if n, err := a.registry.ReconcileOffline(3 * interval); err != nil {
				logs.Logger.Warnf("offline reconcile: %v", err)
			} else if n > 0 {
				logs.Logger.Infof("offline reconcile: %d devices marked", n)
			}
		case <-a.ctx.Done():
			return
		}
	}
}

var ErrNotInitialized = &initError{"server not initialized (call Initialize(cfg) first)"}

type initError struct{ s string }

func (e *initError) Error() string { return e.s }
