package app

import (
	"context"
	"fmt"
	"os"

	"gorm.io/gorm"

	"github.com/chatdex/chatdex-backend/internal/db"
	httpX "github.com/chatdex/chatdex-backend/internal/http"
	"github.com/chatdex/chatdex-backend/internal/platform/logger"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Server   *httpX.Server
	Cfg      Config
	Repos    Repos
	Services Services

	ctx    context.Context
	cancel context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	database, err := db.NewDatabaseService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := database.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("database automigrate: %w", err)
	}
	theDB := database.DB()

	ctx, cancel := context.WithCancel(context.Background())

	reposet := wireRepos(theDB, log)

	serviceset, err := wireServices(ctx, theDB, log, cfg, reposet)
	if err != nil {
		cancel()
		log.Sync()
		return nil, err
	}

	server := httpX.NewServer(wireRouterConfig(log, serviceset))

	return &App{
		Log:      log,
		DB:       theDB,
		Server:   server,
		Cfg:      cfg,
		Repos:    reposet,
		Services: serviceset,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start launches the background workers (currently only the live update
// poller); the HTTP server is run separately via Run.
func (a *App) Start() {
	if a == nil {
		return
	}
	if a.Services.Poller != nil {
		a.Services.Poller.Start(a.ctx)
	}
}

func (a *App) Run(addr string) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Server.Run(addr)
}

func (a *App) Context() context.Context {
	return a.ctx
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
