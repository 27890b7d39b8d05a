package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/joho/godotenv"

	"github.com/nationdonation-web/csv-processor/internal/pkg/pkgconfig"
	"github.com/nationdonation-web/csv-processor/internal/pkg/pkglog"
	"github.com/nationdonation-web/csv-processor/internal/pkg/pkgmetrics"
	"github.com/nationdonation-web/csv-processor/internal/pkg/pkgrouter"
	"github.com/nationdonation-web/csv-processor/internal/pkg/pkguid"
)

type App struct {
	ctx    context.Context
	cancel context.CancelFunc

	// configuration
	config pkgconfig.Config

	// libraries
	uuid    pkguid.StringID
	runID   pkguid.NumberID
	metrics *pkgmetrics.Recorder

	// server
	router     *pkgrouter.Router
	httpServer *http.Server

	closers []closer
}

type closer struct {
	name string
	fn   func(context.Context) error
}

func New() *App {
	// Config from the environment wins over .env, which is optional.
	if err := godotenv.Load(); err == nil {
		slog.Info("loaded environment from .env")
	}

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		ctx:    ctx,
		cancel: cancel,
	}

	app.initConfig()
	pkglog.InitLogging(app.config.GetString("log.level"))

	app.initLibraries()
	app.initHTTPServer()
	app.initModules()
	app.initClosers()

	return app
}
