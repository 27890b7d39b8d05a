package app

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"

	"github.com/rs/cors"

	"github.com/nationdonation-web/csv-processor/internal/ingest"
	"github.com/nationdonation-web/csv-processor/internal/pkg/pkgconfig"
	"github.com/nationdonation-web/csv-processor/internal/pkg/pkgmetrics"
	"github.com/nationdonation-web/csv-processor/internal/pkg/pkgrouter"
	"github.com/nationdonation-web/csv-processor/internal/pkg/pkguid"
)

func defaults() map[string]any {
	d := map[string]any{
		"tz":                          "UTC",
		"log.level":                   "info",
		"server.address.http":         ":8080",
		"server.read_header_timeout":  "10s",
		"server.snowflake_node":       -1,
		"server.cors.allowed_origins": "*",
		"modules.ingest.enabled":      true,
	}
	for k, v := range ingest.Defaults() {
		d[k] = v
	}
	return d
}

func (a *App) initConfig() {
	path := "/config/config.yaml"
	if os.Getenv("LOCAL") == "true" {
		path = "./config/config.yaml"
	}
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		path = p
	}

	cfg, err := pkgconfig.NewViper(path, defaults())
	if err != nil {
		slog.Error("failed to init config", "path", path, "error", err)
		os.Exit(1)
	}

	//nolint:errcheck,gosec // ignore error
	os.Setenv("TZ", cfg.GetString("tz"))

	a.config = cfg
}

func (a *App) initLibraries() {
	a.uuid = pkguid.NewUUID()
	a.metrics = pkgmetrics.NewRecorder()

	sf, err := pkguid.NewSnowflake(a.config.GetInt("server.snowflake_node"))
	if err != nil {
		slog.Error("failed to init snowflake", "error", err)
		os.Exit(1)
	}
	a.runID = sf
}

func (a *App) initHTTPServer() {
	a.router = pkgrouter.NewRouter(a.uuid)
	a.router.Handle(http.MethodGet, "/metrics", a.metrics.Handler())

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: a.config.GetArray("server.cors.allowed_origins"),
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodOptions,
		},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	addr := a.config.GetString("server.address.http")
	if port := os.Getenv("PORT"); port != "" {
		addr = net.JoinHostPort("", port)
	}

	a.httpServer = &http.Server{
		Addr:              addr,
		Handler:           corsHandler.Handler(a.router),
		ReadHeaderTimeout: a.config.GetDuration("server.read_header_timeout"),
	}
}

func (a *App) addCloser(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) initClosers() {
	a.addCloser("Config", func(context.Context) error {
		return a.config.Close()
	})
}
