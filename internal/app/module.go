package app

import (
	"log/slog"
	"os"

	"github.com/nationdonation-web/csv-processor/internal/ingest"
)

func (a *App) initModules() {
	if a.config.GetBool("modules.ingest.enabled") {
		closer, err := ingest.New(ingest.Dependency{
			Config:  a.config,
			Router:  a.router,
			Metrics: a.metrics,
			Context: a.ctx,
			UUID:    a.uuid,
			RunID:   a.runID,
		})
		if err != nil {
			slog.Error("failed to init module ingest", "error", err)
			os.Exit(1)
		}
		if closer != nil {
			a.addCloser("Ingest", closer)
		}
	}
}
