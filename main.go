package main

import (
	"context"
	"os"
	"time"

	"github.com/nationdonation-web/csv-processor/internal/app"
)

func main() {
	application := app.New()
	wait := application.Start()
	<-wait

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := application.Stop(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}
