package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/cooperative-backend/api/routes"
	"github.com/angelmondragon/cooperative-backend/internal/engine"
	"github.com/angelmondragon/cooperative-backend/pkg/bootstrap"
	"github.com/angelmondragon/cooperative-backend/pkg/metrics"
)

const (
	shutdownTimeout   = 15 * time.Second
	readHeaderTimeout = 10 * time.Second
)

func main() {
	bootstrap.Main("api", serve, bootstrap.WithRedis())
}

func serve(ctx context.Context, p *bootstrap.Process) error {
	cfg, logg := p.Config, p.Logger

	eng, err := engine.Build(engine.Params{
		Config:  cfg,
		DB:      p.DB,
		Metrics: metrics.NewEngineMetrics(prometheus.DefaultRegisterer),
		Logger:  logg,
	})
	if err != nil {
		return err
	}
	if cfg.Admin.APIToken == "" {
		logg.Warn(ctx, "COOP_ADMIN_API_TOKEN unset; admin routes will reject every request")
	}

	// Hosted platforms inject PORT; it wins over COOP_APP_PORT.
	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	server := &http.Server{
		Addr: ":" + port,
		Handler: routes.NewRouter(
			cfg,
			logg,
			p.DB,
			p.Redis,
			prometheus.DefaultGatherer,
			eng.Sweeper,
			eng.Enforcement,
			eng.Contributions,
			eng.Ledger,
			eng.Referrals,
			eng.Notifications,
		),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()
	logg.Info(logg.WithField(ctx, "addr", server.Addr), "api server listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
