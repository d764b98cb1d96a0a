package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dropDatabas3/vendhub/internal/app"
	"github.com/dropDatabas3/vendhub/internal/config"
	httpx "github.com/dropDatabas3/vendhub/internal/http"
	"github.com/dropDatabas3/vendhub/internal/http/cookieutil"
	"github.com/dropDatabas3/vendhub/internal/observability/logger"
	"github.com/dropDatabas3/vendhub/internal/session"
)

func main() {
	// .env es opcional; el entorno del sistema manda
	_ = godotenv.Load()

	configPath := flag.String("config", envOr("CONFIG_PATH", "config.yaml"), "ruta del YAML de configuración")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// el logger todavía no existe
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.App.LogLevel,
		ServiceName: "vendhub",
	})
	defer func() { _ = logger.Sync() }()
	log := logger.Named("main")

	c, err := app.Build(cfg)
	if err != nil {
		log.Fatal("wiring falló", logger.Err(err))
	}
	defer c.Close()

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metricsHandler, err = httpx.RegisterMetrics(httpx.MetricsConfig{})
		if err != nil {
			log.Fatal("registro de métricas falló", logger.Err(err))
		}
	}

	router := httpx.NewRouter(httpx.RouterConfig{
		Tenants:  c.Tenants,
		Gate:     c.Gate,
		Svc:      c.Rotator,
		Provider: c.Provider,
		Cookies: cookieutil.Config{
			Domain:   cfg.Cookies.Domain,
			SameSite: cfg.Cookies.SameSite,
			Secure:   cfg.Cookies.Secure,
		},
		LoginLimiter: c.LoginLimiter,
		Metrics:      metricsHandler,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := session.NewSweeper(c.SessionStoresByTenant, cfg.SweepInterval())
	go sweeper.Run(ctx)

	srv := httpx.NewServer(cfg.Server.Addr, router)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		log.Info("señal recibida, iniciando shutdown")
	case err := <-errCh:
		if err != nil {
			log.Fatal("server falló", logger.Err(err))
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown con errores", logger.Err(err))
	}
	log.Info("server detenido")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
