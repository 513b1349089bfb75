package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AlexKimmel/AdmitLite/internal/admission"
	"github.com/AlexKimmel/AdmitLite/internal/api"
	"github.com/AlexKimmel/AdmitLite/internal/auth"
	"github.com/AlexKimmel/AdmitLite/internal/cache"
	"github.com/AlexKimmel/AdmitLite/internal/config"
	"github.com/AlexKimmel/AdmitLite/internal/obs"
)

func main() {
	cfgPath := flag.String("config", "./config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := obs.SetupLogger(cfg.Observability.LogLevel)

	limiter, err := admission.New(cfg.Admission())
	if err != nil {
		log.Fatalf("build limiter: %v", err)
	}
	results := cache.New(cfg.CacheTTL())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := obs.NewMetrics(reg)

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	mux.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("v0.1.0"))
	})

	mux.Handle(cfg.Observability.PrometheusPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	h := &api.Handlers{
		Limiter: limiter,
		Cache:   results,
		Log:     logger,
		Metrics: metrics,
	}
	h.Register(mux)

	pairs := map[string]string{} // secret -> keyID
	for _, k := range cfg.Auth.Keys {
		if k.Secret != "" && k.ID != "" {
			pairs[k.Secret] = k.ID
		}
	}
	authStore := auth.NewStatic(cfg.Auth.Header, pairs)

	skip := map[string]struct{}{
		"/health":  {},
		"/version": {},
		cfg.Observability.PrometheusPath: {},
	}

	handler := api.Chain(
		mux,
		api.Middleware(obs.Logger(logger)),
		api.Middleware(metrics.Middleware(skip)),
		api.BodyLimit(int(cfg.Server.MaxBody())),
		api.Middleware(authStore.Middleware(skip)),
		api.RateLimit(limiter, "/v1/cache/", metrics.Allowed, metrics.Denied),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout(),
		IdleTimeout:       cfg.Server.IdleTimeout(),
		ReadTimeout:       cfg.Server.ReadTimeout(),
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("bye")
}
