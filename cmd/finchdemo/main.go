// Command finchdemo wires a finch pool up to a small HTTP admin surface
// (pool status, metrics reset) the way the teacher's gateway wires its
// provider registry up to a chi router — a concrete external caller for
// the Registry contract from spec.md §6, not required by the core library.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oliveigah/finch/config"
	"github.com/oliveigah/finch/finch"
	"github.com/oliveigah/finch/finch/httpconn"
	"github.com/oliveigah/finch/logger"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	log.Info().Str("env", cfg.Env).Msg("finch demo starting")

	host := os.Getenv("FINCH_DEMO_HOST")
	if host == "" {
		host = "example.com"
	}

	origin := finch.Origin{Scheme: finch.SchemeHTTPS, Host: host, Port: 443}
	poolName := "finchdemo"

	pool := finch.NewPool(finch.PoolConfig{
		Name:   poolName,
		Origin: origin,
		Size:   cfg.PoolSize,
		Dialer: httpconn.Dialer(),
		ConnOpts: finch.ConnOpts{
			MaxIdleTime:         cfg.MaxIdleTime,
			DialTimeout:         cfg.DialTimeout,
			TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
			KeepAlive:           cfg.KeepAlive,
		},
		PoolMaxIdleTime:  cfg.PoolMaxIdleTime,
		StartPoolMetrics: cfg.StartPoolMetrics,
		Logger:           log,
	})
	pool.Start()

	r := NewRouter(poolName, origin, log)

	srv := &http.Server{
		Addr:         getAddr(),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("finch demo listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	pool.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("finch demo stopped gracefully")
	}
}

func getAddr() string {
	if addr := os.Getenv("FINCH_DEMO_ADDR"); addr != "" {
		return addr
	}
	return ":8090"
}
