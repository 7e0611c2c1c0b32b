package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/real-staging-ai/logbroker/internal/audit"
	"github.com/real-staging-ai/logbroker/internal/auth"
	"github.com/real-staging-ai/logbroker/internal/broker"
	"github.com/real-staging-ai/logbroker/internal/config"
	"github.com/real-staging-ai/logbroker/internal/httpapi"
	"github.com/real-staging-ai/logbroker/internal/logging"
	"github.com/real-staging-ai/logbroker/internal/ratelimit"
	"github.com/real-staging-ai/logbroker/internal/registry"
)

// main is the entrypoint of the broker server.
func main() {
	log := logging.Default()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Error(ctx, fmt.Sprintf("failed to load config: %v", err))
		return
	}

	reg := registry.New(cfg.Broker.QueueCapacity)

	var resolver auth.PrincipalResolver
	var auth0 *auth.Auth0Config
	if cfg.Auth0.Domain != "" {
		auth0 = auth.NewAuth0Config(cfg.Auth0.Domain, cfg.Auth0.Audience)
		resolver = auth.NewFallbackPrincipalResolver(
			auth.NewJWTPrincipalResolver(httpapi.EchoContextFromRequest),
			auth.NewHeaderPrincipalResolver(),
		)
	} else {
		resolver = auth.NewHeaderPrincipalResolver()
	}
	serviceAuth := auth.NewStaticServiceAuthenticator(cfg.ServiceTokenMap())
	limiter := ratelimit.New(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	var auditSink audit.Sink = audit.NoopSink{}
	if cfg.Audit.DatabaseURL != "" {
		sink, err := audit.NewPostgresSink(ctx, cfg.Audit.DatabaseURL, cfg.Broker.QueueCapacity)
		if err != nil {
			log.Error(ctx, fmt.Sprintf("failed to connect audit sink, continuing without it: %v", err))
		} else {
			auditSink = sink
			defer sink.Close()
		}
	}

	b := broker.New(reg, resolver, serviceAuth, limiter, auditSink, cfg.Broker.HeartbeatInterval)
	e := httpapi.NewServer(b, cfg.AllowedOrigins(), auth0, cfg.Broker.AllowTestPublish)

	go func() {
		if err := e.Start(cfg.Broker.BindAddr); err != nil {
			log.Info(ctx, fmt.Sprintf("server stopped: %v", err))
		}
	}()

	<-ctx.Done()
	log.Info(ctx, "shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := b.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, fmt.Sprintf("broker shutdown did not fully drain: %v", err))
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, fmt.Sprintf("http server shutdown error: %v", err))
	}
}
