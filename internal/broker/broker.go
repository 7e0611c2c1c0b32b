// Package broker implements the HTTP-facing orchestration that mutates the
// Connection Registry: the only component allowed to register, enqueue
// onto, or unregister a connection does so through the subscribe and
// publish paths defined here.
package broker

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/real-staging-ai/logbroker/internal/audit"
	"github.com/real-staging-ai/logbroker/internal/auth"
	"github.com/real-staging-ai/logbroker/internal/channel"
	"github.com/real-staging-ai/logbroker/internal/logging"
	"github.com/real-staging-ai/logbroker/internal/metrics"
	"github.com/real-staging-ai/logbroker/internal/ratelimit"
	"github.com/real-staging-ai/logbroker/internal/registry"
	"github.com/real-staging-ai/logbroker/internal/sse"
	"github.com/real-staging-ai/logbroker/internal/writer"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Errors surfaced to the HTTP layer, mapped onto HTTP status codes there.
var (
	ErrBadRequest      = errors.New("bad_request")
	ErrUnauthorizedSvc = errors.New("unauthorized_service")
	ErrRateLimited     = errors.New("rate_limited")
)

// PublishRequest is the parsed body of a POST /api/logs/publish call.
type PublishRequest struct {
	ServiceToken string
	Service      string
	WorkspaceID  string
	WorkflowID   string
	FunctionID   string
	LogData      []byte
}

// PublishResult is returned on a successful publish.
type PublishResult struct {
	Channel     string
	Delivered   int
	PublishedAt time.Time
}

// HealthDoc backs GET /health.
type HealthDoc struct {
	Connections int
	Channels    int
	Uptime      time.Duration
	Stats       registry.Stats
}

// Broker ties the registry, authorization interfaces, and delivery pipeline
// together. It is the sole mutator of the registry.
type Broker struct {
	registry          *registry.Registry
	resolver          auth.PrincipalResolver
	serviceAuth       auth.ServiceAuthenticator
	limiter           *ratelimit.Limiter
	auditSink         audit.Sink
	heartbeatInterval time.Duration

	shutdownCtx context.Context
	shutdown    context.CancelFunc
}

// New constructs a Broker. heartbeatInterval and the registry's queue
// capacity come from configuration.
func New(reg *registry.Registry, resolver auth.PrincipalResolver, serviceAuth auth.ServiceAuthenticator, limiter *ratelimit.Limiter, auditSink audit.Sink, heartbeatInterval time.Duration) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		registry:          reg,
		resolver:          resolver,
		serviceAuth:       serviceAuth,
		limiter:           limiter,
		auditSink:         auditSink,
		heartbeatInterval: heartbeatInterval,
		shutdownCtx:       ctx,
		shutdown:          cancel,
	}
}

// HandleSubscribe authorizes the requested channels, registers the
// connection, emits the handshake record, and runs the writer loop until
// the connection drains. Principal resolution is the HTTP layer's job,
// since it owns the request headers and the error response on failure.
// HandleSubscribe blocks until the writer exits, matching the contract that
// the HTTP handler owns the stream for its whole lifetime.
func (b *Broker) HandleSubscribe(ctx context.Context, w io.Writer, principal registry.Principal, requestedChannels []string) {
	tracer := otel.Tracer("logbroker/broker")
	ctx, span := tracer.Start(ctx, "broker.subscribe")
	defer span.End()

	authorized := channel.ParseAndFilter(requestedChannels, principal)
	span.SetAttributes(attribute.StringSlice("channels.authorized", authorized))

	conn := b.registry.Register(principal, authorized)
	metrics.ConnectionsAccepted.Inc()
	metrics.ConnectionsActive.Inc()
	defer metrics.ConnectionsActive.Dec()

	channels := authorized
	if channels == nil {
		channels = []string{}
	}
	_ = sse.WriteConnected(w, sse.ConnectedRecord{
		Type:         "connection",
		Status:       "connected",
		Channels:     channels,
		UserID:       principal.UserID,
		ConnectionID: conn.ID,
		Timestamp:    time.Now().UnixMilli(),
	})
	sse.Flush(w)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-b.shutdownCtx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	writer.Run(runCtx, w, conn, b.heartbeatInterval, b.registry.Unregister)
}

// HandlePublish authorizes the publisher, derives the target channel, and
// fans the envelope out to every current subscriber. It never blocks on a
// subscriber: each enqueue attempt is non-blocking by construction
// (registry.Connection.TryEnqueue).
func (b *Broker) HandlePublish(ctx context.Context, req PublishRequest) (PublishResult, error) {
	tracer := otel.Tracer("logbroker/broker")
	ctx, span := tracer.Start(ctx, "broker.publish")
	defer span.End()

	if req.Service == "" || req.WorkspaceID == "" || len(req.LogData) == 0 {
		span.SetStatus(codes.Error, "bad_request")
		return PublishResult{}, ErrBadRequest
	}

	target := channel.Derive(req.Service, req.WorkspaceID, req.WorkflowID, req.FunctionID)
	span.SetAttributes(attribute.String("channel", target))

	if !b.serviceAuth.Authenticate(req.ServiceToken, req.Service) || !channel.AuthorizePublish(target, req.Service) {
		span.SetStatus(codes.Error, "unauthorized_service")
		return PublishResult{}, ErrUnauthorizedSvc
	}

	if b.limiter != nil && !b.limiter.Allow(req.Service) {
		metrics.RateLimited.WithLabelValues(req.Service).Inc()
		span.SetStatus(codes.Error, "rate_limited")
		return PublishResult{}, ErrRateLimited
	}

	timer := metrics.NewTimer()
	env := registry.Envelope{
		ID:          uuid.NewString(),
		Channel:     target,
		Payload:     req.LogData,
		PublishedAt: time.Now(),
	}

	subs := b.registry.Subscribers(target)
	delivered, dropped := 0, 0
	for _, conn := range subs {
		outcome := conn.TryEnqueue(env)
		if outcome == registry.Delivered {
			delivered++
			metrics.EnvelopesDelivered.Inc()
			continue
		}
		dropped++
		metrics.EnvelopesDropped.WithLabelValues(outcome.String()).Inc()
	}
	b.registry.RecordPublish(delivered, dropped)
	metrics.PublishesTotal.WithLabelValues("accepted").Inc()
	timer.ObserveDuration(metrics.PublishDuration)

	if b.auditSink != nil {
		b.auditSink.Record(ctx, audit.Record{
			EnvelopeID:  env.ID,
			Channel:     target,
			Service:     req.Service,
			Delivered:   delivered,
			Dropped:     dropped,
			PublishedAt: env.PublishedAt.UnixMilli(),
		})
	}

	return PublishResult{Channel: target, Delivered: delivered, PublishedAt: env.PublishedAt}, nil
}

// Health returns the minimal health document.
func (b *Broker) Health() HealthDoc {
	stats := b.registry.Stats()
	return HealthDoc{
		Connections: stats.ConnectionsActive,
		Channels:    stats.ChannelsActive,
		Uptime:      stats.Uptime,
		Stats:       stats,
	}
}

// Stats returns the detailed per-channel statistics document.
func (b *Broker) Stats() []registry.ChannelStat {
	return b.registry.ChannelStats()
}

// Resolver exposes the configured PrincipalResolver to the HTTP layer, which
// owns request/response handling for resolution failures.
func (b *Broker) Resolver() auth.PrincipalResolver {
	return b.resolver
}

// Shutdown signals every active writer to stop and waits for the registry
// to drain or ctx to expire.
func (b *Broker) Shutdown(ctx context.Context) error {
	b.shutdown()
	log := logging.Default()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if b.registry.Len() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			log.Warn(ctx, "shutdown deadline reached with connections still draining", "remaining", b.registry.Len())
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
