package audit

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/real-staging-ai/logbroker/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Querier is the subset of *pgxpool.Pool the sink needs, narrow enough to be
// satisfied by pgxmock in tests.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Close()
}

// PostgresSink is a non-blocking, asynchronous audit sink backed by
// Postgres. Record enqueues onto a bounded channel and returns immediately;
// a background goroutine performs the actual insert. A full queue drops the
// record rather than apply backpressure to the publish path.
type PostgresSink struct {
	pool   Querier
	tracer trace.Tracer
	queue  chan Record
	done   chan struct{}
}

const schema = `
CREATE TABLE IF NOT EXISTS publish_audit (
	envelope_id  TEXT NOT NULL,
	channel      TEXT NOT NULL,
	service      TEXT NOT NULL,
	delivered    INT NOT NULL,
	dropped      INT NOT NULL,
	published_at TIMESTAMPTZ NOT NULL
)`

// NewPostgresSink connects to databaseURL and starts the background writer.
// queueCapacity bounds how many records may be buffered before new ones are
// dropped.
func NewPostgresSink(ctx context.Context, databaseURL string, queueCapacity int) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, err
	}

	s := newPostgresSink(pool, queueCapacity)
	return s, nil
}

func newPostgresSink(pool Querier, queueCapacity int) *PostgresSink {
	if queueCapacity <= 0 {
		queueCapacity = 256
	}
	s := &PostgresSink{
		pool:   pool,
		tracer: otel.Tracer("logbroker/audit"),
		queue:  make(chan Record, queueCapacity),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *PostgresSink) run() {
	defer close(s.done)
	log := logging.Default()
	for rec := range s.queue {
		ctx, span := s.tracer.Start(context.Background(), "audit.insert")
		span.SetAttributes(attribute.String("channel", rec.Channel))

		_, err := s.pool.Exec(ctx,
			`INSERT INTO publish_audit (envelope_id, channel, service, delivered, dropped, published_at) VALUES ($1,$2,$3,$4,$5,$6)`,
			rec.EnvelopeID, rec.Channel, rec.Service, rec.Delivered, rec.Dropped, time.UnixMilli(rec.PublishedAt),
		)
		if err != nil {
			log.Warn(ctx, "audit insert failed", "channel", rec.Channel, "error", err)
			span.RecordError(err)
		}
		span.End()
	}
}

// Record enqueues rec for asynchronous insertion. Never blocks: a full queue
// silently drops the record.
func (s *PostgresSink) Record(ctx context.Context, rec Record) {
	select {
	case s.queue <- rec:
	default:
		logging.Default().Warn(ctx, "audit queue full, dropping record", "channel", rec.Channel)
	}
}

// Close stops accepting records and waits for the background writer to
// drain the queue.
func (s *PostgresSink) Close() {
	close(s.queue)
	<-s.done
	s.pool.Close()
}
