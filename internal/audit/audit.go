// Package audit records best-effort publish metadata for operational
// visibility. It never participates in delivery: a sink that is slow,
// unavailable, or backed up is dropped from, exactly like a slow
// subscriber, never allowed to block a publish.
package audit

import "context"

// Record is the metadata captured for one accepted publish. It deliberately
// excludes the envelope payload: this is an audit trail of who published
// where, not a replay log.
type Record struct {
	EnvelopeID  string
	Channel     string
	Service     string
	Delivered   int
	Dropped     int
	PublishedAt int64
}

// Sink accepts audit records. Record must never block the publish path; a
// full or unavailable sink simply discards the record.
type Sink interface {
	Record(ctx context.Context, rec Record)
	Close()
}

// NoopSink discards every record. It is the default when no audit database
// is configured.
type NoopSink struct{}

func (NoopSink) Record(context.Context, Record) {}
func (NoopSink) Close()                         {}
