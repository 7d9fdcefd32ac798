// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"axonflow/gateway/shared/logger"
)

// Audit event kinds.
const (
	AuditRequestCompleted = "request_completed"
	AuditRequestRejected  = "request_rejected"
	AuditRequestFailed    = "request_failed"
	AuditBudgetWarning    = "budget_warning"
)

// AuditEvent is one entry in the request audit trail. Cost events
// ride the same queue so settlement reporting never blocks the
// response path.
type AuditEvent struct {
	Timestamp  time.Time              `json:"timestamp"`
	Kind       string                 `json:"kind"`
	AgentID    string                 `json:"agent_id"`
	RequestID  string                 `json:"request_id,omitempty"`
	Provider   string                 `json:"provider,omitempty"`
	Model      string                 `json:"model,omitempty"`
	CostMicros int64                  `json:"cost_micros,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// AuditSink persists drained events.
type AuditSink interface {
	Write(ctx context.Context, e AuditEvent) error
}

// AuditQueue is a bounded async queue draining to a sink. When full,
// the OLDEST event is dropped to make room: under sustained overload
// the trail keeps the most recent activity, and the drop counter
// records the loss.
type AuditQueue struct {
	queue chan AuditEvent
	sink  AuditSink
	log   *logger.Logger

	mu      sync.Mutex
	dropped uint64

	wg       sync.WaitGroup
	stopOnce sync.Once
	stop     chan struct{}
}

// NewAuditQueue creates a queue of the given capacity and starts its
// drain goroutine.
func NewAuditQueue(capacity int, sink AuditSink, log *logger.Logger) *AuditQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	if log == nil {
		log = logger.New("audit")
	}
	q := &AuditQueue{
		queue: make(chan AuditEvent, capacity),
		sink:  sink,
		log:   log,
		stop:  make(chan struct{}),
	}
	q.wg.Add(1)
	go q.drain()
	return q
}

// Emit enqueues an event without ever blocking the caller.
func (q *AuditQueue) Emit(e AuditEvent) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	for {
		select {
		case q.queue <- e:
			return
		default:
		}
		// Full: evict the oldest and retry. Another goroutine may win
		// the eviction race, hence the loop.
		select {
		case old := <-q.queue:
			q.mu.Lock()
			q.dropped++
			q.mu.Unlock()
			metricAuditDropped.Inc()
			q.log.Warn(old.AgentID, old.RequestID, "audit queue full, dropped oldest event", map[string]interface{}{
				"kind": old.Kind,
			})
		default:
		}
	}
}

// Dropped reports how many events were evicted.
func (q *AuditQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close drains remaining events and stops the worker.
func (q *AuditQueue) Close() {
	q.stopOnce.Do(func() { close(q.stop) })
	q.wg.Wait()
}

func (q *AuditQueue) drain() {
	defer q.wg.Done()
	for {
		select {
		case e := <-q.queue:
			q.write(e)
		case <-q.stop:
			for {
				select {
				case e := <-q.queue:
					q.write(e)
				default:
					return
				}
			}
		}
	}
}

func (q *AuditQueue) write(e AuditEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.sink.Write(ctx, e); err != nil {
		q.log.ErrorWithErr(e.AgentID, e.RequestID, "audit sink write failed", err, map[string]interface{}{
			"kind": e.Kind,
		})
	}
}

// LogSink writes audit events as structured log lines. Default sink
// when no database is configured.
type LogSink struct {
	log *logger.Logger
}

// NewLogSink creates a sink over the given logger.
func NewLogSink(log *logger.Logger) *LogSink {
	if log == nil {
		log = logger.New("audit")
	}
	return &LogSink{log: log}
}

// Write logs the event.
func (s *LogSink) Write(_ context.Context, e AuditEvent) error {
	s.log.Info(e.AgentID, e.RequestID, "audit: "+e.Kind, map[string]interface{}{
		"provider":    e.Provider,
		"model":       e.Model,
		"cost_micros": e.CostMicros,
		"details":     e.Details,
	})
	return nil
}

// PostgresAuditStore persists audit events.
//
// Schema:
//
//	CREATE TABLE gateway_audit_log (
//	    id          BIGSERIAL PRIMARY KEY,
//	    occurred_at TIMESTAMPTZ NOT NULL,
//	    kind        TEXT NOT NULL,
//	    agent_id    TEXT NOT NULL,
//	    request_id  TEXT,
//	    provider    TEXT,
//	    model       TEXT,
//	    cost_micros BIGINT NOT NULL DEFAULT 0,
//	    details     JSONB
//	);
type PostgresAuditStore struct {
	db *sql.DB
}

// NewPostgresAuditStore creates a store over an existing pool.
func NewPostgresAuditStore(db *sql.DB) *PostgresAuditStore {
	return &PostgresAuditStore{db: db}
}

// Write inserts one audit row.
func (s *PostgresAuditStore) Write(ctx context.Context, e AuditEvent) error {
	var details []byte
	if e.Details != nil {
		var err error
		details, err = json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshal details: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO gateway_audit_log (occurred_at, kind, agent_id, request_id, provider, model, cost_micros, details)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.Timestamp, e.Kind, e.AgentID, e.RequestID, e.Provider, e.Model, e.CostMicros, details)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}
