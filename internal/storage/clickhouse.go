package storage

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const (
	bufferSize    = 10_000
	flushInterval = 100 * time.Millisecond
	flushBatch    = 1000
	drainTimeout  = 2 * time.Second
)

// ClickHouseWriter writes decision events to ClickHouse asynchronously.
// Write() is non-blocking — events are buffered and batch-inserted in a
// background goroutine.
type ClickHouseWriter struct {
	conn    driver.Conn
	buffer  chan *DecisionEvent
	done    chan struct{}
	flushed chan struct{} // closed by flushLoop when it returns
	logger  *zap.Logger
	onDrop  func() // called once per event dropped on buffer overflow
}

// NewClickHouseWriter creates a ClickHouseWriter and starts the background
// flush loop. onDrop is invoked for every event discarded because the
// buffer was full (typically a metrics counter); may be nil.
func NewClickHouseWriter(dsn string, logger *zap.Logger, onDrop func()) (*ClickHouseWriter, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	// ParseDSN sets TLS when ?secure=true is in the DSN; enforce it here so
	// managed deployments (e.g. ClickHouse Cloud on port 9440) always connect
	// securely.
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	w := &ClickHouseWriter{
		conn:    conn,
		buffer:  make(chan *DecisionEvent, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
		onDrop:  onDrop,
	}

	go w.flushLoop()
	return w, nil
}

// Write queues a decision event for async insertion.
// Non-blocking: drops the event if the buffer is full.
func (w *ClickHouseWriter) Write(event *DecisionEvent) {
	select {
	case w.buffer <- event:
	default:
		if w.onDrop != nil {
			w.onDrop()
		}
		w.logger.Warn("clickhouse buffer full, dropping event",
			zap.String("request_id", event.RequestID),
		)
	}
}

// Close signals the flush loop to drain remaining events, waits for it to
// finish (up to drainTimeout), and then returns. Safe to call once.
func (w *ClickHouseWriter) Close() {
	close(w.done)
	<-w.flushed
}

func (w *ClickHouseWriter) flushLoop() {
	defer close(w.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*DecisionEvent, 0, flushBatch)

	for {
		select {
		case event := <-w.buffer:
			batch = append(batch, event)
			if len(batch) >= flushBatch {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-w.done:
			// Drain remaining events from buffer
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case event := <-w.buffer:
					batch = append(batch, event)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			if len(batch) > 0 {
				w.flush(batch)
			}
			return
		}
	}
}

func (w *ClickHouseWriter) flush(events []*DecisionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO firewall_decisions (
			request_id, project_id, timestamp,
			message_preview, message_hash, message_size, history_turns,
			is_manipulative, triggering_analyzer, is_shadow, threshold,
			analyzer_names, analyzer_flagged, analyzer_scores, analyzer_labels, analyzer_errors,
			user_id, session_id, client_trace_id,
			latency_ms, source
		)
	`)
	if err != nil {
		w.logger.Error("clickhouse prepare batch failed", zap.Error(err))
		return
	}

	for _, e := range events {
		// Convert []bool to []uint8 for ClickHouse
		flaggedUint8 := make([]uint8, len(e.AnalyzerFlagged))
		for i, f := range e.AnalyzerFlagged {
			if f {
				flaggedUint8[i] = 1
			}
		}

		var manipulativeUint8, shadowUint8 uint8
		if e.IsManipulative {
			manipulativeUint8 = 1
		}
		if e.IsShadow {
			shadowUint8 = 1
		}

		if err := batch.Append(
			e.RequestID,
			e.ProjectID,
			e.Timestamp,
			e.MessagePreview,
			e.MessageHash,
			e.MessageSize,
			e.HistoryTurns,
			manipulativeUint8,
			e.TriggeringAnalyzer,
			shadowUint8,
			e.Threshold,
			e.AnalyzerNames,
			flaggedUint8,
			e.AnalyzerScores,
			e.AnalyzerLabels,
			e.AnalyzerErrors,
			e.UserID,
			e.SessionID,
			e.ClientTraceID,
			e.LatencyMs,
			e.Source,
		); err != nil {
			w.logger.Error("clickhouse append event failed",
				zap.String("request_id", e.RequestID),
				zap.Error(err),
			)
		}
	}

	if err := batch.Send(); err != nil {
		w.logger.Error("clickhouse batch send failed",
			zap.Int("batch_size", len(events)),
			zap.Error(err),
		)
	}
}

// LogWriter is a fallback EventWriter for local development.
// It logs events as structured JSON to stdout via zap.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter that outputs events to the given logger.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(event *DecisionEvent) {
	w.logger.Info("firewall_decision",
		zap.String("request_id", event.RequestID),
		zap.String("project_id", event.ProjectID),
		zap.Bool("is_manipulative", event.IsManipulative),
		zap.String("triggering_analyzer", event.TriggeringAnalyzer),
		zap.Bool("is_shadow", event.IsShadow),
		zap.Float64("threshold", event.Threshold),
		zap.Strings("analyzer_names", event.AnalyzerNames),
		zap.Float32("latency_ms", event.LatencyMs),
		zap.String("user_id", event.UserID),
		zap.String("message_preview", event.MessagePreview),
	)
}

func (w *LogWriter) Close() {}
