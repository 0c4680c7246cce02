package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/folder-rag/internal/infrastructure/resilience"
)

const workerQueueGroup = "chunk-indexers"

// Queue carries chunk change notifications. The message body is the document id.
type Queue struct {
	conn      *nats.Conn
	subject   string
	broadcast bool
	executor  *resilience.Executor
	logger    *slog.Logger
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
	// Broadcast delivers every event to this subscriber instead of sharing
	// events across the worker queue group.
	Broadcast bool
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("folder-rag"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:      conn,
		subject:   subject,
		broadcast: options.Broadcast,
		executor:  options.ResilienceExecutor,
		logger:    logger,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishChunksChanged(ctx context.Context, documentID string) error {
	call := func(_ context.Context) error {
		if err := q.conn.Publish(q.subject, []byte(documentID)); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	var err error
	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats_publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	return resilience.WrapTemporary("nats publish", err, classifyNATSError)
}

// SubscribeChunksChanged blocks until ctx is done, then drains the subscription.
// Workers share a queue group so each event is handled once, unless Broadcast is set.
func (q *Queue) SubscribeChunksChanged(ctx context.Context, handler func(context.Context, string) error) error {
	onMessage := func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		documentID, ok := decodeDocumentID(msg.Data)
		if !ok {
			q.logger.Warn("chunk_event_malformed", "subject", msg.Subject, "bytes", len(msg.Data))
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, documentID); err != nil {
			q.logger.Error("chunk_event_handler_failed", "document_id", documentID, "error", err)
		}
	}

	var (
		sub *nats.Subscription
		err error
	)
	if q.broadcast {
		sub, err = q.conn.Subscribe(q.subject, onMessage)
	} else {
		sub, err = q.conn.QueueSubscribe(q.subject, workerQueueGroup, onMessage)
	}
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func decodeDocumentID(data []byte) (string, bool) {
	id := strings.TrimSpace(string(data))
	return id, id != ""
}
