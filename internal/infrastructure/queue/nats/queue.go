package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/ocr-intake/internal/infrastructure/resilience"
)

const (
	DefaultSubject = "records.saved"
	queueGroup     = "enrichers"
)

type Queue struct {
	conn           *nats.Conn
	subject        string
	executor       *resilience.Executor
	handlerTimeout time.Duration
	logger         *slog.Logger
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	HandlerTimeout       time.Duration
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
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
	handlerTimeout := options.HandlerTimeout
	if handlerTimeout <= 0 {
		handlerTimeout = 2 * time.Minute
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(subject) == "" {
		subject = DefaultSubject
	}

	conn, err := nats.Connect(
		url,
		nats.Name("ocr-intake"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats.disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats.reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:           conn,
		subject:        subject,
		executor:       options.ResilienceExecutor,
		handlerTimeout: handlerTimeout,
		logger:         logger,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// recordSavedMessage is the body of a records.saved message.
type recordSavedMessage struct {
	RecordID string    `json:"record_id"`
	SavedAt  time.Time `json:"saved_at"`
}

func encodeRecordSaved(recordID string, at time.Time) ([]byte, error) {
	return json.Marshal(recordSavedMessage{RecordID: recordID, SavedAt: at.UTC()})
}

// decodeRecordSaved also accepts a bare id so messages published by hand
// with `nats pub records.saved <id>` are handled.
func decodeRecordSaved(data []byte) (string, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return "", errors.New("empty records.saved message")
	}
	if !strings.HasPrefix(trimmed, "{") {
		return trimmed, nil
	}
	var msg recordSavedMessage
	if err := json.Unmarshal([]byte(trimmed), &msg); err != nil {
		return "", fmt.Errorf("decode records.saved message: %w", err)
	}
	if strings.TrimSpace(msg.RecordID) == "" {
		return "", errors.New("records.saved message without record_id")
	}
	return msg.RecordID, nil
}

func (q *Queue) PublishRecordSaved(ctx context.Context, recordID string) error {
	body, err := encodeRecordSaved(recordID, time.Now())
	if err != nil {
		return fmt.Errorf("encode records.saved message: %w", err)
	}

	call := func(_ context.Context) error {
		if err := q.conn.Publish(q.subject, body); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return resilience.WrapTemporaryIfNeeded("nats publish", err, classifyNATSError)
	}
	return nil
}

// SubscribeRecordSaved blocks until ctx is done, then drains the
// subscription.
func (q *Queue) SubscribeRecordSaved(ctx context.Context, handler func(context.Context, string) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, queueGroup, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		recordID, err := decodeRecordSaved(msg.Data)
		if err != nil {
			q.logger.Warn("nats.message.invalid", "subject", msg.Subject, "error", err)
			return
		}

		handlerCtx, cancel := context.WithTimeout(ctx, q.handlerTimeout)
		defer cancel()
		if err := handler(handlerCtx, recordID); err != nil {
			q.logger.Error("worker.handler.failed", "record_id", recordID, "error", err)
		}
	})
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
