package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSQueue is a Queue over a NATS subject, for deployments where ingestion
// and workers run in separate processes.
type NATSQueue struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	subject string
	ch      chan string
	logger  *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewNATSQueue connects to NATS and subscribes to the subject.
func NewNATSQueue(url, subject string, logger *zap.Logger) (*NATSQueue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if subject == "" {
		return nil, fmt.Errorf("subject is required")
	}

	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	q := &NATSQueue{
		conn:    conn,
		subject: subject,
		ch:      make(chan string, 256),
		logger:  logger,
	}

	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		select {
		case q.ch <- string(msg.Data):
		default:
			// Workers are saturated; polling picks the job up.
		}
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	q.sub = sub

	logger.Info("nats queue connected",
		zap.String("subject", subject),
		zap.String("server", conn.ConnectedUrl()),
	)
	return q, nil
}

// Publish announces the document id on the subject.
func (q *NATSQueue) Publish(ctx context.Context, documentID string) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := q.conn.Publish(q.subject, []byte(documentID)); err != nil {
		return fmt.Errorf("publishing to %s: %w", q.subject, err)
	}
	return nil
}

// Notify returns the delivery channel.
func (q *NATSQueue) Notify() <-chan string {
	return q.ch
}

// Close drains the subscription and closes the connection.
func (q *NATSQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true

	if q.sub != nil {
		_ = q.sub.Unsubscribe()
	}
	q.conn.Close()
	close(q.ch)
	return nil
}

var _ Queue = (*NATSQueue)(nil)
