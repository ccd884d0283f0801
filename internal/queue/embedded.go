package queue

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"go.uber.org/zap"
)

// EmbeddedNATSQueue runs an in-process NATS server and a NATSQueue connected
// to it, for single-binary deployments that still want real messaging.
type EmbeddedNATSQueue struct {
	*NATSQueue
	srv *server.Server
}

// NewEmbeddedNATSQueue starts a loopback NATS server on a random port and
// connects a queue to it.
func NewEmbeddedNATSQueue(subject string, logger *zap.Logger) (*EmbeddedNATSQueue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	srv, err := server.NewServer(&server.Options{
		Host: "127.0.0.1",
		Port: -1,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedded nats server: %w", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		srv.Shutdown()
		return nil, fmt.Errorf("embedded nats server did not become ready")
	}

	q, err := NewNATSQueue(srv.ClientURL(), subject, logger)
	if err != nil {
		srv.Shutdown()
		return nil, err
	}

	logger.Info("embedded nats server started", zap.String("url", srv.ClientURL()))
	return &EmbeddedNATSQueue{NATSQueue: q, srv: srv}, nil
}

// Close closes the queue and shuts the embedded server down.
func (q *EmbeddedNATSQueue) Close() error {
	err := q.NATSQueue.Close()
	q.srv.Shutdown()
	q.srv.WaitForShutdown()
	return err
}

var _ Queue = (*EmbeddedNATSQueue)(nil)
