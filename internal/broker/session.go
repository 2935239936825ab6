package broker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/buildbroker/internal/protocol"
	"github.com/dreamware/buildbroker/internal/transport"
)

// Session is one coordinator exchange: a connection opened for exactly
// one outbound message plus, for the worker-list request, one inbound
// response. Sessions are never reused.
type Session interface {
	// RequestWorkerList sends the worker-list request. The response
	// arrives asynchronously through the transport handler.
	RequestWorkerList() error

	// SetWorkerStatus sends the availability status message. No
	// meaningful response is expected.
	SetWorkerStatus(available bool) error

	// Close releases the connection and its pool. Safe to call even
	// after a failed exchange.
	Close() error
}

// DialFunc opens a coordinator session. The handler receives responses
// delivered on the transport's I/O goroutine. Tests substitute their own
// DialFunc to script coordinator behavior.
type DialFunc func(ctx context.Context, addr string, port int, timeout time.Duration, h transport.Handler) (Session, error)

// poolDial is the production DialFunc: a fresh connection pool per
// session, torn down with it.
func poolDial(logger *zap.Logger) DialFunc {
	return func(ctx context.Context, addr string, port int, timeout time.Duration, h transport.Handler) (Session, error) {
		pool := transport.NewPool(h, logger)
		conn, err := pool.Connect(ctx, addr, port, timeout)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return &poolSession{pool: pool, conn: conn}, nil
	}
}

type poolSession struct {
	pool *transport.Pool
	conn *transport.Conn
}

func (s *poolSession) RequestWorkerList() error {
	return s.conn.Send(&protocol.RequestWorkerList{})
}

func (s *poolSession) SetWorkerStatus(available bool) error {
	return s.conn.Send(&protocol.SetWorkerStatus{Available: available})
}

func (s *poolSession) Close() error {
	return s.pool.Close()
}
