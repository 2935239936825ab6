// Package transport provides the connection pool used to talk to the
// coordinator service.
//
// Outbound messages are sent synchronously on a connection; inbound
// messages are read by a per-connection goroutine and delivered
// asynchronously to a Handler supplied at pool construction. Callers that
// need a synchronous answer bridge the two themselves (the broker does
// this with a single-slot mailbox).
//
// A pool is cheap and short-lived: the broker allocates one per
// coordinator exchange and tears it down afterwards. Nothing is kept
// warm between exchanges.
package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/dreamware/buildbroker/internal/protocol"
)

// Handler receives messages delivered asynchronously by a connection's
// read loop. Calls arrive on the connection's I/O goroutine; the handler
// must be safe to invoke from there.
type Handler interface {
	OnWorkerList(addrs []protocol.Addr)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(addrs []protocol.Addr)

// OnWorkerList implements Handler.
func (f HandlerFunc) OnWorkerList(addrs []protocol.Addr) { f(addrs) }

// Pool owns a set of connections and the handler their read loops
// deliver into.
type Pool struct {
	handler Handler
	logger  *zap.Logger

	mu     sync.Mutex
	conns  map[string]*Conn
	closed bool
}

// NewPool returns an empty pool delivering inbound messages to handler.
func NewPool(handler Handler, logger *zap.Logger) *Pool {
	return &Pool{
		handler: handler,
		logger:  logger,
		conns:   make(map[string]*Conn),
	}
}

// Connect dials addr:port with the given connect timeout and starts the
// connection's read loop. The context bounds the dial as well; whichever
// of the two expires first wins.
func (p *Pool) Connect(ctx context.Context, addr string, port int, timeout time.Duration) (*Conn, error) {
	d := net.Dialer{Timeout: timeout}
	nc, err := d.DialContext(ctx, "tcp", net.JoinHostPort(addr, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("connect %s:%d: %w", addr, port, err)
	}

	c := &Conn{
		ID:     uuid.NewString(),
		nc:     nc,
		pool:   p,
		logger: p.logger,
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		nc.Close()
		return nil, fmt.Errorf("connect %s:%d: pool closed", addr, port)
	}
	p.conns[c.ID] = c
	p.mu.Unlock()

	go c.readLoop()

	p.logger.Debug("connection established",
		zap.String("conn", c.ID),
		zap.String("remote", nc.RemoteAddr().String()))
	return c, nil
}

// Close tears down every live connection. Safe to call more than once
// and safe to call on a pool that never connected.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	conns := make([]*Conn, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	var err error
	for _, c := range conns {
		err = multierr.Append(err, c.Close())
	}
	return err
}

func (p *Pool) remove(id string) {
	p.mu.Lock()
	delete(p.conns, id)
	p.mu.Unlock()
}

// Conn is one live connection to a peer.
type Conn struct {
	// ID tags the connection in logs.
	ID string

	nc     net.Conn
	pool   *Pool
	logger *zap.Logger

	sendMu    sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// Send frames and writes a single message. Sends on one connection are
// serialized so concurrent callers cannot interleave frames.
func (c *Conn) Send(m protocol.Message) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return protocol.Write(c.nc, m)
}

// RemoteAddr reports the peer's address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.nc.RemoteAddr()
}

// Close shuts the connection down and detaches it from its pool. The
// read loop exits as a consequence. Safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.nc.Close()
		c.pool.remove(c.ID)
		c.logger.Debug("connection closed", zap.String("conn", c.ID))
	})
	return c.closeErr
}

// readLoop decodes inbound frames until the connection dies and hands
// them to the pool's handler.
func (c *Conn) readLoop() {
	defer c.Close()
	for {
		m, err := protocol.Read(c.nc)
		if err != nil {
			// Expected on teardown; anything else is the peer's
			// problem to have logged.
			c.logger.Debug("read loop ended",
				zap.String("conn", c.ID),
				zap.Error(err))
			return
		}
		switch msg := m.(type) {
		case *protocol.WorkerList:
			c.pool.handler.OnWorkerList(msg.Addrs)
		default:
			c.logger.Debug("ignoring unexpected message",
				zap.String("conn", c.ID),
				zap.Stringer("type", m.MsgType()))
		}
	}
}
