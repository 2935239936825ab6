package coordinator

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/dreamware/buildbroker/internal/protocol"
)

const (
	// DefaultStaleAfter is how long a worker stays listed without a
	// refreshed status. Six missed republish windows is comfortably
	// beyond any transient hiccup.
	DefaultStaleAfter = 60 * time.Second

	// DefaultPruneInterval is how often stale records are swept.
	DefaultPruneInterval = 15 * time.Second
)

// Config carries the coordinator's tunables. Zero values select the
// defaults above.
type Config struct {
	StaleAfter    time.Duration
	PruneInterval time.Duration
}

// workerRecord is the coordinator's view of one worker.
type workerRecord struct {
	available bool
	lastSeen  time.Time
}

// Server tracks worker availability and answers worker-list requests.
// Create with New, run with Serve, shut down with Stop.
type Server struct {
	cfg    Config
	logger *zap.Logger
	clk    clock.Clock

	mu      sync.RWMutex
	workers map[protocol.Addr]*workerRecord

	connMu sync.Mutex
	conns  map[net.Conn]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a coordinator server. It does not listen yet.
func New(cfg Config, logger *zap.Logger) *Server {
	if cfg.StaleAfter == 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.PruneInterval == 0 {
		cfg.PruneInterval = DefaultPruneInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		logger:  logger,
		clk:     clock.New(),
		workers: make(map[protocol.Addr]*workerRecord),
		conns:   make(map[net.Conn]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetClock overrides the server's time source. Call before Serve; tests
// use clock.NewMock to drive staleness.
func (s *Server) SetClock(c clock.Clock) {
	s.clk = c
}

// Serve accepts connections on ln until Stop is called. It owns the
// listener and closes it on shutdown. Blocks for the server's lifetime.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("coordinator listening", zap.String("addr", ln.Addr().String()))

	// Serve holds a slot in the waitgroup for as long as the accept
	// loop runs, so the per-connection Add below can never race a
	// concurrent Stop observing a zero count.
	s.wg.Add(1)
	defer s.wg.Done()

	s.wg.Add(1)
	go s.pruneLoop()

	// Unblock Accept on Stop.
	go func() {
		<-s.ctx.Done()
		ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(nc)
		}()
	}
}

// Stop shuts the server down, closing the listener and any live peer
// connections, and waits for the handlers and the prune loop to finish.
func (s *Server) Stop() {
	s.cancel()
	s.connMu.Lock()
	for nc := range s.conns {
		nc.Close()
	}
	s.connMu.Unlock()
	s.wg.Wait()
	s.logger.Info("coordinator stopped")
}

// handleConn serves one peer until it disconnects.
func (s *Server) handleConn(nc net.Conn) {
	s.connMu.Lock()
	s.conns[nc] = struct{}{}
	s.connMu.Unlock()
	defer func() {
		s.connMu.Lock()
		delete(s.conns, nc)
		s.connMu.Unlock()
		nc.Close()
	}()
	// Stop may have swept the conn set before the registration above;
	// bail out rather than serve a connection shutdown will never close.
	if s.ctx.Err() != nil {
		return
	}

	var addr protocol.Addr
	var known bool
	if tcp, ok := nc.RemoteAddr().(*net.TCPAddr); ok {
		addr, known = protocol.AddrFromIP(tcp.IP)
	}

	for {
		m, err := protocol.Read(nc)
		if err != nil {
			return
		}
		switch msg := m.(type) {
		case *protocol.SetWorkerStatus:
			incStatusUpdates(1)
			if !known {
				s.logger.Warn("status from peer without an IPv4 address",
					zap.String("remote", nc.RemoteAddr().String()))
				continue
			}
			s.setStatus(addr, msg.Available)
		case *protocol.RequestWorkerList:
			incWorkerListRequests(1)
			reply := &protocol.WorkerList{Addrs: s.availableWorkers()}
			if err := protocol.Write(nc, reply); err != nil {
				s.logger.Warn("failed to send worker list",
					zap.String("remote", nc.RemoteAddr().String()),
					zap.Error(err))
				return
			}
		default:
			s.logger.Debug("ignoring unexpected message",
				zap.Stringer("type", m.MsgType()),
				zap.String("remote", nc.RemoteAddr().String()))
		}
	}
}

// setStatus records a worker's advertised availability.
func (s *Server) setStatus(addr protocol.Addr, available bool) {
	s.mu.Lock()
	rec, ok := s.workers[addr]
	if !ok {
		rec = &workerRecord{}
		s.workers[addr] = rec
	}
	rec.available = available
	rec.lastSeen = s.clk.Now()
	s.mu.Unlock()

	s.logger.Info("worker status updated",
		zap.Stringer("worker", addr),
		zap.Bool("available", available))
	setWorkersAvailable(len(s.availableWorkers()))
}

// availableWorkers returns the addresses of workers advertised available
// and refreshed within the staleness bound.
func (s *Server) availableWorkers() []protocol.Addr {
	now := s.clk.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	addrs := make([]protocol.Addr, 0, len(s.workers))
	for addr, rec := range s.workers {
		if rec.available && now.Sub(rec.lastSeen) <= s.cfg.StaleAfter {
			addrs = append(addrs, addr)
		}
	}
	return addrs
}

// pruneLoop periodically drops records that have gone stale.
func (s *Server) pruneLoop() {
	defer s.wg.Done()
	ticker := s.clk.Ticker(s.cfg.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.prune()
		case <-s.ctx.Done():
			return
		}
	}
}

// prune removes records older than the staleness bound.
func (s *Server) prune() {
	now := s.clk.Now()
	s.mu.Lock()
	pruned := 0
	for addr, rec := range s.workers {
		if now.Sub(rec.lastSeen) > s.cfg.StaleAfter {
			delete(s.workers, addr)
			pruned++
			s.logger.Info("pruned stale worker", zap.Stringer("worker", addr))
		}
	}
	s.mu.Unlock()
	if pruned > 0 {
		incRecordsPruned(pruned)
		setWorkersAvailable(len(s.availableWorkers()))
	}
}

// WorkerCount reports the number of tracked records, stale or not.
func (s *Server) WorkerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.workers)
}
