package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/dreamware/buildbroker/internal/platform"
	"github.com/dreamware/buildbroker/internal/protocol"
	"github.com/dreamware/buildbroker/internal/registry"
	"github.com/dreamware/buildbroker/internal/transport"
)

// loopbackAddr is always excluded from discovered worker lists; a host
// never distributes work to itself through the loopback interface.
const loopbackAddr = "127.0.0.1"

// Registry is the slice of the filesystem registry the broker consumes.
// *registry.Registry satisfies it; tests substitute counting fakes.
type Registry interface {
	Root() string
	List() ([]string, error)
	Publish(identity string) (created bool, err error)
	Retract(identity string) error
}

// Broker matches workers to controllers. One instance serves either a
// controller (FindWorkers) or a worker (SetAvailability); both lazily
// initialize on first use.
//
// A Broker is safe for the documented usage: a single caller per
// operation, plus the transport callback arriving on its own goroutine.
// Overlapping FindWorkers calls are not supported; the response mailbox
// has one slot.
type Broker struct {
	cfg      Config
	logger   *zap.Logger
	clk      clock.Clock
	dial     DialFunc
	resolver platform.Resolver

	mu          sync.Mutex
	initialized bool
	identity    string
	reg         Registry
	available   bool
	lastPublish time.Time

	box *mailbox
}

// New returns an uninitialized Broker over the given configuration.
// Initialization is lazy and idempotent; callers may but need not call
// Initialize themselves.
func New(cfg Config, logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CoordinatorPort == 0 {
		cfg.CoordinatorPort = protocol.CoordinatorPort
	}
	b := &Broker{
		cfg:      cfg,
		logger:   logger,
		clk:      clock.New(),
		resolver: platform.HostResolver{},
		box:      newMailbox(),
	}
	b.dial = poolDial(logger)
	return b
}

// SetClock overrides the broker's time source. Call before first use;
// tests use clock.NewMock to drive the republish throttle.
func (b *Broker) SetClock(c clock.Clock) {
	b.clk = c
}

// SetDialFunc overrides how coordinator sessions are opened. Call before
// first use.
func (b *Broker) SetDialFunc(d DialFunc) {
	b.dial = d
}

// SetResolver overrides host identity resolution. Call before first use.
func (b *Broker) SetResolver(r platform.Resolver) {
	b.resolver = r
}

// SetRegistry overrides the filesystem registry. Call before first use.
// A non-nil registry counts as a configured filesystem backend even when
// Config.BrokeragePath is empty.
func (b *Broker) SetRegistry(reg Registry) {
	b.mu.Lock()
	b.reg = reg
	b.mu.Unlock()
}

// Initialize resolves the local identity, derives the registry namespace
// when a brokerage path is configured, and starts the throttle window.
// It is idempotent: every public operation calls it, and only the first
// call does work.
func (b *Broker) Initialize() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initLocked()
}

func (b *Broker) initLocked() error {
	if b.initialized {
		return nil
	}

	identity, err := b.resolver.Identity()
	if err != nil {
		return fmt.Errorf("resolve host identity: %w", err)
	}
	b.identity = identity

	if b.reg == nil && b.cfg.BrokeragePath != "" {
		root := registry.RootFor(b.cfg.BrokeragePath, protocol.Version, platform.Tag())
		b.reg = registry.New(root, b.logger)
	}

	switch {
	case b.cfg.CoordinatorAddr != "":
		b.logger.Info("using coordinator",
			zap.String("address", b.cfg.CoordinatorAddr),
			zap.String("identity", identity))
	case b.reg != nil:
		b.logger.Info("using brokerage folder",
			zap.String("root", b.reg.Root()),
			zap.String("identity", identity))
	}

	b.lastPublish = b.clk.Now()
	b.initialized = true
	return nil
}

// configuredLocked reports whether any discovery backend exists.
func (b *Broker) configuredLocked() bool {
	return b.cfg.CoordinatorAddr != "" || b.reg != nil
}

// FindWorkers returns the identities of workers currently advertising
// availability, excluding this host and the loopback address. The
// coordinator is consulted first when configured; a failed connection
// falls back to the filesystem registry. A reachable coordinator is
// authoritative: its empty reply returns an empty list without touching
// the registry.
//
// Discovery failures degrade to a warning plus an empty list. The only
// error returned is the caller's context ending before a coordinator
// response arrives; when ctx carries no deadline, DefaultFindTimeout
// bounds the wait instead, and its expiry also degrades to empty.
func (b *Broker) FindWorkers(ctx context.Context) ([]string, error) {
	b.mu.Lock()
	if err := b.initLocked(); err != nil {
		b.mu.Unlock()
		return nil, err
	}
	identity := b.identity
	reg := b.reg
	configured := b.configuredLocked()
	b.mu.Unlock()

	if !configured {
		b.logger.Warn("no brokerage root and no coordinator configured; set " +
			EnvBrokeragePath + " or " + EnvCoordinator)
		return nil, nil
	}

	if sess := b.connect(ctx); sess != nil {
		addrs, err := b.exchangeWorkerList(ctx, sess)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			// The coordinator accepted the connection, so it stays
			// authoritative even though the exchange died.
			b.logger.Warn("coordinator exchange failed", zap.Error(err))
			return nil, nil
		}
		if len(addrs) == 0 {
			b.logger.Warn("no workers received from coordinator")
			return nil, nil
		}
		return b.filterAddrs(addrs, identity), nil
	}

	if reg == nil {
		return nil, nil
	}
	names, err := reg.List()
	if err != nil {
		b.logger.Warn("no workers found in brokerage",
			zap.String("root", reg.Root()),
			zap.Error(err))
		return nil, nil
	}
	workers := make([]string, 0, len(names))
	for _, name := range names {
		if strings.EqualFold(name, identity) {
			continue
		}
		workers = append(workers, name)
	}
	return workers, nil
}

// exchangeWorkerList performs one request/response exchange on an open
// session and tears the session down afterwards.
func (b *Broker) exchangeWorkerList(ctx context.Context, sess Session) ([]protocol.Addr, error) {
	defer func() {
		sess.Close()
		b.logger.Info("disconnected from coordinator")
	}()

	b.box.arm()
	b.logger.Info("requesting worker list")
	if err := sess.RequestWorkerList(); err != nil {
		return nil, fmt.Errorf("send worker list request: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultFindTimeout)
		defer cancel()
	}
	addrs, err := b.box.wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("await worker list: %w", err)
	}
	b.logger.Info("worker list received", zap.Int("workers", len(addrs)))
	return addrs, nil
}

// filterAddrs renders packed addresses human-readable and drops the
// local identity and loopback.
func (b *Broker) filterAddrs(addrs []protocol.Addr, identity string) []string {
	workers := make([]string, 0, len(addrs))
	for _, a := range addrs {
		name := a.String()
		if strings.EqualFold(name, identity) || name == loopbackAddr {
			b.logger.Debug("skipping worker", zap.String("worker", name))
			continue
		}
		workers = append(workers, name)
	}
	return workers
}

// UpdateWorkerList ingests a coordinator worker-list response. It is the
// transport callback's entry point, invoked on the I/O goroutine, and the
// sole write path into the response mailbox.
func (b *Broker) UpdateWorkerList(addrs []protocol.Addr) {
	b.box.deliver(addrs)
}

// SetAvailability publishes this worker's availability. Re-asserting
// "available" is throttled to once per RepublishInterval; retracting is
// published immediately whenever the recorded state was available. The
// coordinator is preferred, the marker file is the fallback, and the
// recorded state is updated regardless of whether a publish happened.
// With neither backend configured the call is a silent no-op.
func (b *Broker) SetAvailability(ctx context.Context, available bool) {
	b.mu.Lock()
	if err := b.initLocked(); err != nil {
		b.mu.Unlock()
		b.logger.Warn("broker initialization failed", zap.Error(err))
		return
	}
	if !b.configuredLocked() {
		b.mu.Unlock()
		return
	}
	wasAvailable := b.available
	throttleDue := b.clk.Since(b.lastPublish) >= RepublishInterval
	reg := b.reg
	identity := b.identity
	b.mu.Unlock()

	published := false
	switch {
	case available && throttleDue:
		if sess := b.connect(ctx); sess != nil {
			if err := sess.SetWorkerStatus(true); err != nil {
				b.logger.Warn("failed to send worker status", zap.Error(err))
			} else {
				published = true
			}
			sess.Close()
		} else if reg != nil {
			// Recreate the marker if brokerage cleanup removed it;
			// an existing marker is left untouched.
			created, err := reg.Publish(identity)
			if err != nil {
				b.logger.Warn("failed to publish availability marker", zap.Error(err))
			}
			published = created
		}
	case !available && wasAvailable:
		if sess := b.connect(ctx); sess != nil {
			if err := sess.SetWorkerStatus(false); err != nil {
				b.logger.Warn("failed to send worker status", zap.Error(err))
			}
			sess.Close()
		} else if reg != nil {
			if err := reg.Retract(identity); err != nil {
				b.logger.Warn("failed to remove availability marker", zap.Error(err))
			}
		}
		published = true
	}

	b.mu.Lock()
	if published {
		b.lastPublish = b.clk.Now()
	}
	b.available = available
	b.mu.Unlock()
}

// connect opens a coordinator session, or returns nil when no coordinator
// is configured or the connection fails. Failure here is an expected,
// handled outcome: it selects the filesystem path.
func (b *Broker) connect(ctx context.Context) Session {
	if b.cfg.CoordinatorAddr == "" {
		return nil
	}
	sess, err := b.dial(ctx, b.cfg.CoordinatorAddr, b.cfg.CoordinatorPort, ConnectTimeout,
		transport.HandlerFunc(b.UpdateWorkerList))
	if err != nil {
		b.logger.Warn("failed to connect to coordinator",
			zap.String("address", b.cfg.CoordinatorAddr),
			zap.Error(err))
		return nil
	}
	b.logger.Info("connected to coordinator",
		zap.String("address", b.cfg.CoordinatorAddr))
	return sess
}

// Close retracts a filesystem-advertised availability marker so peers
// need no staleness detection after a graceful shutdown. Best-effort:
// coordinator-advertised availability ages out server-side instead.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized || !b.available || b.reg == nil {
		return nil
	}
	if err := b.reg.Retract(b.identity); err != nil {
		b.logger.Warn("failed to remove availability marker", zap.Error(err))
		return err
	}
	return nil
}
