package coordinator

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dreamware/buildbroker/internal/broker"
	"github.com/dreamware/buildbroker/internal/protocol"
)

// startServer runs a coordinator on a loopback listener and returns it
// with its port.
func startServer(t *testing.T, cfg Config) (*Server, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := New(cfg, zap.NewNop())
	go s.Serve(ln)
	t.Cleanup(s.Stop)
	return s, ln.Addr().(*net.TCPAddr).Port
}

// dialRaw opens a plain protocol connection to the server.
func dialRaw(t *testing.T, port int) net.Conn {
	t.Helper()
	nc, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	t.Cleanup(func() { nc.Close() })
	return nc
}

// TestStatusAndListRoundTrip verifies a worker advertising availability
// shows up in a controller's worker list, and a retraction removes it.
func TestStatusAndListRoundTrip(t *testing.T) {
	_, port := startServer(t, Config{})

	workerConn := dialRaw(t, port)
	require.NoError(t, protocol.Write(workerConn, &protocol.SetWorkerStatus{Available: true}))

	// Status frames are processed on the worker's own connection
	// goroutine, so the list converges rather than updating inline.
	controllerConn := dialRaw(t, port)
	require.Eventually(t, func() bool {
		list, err := requestList(controllerConn)
		if err != nil || len(list) != 1 {
			return false
		}
		return list[0].String() == "127.0.0.1"
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, protocol.Write(workerConn, &protocol.SetWorkerStatus{Available: false}))
	assert.Eventually(t, func() bool {
		list, err := requestList(controllerConn)
		return err == nil && len(list) == 0
	}, 2*time.Second, 20*time.Millisecond)
}

// requestList performs one worker-list exchange on an open connection.
func requestList(nc net.Conn) ([]protocol.Addr, error) {
	if err := protocol.Write(nc, &protocol.RequestWorkerList{}); err != nil {
		return nil, err
	}
	m, err := protocol.Read(nc)
	if err != nil {
		return nil, err
	}
	list, ok := m.(*protocol.WorkerList)
	if !ok {
		return nil, errUnexpectedReply
	}
	return list.Addrs, nil
}

var errUnexpectedReply = errors.New("unexpected reply type")

// TestStalenessExcludesUnrefreshedWorkers verifies a worker that stops
// republishing drops out of replies and is eventually pruned.
func TestStalenessExcludesUnrefreshedWorkers(t *testing.T) {
	mock := clock.NewMock()
	s := New(Config{StaleAfter: 60 * time.Second}, zap.NewNop())
	s.SetClock(mock)

	addr, ok := protocol.AddrFromIP(net.ParseIP("10.0.0.5"))
	require.True(t, ok)
	s.setStatus(addr, true)
	require.Len(t, s.availableWorkers(), 1)

	// Within the bound the worker stays listed.
	mock.Add(30 * time.Second)
	assert.Len(t, s.availableWorkers(), 1)

	// Past the bound it disappears from replies but is still tracked.
	mock.Add(31 * time.Second)
	assert.Empty(t, s.availableWorkers())
	assert.Equal(t, 1, s.WorkerCount())

	// The sweep then drops the record entirely.
	s.prune()
	assert.Zero(t, s.WorkerCount())
}

// TestRepublishRefreshesStaleness verifies a refreshed status resets the
// staleness window.
func TestRepublishRefreshesStaleness(t *testing.T) {
	mock := clock.NewMock()
	s := New(Config{StaleAfter: 60 * time.Second}, zap.NewNop())
	s.SetClock(mock)

	addr, ok := protocol.AddrFromIP(net.ParseIP("10.0.0.5"))
	require.True(t, ok)
	s.setStatus(addr, true)

	mock.Add(45 * time.Second)
	s.setStatus(addr, true)
	mock.Add(45 * time.Second)

	// 90s since the first report, 45s since the refresh: still listed.
	assert.Len(t, s.availableWorkers(), 1)
}

// TestStopWithLiveConnections verifies shutdown does not hang on peers
// that sit idle on open connections, and that connections racing the
// shutdown are still torn down.
func TestStopWithLiveConnections(t *testing.T) {
	s, port := startServer(t, Config{})

	// Idle peers: their handlers block in a frame read until Stop
	// closes the connections out from under them.
	for i := 0; i < 3; i++ {
		dialRaw(t, port)
	}
	require.Eventually(t, func() bool {
		s.connMu.Lock()
		defer s.connMu.Unlock()
		return len(s.conns) == 3
	}, 2*time.Second, 20*time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return with live connections open")
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()
	assert.Empty(t, s.conns)
}

// TestBrokerAgainstRealCoordinator verifies the full client path: the
// broker dials the server, the asynchronous reply is bridged back, and
// filtering applies to what the coordinator actually returned.
func TestBrokerAgainstRealCoordinator(t *testing.T) {
	s, port := startServer(t, Config{})

	// A worker on another machine, injected directly since loopback
	// connections can only ever register 127.0.0.1.
	remote, ok := protocol.AddrFromIP(net.ParseIP("10.0.0.5"))
	require.True(t, ok)
	s.setStatus(remote, true)

	b := broker.New(broker.Config{
		CoordinatorAddr: "127.0.0.1",
		CoordinatorPort: port,
	}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	workers, err := b.FindWorkers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.5"}, workers)
}

// TestBrokerFiltersLoopbackFromCoordinator verifies a worker registered
// via loopback is scrubbed from the broker's result: reaching the
// coordinator is authoritative, so the list is empty rather than a
// registry fallback.
func TestBrokerFiltersLoopbackFromCoordinator(t *testing.T) {
	s, port := startServer(t, Config{})

	workerConn := dialRaw(t, port)
	require.NoError(t, protocol.Write(workerConn, &protocol.SetWorkerStatus{Available: true}))
	require.Eventually(t, func() bool {
		return s.WorkerCount() == 1
	}, 2*time.Second, 20*time.Millisecond)

	b := broker.New(broker.Config{
		CoordinatorAddr: "127.0.0.1",
		CoordinatorPort: port,
	}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	workers, err := b.FindWorkers(ctx)
	require.NoError(t, err)
	assert.Empty(t, workers)
}
