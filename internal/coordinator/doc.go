// Package coordinator implements the central worker-availability service
// for the buildbroker distributed compilation system.
//
// # Overview
//
// The coordinator is the network alternative to the shared-filesystem
// registry: workers report availability to it over framed TCP, and
// controllers query it for the current worker list. It is authoritative
// for whatever it answers: a reachable coordinator returning zero
// workers means zero workers, not "try elsewhere".
//
//	              ┌──────────────┐
//	              │ Coordinator  │
//	              │              │
//	              │ - Records    │
//	              │ - Pruning    │
//	              │ - Metrics    │
//	              └──────┬───────┘
//	                     │ framed TCP (protocol pkg)
//	      ┌──────────────┼──────────────┐
//	      │              │              │
//	┌─────▼─────┐  ┌─────▼─────┐  ┌─────▼─────┐
//	│ Worker 1  │  │ Worker 2  │  │Controller │
//	│ set status│  │ set status│  │ list req  │
//	└───────────┘  └───────────┘  └───────────┘
//
// # Worker identity
//
// A worker is identified by the IPv4 address its status messages arrive
// from. No identity travels in the payload; the connection's remote
// address is the record key. Controllers receive those addresses back
// and do their own self/loopback filtering.
//
// # Staleness
//
// Workers republish availability periodically (the broker throttles the
// period to roughly ten seconds). A record not refreshed within the
// configured staleness bound drops out of worker-list replies and is
// eventually pruned, so a worker that died without retracting stops
// being handed to controllers. This is deliberately stricter than the
// filesystem registry, which keeps its best-effort-cleanup-only
// contract.
//
// # Concurrency
//
// One goroutine per accepted connection; the record map is guarded by a
// RWMutex; no locks are held during network I/O.
package coordinator
