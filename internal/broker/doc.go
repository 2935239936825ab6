// Package broker implements worker discovery and availability brokering
// for the buildbroker distributed compilation system.
//
// # Overview
//
// A controller process asks the broker for the set of remote workers able
// to accept compiled work; a worker process uses the same broker to
// advertise and retract its own availability. Two structurally different
// discovery backends hide behind one API:
//
//	┌────────────────────────────────────────────┐
//	│                 Broker                     │
//	├────────────────────────────────────────────┤
//	│  FindWorkers      SetAvailability          │
//	│       │                  │                 │
//	│       ▼                  ▼                 │
//	│  ┌──────────────┐  ┌────────────────────┐  │
//	│  │ Coordinator  │  │ Filesystem         │  │
//	│  │ session      │  │ registry           │  │
//	│  │ (framed TCP) │  │ (marker files)     │  │
//	│  └──────────────┘  └────────────────────┘  │
//	└────────────────────────────────────────────┘
//
// The coordinator is preferred whenever an address is configured; the
// shared-directory registry is the fallback. When neither is configured
// every operation is a logged, silent no-op: absence of configuration is
// a valid state, not an error.
//
// # Availability throttling
//
// Workers re-assert availability on a short period, far more often than
// the backends need to hear about it. Re-publishing "still available" is
// throttled to once per RepublishInterval; retracting availability is
// never throttled, because a prompt removal matters more than the cost
// of publishing it.
//
// # The mailbox
//
// Coordinator responses arrive asynchronously on the transport's I/O
// goroutine while the requesting caller blocks. A single-slot mailbox
// bridges the two: the transport callback deposits the worker list and
// signals; the caller waits on the signal or its context, and consumes
// the slot exactly once per request. One request may be in flight at a
// time; overlapping FindWorkers calls on one broker are not supported.
//
// # Failure policy
//
// Discovery failures never escalate: connection refusals fall back to the
// registry, unreadable registries and empty coordinator replies degrade
// to a logged warning plus an empty list. Only cancellation of the
// caller's context surfaces as an error from FindWorkers.
package broker
