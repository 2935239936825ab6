// Package protocol defines the wire contract shared by the coordinator,
// the worker daemons, and the controller in the buildbroker distributed
// compilation system.
//
// # Overview
//
// The protocol is a small framed binary format carried over TCP. Every
// message is a fixed six byte header followed by a type-specific payload:
//
//	┌──────┬─────────┬─────────────┬──────────────┐
//	│ type │ version │ payload len │   payload    │
//	│ 1 B  │   1 B   │  4 B (LE)   │  len bytes   │
//	└──────┴─────────┴─────────────┴──────────────┘
//
// Three message kinds exist:
//
//	MsgTypeRequestWorkerList - controller asks for available workers
//	MsgTypeSetWorkerStatus   - worker advertises or retracts availability
//	MsgTypeWorkerList        - coordinator reply carrying worker addresses
//
// # Versioning
//
// Version is baked into every frame and into the filesystem registry path,
// so peers running incompatible protocol revisions never talk to each
// other and never share a registry namespace. A frame whose version does
// not match is rejected during decode.
//
// # Addresses
//
// Worker addresses travel as packed IPv4 in network byte order. The Addr
// type wraps the packed form and converts to and from net.IP.
package protocol
