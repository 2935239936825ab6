package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

const (
	// Version identifies the wire protocol revision. It participates in
	// frame validation and in the filesystem registry namespace, so
	// incompatible builds never exchange messages or share markers.
	Version = 22

	// CoordinatorPort is the well-known TCP port the coordinator
	// listens on.
	CoordinatorPort = 31392
)

// maxPayload bounds a frame payload during decode. The largest legitimate
// message is a worker list; even an implausibly large fleet fits well
// under this.
const maxPayload = 1 << 20

// MsgType identifies a message kind on the wire.
type MsgType uint8

const (
	// MsgTypeRequestWorkerList asks the coordinator for the list of
	// currently available workers.
	MsgTypeRequestWorkerList MsgType = iota + 1

	// MsgTypeSetWorkerStatus advertises or retracts the sending
	// worker's availability.
	MsgTypeSetWorkerStatus

	// MsgTypeWorkerList is the coordinator's reply to a worker list
	// request.
	MsgTypeWorkerList
)

// String returns a human-readable name for the message type.
func (t MsgType) String() string {
	switch t {
	case MsgTypeRequestWorkerList:
		return "request_worker_list"
	case MsgTypeSetWorkerStatus:
		return "set_worker_status"
	case MsgTypeWorkerList:
		return "worker_list"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Addr is an IPv4 address packed into a uint32 in network byte order.
// It is the form worker addresses take on the wire and inside the
// coordinator's records.
type Addr uint32

// AddrFromIP packs an IP into an Addr. The second return is false when
// the IP is not an IPv4 address.
func AddrFromIP(ip net.IP) (Addr, bool) {
	ip4 := ip.To4()
	if ip4 == nil {
		return 0, false
	}
	return Addr(binary.BigEndian.Uint32(ip4)), true
}

// IP returns the unpacked net.IP form of the address.
func (a Addr) IP() net.IP {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(a))
	return net.IP(b)
}

// String returns the dotted-quad form of the address.
func (a Addr) String() string {
	return a.IP().String()
}

// Message is one unit of the coordinator exchange. Implementations are
// the three concrete message structs in this package.
type Message interface {
	// MsgType reports the frame type byte for this message.
	MsgType() MsgType

	// payload encodes the type-specific body of the frame.
	payload() []byte

	// decode populates the message from a frame payload.
	decode(p []byte) error
}

// RequestWorkerList asks the coordinator for the current worker list.
// It carries no payload.
type RequestWorkerList struct{}

// MsgType implements Message.
func (*RequestWorkerList) MsgType() MsgType { return MsgTypeRequestWorkerList }

func (*RequestWorkerList) payload() []byte { return nil }

func (*RequestWorkerList) decode(p []byte) error {
	if len(p) != 0 {
		return fmt.Errorf("request_worker_list: unexpected %d byte payload", len(p))
	}
	return nil
}

// SetWorkerStatus advertises (Available true) or retracts (Available
// false) the sending worker's availability. The coordinator identifies
// the worker by the connection's remote address; no identity travels in
// the payload.
type SetWorkerStatus struct {
	Available bool
}

// MsgType implements Message.
func (*SetWorkerStatus) MsgType() MsgType { return MsgTypeSetWorkerStatus }

func (m *SetWorkerStatus) payload() []byte {
	if m.Available {
		return []byte{1}
	}
	return []byte{0}
}

func (m *SetWorkerStatus) decode(p []byte) error {
	if len(p) != 1 {
		return fmt.Errorf("set_worker_status: want 1 byte payload, got %d", len(p))
	}
	m.Available = p[0] != 0
	return nil
}

// WorkerList is the coordinator's reply to RequestWorkerList. Addrs holds
// the packed addresses of every worker currently advertised as available;
// it may be empty.
type WorkerList struct {
	Addrs []Addr
}

// MsgType implements Message.
func (*WorkerList) MsgType() MsgType { return MsgTypeWorkerList }

func (m *WorkerList) payload() []byte {
	p := make([]byte, 4+4*len(m.Addrs))
	binary.LittleEndian.PutUint32(p, uint32(len(m.Addrs)))
	for i, a := range m.Addrs {
		binary.BigEndian.PutUint32(p[4+4*i:], uint32(a))
	}
	return p
}

func (m *WorkerList) decode(p []byte) error {
	if len(p) < 4 {
		return fmt.Errorf("worker_list: truncated payload (%d bytes)", len(p))
	}
	n := binary.LittleEndian.Uint32(p)
	// Compare in uint64: n*4 wraps in uint32 for hostile counts, which
	// would let a short frame pass validation and index past the payload.
	if uint64(len(p)-4) != uint64(n)*4 {
		return fmt.Errorf("worker_list: count %d does not match %d payload bytes", n, len(p)-4)
	}
	m.Addrs = make([]Addr, n)
	for i := range m.Addrs {
		m.Addrs[i] = Addr(binary.BigEndian.Uint32(p[4+4*i:]))
	}
	return nil
}

const headerLen = 6

// Write frames and sends a single message.
func Write(w io.Writer, m Message) error {
	p := m.payload()
	buf := make([]byte, headerLen+len(p))
	buf[0] = byte(m.MsgType())
	buf[1] = Version
	binary.LittleEndian.PutUint32(buf[2:], uint32(len(p)))
	copy(buf[headerLen:], p)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write %s: %w", m.MsgType(), err)
	}
	return nil
}

// Read decodes the next framed message from r. It blocks until a full
// frame arrives, the reader fails, or the frame is malformed. Frames
// carrying a foreign protocol version are rejected.
func Read(r io.Reader) (Message, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	if hdr[1] != Version {
		return nil, fmt.Errorf("protocol version mismatch: got %d, want %d", hdr[1], Version)
	}
	n := binary.LittleEndian.Uint32(hdr[2:])
	if n > maxPayload {
		return nil, fmt.Errorf("frame payload %d exceeds limit %d", n, maxPayload)
	}
	p := make([]byte, n)
	if _, err := io.ReadFull(r, p); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	var m Message
	switch MsgType(hdr[0]) {
	case MsgTypeRequestWorkerList:
		m = &RequestWorkerList{}
	case MsgTypeSetWorkerStatus:
		m = &SetWorkerStatus{}
	case MsgTypeWorkerList:
		m = &WorkerList{}
	default:
		return nil, fmt.Errorf("unknown message type %d", hdr[0])
	}
	if err := m.decode(p); err != nil {
		return nil, err
	}
	return m, nil
}
