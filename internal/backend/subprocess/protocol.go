package subprocess

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// MaxMessageSize is the maximum allowed frame payload (16 MiB).
const MaxMessageSize = 16 << 20

// MsgType identifies a frame.
type MsgType byte

// Host to child requests.
const (
	MsgLoad MsgType = iota + 1
	MsgCall
	MsgRegister
	MsgWrap
	MsgStatus
	MsgFree
	MsgQuit
	// MsgReturn and MsgError answer a request in either direction. The child
	// sends MsgCall to invoke a host function.
	MsgReturn
	MsgError
)

var msgNames = map[MsgType]string{
	MsgLoad:     "load",
	MsgCall:     "call",
	MsgRegister: "register",
	MsgWrap:     "wrap",
	MsgStatus:   "status",
	MsgFree:     "free",
	MsgQuit:     "quit",
	MsgReturn:   "return",
	MsgError:    "error",
}

func (t MsgType) String() string {
	if s, ok := msgNames[t]; ok {
		return s
	}
	return fmt.Sprintf("MsgType(%d)", byte(t))
}

// Message is the payload of every frame. Each type uses a subset of the
// fields.
type Message struct {
	// load
	ChunkName string `cbor:"chunk,omitempty"`
	Source    []byte `cbor:"src,omitempty"`

	// call, wrap: the callee; a chunk id host to child, a host function id
	// child to host.
	Func int64   `cbor:"fn,omitempty"`
	Args []Value `cbor:"args,omitempty"`

	// register
	Name  string           `cbor:"name,omitempty"`
	Funcs map[string]int64 `cbor:"funcs,omitempty"`

	// Free lists chunk ids the host no longer references. It may ride on
	// any host to child frame.
	Free []int64 `cbor:"free,omitempty"`

	// return
	Values []Value      `cbor:"vals,omitempty"`
	Status *StatusReply `cbor:"status,omitempty"`
	// Peak is the child's peak heap growth, reported with call replies.
	Peak uint64 `cbor:"peak,omitempty"`

	// error
	Err *Error `cbor:"err,omitempty"`
}

// StatusReply describes the child process.
type StatusReply struct {
	CPUTicks int64  `cbor:"ticks"`
	VSize    uint64 `cbor:"vsize"`
	PID      int    `cbor:"pid"`
}

var decMode cbor.DecMode

func init() {
	var err error
	decMode, err = cbor.DecOptions{
		MaxNestedLevels:  1024,
		MaxArrayElements: 1 << 24,
		MaxMapPairs:      1 << 24,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("cbor decode options: %v", err))
	}
}

// WriteMessage writes one frame to w: a 4-byte big-endian payload length,
// the type byte, then the CBOR payload.
func WriteMessage(w io.Writer, typ MsgType, msg *Message) error {
	if msg == nil {
		msg = &Message{}
	}
	data, err := cbor.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("message size %d exceeds maximum %d", len(data), MaxMessageSize)
	}

	var buf bytes.Buffer
	buf.Grow(5 + len(data))
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(data))); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	buf.WriteByte(byte(typ))
	buf.Write(data)

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadMessage reads one frame from r.
func ReadMessage(r io.Reader) (MsgType, *Message, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, fmt.Errorf("read frame header: %w", err)
	}
	length := binary.BigEndian.Uint32(hdr[:4])
	if length > MaxMessageSize {
		return 0, nil, fmt.Errorf("message size %d exceeds maximum %d", length, MaxMessageSize)
	}
	typ := MsgType(hdr[4])

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return 0, nil, fmt.Errorf("read payload: %w", err)
	}

	msg := &Message{}
	if err := decMode.Unmarshal(data, msg); err != nil {
		return 0, nil, fmt.Errorf("unmarshal message: %w", err)
	}
	return typ, msg, nil
}
