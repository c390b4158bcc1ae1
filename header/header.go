package header

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

//Base header:
// 0                                                                       31
// |-----------------------------------------------------------------------|
// | Version (uint4) | Type (uint4) |  Flags (uint8) | Op (uint8) | Rsvd    | 32
// |-----------------------------------------------------------------------|
// |                            Peer (uint32)                              | 64
// |-----------------------------------------------------------------------|
// |                          Sequence number                              | 96
// |                               (uint64)                                | 128
// |-----------------------------------------------------------------------|
// |                    optional sub headers, payload...                   |
//
// Op packets are followed by the sub headers selected in Flags, in order:
// tag (uint64), sar (size uint64, segment count uint32), data (uint64).
// Data packets are followed by the segment index (uint32).
// RTS and CTS carry the sender's index for the receiver (uint32). The RTS sequence
// number is the initiator's session nonce, the CTS echoes it back.
// ACK carries the session nonce it acknowledges (uint64), its sequence number is the
// next sequence the receiver expects.

type m = map[string]any

const (
	Version uint8 = 1
	Len           = 16

	TagLen   = 8
	SARLen   = 12
	DataLen  = 8
	SegLen   = 4
	IndexLen = 4
	NonceLen = 8
)

type MessageType uint8

const (
	RTS  MessageType = 0
	CTS  MessageType = 1
	Ack  MessageType = 2
	Op   MessageType = 3
	Data MessageType = 4
)

var typeMap = map[MessageType]string{
	RTS:  "rts",
	CTS:  "cts",
	Ack:  "ack",
	Op:   "op",
	Data: "data",
}

// Flags select the sub headers present on an Op packet
type Flags uint8

const (
	FlagTag  Flags = 1 << 0
	FlagSAR  Flags = 1 << 1
	FlagData Flags = 1 << 2
)

// OpCode identifies the operation an Op packet starts
type OpCode uint8

const (
	OpMsg    OpCode = 0
	OpTagged OpCode = 1
)

var opMap = map[OpCode]string{
	OpMsg:    "msg",
	OpTagged: "tagged",
}

var (
	ErrHeaderTooShort = errors.New("header is too short")
	ErrUnknownVersion = errors.New("unknown header version")
	ErrSubHeaderShort = errors.New("sub header is too short")
)

type H struct {
	Version uint8
	Type    MessageType
	Flags   Flags
	Op      OpCode
	Peer    uint32
	Seq     uint64
}

// OpHeader is the decoded set of sub headers that follow an Op packet base header
type OpHeader struct {
	Tag       uint64
	Size      uint64
	NumSegs   uint32
	CQData    uint64
	HasTag    bool
	HasSAR    bool
	HasCQData bool
}

// Encode uses the provided byte array to encode the provided header values into.
// Byte array must be capped higher than Len or this will panic
func Encode(b []byte, t MessageType, f Flags, op OpCode, peer uint32, seq uint64) []byte {
	b = b[:Len]
	b[0] = Version<<4 | byte(t&0x0f)
	b[1] = byte(f)
	b[2] = byte(op)
	b[3] = 0
	binary.BigEndian.PutUint32(b[4:8], peer)
	binary.BigEndian.PutUint64(b[8:16], seq)
	return b
}

// Encode turns header into bytes
func (h *H) Encode(b []byte) ([]byte, error) {
	if h == nil {
		return nil, errors.New("nil header")
	}

	return Encode(b, h.Type, h.Flags, h.Op, h.Peer, h.Seq), nil
}

// Parse is a helper function to parses given bytes into new Header struct
func (h *H) Parse(b []byte) error {
	if len(b) < Len {
		return ErrHeaderTooShort
	}

	h.Version = uint8((b[0] >> 4) & 0x0f)
	if h.Version != Version {
		return ErrUnknownVersion
	}
	h.Type = MessageType(b[0] & 0x0f)
	h.Flags = Flags(b[1])
	h.Op = OpCode(b[2])
	h.Peer = binary.BigEndian.Uint32(b[4:8])
	h.Seq = binary.BigEndian.Uint64(b[8:16])
	return nil
}

// OpLen returns the number of sub header bytes the flags select
func OpLen(f Flags) int {
	n := 0
	if f&FlagTag != 0 {
		n += TagLen
	}
	if f&FlagSAR != 0 {
		n += SARLen
	}
	if f&FlagData != 0 {
		n += DataLen
	}
	return n
}

// Flags returns the flag set needed to carry this op header
func (o *OpHeader) Flags() Flags {
	var f Flags
	if o.HasTag {
		f |= FlagTag
	}
	if o.HasSAR {
		f |= FlagSAR
	}
	if o.HasCQData {
		f |= FlagData
	}
	return f
}

// EncodeOp appends the sub headers of o to b and returns the extended slice
func EncodeOp(b []byte, o *OpHeader) []byte {
	if o.HasTag {
		b = binary.BigEndian.AppendUint64(b, o.Tag)
	}
	if o.HasSAR {
		b = binary.BigEndian.AppendUint64(b, o.Size)
		b = binary.BigEndian.AppendUint32(b, o.NumSegs)
	}
	if o.HasCQData {
		b = binary.BigEndian.AppendUint64(b, o.CQData)
	}
	return b
}

// ParseOp reads the sub headers selected by f from b, b must start right after the base header.
// The remaining payload is returned.
func ParseOp(b []byte, f Flags, o *OpHeader) ([]byte, error) {
	if len(b) < OpLen(f) {
		return nil, ErrSubHeaderShort
	}

	*o = OpHeader{}
	if f&FlagTag != 0 {
		o.HasTag = true
		o.Tag = binary.BigEndian.Uint64(b)
		b = b[TagLen:]
	}
	if f&FlagSAR != 0 {
		o.HasSAR = true
		o.Size = binary.BigEndian.Uint64(b)
		o.NumSegs = binary.BigEndian.Uint32(b[8:])
		b = b[SARLen:]
	}
	if f&FlagData != 0 {
		o.HasCQData = true
		o.CQData = binary.BigEndian.Uint64(b)
		b = b[DataLen:]
	}
	return b, nil
}

// ParseSeg reads the segment index of a Data packet
func ParseSeg(b []byte) (uint32, []byte, error) {
	if len(b) < SegLen {
		return 0, nil, ErrSubHeaderShort
	}
	return binary.BigEndian.Uint32(b), b[SegLen:], nil
}

// String creates a readable string representation of a header
func (h *H) String() string {
	if h == nil {
		return "<nil>"
	}
	return fmt.Sprintf("ver=%d type=%s flags=%#x op=%s peer=%v seq=%v",
		h.Version, h.TypeName(), uint8(h.Flags), OpName(h.Op), h.Peer, h.Seq)
}

// MarshalJSON creates a json string representation of a header
func (h *H) MarshalJSON() ([]byte, error) {
	return json.Marshal(m{
		"version": h.Version,
		"type":    h.TypeName(),
		"flags":   h.Flags,
		"op":      OpName(h.Op),
		"peer":    h.Peer,
		"seq":     h.Seq,
	})
}

// TypeName will transform the headers message type into a human string
func (h *H) TypeName() string {
	return TypeName(h.Type)
}

// TypeName will transform a message type into a human string
func TypeName(t MessageType) string {
	if n, ok := typeMap[t]; ok {
		return n
	}

	return "unknown"
}

// OpName will transform an op code into a human string
func OpName(op OpCode) string {
	if n, ok := opMap[op]; ok {
		return n
	}

	return "unknown"
}

// NewHeader turns bytes into a header
func NewHeader(b []byte) (*H, error) {
	h := new(H)
	if err := h.Parse(b); err != nil {
		return nil, err
	}
	return h, nil
}
