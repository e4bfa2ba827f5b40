// Package wire defines the fixed message header and the per-operation
// entity codecs carried inline in a channel's request arena and response
// slots. Entities are encoded with manual, field-by-field
// encoding/binary calls for a tight, fixed-layout binary protocol.
package wire

import (
	"encoding/binary"

	"github.com/vidardb/kvbridge/internal/constants"
)

// Op identifies the requested operation.
type Op uint32

const (
	OpDummy Op = iota
	OpOpen
	OpClose
	OpCount
	OpPut
	OpGet
	OpDel
	OpLoad
	OpReadBatch
	OpDelCursor
	OpRangeQuery
	OpClearRangeQuery
	OpLaunch
	OpTerminate
)

func (o Op) String() string {
	switch o {
	case OpDummy:
		return "Dummy"
	case OpOpen:
		return "Open"
	case OpClose:
		return "Close"
	case OpCount:
		return "Count"
	case OpPut:
		return "Put"
	case OpGet:
		return "Get"
	case OpDel:
		return "Del"
	case OpLoad:
		return "Load"
	case OpReadBatch:
		return "ReadBatch"
	case OpDelCursor:
		return "DelCursor"
	case OpRangeQuery:
		return "RangeQuery"
	case OpClearRangeQuery:
		return "ClearRangeQuery"
	case OpLaunch:
		return "Launch"
	case OpTerminate:
		return "Terminate"
	default:
		return "Unknown"
	}
}

// Status describes the outcome of a request.
type Status uint32

const (
	StatusDummy Status = iota
	StatusSuccess
	StatusFailure
	StatusException
)

// HeaderSize is the exact wire size of a Header.
const HeaderSize = constants.HeaderSize

// Header is the fixed-size prefix of every message carried through the
// channel's request arena or a response slot.
type Header struct {
	Op                Op
	DBID              uint32
	RelID             uint32
	Status            Status
	ResponseChannelID uint32
	EntitySize        uint64
}

// Encode writes h into buf[:HeaderSize]. buf must be at least HeaderSize
// bytes.
func (h Header) Encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.Op))
	binary.LittleEndian.PutUint32(buf[4:8], h.DBID)
	binary.LittleEndian.PutUint32(buf[8:12], h.RelID)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.Status))
	binary.LittleEndian.PutUint32(buf[16:20], h.ResponseChannelID)
	binary.LittleEndian.PutUint64(buf[20:28], h.EntitySize)
}

// DecodeHeader reads a Header from buf[:HeaderSize].
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrShortBuffer
	}
	return Header{
		Op:                Op(binary.LittleEndian.Uint32(buf[0:4])),
		DBID:              binary.LittleEndian.Uint32(buf[4:8]),
		RelID:             binary.LittleEndian.Uint32(buf[8:12]),
		Status:            Status(binary.LittleEndian.Uint32(buf[12:16])),
		ResponseChannelID: binary.LittleEndian.Uint32(buf[16:20]),
		EntitySize:        binary.LittleEndian.Uint64(buf[20:28]),
	}, nil
}

// WireError is a sentinel error type for malformed wire data.
type WireError string

func (e WireError) Error() string { return string(e) }

const (
	ErrShortBuffer     WireError = "wire: buffer too short"
	ErrEntityTooLarge  WireError = "wire: entity exceeds arena/slot capacity"
	ErrMalformedEntity WireError = "wire: malformed entity payload"
)
