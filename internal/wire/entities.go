package wire

import "encoding/binary"

// OpenEntity is the Open request payload.
type OpenEntity struct {
	Path       string
	RawOpts    []byte
	ColumnFlag bool
	AttrCount  int32
}

func EncodeOpenEntity(e OpenEntity, buf []byte) (int, error) {
	need := 4 + len(e.Path) + 4 + len(e.RawOpts) + 1 + 4
	if need > len(buf) {
		return 0, ErrEntityTooLarge
	}
	n := 0
	binary.LittleEndian.PutUint32(buf[n:], uint32(len(e.Path)))
	n += 4
	n += copy(buf[n:], e.Path)
	binary.LittleEndian.PutUint32(buf[n:], uint32(len(e.RawOpts)))
	n += 4
	n += copy(buf[n:], e.RawOpts)
	if e.ColumnFlag {
		buf[n] = 1
	} else {
		buf[n] = 0
	}
	n++
	binary.LittleEndian.PutUint32(buf[n:], uint32(e.AttrCount))
	n += 4
	return n, nil
}

func DecodeOpenEntity(buf []byte) (OpenEntity, error) {
	var e OpenEntity
	n := 0
	if len(buf) < 4 {
		return e, ErrMalformedEntity
	}
	pl := int(binary.LittleEndian.Uint32(buf[n:]))
	n += 4
	if len(buf) < n+pl+4 {
		return e, ErrMalformedEntity
	}
	e.Path = string(buf[n : n+pl])
	n += pl
	ol := int(binary.LittleEndian.Uint32(buf[n:]))
	n += 4
	if len(buf) < n+ol+1+4 {
		return e, ErrMalformedEntity
	}
	e.RawOpts = append([]byte(nil), buf[n:n+ol]...)
	n += ol
	e.ColumnFlag = buf[n] != 0
	n++
	e.AttrCount = int32(binary.LittleEndian.Uint32(buf[n:]))
	return e, nil
}

// KVEntity carries a key and an optional value, used for Put and Load
// requests. Get and Del requests use KeyEntity.
type KVEntity struct {
	Key   []byte
	Value []byte
}

func EncodeKVEntity(e KVEntity, buf []byte) (int, error) {
	need := 4 + len(e.Key) + 4 + len(e.Value)
	if need > len(buf) {
		return 0, ErrEntityTooLarge
	}
	n := 0
	binary.LittleEndian.PutUint32(buf[n:], uint32(len(e.Key)))
	n += 4
	n += copy(buf[n:], e.Key)
	binary.LittleEndian.PutUint32(buf[n:], uint32(len(e.Value)))
	n += 4
	n += copy(buf[n:], e.Value)
	return n, nil
}

func DecodeKVEntity(buf []byte) (KVEntity, error) {
	var e KVEntity
	n := 0
	if len(buf) < 4 {
		return e, ErrMalformedEntity
	}
	kl := int(binary.LittleEndian.Uint32(buf[n:]))
	n += 4
	if len(buf) < n+kl+4 {
		return e, ErrMalformedEntity
	}
	e.Key = append([]byte(nil), buf[n:n+kl]...)
	n += kl
	vl := int(binary.LittleEndian.Uint32(buf[n:]))
	n += 4
	if len(buf) < n+vl {
		return e, ErrMalformedEntity
	}
	e.Value = append([]byte(nil), buf[n:n+vl]...)
	return e, nil
}

// KeyEntity carries a bare key, used for Get and Del requests.
type KeyEntity struct {
	Key []byte
}

func EncodeKeyEntity(e KeyEntity, buf []byte) (int, error) {
	need := 4 + len(e.Key)
	if need > len(buf) {
		return 0, ErrEntityTooLarge
	}
	n := 0
	binary.LittleEndian.PutUint32(buf[n:], uint32(len(e.Key)))
	n += 4
	n += copy(buf[n:], e.Key)
	return n, nil
}

func DecodeKeyEntity(buf []byte) (KeyEntity, error) {
	var e KeyEntity
	if len(buf) < 4 {
		return e, ErrMalformedEntity
	}
	kl := int(binary.LittleEndian.Uint32(buf[0:4]))
	if len(buf) < 4+kl {
		return e, ErrMalformedEntity
	}
	e.Key = append([]byte(nil), buf[4:4+kl]...)
	return e, nil
}

// BoolResultEntity is a one-byte boolean response (Put/Del success flags).
type BoolResultEntity struct {
	Ok bool
}

func EncodeBoolResultEntity(e BoolResultEntity, buf []byte) (int, error) {
	if len(buf) < 1 {
		return 0, ErrEntityTooLarge
	}
	if e.Ok {
		buf[0] = 1
	} else {
		buf[0] = 0
	}
	return 1, nil
}

func DecodeBoolResultEntity(buf []byte) (BoolResultEntity, error) {
	if len(buf) < 1 {
		return BoolResultEntity{}, ErrMalformedEntity
	}
	return BoolResultEntity{Ok: buf[0] != 0}, nil
}

// GetResultEntity is the Get response: a found flag plus the value.
type GetResultEntity struct {
	Found bool
	Value []byte
}

func EncodeGetResultEntity(e GetResultEntity, buf []byte) (int, error) {
	need := 1 + 4 + len(e.Value)
	if need > len(buf) {
		return 0, ErrEntityTooLarge
	}
	n := 0
	if e.Found {
		buf[n] = 1
	} else {
		buf[n] = 0
	}
	n++
	binary.LittleEndian.PutUint32(buf[n:], uint32(len(e.Value)))
	n += 4
	n += copy(buf[n:], e.Value)
	return n, nil
}

func DecodeGetResultEntity(buf []byte) (GetResultEntity, error) {
	var e GetResultEntity
	if len(buf) < 5 {
		return e, ErrMalformedEntity
	}
	e.Found = buf[0] != 0
	vl := int(binary.LittleEndian.Uint32(buf[1:5]))
	if len(buf) < 5+vl {
		return e, ErrMalformedEntity
	}
	e.Value = append([]byte(nil), buf[5:5+vl]...)
	return e, nil
}

// CountResultEntity is the Count response.
type CountResultEntity struct {
	Count uint64
}

func EncodeCountResultEntity(e CountResultEntity, buf []byte) (int, error) {
	if len(buf) < 8 {
		return 0, ErrEntityTooLarge
	}
	binary.LittleEndian.PutUint64(buf[0:8], e.Count)
	return 8, nil
}

func DecodeCountResultEntity(buf []byte) (CountResultEntity, error) {
	if len(buf) < 8 {
		return CountResultEntity{}, ErrMalformedEntity
	}
	return CountResultEntity{Count: binary.LittleEndian.Uint64(buf[0:8])}, nil
}

// CursorEntity addresses a forward-scan cursor or range session by the
// client-allocated id it was opened with. ReadBatch and DelCursor share
// this layout: the requesting process is already identified by the
// header's RelID field, so the entity carries only the cursor id.
// ReadBatch is also lookup-or-create: the first call for a given cursor
// id opens the underlying engine iterator, and every call (including
// the first) reads one batch from it.
type CursorEntity struct {
	CursorID uint64
}

func EncodeCursorEntity(e CursorEntity, buf []byte) (int, error) {
	if len(buf) < 8 {
		return 0, ErrEntityTooLarge
	}
	binary.LittleEndian.PutUint64(buf[0:8], e.CursorID)
	return 8, nil
}

func DecodeCursorEntity(buf []byte) (CursorEntity, error) {
	if len(buf) < 8 {
		return CursorEntity{}, ErrMalformedEntity
	}
	return CursorEntity{CursorID: binary.LittleEndian.Uint64(buf[0:8])}, nil
}

// RangeQueryArgsEntity opens a bounded iterator over [Start, Limit).
// CursorID is allocated by the client, as in CursorEntity.
type RangeQueryArgsEntity struct {
	CursorID      uint64
	Start         []byte
	Limit         []byte
	BatchCapacity uint64
	Attrs         []int32
}

func EncodeRangeQueryArgsEntity(e RangeQueryArgsEntity, buf []byte) (int, error) {
	need := 8 + 4 + len(e.Start) + 4 + len(e.Limit) + 8 + 4 + len(e.Attrs)*4
	if need > len(buf) {
		return 0, ErrEntityTooLarge
	}
	n := 0
	binary.LittleEndian.PutUint64(buf[n:], e.CursorID)
	n += 8
	binary.LittleEndian.PutUint32(buf[n:], uint32(len(e.Start)))
	n += 4
	n += copy(buf[n:], e.Start)
	binary.LittleEndian.PutUint32(buf[n:], uint32(len(e.Limit)))
	n += 4
	n += copy(buf[n:], e.Limit)
	binary.LittleEndian.PutUint64(buf[n:], e.BatchCapacity)
	n += 8
	binary.LittleEndian.PutUint32(buf[n:], uint32(len(e.Attrs)))
	n += 4
	for _, a := range e.Attrs {
		binary.LittleEndian.PutUint32(buf[n:], uint32(a))
		n += 4
	}
	return n, nil
}

func DecodeRangeQueryArgsEntity(buf []byte) (RangeQueryArgsEntity, error) {
	var e RangeQueryArgsEntity
	if len(buf) < 12 {
		return e, ErrMalformedEntity
	}
	e.CursorID = binary.LittleEndian.Uint64(buf[0:8])
	n := 8
	sl := int(binary.LittleEndian.Uint32(buf[n:]))
	n += 4
	if len(buf) < n+sl+4 {
		return e, ErrMalformedEntity
	}
	e.Start = append([]byte(nil), buf[n:n+sl]...)
	n += sl
	ll := int(binary.LittleEndian.Uint32(buf[n:]))
	n += 4
	if len(buf) < n+ll+8+4 {
		return e, ErrMalformedEntity
	}
	e.Limit = append([]byte(nil), buf[n:n+ll]...)
	n += ll
	e.BatchCapacity = binary.LittleEndian.Uint64(buf[n:])
	n += 8
	cnt := int(binary.LittleEndian.Uint32(buf[n:]))
	n += 4
	if len(buf) < n+cnt*4 {
		return e, ErrMalformedEntity
	}
	e.Attrs = make([]int32, cnt)
	for i := 0; i < cnt; i++ {
		e.Attrs[i] = int32(binary.LittleEndian.Uint32(buf[n:]))
		n += 4
	}
	return e, nil
}

// BatchResultEntity is the inline response to ReadBatch/RangeQuery: the
// has-more continuation flag plus the number of valid bytes the worker
// wrote into the bulk side-channel segment for this batch. The batch
// payload itself never travels in the entity; the client reads it out
// of the bulk segment named after its CursorKey (see internal/bulk).
type BatchResultEntity struct {
	HasMore bool
	Size    uint64
}

func EncodeBatchResultEntity(e BatchResultEntity, buf []byte) (int, error) {
	const need = 1 + 8
	if need > len(buf) {
		return 0, ErrEntityTooLarge
	}
	if e.HasMore {
		buf[0] = 1
	} else {
		buf[0] = 0
	}
	binary.LittleEndian.PutUint64(buf[1:9], e.Size)
	return need, nil
}

func DecodeBatchResultEntity(buf []byte) (BatchResultEntity, error) {
	var e BatchResultEntity
	if len(buf) < 9 {
		return e, ErrMalformedEntity
	}
	e.HasMore = buf[0] != 0
	e.Size = binary.LittleEndian.Uint64(buf[1:9])
	return e, nil
}
