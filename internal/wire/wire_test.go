package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		Op:                OpPut,
		DBID:               7,
		RelID:              3,
		Status:             StatusSuccess,
		ResponseChannelID:  42,
		EntitySize:         1234,
	}
	buf := make([]byte, HeaderSize)
	h.Encode(buf)

	got, err := DecodeHeader(buf)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestDecodeHeaderShortBuffer(t *testing.T) {
	_, err := DecodeHeader(make([]byte, HeaderSize-1))
	require.ErrorIs(t, err, ErrShortBuffer)
}

func TestOpenEntityRoundTrip(t *testing.T) {
	e := OpenEntity{
		Path:       "/var/lib/kvbridge/db0",
		RawOpts:    []byte{1, 2, 3},
		ColumnFlag: true,
		AttrCount:  5,
	}
	buf := make([]byte, 256)
	n, err := EncodeOpenEntity(e, buf)
	require.NoError(t, err)

	got, err := DecodeOpenEntity(buf[:n])
	require.NoError(t, err)
	require.Equal(t, e, got)
}

func TestKVEntityRoundTrip(t *testing.T) {
	e := KVEntity{Key: []byte("k1"), Value: []byte("v1")}
	buf := make([]byte, 64)
	n, err := EncodeKVEntity(e, buf)
	require.NoError(t, err)

	got, err := DecodeKVEntity(buf[:n])
	require.NoError(t, err)
	require.Equal(t, e, got)
}

func TestKeyEntityRoundTrip(t *testing.T) {
	e := KeyEntity{Key: []byte("some-key")}
	buf := make([]byte, 64)
	n, err := EncodeKeyEntity(e, buf)
	require.NoError(t, err)

	got, err := DecodeKeyEntity(buf[:n])
	require.NoError(t, err)
	require.Equal(t, e, got)
}

func TestGetResultEntityRoundTrip(t *testing.T) {
	cases := []GetResultEntity{
		{Found: true, Value: []byte("hello")},
		{Found: false, Value: nil},
	}
	for _, e := range cases {
		buf := make([]byte, 64)
		n, err := EncodeGetResultEntity(e, buf)
		require.NoError(t, err)

		got, err := DecodeGetResultEntity(buf[:n])
		require.NoError(t, err)
		require.Equal(t, e.Found, got.Found)
		require.Equal(t, len(e.Value), len(got.Value))
	}
}

func TestCountResultEntityRoundTrip(t *testing.T) {
	e := CountResultEntity{Count: 99999}
	buf := make([]byte, 8)
	n, err := EncodeCountResultEntity(e, buf)
	require.NoError(t, err)

	got, err := DecodeCountResultEntity(buf[:n])
	require.NoError(t, err)
	require.Equal(t, e, got)
}

func TestCursorEntityRoundTrip(t *testing.T) {
	e := CursorEntity{CursorID: 7}
	buf := make([]byte, 8)
	n, err := EncodeCursorEntity(e, buf)
	require.NoError(t, err)

	got, err := DecodeCursorEntity(buf[:n])
	require.NoError(t, err)
	require.Equal(t, e, got)
}

func TestRangeQueryArgsEntityRoundTrip(t *testing.T) {
	e := RangeQueryArgsEntity{
		CursorID:      3,
		Start:         []byte("a"),
		Limit:         []byte("z"),
		BatchCapacity: 4096,
		Attrs:         []int32{3},
	}
	buf := make([]byte, 128)
	n, err := EncodeRangeQueryArgsEntity(e, buf)
	require.NoError(t, err)

	got, err := DecodeRangeQueryArgsEntity(buf[:n])
	require.NoError(t, err)
	require.Equal(t, e, got)
}

func TestBatchResultEntityRoundTrip(t *testing.T) {
	e := BatchResultEntity{Size: 19, HasMore: true}
	buf := make([]byte, 64)
	n, err := EncodeBatchResultEntity(e, buf)
	require.NoError(t, err)

	got, err := DecodeBatchResultEntity(buf[:n])
	require.NoError(t, err)
	require.Equal(t, e, got)
}

func TestEncodeEntityTooLarge(t *testing.T) {
	_, err := EncodeKVEntity(KVEntity{Key: []byte("k"), Value: []byte("v")}, make([]byte, 2))
	require.ErrorIs(t, err, ErrEntityTooLarge)
}

func TestOpString(t *testing.T) {
	require.Equal(t, "Put", OpPut.String())
	require.Equal(t, "Unknown", Op(999).String())
}
