package bulk

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetBufferBucketSizing(t *testing.T) {
	cases := []struct {
		want int
		cap  int
	}{
		{1024, bucket128K},
		{bucket128K + 1, bucket256K},
		{bucket512K + 1, bucket1M},
		{bucket1M + 1, bucket1M + 1},
	}
	for _, c := range cases {
		buf := GetBuffer(c.want)
		require.Len(t, buf, c.want)
		require.Equal(t, c.cap, cap(buf))
		PutBuffer(buf)
	}
}

func TestPutBufferIgnoresNonBucketCapacity(t *testing.T) {
	// Should not panic on an odd-sized slice that matches no bucket.
	PutBuffer(make([]byte, 37))
}
