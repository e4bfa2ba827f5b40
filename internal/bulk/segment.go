// Package bulk provides the side-channel used for batch payloads that
// exceed a response slot's capacity: a named shared-memory segment sized
// to the cursor's batch capacity (constants.DefaultReadBatchSize for a
// ReadBatch cursor, the requested capacity for a RangeQuery cursor),
// created by the worker and mapped read-write by the client for the
// lifetime of one ReadBatch or RangeQuery cursor.
package bulk

import (
	"fmt"

	"github.com/vidardb/kvbridge/internal/shm"
)

// segmentName builds the <prefix><client_pid>.<worker_id>.<cursor_id> name a
// bulk segment is addressed by. prefix is one of
// constants.ReadBatchPrefix/RangeQueryPrefix. Folding clientPID in keeps
// two different client processes iterating the same worker from ever
// colliding on the same segment name, even though they allocate cursor
// ids independently starting from 1.
func segmentName(prefix string, clientPID, workerID uint32, cursorID uint64) string {
	return fmt.Sprintf("%s%d.%d.%d", prefix, clientPID, workerID, cursorID)
}

// Segment is one bulk side-channel allocation.
type Segment struct {
	seg *shm.Segment
}

// Create allocates a new bulk segment sized to capacity, named after the
// owning client, worker and cursor id. The worker calls this once per
// opened cursor, before the first batch read.
func Create(prefix string, clientPID, workerID uint32, cursorID uint64, capacity int) (*Segment, error) {
	name := segmentName(prefix, clientPID, workerID, cursorID)
	seg, err := shm.Create(name, capacity)
	if err != nil {
		return nil, fmt.Errorf("bulk: create %s: %w", name, err)
	}
	return &Segment{seg: seg}, nil
}

// Open maps an existing bulk segment for reading.
func Open(prefix string, clientPID, workerID uint32, cursorID uint64, capacity int) (*Segment, error) {
	name := segmentName(prefix, clientPID, workerID, cursorID)
	seg, err := shm.Open(name, capacity)
	if err != nil {
		return nil, fmt.Errorf("bulk: open %s: %w", name, err)
	}
	return &Segment{seg: seg}, nil
}

// Bytes returns the mapped region.
func (s *Segment) Bytes() []byte { return s.seg.Bytes() }

// Close unmaps the segment.
func (s *Segment) Close() error { return s.seg.Close() }

// Unlink removes a bulk segment's backing object. Only the worker that
// created it should call this, once the owning cursor is closed.
func Unlink(prefix string, clientPID, workerID uint32, cursorID uint64) error {
	return shm.Unlink(segmentName(prefix, clientPID, workerID, cursorID))
}
