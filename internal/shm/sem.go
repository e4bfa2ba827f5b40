package shm

import (
	"fmt"
	"hash/fnv"

	"golang.org/x/sys/unix"
)

// SemSet wraps a System V semaphore set, used as the named, process-shared
// counting semaphore primitive the channel protocol needs. Two processes
// that agree on a name agree on the same semaphore set without any prior
// handshake, because the System V key is derived deterministically from
// the name.
type SemSet struct {
	id  int
	key int
	n   int
}

func keyFor(name string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	// System V keys must be non-zero; mask off the sign bit so the result
	// is always a valid positive int on 32-bit int platforms too.
	return int(h.Sum32()&0x3fffffff) + 1
}

// CreateSemSet creates a new semaphore set for name with n semaphores,
// initialized to initValues, removing any stale set left behind by a
// previous, uncleanly terminated process using the same name.
func CreateSemSet(name string, n int, initValues []uint16) (*SemSet, error) {
	key := keyFor(name)
	id, err := unix.Semget(key, n, unix.IPC_CREAT|unix.IPC_EXCL|0o600)
	if err != nil {
		if err == unix.EEXIST {
			if old, oerr := unix.Semget(key, n, 0o600); oerr == nil {
				_ = removeSemSet(old)
			}
			id, err = unix.Semget(key, n, unix.IPC_CREAT|unix.IPC_EXCL|0o600)
		}
		if err != nil {
			return nil, fmt.Errorf("shm: semget create %s: %w", name, err)
		}
	}
	s := &SemSet{id: id, key: key, n: n}
	for i, v := range initValues {
		if err := s.setVal(i, int(v)); err != nil {
			return nil, fmt.Errorf("shm: seminit %s[%d]: %w", name, i, err)
		}
	}
	return s, nil
}

// OpenSemSet opens an existing semaphore set created with CreateSemSet.
func OpenSemSet(name string, n int) (*SemSet, error) {
	key := keyFor(name)
	id, err := unix.Semget(key, n, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shm: semget open %s: %w", name, err)
	}
	return &SemSet{id: id, key: key, n: n}, nil
}

// Destroy removes the semaphore set from the kernel.
func (s *SemSet) Destroy() error {
	return removeSemSet(s.id)
}

func removeSemSet(id int) error {
	_, err := unix.SemctlInt(id, 0, unix.IPC_RMID, 0)
	return err
}

func (s *SemSet) setVal(idx, val int) error {
	_, err := unix.SemctlInt(s.id, idx, unix.SETVAL, val)
	return err
}

// Post increments semaphore idx by one.
func (s *SemSet) Post(idx int) error {
	return s.op(idx, 1, 0)
}

// Wait decrements semaphore idx by one, blocking until it is non-zero.
// Interrupted waits (EINTR) are retried transparently.
func (s *SemSet) Wait(idx int) error {
	for {
		err := s.op(idx, -1, 0)
		if err == unix.EINTR {
			continue
		}
		return err
	}
}

// TryWait attempts to decrement semaphore idx without blocking. It
// returns (true, nil) on success and (false, nil) if the semaphore was
// already zero.
func (s *SemSet) TryWait(idx int) (bool, error) {
	err := s.op(idx, -1, unix.IPC_NOWAIT)
	if err == nil {
		return true, nil
	}
	if err == unix.EAGAIN {
		return false, nil
	}
	return false, err
}

func (s *SemSet) op(idx int, delta int16, flags int16) error {
	sb := []unix.Sembuf{{SemNum: uint16(idx), SemOp: delta, SemFlg: flags}}
	return unix.Semop(s.id, sb)
}
