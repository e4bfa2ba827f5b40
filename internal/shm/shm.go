// Package shm wraps named shared memory and System V counting semaphores,
// the two primitives the channel protocol is built from. Named shared
// memory is realized as a regular file under /dev/shm (the same tmpfs
// backing the libc shm_open family uses on Linux) mapped with mmap;
// counting semaphores are realized as System V semaphore sets addressed
// by a key derived from hashing the object name, since x/sys/unix has no
// cgo-free binding for POSIX named semaphores (sem_open).
package shm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// Dir is the tmpfs mount backing named shared-memory segments.
const Dir = "/dev/shm"

func objectPath(name string) string {
	return filepath.Join(Dir, strings.TrimPrefix(name, "/"))
}

// Segment is a named, mmap'd shared-memory region.
type Segment struct {
	name string
	file *os.File
	data []byte
}

// Create creates (or truncates) a named segment of the given size and
// maps it read-write, shared.
func Create(name string, size int) (*Segment, error) {
	p := objectPath(name)
	f, err := os.OpenFile(p, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shm: create %s: %w", name, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(p)
		return nil, fmt.Errorf("shm: truncate %s: %w", name, err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(p)
		return nil, fmt.Errorf("shm: mmap %s: %w", name, err)
	}
	return &Segment{name: name, file: f, data: data}, nil
}

// Open maps an existing named segment of the given size.
func Open(name string, size int) (*Segment, error) {
	p := objectPath(name)
	f, err := os.OpenFile(p, os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", name, err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: mmap %s: %w", name, err)
	}
	return &Segment{name: name, file: f, data: data}, nil
}

// Unlink removes a named segment's backing file. It is not an error for
// the file to already be gone.
func Unlink(name string) error {
	if err := os.Remove(objectPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("shm: unlink %s: %w", name, err)
	}
	return nil
}

// Exists reports whether a named segment's backing file is present.
func Exists(name string) bool {
	_, err := os.Stat(objectPath(name))
	return err == nil
}

// Bytes returns the mapped region.
func (s *Segment) Bytes() []byte {
	return s.data
}

// Name returns the segment's object name.
func (s *Segment) Name() string {
	return s.name
}

// Close unmaps the segment and closes its backing file descriptor. It
// does not unlink the backing file; call Unlink separately once all
// mappers are done.
func (s *Segment) Close() error {
	var err error
	if s.data != nil {
		if e := unix.Munmap(s.data); e != nil {
			err = e
		}
		s.data = nil
	}
	if s.file != nil {
		if e := s.file.Close(); e != nil && err == nil {
			err = e
		}
		s.file = nil
	}
	return err
}
