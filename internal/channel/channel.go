// Package channel implements the shared-memory request/response protocol
// between client processes and a worker process: a single request arena
// serialized across all clients, and a fixed pool of response slots each
// client can be handed exclusively for the lifetime of one request.
package channel

import (
	"fmt"

	"github.com/vidardb/kvbridge/internal/constants"
	"github.com/vidardb/kvbridge/internal/shm"
)

// Semaphore indices within a channel's SemSet. Slot semaphores follow at
// semSlotFreeBase and semSlotFreeBase+slotCount respectively.
const (
	semArenaWriter = iota
	semArenaReady
	semArenaDrained
	semSlotFreeBase
)

// Channel is the shared-memory object backing one client<->worker wire
// connection: a single request arena plus N response slots, each guarded
// by its own pair of counting semaphores.
type Channel struct {
	name      string
	slotCount int

	arena *shm.Segment
	slots []*shm.Segment
	sems  *shm.SemSet
}

func arenaName(name string) string { return name + ".arena" }
func slotName(name string, i int) string { return fmt.Sprintf("%s.slot%d", name, i) }

func semCount(slotCount int) int { return semSlotFreeBase + 2*slotCount }

func semSlotFree(slotCount, i int) int  { return semSlotFreeBase + i }
func semSlotReady(slotCount, i int) int { return semSlotFreeBase + slotCount + i }

// Create allocates and initializes a new channel with the given name and
// response slot count, for exclusive use by one worker-side connection
// handler. The caller owns the returned Channel and must Close (and,
// once all peers are gone, Unlink) it.
func Create(name string, slotCount int) (*Channel, error) {
	arena, err := shm.Create(arenaName(name), constants.ArenaSize)
	if err != nil {
		return nil, fmt.Errorf("channel: create arena: %w", err)
	}
	slots := make([]*shm.Segment, slotCount)
	for i := 0; i < slotCount; i++ {
		s, err := shm.Create(slotName(name, i), constants.SlotSize)
		if err != nil {
			arena.Close()
			for j := 0; j < i; j++ {
				slots[j].Close()
			}
			return nil, fmt.Errorf("channel: create slot %d: %w", i, err)
		}
		slots[i] = s
	}

	init := make([]uint16, semCount(slotCount))
	init[semArenaWriter] = 1
	init[semArenaReady] = 0
	init[semArenaDrained] = 0
	for i := 0; i < slotCount; i++ {
		init[semSlotFree(slotCount, i)] = 1
		init[semSlotReady(slotCount, i)] = 0
	}
	sems, err := shm.CreateSemSet(name, len(init), init)
	if err != nil {
		arena.Close()
		for _, s := range slots {
			s.Close()
		}
		return nil, fmt.Errorf("channel: create semaphores: %w", err)
	}

	return &Channel{name: name, slotCount: slotCount, arena: arena, slots: slots, sems: sems}, nil
}

// Open maps an existing channel created with Create, for use by a client.
func Open(name string, slotCount int) (*Channel, error) {
	arena, err := shm.Open(arenaName(name), constants.ArenaSize)
	if err != nil {
		return nil, fmt.Errorf("channel: open arena: %w", err)
	}
	slots := make([]*shm.Segment, slotCount)
	for i := 0; i < slotCount; i++ {
		s, err := shm.Open(slotName(name, i), constants.SlotSize)
		if err != nil {
			arena.Close()
			for j := 0; j < i; j++ {
				slots[j].Close()
			}
			return nil, fmt.Errorf("channel: open slot %d: %w", i, err)
		}
		slots[i] = s
	}
	sems, err := shm.OpenSemSet(name, semCount(slotCount))
	if err != nil {
		arena.Close()
		for _, s := range slots {
			s.Close()
		}
		return nil, fmt.Errorf("channel: open semaphores: %w", err)
	}
	return &Channel{name: name, slotCount: slotCount, arena: arena, slots: slots, sems: sems}, nil
}

// Close unmaps the channel's segments. It does not remove the named
// objects; call Unlink once every process using the channel has closed.
func (c *Channel) Close() error {
	var err error
	if e := c.arena.Close(); e != nil {
		err = e
	}
	for _, s := range c.slots {
		if e := s.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

// Unlink removes the channel's backing shared-memory and semaphore
// objects. Only the channel's owner (the worker connection handler that
// created it) should call this, after Close.
func (c *Channel) Unlink() error {
	var err error
	if e := shm.Unlink(arenaName(c.name)); e != nil {
		err = e
	}
	for i := 0; i < c.slotCount; i++ {
		if e := shm.Unlink(slotName(c.name, i)); e != nil && err == nil {
			err = e
		}
	}
	if e := c.sems.Destroy(); e != nil && err == nil {
		err = e
	}
	return err
}

// Name returns the channel's base object name.
func (c *Channel) Name() string { return c.name }

// SlotCount returns the number of response slots.
func (c *Channel) SlotCount() int { return c.slotCount }
