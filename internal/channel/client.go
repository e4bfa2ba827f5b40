package channel

import (
	"fmt"

	"github.com/vidardb/kvbridge/internal/wire"
)

// Client is the client-process side of a Channel: it leases a response
// slot, writes a request into the shared arena, and waits on its leased
// slot for the worker's response.
type Client struct {
	ch *Channel
}

// NewClient wraps an opened Channel for client-side use.
func NewClient(ch *Channel) *Client { return &Client{ch: ch} }

// leaseSlot scans the slot-free semaphores for one that is immediately
// available. Unfair by construction: a slot near the front of the scan
// can be relet ahead of one that has been waiting longer. Acceptable
// because slots are interchangeable and leases are held only for the
// duration of one request/response round trip.
func (c *Client) leaseSlot() (int, error) {
	n := c.ch.slotCount
	for {
		for i := 0; i < n; i++ {
			ok, err := c.ch.sems.TryWait(semSlotFree(n, i))
			if err != nil {
				return 0, fmt.Errorf("channel: lease slot %d: %w", i, err)
			}
			if ok {
				return i, nil
			}
		}
		// No slot was free on this pass; block on slot 0 becoming free,
		// then retry the scan. This bounds the busy-loop to the rate at
		// which slots actually turn over.
		if err := c.ch.sems.Wait(semSlotFree(n, 0)); err != nil {
			return 0, fmt.Errorf("channel: wait slot 0: %w", err)
		}
		if err := c.ch.sems.Post(semSlotFree(n, 0)); err != nil {
			return 0, fmt.Errorf("channel: repost slot 0: %w", err)
		}
	}
}

// Send takes the request-arena writer lock, leases a response slot while
// holding it, writes header+entity into the request arena, and hands the
// arena to the worker. It returns the leased slot id, which the caller
// must pass to Recv and then Release.
func (c *Client) Send(op wire.Op, dbid, relID uint32, entity []byte) (int, error) {
	if err := c.ch.sems.Wait(semArenaWriter); err != nil {
		return 0, fmt.Errorf("channel: wait arena writer: %w", err)
	}

	slot, err := c.leaseSlot()
	if err != nil {
		c.ch.sems.Post(semArenaWriter)
		return 0, err
	}

	buf := c.ch.arena.Bytes()
	if wire.HeaderSize+len(entity) > len(buf) {
		c.ch.sems.Post(semArenaWriter)
		c.ch.sems.Post(semSlotFree(c.ch.slotCount, slot))
		return 0, wire.ErrEntityTooLarge
	}
	h := wire.Header{
		Op:                op,
		DBID:              dbid,
		RelID:             relID,
		Status:            wire.StatusDummy,
		ResponseChannelID: uint32(slot),
		EntitySize:        uint64(len(entity)),
	}
	h.Encode(buf)
	copy(buf[wire.HeaderSize:], entity)

	if err := c.ch.sems.Post(semArenaReady); err != nil {
		return 0, fmt.Errorf("channel: post arena ready: %w", err)
	}
	if err := c.ch.sems.Wait(semArenaDrained); err != nil {
		return 0, fmt.Errorf("channel: wait arena drained: %w", err)
	}
	if err := c.ch.sems.Post(semArenaWriter); err != nil {
		return 0, fmt.Errorf("channel: post arena writer: %w", err)
	}
	return slot, nil
}

// Recv blocks until the worker has written a response into slot, then
// returns the decoded header and the raw entity bytes. The returned
// entity slice aliases the shared slot and is only valid until Release.
func (c *Client) Recv(slot int) (wire.Header, []byte, error) {
	n := c.ch.slotCount
	if err := c.ch.sems.Wait(semSlotReady(n, slot)); err != nil {
		return wire.Header{}, nil, fmt.Errorf("channel: wait slot ready %d: %w", slot, err)
	}
	buf := c.ch.slots[slot].Bytes()
	h, err := wire.DecodeHeader(buf)
	if err != nil {
		return wire.Header{}, nil, err
	}
	if wire.HeaderSize+int(h.EntitySize) > len(buf) {
		return wire.Header{}, nil, wire.ErrMalformedEntity
	}
	entity := buf[wire.HeaderSize : wire.HeaderSize+int(h.EntitySize)]
	return h, entity, nil
}

// Release returns a leased slot to the free pool. Callers must call it
// exactly once per successful Send, after consuming the response from
// Recv.
func (c *Client) Release(slot int) error {
	return c.ch.sems.Post(semSlotFree(c.ch.slotCount, slot))
}
