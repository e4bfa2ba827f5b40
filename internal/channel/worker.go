package channel

import (
	"fmt"

	"github.com/vidardb/kvbridge/internal/wire"
)

// Worker is the worker-process side of a Channel: it drains requests
// from the shared arena one at a time and writes responses into the
// slot the client indicated in the request header.
type Worker struct {
	ch *Channel
}

// NewWorker wraps a Channel for worker-side use.
func NewWorker(ch *Channel) *Worker { return &Worker{ch: ch} }

// RecvRequest blocks until a client has written a request into the
// arena, copies the header and entity out of shared memory into buf (so
// the caller can safely process it after the arena is handed back to
// the next client), and releases the arena for reuse.
//
// buf must be at least wire.HeaderSize+entity-size bytes; the caller
// typically sizes it to constants.ArenaSize.
func (w *Worker) RecvRequest(buf []byte) (wire.Header, []byte, error) {
	if err := w.ch.sems.Wait(semArenaReady); err != nil {
		return wire.Header{}, nil, fmt.Errorf("channel: wait arena ready: %w", err)
	}

	arena := w.ch.arena.Bytes()
	h, err := wire.DecodeHeader(arena)
	if err != nil {
		w.ch.sems.Post(semArenaDrained)
		return wire.Header{}, nil, err
	}
	total := wire.HeaderSize + int(h.EntitySize)
	if total > len(arena) || total > len(buf) {
		w.ch.sems.Post(semArenaDrained)
		return wire.Header{}, nil, wire.ErrMalformedEntity
	}
	n := copy(buf, arena[:total])

	if err := w.ch.sems.Post(semArenaDrained); err != nil {
		return wire.Header{}, nil, fmt.Errorf("channel: post arena drained: %w", err)
	}

	entity := buf[wire.HeaderSize:n]
	return h, entity, nil
}

// SendResponse writes status and entity into the response slot named by
// h.ResponseChannelID and wakes the waiting client.
func (w *Worker) SendResponse(h wire.Header, status wire.Status, entity []byte) error {
	slot := int(h.ResponseChannelID)
	if slot < 0 || slot >= w.ch.slotCount {
		return fmt.Errorf("channel: response slot %d out of range", slot)
	}
	buf := w.ch.slots[slot].Bytes()
	if wire.HeaderSize+len(entity) > len(buf) {
		return wire.ErrEntityTooLarge
	}
	resp := h
	resp.Status = status
	resp.EntitySize = uint64(len(entity))
	resp.Encode(buf)
	copy(buf[wire.HeaderSize:], entity)

	n := w.ch.slotCount
	return w.ch.sems.Post(semSlotReady(n, slot))
}
