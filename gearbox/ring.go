package gearbox

import (
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/outofforest/pcs/sim"
	"github.com/outofforest/pcs/types"
)

type messageType uint8

const (
	messageWord messageType = iota
	messageFlush
)

// message is the unit passed from writer domain to reader domain.
type message struct {
	Word  uint256.Int
	Time  sim.Time
	Type  messageType
	Valid bool
}

func newRing(capacity uint64, writer, reader sim.DomainID) *ring {
	return &ring{
		messages: make([]message, capacity),
		capacity: capacity,
		writer:   writer,
		reader:   reader,
	}
}

// ring passes messages between two clock domains. Only writer domain puts and only reader domain gets,
// so each pointer is owned by exactly one domain.
type ring struct {
	messages []message

	capacity       uint64
	writer, reader sim.DomainID
	getPtr, putPtr uint64
}

func (r *ring) Put(domain sim.DomainID, m message) error {
	if domain != r.writer {
		return errors.Wrapf(types.ErrDomain, "domain %d put into ring owned by writer %d", domain, r.writer)
	}
	if r.putPtr-r.getPtr == r.capacity {
		return errors.Wrapf(types.ErrOverrun, "no space left in the ring of %d messages", r.capacity)
	}

	r.messages[r.putPtr%r.capacity] = m
	r.putPtr++
	return nil
}

// Peek returns the oldest message without removing it.
func (r *ring) Peek(domain sim.DomainID) (*message, bool, error) {
	if domain != r.reader {
		return nil, false, errors.Wrapf(types.ErrDomain, "domain %d peeked ring owned by reader %d", domain, r.reader)
	}
	if r.getPtr == r.putPtr {
		return nil, false, nil
	}
	return &r.messages[r.getPtr%r.capacity], true, nil
}

func (r *ring) Get(domain sim.DomainID) (message, bool, error) {
	m, ok, err := r.Peek(domain)
	if !ok || err != nil {
		return message{}, false, err
	}
	r.getPtr++
	return *m, true, nil
}

func (r *ring) Len() uint64 {
	return r.putPtr - r.getPtr
}
