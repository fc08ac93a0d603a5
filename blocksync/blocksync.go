package blocksync

import (
	"github.com/pkg/errors"

	"github.com/outofforest/pcs/types"
)

const (
	// DefaultGoodThreshold is the number of consecutive valid headers required to acquire block lock.
	DefaultGoodThreshold = 64

	// DefaultBadThreshold is the number of consecutive invalid headers causing block lock to be lost.
	DefaultBadThreshold = 16
)

// State is the block lock state.
type State uint8

// Lock states.
const (
	Unlocked State = iota
	Locked
)

func (s State) String() string {
	if s == Locked {
		return "locked"
	}
	return "unlocked"
}

// DefaultConfig is the configuration used by 10G/40GBASE-R receivers.
var DefaultConfig = Config{
	GoodThreshold: DefaultGoodThreshold,
	BadThreshold:  DefaultBadThreshold,
}

// Config stores configuration of block synchronizer.
type Config struct {
	GoodThreshold uint32
	BadThreshold  uint32
}

// Validate verifies configuration.
func (c Config) Validate() error {
	if c.GoodThreshold == 0 {
		return errors.Wrap(types.ErrConfiguration, "good header threshold must be positive")
	}
	if c.BadThreshold == 0 {
		return errors.Wrap(types.ErrConfiguration, "bad header threshold must be positive")
	}
	return nil
}

// Status is reported for every observed header.
type Status struct {
	State State

	// Slip requests shift of the block boundary by one bit.
	Slip bool

	// Changed is set when this header caused lock state transition.
	Changed bool
}

// Stats stores synchronizer counters.
type Stats struct {
	Acquisitions uint64
	Losses       uint64
	Slips        uint64
}

// New creates new block synchronizer.
func New(config Config) (*Synchronizer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Synchronizer{
		config: config,
	}, nil
}

// Synchronizer tracks block lock from headers of received blocks.
type Synchronizer struct {
	config Config

	state State
	good  uint32
	bad   uint32
	stats Stats
}

// State returns current lock state.
func (s *Synchronizer) State() State {
	return s.state
}

// Stats returns counters.
func (s *Synchronizer) Stats() Stats {
	return s.stats
}

// Reset brings synchronizer to unlocked state with cleared counters.
func (s *Synchronizer) Reset() {
	s.state = Unlocked
	s.good = 0
	s.bad = 0
}

// Restart drops block lock so the search for block boundary begins again.
// It is used when headers look valid but blocks carry garbage, e.g. when markers are no longer found.
func (s *Synchronizer) Restart() {
	if s.state == Locked {
		s.stats.Losses++
	}
	s.transition(Unlocked)
}

// Observe advances the state machine by one block.
func (s *Synchronizer) Observe(h types.Header) Status {
	if h.Valid() {
		s.bad = 0
		if s.good < s.config.GoodThreshold {
			s.good++
		}
		if s.state == Unlocked && s.good == s.config.GoodThreshold {
			s.transition(Locked)
			s.stats.Acquisitions++
			return Status{State: Locked, Changed: true}
		}
		return Status{State: s.state}
	}

	s.good = 0
	if s.state == Unlocked {
		s.stats.Slips++
		return Status{State: Unlocked, Slip: true}
	}

	s.bad++
	if s.bad == s.config.BadThreshold {
		s.transition(Unlocked)
		s.stats.Losses++
		return Status{State: Unlocked, Changed: true}
	}
	return Status{State: Locked}
}

func (s *Synchronizer) transition(state State) {
	s.state = state
	s.good = 0
	s.bad = 0
}
