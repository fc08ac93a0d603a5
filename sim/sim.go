package sim

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common/prque"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/mass"
	"github.com/outofforest/pcs/types"
)

// MaxDomains is the maximum number of clock domains handled by one scheduler.
const MaxDomains = 64

// ctxCheckPeriod defines how often, in edges, context is checked for cancellation.
const ctxCheckPeriod = 1024

// Time is the simulated time in picoseconds.
type Time uint64

func (t Time) String() string {
	return fmt.Sprintf("%dps", uint64(t))
}

// DomainID identifies clock domain.
type DomainID uint8

// Edge describes rising edge of domain clock.
type Edge struct {
	Domain DomainID
	Time   Time
	Cycle  uint64

	// Reset is set when domain reset is asserted during this cycle.
	Reset bool
}

// EdgeFunc is called on every rising edge of the domain clock.
type EdgeFunc func(ctx context.Context, edge Edge) error

type domain struct {
	ID       DomainID
	Name     string
	Period   Time
	Next     Time
	Cycle    uint64
	Reset    uint64
	Handlers []EdgeFunc
}

// New creates new scheduler.
func New() *Scheduler {
	return &Scheduler{
		massDomain: mass.New[domain](MaxDomains),
		queue:      prque.New[int64, *domain](nil),
	}
}

// Scheduler advances clocks of all the domains in simulated time order.
// Each domain has exactly one pending edge, edges at the same time are processed in the order domains were added.
type Scheduler struct {
	massDomain *mass.Mass[domain]
	domains    []*domain
	queue      *prque.Prque[int64, *domain]
	now        Time
	edges      uint64
}

// AddDomain adds clock domain. First rising edge happens at phase.
func (s *Scheduler) AddDomain(name string, period, phase Time) (DomainID, error) {
	if period == 0 {
		return 0, errors.Wrapf(types.ErrConfiguration, "period of domain %q must be positive", name)
	}
	if len(s.domains) == MaxDomains {
		return 0, errors.Wrapf(types.ErrConfiguration, "too many domains, maximum is %d", MaxDomains)
	}
	if phase < s.now {
		return 0, errors.Wrapf(types.ErrConfiguration, "phase %s of domain %q is in the past", phase, name)
	}

	d := s.massDomain.New()
	*d = domain{
		ID:     DomainID(len(s.domains)),
		Name:   name,
		Period: period,
		Next:   phase,
	}
	s.domains = append(s.domains, d)
	s.schedule(d)
	return d.ID, nil
}

// Name returns name of the domain.
func (s *Scheduler) Name(id DomainID) string {
	return s.domains[id].Name
}

// Period returns clock period of the domain.
func (s *Scheduler) Period(id DomainID) Time {
	return s.domains[id].Period
}

// OnEdge registers function called on every edge of the domain, in registration order.
func (s *Scheduler) OnEdge(id DomainID, fn EdgeFunc) {
	d := s.domains[id]
	d.Handlers = append(d.Handlers, fn)
}

// HoldReset asserts reset of the domain for the next cycles edges.
func (s *Scheduler) HoldReset(id DomainID, cycles uint64) {
	s.domains[id].Reset = cycles
}

// Now returns time of the last processed edge.
func (s *Scheduler) Now() Time {
	return s.now
}

// Edges returns number of processed edges.
func (s *Scheduler) Edges() uint64 {
	return s.edges
}

// Run processes edges up to and including time until.
func (s *Scheduler) Run(ctx context.Context, until Time) error {
	log := logger.Get(ctx)
	log.Debug("Simulation started", zap.Stringer("simTime", s.now), zap.Stringer("until", until))

	for !s.queue.Empty() {
		if s.edges%ctxCheckPeriod == 0 {
			if err := ctx.Err(); err != nil {
				return errors.WithStack(err)
			}
		}

		d, _ := s.queue.Pop()
		if d.Next > until {
			s.schedule(d)
			break
		}

		s.now = d.Next
		s.edges++
		edge := Edge{
			Domain: d.ID,
			Time:   d.Next,
			Cycle:  d.Cycle,
			Reset:  d.Reset > 0,
		}
		if edge.Reset {
			d.Reset--
		}
		for _, h := range d.Handlers {
			if err := h(ctx, edge); err != nil {
				return errors.Wrapf(err, "domain %s failed at %s, cycle %d", d.Name, edge.Time, edge.Cycle)
			}
		}

		d.Cycle++
		d.Next += d.Period
		s.schedule(d)
	}

	log.Debug("Simulation stopped", zap.Stringer("simTime", s.now), zap.Uint64("edges", s.edges))
	return nil
}

func (s *Scheduler) schedule(d *domain) {
	s.queue.Push(d, -(int64(d.Next)*MaxDomains + int64(d.ID)))
}
