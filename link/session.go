package link

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
	"github.com/outofforest/pcs/pcs"
	"github.com/outofforest/pcs/sim"
)

// Latency summarizes loopback latency of intact frames.
type Latency struct {
	Count uint64
	Min   sim.Time
	Max   sim.Time
	Avg   sim.Time

	// StdDev is the population standard deviation.
	StdDev sim.Time

	P5  sim.Time
	P50 sim.Time
	P95 sim.Time
	P99 sim.Time
}

// Stats stores results of the session.
type Stats struct {
	Seed      uint64
	SimTime   sim.Time
	Locked    bool
	LaneOrder []int

	FramesSent uint64
	Checker    CheckerStats
	Latency    Latency
	BitErrors  uint64

	TX pcs.TXStats
	RX pcs.RXStats
}

// NewSession builds the loopback: transmitter, wires and receiver, each running in its own clock domains.
func NewSession(config Config) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		config:    config,
		scheduler: sim.New(),
		traffic:   NewTraffic(config),
		checker:   NewChecker(config, uint64(config.Lanes)),
	}

	txCore, err := s.scheduler.AddDomain("tx-core", config.CorePeriod, 0)
	if err != nil {
		return nil, err
	}
	rxCore, err := s.scheduler.AddDomain("rx-core", config.CorePeriod, config.RXCorePhase)
	if err != nil {
		return nil, err
	}
	txLanes := make([]sim.DomainID, 0, config.Lanes)
	rxLanes := make([]sim.DomainID, 0, config.Lanes)
	for i := range config.Lanes {
		d, err := s.scheduler.AddDomain(fmt.Sprintf("tx-lane-%d", i), config.LanePeriod, 0)
		if err != nil {
			return nil, err
		}
		txLanes = append(txLanes, d)
	}
	for i := range config.Lanes {
		d, err := s.scheduler.AddDomain(fmt.Sprintf("rx-lane-%d", i), config.LanePeriod, config.rxLanePhase(i))
		if err != nil {
			return nil, err
		}
		rxLanes = append(rxLanes, d)
	}
	s.domains = append([]sim.DomainID{txCore, rxCore}, append(txLanes, rxLanes...)...)

	pcsConfig := config.PCS()
	if s.tx, err = pcs.NewTX(pcsConfig, txCore, txLanes, s.traffic); err != nil {
		return nil, err
	}
	if s.rx, err = pcs.NewRX(pcsConfig, rxCore, rxLanes, s.checker); err != nil {
		return nil, err
	}

	// wires[i] is driven by TX lane i and received by the RX lane it is connected to.
	s.wires = make([]*Wire, config.Lanes)
	for rxLane, txLane := range config.permutation() {
		s.wires[txLane], err = NewWire(WireConfig{
			Lane:         uint64(txLane),
			Seed:         config.Seed,
			Delay:        config.PropagationDelay + sim.Time(config.skew(rxLane))*config.LanePeriod,
			Period:       config.LanePeriod,
			BitOffset:    config.bitOffset(rxLane),
			BitErrorRate: config.BitErrorRate,
		}, txLanes[txLane], rxLanes[rxLane])
		if err != nil {
			return nil, err
		}

		wire := s.wires[txLane]
		s.scheduler.OnEdge(rxLanes[rxLane], func(ctx context.Context, edge sim.Edge) error {
			data, valid, err := wire.Receive(edge)
			if err != nil {
				return err
			}
			return s.rx.Lane(edge, rxLane, data, valid)
		})
	}

	s.scheduler.OnEdge(txCore, s.tx.Tick)
	s.scheduler.OnEdge(rxCore, s.rx.Tick)
	for i, d := range txLanes {
		wire := s.wires[i]
		s.scheduler.OnEdge(d, func(ctx context.Context, edge sim.Edge) error {
			data, valid, err := s.tx.Lane(edge, i)
			if err != nil {
				return err
			}
			return wire.Send(edge, data, valid)
		})
	}

	return s, nil
}

// Session is the loopback simulation of transmitter and receiver connected by wires.
type Session struct {
	config    Config
	scheduler *sim.Scheduler
	domains   []sim.DomainID
	traffic   *Traffic
	checker   *Checker
	tx        *pcs.TX
	rx        *pcs.RX
	wires     []*Wire
}

// Run resets all the domains and simulates configured number of core cycles.
func (s *Session) Run(ctx context.Context) (Stats, error) {
	log := logger.Get(ctx).With(zap.Uint64("seed", s.config.Seed))
	log.Info("Session started",
		zap.Int("lanes", s.config.Lanes),
		zap.Uint64("cycles", s.config.Cycles),
		zap.Ints("permutation", s.config.permutation()),
		zap.Float64("bitErrorRate", s.config.BitErrorRate))

	for _, d := range s.domains {
		s.scheduler.HoldReset(d, s.config.ResetCycles)
	}
	if err := s.scheduler.Run(ctx, sim.Time(s.config.Cycles)*s.config.CorePeriod); err != nil {
		return Stats{}, err
	}

	stats := s.Stats()
	log.Info("Session finished",
		zap.Stringer("simTime", stats.SimTime),
		zap.Bool("locked", stats.Locked),
		zap.Ints("laneOrder", stats.LaneOrder),
		zap.Uint64("framesSent", stats.FramesSent),
		zap.Uint64("framesReceived", stats.Checker.Received),
		zap.Uint64("framesCorrupted", stats.Checker.Corrupted),
		zap.Uint64("framesLost", stats.Checker.Lost),
		zap.Uint64("slips", stats.RX.Slips),
		zap.Uint64("bipErrors", stats.RX.BIPErrors),
		zap.Stringer("latencyAvg", stats.Latency.Avg))
	return stats, nil
}

// Stats returns results collected so far.
func (s *Session) Stats() Stats {
	return Stats{
		Seed:       s.config.Seed,
		SimTime:    s.scheduler.Now(),
		Locked:     s.rx.Locked(),
		LaneOrder:  s.rx.Order(),
		FramesSent: s.traffic.Sent(),
		Checker:    s.checker.Stats(),
		Latency:    s.latency(),
		BitErrors:  lo.SumBy(s.wires, func(w *Wire) uint64 { return w.Errors() }),
		TX:         s.tx.Stats(),
		RX:         s.rx.Stats(),
	}
}

func (s *Session) latency() Latency {
	latencies := make([]sim.Time, 0, len(s.checker.received))
	for _, f := range s.checker.received {
		sentAt, ok := s.traffic.SentAt(f.Seq)
		if !ok {
			continue
		}
		latencies = append(latencies, f.ReceivedAt-sentAt)
	}
	return summarize(latencies)
}

func summarize(latencies []sim.Time) Latency {
	if len(latencies) == 0 {
		return Latency{}
	}
	slices.Sort(latencies)
	n := float64(len(latencies))
	mean := float64(lo.Sum(latencies)) / n
	variance := lo.SumBy(latencies, func(l sim.Time) float64 {
		d := float64(l) - mean
		return d * d
	}) / n

	return Latency{
		Count:  uint64(len(latencies)),
		Min:    latencies[0],
		Max:    latencies[len(latencies)-1],
		Avg:    lo.Sum(latencies) / sim.Time(len(latencies)),
		StdDev: sim.Time(math.Sqrt(variance)),
		P5:     percentile(latencies, 5),
		P50:    percentile(latencies, 50),
		P95:    percentile(latencies, 95),
		P99:    percentile(latencies, 99),
	}
}

// percentile returns nearest-rank percentile of sorted values.
func percentile(sorted []sim.Time, p int) sim.Time {
	rank := (p*len(sorted) + 99) / 100
	return sorted[max(rank, 1)-1]
}

// Sweep runs sessions concurrently and returns their results in the order of configs.
func Sweep(ctx context.Context, configs []Config) ([]Stats, error) {
	for _, config := range configs {
		if err := config.Validate(); err != nil {
			return nil, err
		}
	}

	results := make([]Stats, len(configs))
	err := parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		for i, config := range configs {
			spawn(fmt.Sprintf("session-%d", i), parallel.Continue, func(ctx context.Context) error {
				s, err := NewSession(config)
				if err != nil {
					return err
				}
				ctx = logger.WithLogger(ctx, logger.Get(ctx).With(zap.Int("session", i)))
				results[i], err = s.Run(ctx)
				return err
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
