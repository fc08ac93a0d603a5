package sim

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/outofforest/pcs/test"
	"github.com/outofforest/pcs/types"
)

type record struct {
	Domain DomainID
	Time   Time
	Cycle  uint64
}

func recorder(records *[]record) EdgeFunc {
	return func(ctx context.Context, edge Edge) error {
		*records = append(*records, record{Domain: edge.Domain, Time: edge.Time, Cycle: edge.Cycle})
		return nil
	}
}

func TestEdgesInTimeOrder(t *testing.T) {
	requireT := require.New(t)
	ctx := test.Context(t)

	s := New()
	core, err := s.AddDomain("core", 66, 0)
	requireT.NoError(err)
	lane, err := s.AddDomain("lane", 32, 0)
	requireT.NoError(err)
	rx, err := s.AddDomain("rx", 32, 10)
	requireT.NoError(err)

	var records []record
	s.OnEdge(core, recorder(&records))
	s.OnEdge(lane, recorder(&records))
	s.OnEdge(rx, recorder(&records))

	requireT.NoError(s.Run(ctx, 132))
	requireT.Equal([]record{
		{Domain: core, Time: 0, Cycle: 0},
		{Domain: lane, Time: 0, Cycle: 0},
		{Domain: rx, Time: 10, Cycle: 0},
		{Domain: lane, Time: 32, Cycle: 1},
		{Domain: rx, Time: 42, Cycle: 1},
		{Domain: lane, Time: 64, Cycle: 2},
		{Domain: core, Time: 66, Cycle: 1},
		{Domain: rx, Time: 74, Cycle: 2},
		{Domain: lane, Time: 96, Cycle: 3},
		{Domain: rx, Time: 106, Cycle: 3},
		{Domain: lane, Time: 128, Cycle: 4},
		{Domain: core, Time: 132, Cycle: 2},
	}, records)
	requireT.Equal(Time(132), s.Now())
	requireT.EqualValues(12, s.Edges())

	// Run continues where it stopped.
	records = nil
	requireT.NoError(s.Run(ctx, 140))
	requireT.Equal([]record{{Domain: rx, Time: 138, Cycle: 4}}, records)
}

func TestEdgeRates(t *testing.T) {
	requireT := require.New(t)
	ctx := test.Context(t)

	s := New()
	core, err := s.AddDomain("core", 66, 0)
	requireT.NoError(err)
	lane, err := s.AddDomain("lane", 32, 5)
	requireT.NoError(err)

	var coreEdges, laneEdges uint64
	var last Time
	s.OnEdge(core, func(ctx context.Context, edge Edge) error {
		requireT.GreaterOrEqual(edge.Time, last)
		last = edge.Time
		coreEdges++
		return nil
	})
	s.OnEdge(lane, func(ctx context.Context, edge Edge) error {
		requireT.GreaterOrEqual(edge.Time, last)
		last = edge.Time
		laneEdges++
		return nil
	})

	requireT.NoError(s.Run(ctx, 66*32*100-1))
	requireT.EqualValues(32*100, coreEdges)
	requireT.EqualValues(66*100, laneEdges)
}

func TestHandlersCalledInRegistrationOrder(t *testing.T) {
	requireT := require.New(t)
	ctx := test.Context(t)

	s := New()
	d, err := s.AddDomain("core", 10, 0)
	requireT.NoError(err)

	var calls []int
	for i := range 3 {
		s.OnEdge(d, func(ctx context.Context, edge Edge) error {
			calls = append(calls, i)
			return nil
		})
	}

	requireT.NoError(s.Run(ctx, 10))
	requireT.Equal([]int{0, 1, 2, 0, 1, 2}, calls)
}

func TestReset(t *testing.T) {
	requireT := require.New(t)
	ctx := test.Context(t)

	s := New()
	core, err := s.AddDomain("core", 10, 0)
	requireT.NoError(err)
	lane, err := s.AddDomain("lane", 10, 0)
	requireT.NoError(err)

	var coreResets, laneResets []bool
	s.OnEdge(core, func(ctx context.Context, edge Edge) error {
		coreResets = append(coreResets, edge.Reset)
		return nil
	})
	s.OnEdge(lane, func(ctx context.Context, edge Edge) error {
		laneResets = append(laneResets, edge.Reset)
		return nil
	})

	s.HoldReset(core, 2)
	requireT.NoError(s.Run(ctx, 30))
	requireT.Equal([]bool{true, true, false, false}, coreResets)
	requireT.Equal([]bool{false, false, false, false}, laneResets)

	// Reset asserted in the middle of simulation.
	s.HoldReset(lane, 1)
	requireT.NoError(s.Run(ctx, 50))
	requireT.Equal([]bool{true, true, false, false, false, false}, coreResets)
	requireT.Equal([]bool{false, false, false, false, true, false}, laneResets)
}

func TestHandlerErrorAbortsRun(t *testing.T) {
	requireT := require.New(t)
	ctx := test.Context(t)

	s := New()
	d, err := s.AddDomain("lane", 32, 0)
	requireT.NoError(err)

	s.OnEdge(d, func(ctx context.Context, edge Edge) error {
		if edge.Cycle == 3 {
			return errors.WithStack(types.ErrUnderrun)
		}
		return nil
	})

	err = s.Run(ctx, 1000)
	requireT.Error(err)
	requireT.True(errors.Is(err, types.ErrUnderrun))
	requireT.Contains(err.Error(), "domain lane failed at 96ps, cycle 3")
	requireT.Equal(Time(96), s.Now())
}

func TestCanceledContext(t *testing.T) {
	requireT := require.New(t)

	ctx, cancel := context.WithCancel(test.Context(t))
	cancel()

	s := New()
	_, err := s.AddDomain("lane", 32, 0)
	requireT.NoError(err)

	err = s.Run(ctx, 1000)
	requireT.True(errors.Is(err, context.Canceled))
}

func TestAddDomainErrors(t *testing.T) {
	requireT := require.New(t)
	ctx := test.Context(t)

	s := New()
	_, err := s.AddDomain("zero", 0, 0)
	requireT.True(errors.Is(err, types.ErrConfiguration))

	d, err := s.AddDomain("core", 10, 0)
	requireT.NoError(err)
	requireT.Equal("core", s.Name(d))
	requireT.Equal(Time(10), s.Period(d))

	requireT.NoError(s.Run(ctx, 100))
	_, err = s.AddDomain("late", 10, 50)
	requireT.True(errors.Is(err, types.ErrConfiguration))

	for i := 1; i < MaxDomains; i++ {
		_, err := s.AddDomain("d", 10, 100)
		requireT.NoError(err)
	}
	_, err = s.AddDomain("overflow", 10, 100)
	requireT.True(errors.Is(err, types.ErrConfiguration))
}
