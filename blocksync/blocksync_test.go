package blocksync

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/outofforest/pcs/test"
	"github.com/outofforest/pcs/types"
)

var invalidHeaders = []types.Header{0b00, 0b11}

func newSynchronizer(requireT *require.Assertions) *Synchronizer {
	s, err := New(DefaultConfig)
	requireT.NoError(err)
	return s
}

func lock(requireT *require.Assertions, s *Synchronizer) {
	for range DefaultGoodThreshold {
		s.Observe(types.HeaderData)
	}
	requireT.Equal(Locked, s.State())
}

func TestInvalidConfig(t *testing.T) {
	requireT := require.New(t)

	_, err := New(Config{GoodThreshold: 64})
	requireT.True(errors.Is(err, types.ErrConfiguration))

	_, err = New(Config{BadThreshold: 16})
	requireT.True(errors.Is(err, types.ErrConfiguration))
}

func TestLockAcquiredExactlyAt64th(t *testing.T) {
	requireT := require.New(t)

	s := newSynchronizer(requireT)
	for i := range DefaultGoodThreshold - 1 {
		h := types.HeaderData
		if i%2 == 0 {
			h = types.HeaderControl
		}
		status := s.Observe(h)
		requireT.Equal(Status{State: Unlocked}, status)
	}

	status := s.Observe(types.HeaderControl)
	requireT.Equal(Status{State: Locked, Changed: true}, status)
	requireT.Equal(Stats{Acquisitions: 1}, s.Stats())
}

func TestInvalidHeaderRestartsAcquisition(t *testing.T) {
	requireT := require.New(t)

	for _, invalid := range invalidHeaders {
		s := newSynchronizer(requireT)
		for range DefaultGoodThreshold - 1 {
			s.Observe(types.HeaderData)
		}
		status := s.Observe(invalid)
		requireT.Equal(Status{State: Unlocked, Slip: true}, status)

		for range DefaultGoodThreshold - 1 {
			requireT.Equal(Unlocked, s.Observe(types.HeaderData).State)
		}
		requireT.Equal(Status{State: Locked, Changed: true}, s.Observe(types.HeaderData))
	}
}

func TestLockLostAtBadThreshold(t *testing.T) {
	requireT := require.New(t)

	s := newSynchronizer(requireT)
	lock(requireT, s)

	for i := range DefaultBadThreshold - 1 {
		status := s.Observe(invalidHeaders[i%2])
		requireT.Equal(Status{State: Locked}, status)
	}
	status := s.Observe(0b11)
	requireT.Equal(Status{State: Unlocked, Changed: true}, status)
	requireT.Equal(Stats{Acquisitions: 1, Losses: 1}, s.Stats())

	// Lost lock is acquired again from zero.
	for range DefaultGoodThreshold - 1 {
		requireT.Equal(Unlocked, s.Observe(types.HeaderData).State)
	}
	requireT.True(s.Observe(types.HeaderData).Changed)
}

func TestInterspersedInvalidHeadersKeepLock(t *testing.T) {
	requireT := require.New(t)
	rnd := test.NewRand(t)

	s := newSynchronizer(requireT)
	lock(requireT, s)

	for range 100_000 {
		// Bursts always shorter than the threshold.
		for range rnd.IntN(DefaultBadThreshold) {
			status := s.Observe(invalidHeaders[rnd.IntN(len(invalidHeaders))])
			requireT.Equal(Status{State: Locked}, status)
		}
		requireT.Equal(Status{State: Locked}, s.Observe(types.HeaderData))
	}
	requireT.Equal(Stats{Acquisitions: 1}, s.Stats())
}

func TestSlipNeverRequestedWhileLocked(t *testing.T) {
	requireT := require.New(t)
	rnd := test.NewRand(t)

	s := newSynchronizer(requireT)
	for range 100_000 {
		h := types.Header(rnd.IntN(4))
		before := s.State()
		status := s.Observe(h)
		if status.Slip {
			requireT.Equal(Unlocked, before)
			requireT.False(h.Valid())
		}
		if before == Locked {
			requireT.False(status.Slip)
		}
	}
}

func TestCustomThresholds(t *testing.T) {
	requireT := require.New(t)

	s, err := New(Config{GoodThreshold: 3, BadThreshold: 2})
	requireT.NoError(err)

	s.Observe(types.HeaderData)
	s.Observe(types.HeaderData)
	requireT.True(s.Observe(types.HeaderData).Changed)
	requireT.Equal(Locked, s.State())

	requireT.False(s.Observe(0b00).Changed)
	requireT.True(s.Observe(0b00).Changed)
	requireT.Equal(Unlocked, s.State())
}

func TestReset(t *testing.T) {
	requireT := require.New(t)

	s := newSynchronizer(requireT)
	lock(requireT, s)
	s.Reset()
	requireT.Equal(Unlocked, s.State())

	for range DefaultGoodThreshold - 1 {
		requireT.Equal(Unlocked, s.Observe(types.HeaderData).State)
	}
	requireT.Equal(Locked, s.Observe(types.HeaderData).State)
}

func TestRestart(t *testing.T) {
	requireT := require.New(t)

	s := newSynchronizer(requireT)
	lock(requireT, s)
	s.Restart()
	requireT.Equal(Unlocked, s.State())
	requireT.Equal(Stats{Acquisitions: 1, Losses: 1}, s.Stats())

	// Restart while unlocked is not counted as loss.
	s.Restart()
	requireT.EqualValues(1, s.Stats().Losses)

	// Invalid header requests slip again.
	requireT.True(s.Observe(0b11).Slip)
	lock(requireT, s)
	requireT.Equal(Stats{Acquisitions: 2, Losses: 1, Slips: 1}, s.Stats())
}
