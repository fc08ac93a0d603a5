package test

import (
	"context"
	"math/rand/v2"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/logger"
)

// SeedEnv is the environment variable used to replay randomized test with particular seed.
const SeedEnv = "PCS_TEST_SEED"

// Seed returns seed for randomized test. The seed is always logged before it is returned.
func Seed(t testing.TB) uint64 {
	seed := uint64(time.Now().UnixNano())
	if s := os.Getenv(SeedEnv); s != "" {
		var err error
		seed, err = strconv.ParseUint(s, 10, 64)
		require.NoError(t, err)
	}
	t.Logf("using seed: %d (replay with %s=%d)", seed, SeedEnv, seed)
	return seed
}

// NewRand returns deterministic generator initialized with logged seed.
func NewRand(t testing.TB) *rand.Rand {
	seed := Seed(t)
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Context returns context carrying logger, canceled when test finishes.
func Context(t testing.TB) context.Context {
	ctx, cancel := context.WithCancel(logger.WithLogger(context.Background(), logger.New(logger.DefaultConfig)))
	t.Cleanup(cancel)
	return ctx
}
