package link

import (
	"context"
	"testing"

	"github.com/pkg/errors"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
)

// RunInTest creates and runs session for unit tests.
func RunInTest(t *testing.T, config Config) (*Session, Stats) {
	session, err := NewSession(config)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(logger.WithLogger(context.Background(), logger.New(logger.DefaultConfig)))
	t.Cleanup(cancel)

	var stats Stats
	err = parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("session", parallel.Continue, func(ctx context.Context) error {
			var err error
			stats, err = session.Run(ctx)
			return err
		})
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Fatal(err)
	}

	return session, stats
}
