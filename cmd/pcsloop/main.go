// pcsloop simulates transmitter and receiver of the 40GBASE-R physical coding sublayer connected in loopback.
package main

import (
	"context"
	"os"

	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/pcs/link"
)

func main() {
	ctx := logger.WithLogger(context.Background(), logger.New(logger.DefaultConfig))
	if err := newApp().RunContext(ctx, os.Args); err != nil {
		logger.Get(ctx).Error("Simulation failed", zap.Error(err))
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "pcsloop",
		Usage: "loopback simulation of the 40GBASE-R PCS",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run single session",
				Flags:  []cli.Flag{configFileFlag, seedFlag, cyclesFlag},
				Action: runSession,
			},
			{
				Name:   "sweep",
				Usage:  "Run sessions with consecutive seeds in parallel",
				Flags:  []cli.Flag{configFileFlag, seedFlag, cyclesFlag, sessionsFlag},
				Action: sweep,
			},
		},
	}
}

func runSession(ctx *cli.Context) error {
	cfg, err := loadBaseConfig(ctx)
	if err != nil {
		return err
	}

	session, err := link.NewSession(cfg)
	if err != nil {
		return err
	}
	stats, err := session.Run(ctx.Context)
	if err != nil {
		return err
	}

	report(logger.Get(ctx.Context), stats)
	return nil
}

func sweep(ctx *cli.Context) error {
	cfg, err := loadBaseConfig(ctx)
	if err != nil {
		return err
	}

	configs := make([]link.Config, ctx.Int(sessionsFlag.Name))
	for i := range configs {
		configs[i] = cfg
		configs[i].Seed = cfg.Seed + uint64(i)
	}

	results, err := link.Sweep(ctx.Context, configs)
	if err != nil {
		return err
	}

	log := logger.Get(ctx.Context)
	for _, stats := range results {
		report(log, stats)
	}
	log.Info("Sweep finished",
		zap.Int("sessions", len(results)),
		zap.Int("locked", lo.CountBy(results, func(s link.Stats) bool { return s.Locked })),
		zap.Uint64("framesReceived", lo.SumBy(results, func(s link.Stats) uint64 { return s.Checker.Received })),
		zap.Uint64("framesCorrupted", lo.SumBy(results, func(s link.Stats) uint64 { return s.Checker.Corrupted })),
		zap.Uint64("framesLost", lo.SumBy(results, func(s link.Stats) uint64 { return s.Checker.Lost })))
	return nil
}

func report(log *zap.Logger, stats link.Stats) {
	log.Info("Latency",
		zap.Uint64("seed", stats.Seed),
		zap.Uint64("frames", stats.Latency.Count),
		zap.Stringer("avg", stats.Latency.Avg),
		zap.Stringer("stdDev", stats.Latency.StdDev),
		zap.Stringer("p5", stats.Latency.P5),
		zap.Stringer("p50", stats.Latency.P50),
		zap.Stringer("p95", stats.Latency.P95),
		zap.Stringer("p99", stats.Latency.P99),
		zap.Stringer("min", stats.Latency.Min),
		zap.Stringer("max", stats.Latency.Max))
	log.Info("Receiver",
		zap.Uint64("seed", stats.Seed),
		zap.Bool("locked", stats.Locked),
		zap.Ints("laneOrder", stats.LaneOrder),
		zap.Uint64("slips", stats.RX.Slips),
		zap.Uint64("lockAcquired", stats.RX.LockAcquired),
		zap.Uint64("lockLost", stats.RX.LockLost),
		zap.Uint64("markerLocks", stats.RX.MarkerLocks),
		zap.Uint64("alignments", stats.RX.Alignments),
		zap.Uint64("alignmentLosses", stats.RX.AlignmentLosses),
		zap.Uint64("bipErrors", stats.RX.BIPErrors),
		zap.Uint64("decodeErrors", stats.RX.DecodeErrors),
		zap.Uint64("bitErrors", stats.BitErrors))
}
