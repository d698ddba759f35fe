package main

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/contentmirror/internal/collector"
	"github.com/agentworkforce/contentmirror/internal/telemetry"
)

var (
	syncInterval time.Duration
	syncJitter   float64
	syncTimeout  time.Duration
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync, or keep syncing on an interval",
	Long: `Run one sync and exit. With --interval the command keeps running and
syncs again after every interval; runs that find the lock held are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd.Context())
	},
}

func init() {
	syncCmd.Flags().DurationVar(&syncInterval, "interval", durationEnv("CONTENTMIRROR_SYNC_INTERVAL", 0), "repeat the sync on this interval (0 runs once)")
	syncCmd.Flags().Float64Var(&syncJitter, "interval-jitter", floatEnv("CONTENTMIRROR_SYNC_INTERVAL_JITTER", 0.2), "sync interval jitter ratio (0.0-1.0)")
	syncCmd.Flags().DurationVar(&syncTimeout, "timeout", durationEnv("CONTENTMIRROR_SYNC_TIMEOUT", 0), "per-sync timeout (0 means none)")
	rootCmd.AddCommand(syncCmd)
}

func runSync(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	rootCtx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := telemetry.Init(rootCtx, "contentmirror", Version); err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(ctx)
	}()
	a, err := newApp(cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	run := func() error {
		ctx := rootCtx
		if syncTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(rootCtx, syncTimeout)
			defer cancel()
		}
		result, err := a.syncer.Run(ctx)
		if err != nil {
			return err
		}
		if verbose {
			logRunResult(result)
		}
		log.Printf("sync %s completed", result.RunID)
		return nil
	}

	if syncInterval <= 0 {
		return run()
	}

	jitter := clampJitterRatio(syncJitter)
	if err := run(); err != nil {
		log.Printf("sync cycle failed: %v", err)
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	timer := time.NewTimer(jitteredIntervalWithSample(syncInterval, jitter, rng.Float64()))
	defer timer.Stop()
	for {
		select {
		case <-rootCtx.Done():
			log.Printf("sync loop stopping: %v", rootCtx.Err())
			return nil
		case <-timer.C:
			if err := run(); err != nil && !errors.Is(err, collector.ErrLocked) {
				log.Printf("sync cycle failed: %v", err)
			}
			timer.Reset(jitteredIntervalWithSample(syncInterval, jitter, rng.Float64()))
		}
	}
}

func clampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = clampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
