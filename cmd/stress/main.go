// Command stress hammers a registry with concurrent reservations while a
// committer applies them on a timer, then verifies every surviving handle
// resolves to the value submitted for it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/lmittmann/tint"
	"github.com/sourcegraph/conc"
	"golang.org/x/sync/errgroup"

	"mimir/domain/slot"
	"mimir/infra/memory"
	"mimir/jobs/broadcaster"
	"mimir/jobs/committer"
	"mimir/service"
)

type holding struct {
	handle slot.Handle
	value  uint64
}

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	log := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "[15:04:05.000]",
	}))
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("stress run failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg Config, log *slog.Logger) error {
	reg := service.New[uint64](cfg.Producers * cfg.OpsPerProducer / 2)

	ring := memory.NewRing[service.Applied](cfg.EventRingSize)
	reg.AttachEvents(ring)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	com := committer.New(reg, cfg.CommitInterval, committer.WithLogger(log))
	com.Start(ctx)

	bc := broadcaster.New(ring, cfg.BroadcastInterval, log)
	_, events := bc.Subscribe(int(cfg.EventRingSize))
	bc.Start(ctx)

	// Count applied events off to the side; the channel closes when the
	// broadcaster stops.
	var seen int
	var consumers conc.WaitGroup
	consumers.Go(func() {
		for range events {
			seen++
		}
	})

	log.Info("stress starting",
		"producers", cfg.Producers,
		"ops_per_producer", cfg.OpsPerProducer,
		"commit_interval", cfg.CommitInterval)

	start := time.Now()

	survivors := make([][]holding, cfg.Producers)
	g, _ := errgroup.WithContext(ctx)
	for p := 0; p < cfg.Producers; p++ {
		g.Go(func() error {
			survivors[p] = produce(reg, p, cfg.OpsPerProducer, cfg.RemoveEvery)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := awaitQuiescence(reg, 10*time.Second); err != nil {
		return err
	}

	cancel()
	<-com.Stopped()
	<-bc.Stopped()
	consumers.Wait()

	log.Info("stress finished",
		"elapsed", time.Since(start),
		"live", reg.Count(),
		"tombstones", reg.CountInvalid(),
		"events_seen", seen)

	return verify(reg, survivors, log)
}

// produce reserves and submits ops handles, periodically submitting a
// remove for its oldest surviving handle, and returns what should still
// be live once everything applies.
func produce(reg *service.Registry[uint64], id, ops, removeEvery int) []holding {
	owned := make([]holding, 0, ops)

	for op := 0; op < ops; op++ {
		h := reserve(reg)
		v := uint64(id)<<32 | uint64(op)
		reg.SubmitInsert(h, v)
		owned = append(owned, holding{handle: h, value: v})

		if removeEvery > 0 && (op+1)%removeEvery == 0 && len(owned) > 1 {
			victim := owned[0]
			owned = owned[1:]
			reg.SubmitRemove(victim.handle)
		}
	}
	return owned
}

// reserve spins through commit windows; the registry rejects reservations
// only for the short closing/applying stretch.
func reserve(reg *service.Registry[uint64]) slot.Handle {
	for {
		h, err := reg.Reserve()
		if err == nil {
			return h
		}
		runtime.Gosched()
	}
}

// awaitQuiescence waits for the committer to drain every submitted
// command and re-open the registry.
func awaitQuiescence(reg *service.Registry[uint64], timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if reg.Pending() == 0 && reg.State() == service.StateOpen {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("registry did not quiesce: %d pending, state %s",
				reg.Pending(), reg.State())
		}
		time.Sleep(time.Millisecond)
	}
}

func verify(reg *service.Registry[uint64], survivors [][]holding, log *slog.Logger) error {
	var checked, bad int
	for _, owned := range survivors {
		for _, h := range owned {
			checked++
			got, ok := reg.Get(h.handle)
			if !ok || got != h.value {
				bad++
				log.Error("handle does not resolve",
					"handle", h.handle, "want", h.value, "got", got, "valid", ok)
			}
		}
	}
	if bad > 0 {
		return fmt.Errorf("%d of %d surviving handles failed verification", bad, checked)
	}
	log.Info("verification passed", "handles", checked)
	return nil
}
