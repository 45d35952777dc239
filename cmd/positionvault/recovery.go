package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"PositionVault/internal/core"
	"PositionVault/internal/event"
	"PositionVault/internal/observability"
	"PositionVault/internal/persistence"
)

const replayBatchSize = 1000

// snapshotStore is the part of persistence.SnapshotManager recovery and
// snapshotting use.
type snapshotStore interface {
	LoadLatestSnapshot(ctx context.Context) (*persistence.SnapshotData, error)
	LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]*event.EventEnvelope, error)
	SaveSnapshot(ctx context.Context, snap *core.SnapshotState, createdAt time.Time) (int, error)
	MarkVerified(ctx context.Context, sequence int64) error
	GetLatestSequence(ctx context.Context) (int64, error)
}

// recoverState restores the latest verified snapshot, if any, then replays
// the event log after it. Returns the number of replayed commands.
func recoverState(ctx context.Context, store snapshotStore, proc *core.Processor, metrics *observability.Metrics) (int64, error) {
	start := time.Now()
	fromSequence := int64(0)

	snap, err := store.LoadLatestSnapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("load snapshot: %w", err)
	}
	if snap != nil {
		if err := proc.RestoreFromSnapshot(&snap.State); err != nil {
			return 0, fmt.Errorf("restore snapshot at %d: %w", snap.State.Sequence, err)
		}
		fromSequence = snap.State.Sequence + 1
		log.Printf("INFO: restored snapshot at sequence %d (%d idempotency keys)", snap.State.Sequence, len(snap.State.IdempotencyKeys))
	} else {
		log.Println("INFO: no snapshot found, cold start from sequence 0")
	}

	var replayed int64
	for {
		envelopes, err := store.LoadEventsFrom(ctx, fromSequence, replayBatchSize)
		if err != nil {
			return replayed, fmt.Errorf("load events from seq %d: %w", fromSequence, err)
		}
		if len(envelopes) == 0 {
			break
		}
		for _, env := range envelopes {
			if err := proc.Replay(ctx, env); err != nil {
				return replayed, err
			}
			replayed++
		}
		fromSequence = envelopes[len(envelopes)-1].Sequence + 1
	}

	if snap != nil && replayed == 0 && proc.GetStateHash() != snap.State.StateHash {
		return 0, fmt.Errorf("state hash mismatch after restore: expected %x, got %x", snap.State.StateHash, proc.GetStateHash())
	}

	if metrics != nil {
		metrics.ReplayEventsTotal.Add(float64(replayed))
		metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	return replayed, nil
}

// takeSnapshot captures the processor state and persists it. The snapshot is
// only marked verified once the event log has caught up to it.
func takeSnapshot(ctx context.Context, proc *core.Processor, store snapshotStore, metrics *observability.Metrics) error {
	start := time.Now()

	snap := proc.CreateSnapshotState()
	if snap.Sequence < 0 {
		return nil
	}

	size, err := store.SaveSnapshot(ctx, snap, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	persisted, err := store.GetLatestSequence(ctx)
	if err != nil {
		return fmt.Errorf("read log head: %w", err)
	}
	if persisted < snap.Sequence {
		log.Printf("WARN: snapshot %d ahead of event log head %d, left unverified", snap.Sequence, persisted)
	} else if err := store.MarkVerified(ctx, snap.Sequence); err != nil {
		return fmt.Errorf("mark snapshot verified: %w", err)
	}

	if metrics != nil {
		metrics.SnapshotTaken.Inc()
		metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		metrics.SnapshotSizeBytes.Set(float64(size))
		metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	return nil
}

// runPeriodicSnapshots takes a snapshot every interval commands.
func runPeriodicSnapshots(ctx context.Context, proc *core.Processor, store snapshotStore, interval int64, metrics *observability.Metrics) {
	if interval <= 0 {
		interval = 10_000
	}

	lastSnapshotSeq := proc.GetSequence()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			currentSeq := proc.GetSequence()
			if currentSeq-lastSnapshotSeq < interval {
				continue
			}
			if err := takeSnapshot(ctx, proc, store, metrics); err != nil {
				log.Printf("WARN: periodic snapshot failed: %v", err)
				continue
			}
			lastSnapshotSeq = currentSeq
			log.Printf("INFO: periodic snapshot at sequence %d", currentSeq-1)
		}
	}
}
