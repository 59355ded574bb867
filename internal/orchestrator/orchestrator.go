package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/flowdesk/syncd/internal/envelope"
	"github.com/flowdesk/syncd/internal/storage"
	"github.com/flowdesk/syncd/internal/syncdoc"
	"github.com/flowdesk/syncd/internal/syncerrors"
	"github.com/flowdesk/syncd/internal/synclog"
	"github.com/flowdesk/syncd/internal/transport"
	"github.com/flowdesk/syncd/internal/vclock"
	"github.com/flowdesk/syncd/pkg/clock"
	"github.com/flowdesk/syncd/pkg/crypto"
)

// DefaultTransportTimeout bounds a single transport operation (pull or
// push) within one cycle.
const DefaultTransportTimeout = 30 * time.Second

// transportState tracks the per-transport backoff the orchestrator uses to
// decide whether a transport is worth attempting this cycle.
type transportState struct {
	backOff     *backoff.ExponentialBackOff
	nextAttempt time.Time
}

// Orchestrator is the reference SyncOrchestrator implementation.
type Orchestrator struct {
	mu          sync.Mutex // serializes ApplyLocalChange/SyncCycle against this instance
	processLock *crossProcessLock

	deviceID string
	store    storage.ConfigStorage
	rotation *envelope.KeyRotationManager

	clock            clock.Clock
	logger           *zap.Logger
	transportTimeout time.Duration

	transportsMu sync.Mutex
	transports   []transport.SyncTransport
	backoffs     map[string]*transportState
}

// New constructs an Orchestrator rooted at baseDir (used only for the
// cross-process .lock file; the caller's ConfigStorage governs actual
// persistence). rotation must be the same *envelope.KeyRotationManager
// instance the caller's storage.ConfigStorage and transports were built
// with, so NeedsRotation/Rotate decisions and the current key version are
// visible everywhere a config gets encrypted.
func New(
	baseDir string,
	deviceID string,
	store storage.ConfigStorage,
	rotation *envelope.KeyRotationManager,
	clk clock.Clock,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = synclog.Nop()
	}
	return &Orchestrator{
		processLock:      newCrossProcessLock(baseDir),
		deviceID:         deviceID,
		store:            store,
		rotation:         rotation,
		clock:            clk,
		logger:           logger,
		transportTimeout: DefaultTransportTimeout,
		backoffs:         make(map[string]*transportState),
	}
}

var _ SyncOrchestrator = (*Orchestrator)(nil)

// RegisterTransport implements SyncOrchestrator.
func (o *Orchestrator) RegisterTransport(t transport.SyncTransport) {
	o.transportsMu.Lock()
	defer o.transportsMu.Unlock()
	o.transports = append(o.transports, t)
}

// CurrentConfig implements SyncOrchestrator.
func (o *Orchestrator) CurrentConfig(ctx context.Context) (*syncdoc.VersionedConfig, error) {
	return o.store.LoadConfig(ctx)
}

// ApplyLocalChange implements SyncOrchestrator.
func (o *Orchestrator) ApplyLocalChange(ctx context.Context, newConfig []byte) (*CycleResult, error) {
	if err := o.processLock.acquire(ctx); err != nil {
		return nil, err
	}
	defer o.processLock.release()

	o.mu.Lock()
	defer o.mu.Unlock()

	local, err := o.store.LoadConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("apply local change: load config: %w", err)
	}
	now := o.clock.Now()
	if local == nil {
		local, err = syncdoc.New(newConfig, o.deviceID, now)
		if err != nil {
			return nil, fmt.Errorf("apply local change: %w", err)
		}
	} else if err := local.ApplyLocalChange(newConfig, o.deviceID, now); err != nil {
		return nil, fmt.Errorf("apply local change: %w", err)
	}

	if err := o.store.SaveConfig(ctx, local); err != nil {
		return nil, fmt.Errorf("apply local change: save config: %w", err)
	}

	return o.runCycleLocked(ctx)
}

// SyncCycle implements SyncOrchestrator.
func (o *Orchestrator) SyncCycle(ctx context.Context) (*CycleResult, error) {
	if err := o.processLock.acquire(ctx); err != nil {
		return nil, err
	}
	defer o.processLock.release()

	o.mu.Lock()
	defer o.mu.Unlock()

	return o.runCycleLocked(ctx)
}

// runCycleLocked implements the sync_cycle algorithm. Callers must hold
// o.mu and o.processLock.
func (o *Orchestrator) runCycleLocked(ctx context.Context) (*CycleResult, error) {
	cycleID := crypto.GenerateID()
	result := &CycleResult{CycleID: cycleID, StartedAt: o.clock.Now()}
	logger := o.logger.With(zap.String("cycle_id", cycleID), zap.String("device_id", o.deviceID))
	logger.Info("sync cycle started", zap.String("event", string(synclog.EventCycleStarted)))

	// Step 1: load local config, or synthesize an empty one.
	local, err := o.store.LoadConfig(ctx)
	if err != nil {
		logger.Error("sync cycle aborted: load local config", zap.String("event", string(synclog.EventCycleFailed)), zap.Error(err))
		return nil, fmt.Errorf("sync cycle: load local config: %w", err)
	}
	if local == nil {
		local, err = syncdoc.New([]byte("{}"), o.deviceID, o.clock.Now())
		if err != nil {
			return nil, fmt.Errorf("sync cycle: synthesize empty config: %w", err)
		}
	}

	o.transportsMu.Lock()
	transports := append([]transport.SyncTransport(nil), o.transports...)
	o.transportsMu.Unlock()

	// Step 2: pull from every enabled transport in parallel.
	candidates, outcomes := o.pullAll(ctx, transports, logger)
	result.Transports = outcomes

	// Steps 3-5: fold candidates, then merge with local.
	remote, tiebreaks, err := foldMerge(candidates)
	if err != nil {
		logger.Error("sync cycle aborted: fold candidates", zap.String("event", string(mergeFailureEvent(err))), zap.Error(err))
		return nil, fmt.Errorf("sync cycle: %w", err)
	}
	result.Tiebreaks += tiebreaks

	final := local
	if remote != nil {
		merged, tiebreak, err := mergeOne(local, remote)
		if err != nil {
			logger.Error("sync cycle aborted: merge local/remote", zap.String("event", string(mergeFailureEvent(err))), zap.Error(err))
			return nil, fmt.Errorf("sync cycle: %w", err)
		}
		if tiebreak {
			result.Tiebreaks++
			logger.Info("merge tiebreak",
				zap.String("event", string(synclog.EventMergeTiebreak)),
				zap.String("winner_device", merged.ModifiedBy))
		}
		final = merged
	}

	// Step 6: persist if changed (content or vector clock), backing up the
	// pre-merge local first.
	if final.ConfigHash != local.ConfigHash || !final.VectorClock.Equals(local.VectorClock) {
		backupID, err := o.store.CreateBackup(ctx, local)
		if err != nil {
			logger.Error("sync cycle aborted: create pre-merge backup", zap.Error(err))
			return nil, fmt.Errorf("sync cycle: create backup: %w", err)
		}
		logger.Info("pre-merge backup created",
			zap.String("event", string(synclog.EventBackupCreated)), zap.String("backup_id", backupID))

		if err := o.store.SaveConfig(ctx, final); err != nil {
			logger.Error("sync cycle aborted: save merged config", zap.Error(err))
			return nil, fmt.Errorf("sync cycle: save merged config: %w", err)
		}
		result.MergedConfig = true
	}

	// Step 7: push the final config to every transport.
	pushOutcomes := o.pushAll(ctx, transports, final, logger)
	result.Transports = mergeOutcomes(result.Transports, pushOutcomes)

	// Step 8: rotate and repack if due. Pruning the retired key is gated on
	// every known on-disk artifact actually being re-encrypted first: the
	// live config (via SaveConfig), the secrets blob and local backups (via
	// the storage layer's RepackAll, if it implements one), and every
	// transport (via a second push, since push always seals under the
	// current key). Only once all of those report success is the retired
	// version marked repacked, making it a pruning candidate.
	if o.rotation != nil && o.rotation.NeedsRotation() {
		retiredVersion := o.rotation.CurrentVersion()
		if _, err := o.rotation.Rotate(); err != nil {
			logger.Error("key rotation failed", zap.Error(err))
			return nil, fmt.Errorf("sync cycle: rotate keys: %w", err)
		}
		if err := o.store.SaveConfig(ctx, final); err != nil {
			logger.Error("repack after rotation failed", zap.Error(err))
			return nil, fmt.Errorf("sync cycle: repack after rotation: %w", err)
		}

		repackedEverything := true
		if repacker, ok := o.store.(interface{ RepackAll(ctx context.Context) error }); ok {
			if err := repacker.RepackAll(ctx); err != nil {
				repackedEverything = false
				logger.Warn("repack secrets/backups after rotation failed; retired key retained", zap.Error(err))
			}
		}

		rotationPushOutcomes := o.pushAll(ctx, transports, final, logger)
		result.Transports = mergeOutcomes(result.Transports, rotationPushOutcomes)
		for _, oc := range rotationPushOutcomes {
			if oc.Error != "" {
				repackedEverything = false
			}
		}

		if repackedEverything {
			o.rotation.MarkRepacked(retiredVersion)
		}

		result.Rotated = true
		logger.Info("key rotation performed",
			zap.String("event", string(synclog.EventRotationPerformed)),
			zap.Uint32("key_version", o.rotation.CurrentVersion()),
			zap.Bool("retired_key_repacked", repackedEverything))
	}

	result.FinishedAt = o.clock.Now()
	logger.Info("sync cycle completed",
		zap.String("event", string(synclog.EventCycleCompleted)),
		zap.Bool("merged", result.MergedConfig),
		zap.Int("tiebreaks", result.Tiebreaks),
		zap.Bool("rotated", result.Rotated))
	return result, nil
}

// pullAll pulls from every transport concurrently, gating each on its
// backoff state and IsAvailable check.
func (o *Orchestrator) pullAll(ctx context.Context, transports []transport.SyncTransport, logger *zap.Logger) ([]*syncdoc.VersionedConfig, []TransportOutcome) {
	var wg sync.WaitGroup
	candidates := make([]*syncdoc.VersionedConfig, len(transports))
	outcomes := make([]TransportOutcome, len(transports))

	for i, t := range transports {
		i, t := i, t
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome := TransportOutcome{TransportID: t.ID()}

			if !o.readyForAttempt(t.ID()) {
				outcome.Skipped = true
				logger.Info("transport skipped: backing off",
					zap.String("event", string(synclog.EventTransportSkipped)), zap.String("transport_id", t.ID()))
				outcomes[i] = outcome
				return
			}
			if !t.IsAvailable(ctx) {
				outcome.Skipped = true
				logger.Info("transport skipped: unavailable",
					zap.String("event", string(synclog.EventTransportSkipped)), zap.String("transport_id", t.ID()))
				outcomes[i] = outcome
				return
			}

			opCtx, cancel := context.WithTimeout(ctx, o.transportTimeout)
			cfg, err := t.Pull(opCtx)
			cancel()
			if err != nil {
				outcome.Error = err.Error()
				o.recordFailure(t.ID())
				logger.Warn("transport pull failed",
					zap.String("event", string(synclog.EventTransportPullFailed)),
					zap.String("transport_id", t.ID()), zap.Error(err))
				outcomes[i] = outcome
				return
			}

			o.recordSuccess(t.ID())
			outcome.Pulled = cfg != nil
			candidates[i] = cfg
			outcomes[i] = outcome
		}()
	}
	wg.Wait()

	nonNil := make([]*syncdoc.VersionedConfig, 0, len(candidates))
	for _, c := range candidates {
		if c != nil {
			nonNil = append(nonNil, c)
		}
	}
	return nonNil, outcomes
}

// pushAll pushes final to every transport concurrently, recording outcomes
// keyed by transport ID so the caller can merge them with pull outcomes.
func (o *Orchestrator) pushAll(ctx context.Context, transports []transport.SyncTransport, final *syncdoc.VersionedConfig, logger *zap.Logger) []TransportOutcome {
	var wg sync.WaitGroup
	outcomes := make([]TransportOutcome, len(transports))

	for i, t := range transports {
		i, t := i, t
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome := TransportOutcome{TransportID: t.ID()}

			if !o.readyForAttempt(t.ID()) || !t.IsAvailable(ctx) {
				outcome.Skipped = true
				outcomes[i] = outcome
				return
			}

			opCtx, cancel := context.WithTimeout(ctx, o.transportTimeout)
			err := t.Push(opCtx, final)
			cancel()
			if err != nil {
				outcome.Error = err.Error()
				o.recordFailure(t.ID())
				logger.Warn("transport push failed",
					zap.String("event", string(synclog.EventTransportPushFailed)),
					zap.String("transport_id", t.ID()), zap.Error(err))
				outcomes[i] = outcome
				return
			}

			o.recordSuccess(t.ID())
			outcome.Pushed = true
			outcomes[i] = outcome
		}()
	}
	wg.Wait()
	return outcomes
}

// readyForAttempt reports whether enough time has passed since the last
// recorded failure for transportID to be worth attempting this cycle.
func (o *Orchestrator) readyForAttempt(transportID string) bool {
	o.transportsMu.Lock()
	defer o.transportsMu.Unlock()
	st, ok := o.backoffs[transportID]
	if !ok {
		return true
	}
	return !o.clock.Now().Before(st.nextAttempt)
}

func (o *Orchestrator) recordFailure(transportID string) {
	o.transportsMu.Lock()
	defer o.transportsMu.Unlock()
	st, ok := o.backoffs[transportID]
	if !ok {
		st = &transportState{backOff: newOrchestratorBackOff()}
		o.backoffs[transportID] = st
	}
	st.nextAttempt = o.clock.Now().Add(st.backOff.NextBackOff())
}

func (o *Orchestrator) recordSuccess(transportID string) {
	o.transportsMu.Lock()
	defer o.transportsMu.Unlock()
	delete(o.backoffs, transportID)
}

func newOrchestratorBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 5 * time.Minute
	b.RandomizationFactor = 0.2
	b.Multiplier = 2.0
	b.MaxElapsedTime = 0
	return b
}

// mergeFailureEvent classifies a merge error for the structured log: hash
// divergence gets its own audit event, anything else falls back to the
// generic cycle-failed event.
func mergeFailureEvent(err error) synclog.EventType {
	if errors.Is(err, syncerrors.ErrHashDivergence) {
		return synclog.EventHashDivergence
	}
	return synclog.EventCycleFailed
}

// schemaMajorCompatible reports whether a and b share the same major
// component of their dotted schema_version (e.g. "2.1.0" vs "2.4.0" are
// compatible; "1.9.0" vs "2.0.0" are not). A version with no dot compares
// by its whole value.
func schemaMajorCompatible(a, b string) bool {
	return schemaMajor(a) == schemaMajor(b)
}

func schemaMajor(version string) string {
	if i := strings.IndexByte(version, '.'); i >= 0 {
		return version[:i]
	}
	return version
}

// foldMerge repeatedly merges candidates pairwise into a single result,
// returning nil if candidates is empty.
func foldMerge(candidates []*syncdoc.VersionedConfig) (*syncdoc.VersionedConfig, int, error) {
	if len(candidates) == 0 {
		return nil, 0, nil
	}
	acc := candidates[0]
	tiebreaks := 0
	for _, c := range candidates[1:] {
		merged, tiebreak, err := mergeOne(acc, c)
		if err != nil {
			return nil, tiebreaks, err
		}
		if tiebreak {
			tiebreaks++
		}
		acc = merged
	}
	return acc, tiebreaks, nil
}

// mergeOne merges a and b per the deterministic merge rules: causal
// dominance wins outright; otherwise a lexicographically-greater
// config_hash wins, with modified_at then modified_by as further tiebreaks.
// The result's vector clock is always the pointwise max of both inputs.
func mergeOne(a, b *syncdoc.VersionedConfig) (merged *syncdoc.VersionedConfig, tiebreak bool, err error) {
	if !schemaMajorCompatible(a.SchemaVersion, b.SchemaVersion) {
		return nil, false, fmt.Errorf("%w: a=%s b=%s", syncerrors.ErrSchemaIncompatible, a.SchemaVersion, b.SchemaVersion)
	}

	switch a.VectorClock.Compare(b.VectorClock) {
	case vclock.Before:
		return b.Clone(), false, nil
	case vclock.After:
		return a.Clone(), false, nil
	case vclock.Equal:
		if a.ConfigHash != b.ConfigHash {
			return nil, false, fmt.Errorf("%w: a=%s b=%s", syncerrors.ErrHashDivergence, a.ConfigHash, b.ConfigHash)
		}
		return a.Clone(), false, nil
	default: // Concurrent
		winner := a
		if !winnerFirst(a, b) {
			winner = b
		}
		out := winner.Clone()
		out.VectorClock = a.VectorClock.Merge(b.VectorClock)
		return out, true, nil
	}
}

// winnerFirst reports whether a should win a concurrent-clock tiebreak over
// b: greater config_hash, then later modified_at, then lexicographically
// greater modified_by.
func winnerFirst(a, b *syncdoc.VersionedConfig) bool {
	if a.ConfigHash != b.ConfigHash {
		return a.ConfigHash > b.ConfigHash
	}
	if !a.ModifiedAt.Equal(b.ModifiedAt) {
		return a.ModifiedAt.After(b.ModifiedAt)
	}
	return a.ModifiedBy >= b.ModifiedBy
}

// mergeOutcomes combines the pull and push TransportOutcome slices produced
// over the same ordered transport list into one slice per transport: a
// transport is reported Skipped only if it was skipped on both legs, and
// push errors are appended to any pull error rather than replacing it.
func mergeOutcomes(pulls, pushes []TransportOutcome) []TransportOutcome {
	out := make([]TransportOutcome, len(pulls))
	for i, p := range pulls {
		out[i] = p
		if i >= len(pushes) {
			continue
		}
		push := pushes[i]
		out[i].Pushed = push.Pushed
		out[i].Skipped = out[i].Skipped && push.Skipped
		switch {
		case push.Error == "":
		case out[i].Error == "":
			out[i].Error = push.Error
		default:
			out[i].Error = out[i].Error + "; push: " + push.Error
		}
	}
	return out
}
