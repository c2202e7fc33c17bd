package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spoolworks/tally/internal/db"
	"github.com/spoolworks/tally/internal/models"
	"github.com/spoolworks/tally/internal/projection"
	"github.com/spoolworks/tally/internal/syncclient"
)

// RemoteAPI is the slice of the sync client the coordinator needs.
type RemoteAPI interface {
	Apply(op models.Operation, entityType, entityID string, req *syncclient.MutationRequest) (*syncclient.MutationResult, error)
}

// ConnMonitor is the slice of the connectivity monitor the coordinator needs.
type ConnMonitor interface {
	IsOnline() bool
	Subscribe(onChange func(online bool)) func()
}

// Config wires a Coordinator.
type Config struct {
	DB         *db.DB
	Projection *projection.Store
	Client     RemoteAPI
	Monitor    ConnMonitor
	ClientID   string
	Backoff    Backoff
	// MaxAttempts caps transient retries per entry before the entry is
	// parked as stalled. Defaults to 8.
	MaxAttempts int
	Resolver    Resolver
}

// Coordinator drains the mutation log against the remote API. It is a
// single-consumer state machine: one entity flushes at a time, in global
// FIFO order by each entity's oldest pending sequence. Local appends and
// reads interleave freely; the log and projection are the only shared state
// and all access goes through their atomic operations.
type Coordinator struct {
	db          *db.DB
	proj        *projection.Store
	client      RemoteAPI
	monitor     ConnMonitor
	clientID    string
	backoff     Backoff
	maxAttempts int
	resolver    Resolver

	mu         sync.Mutex
	state      State
	lastSyncAt *time.Time
	lastError  string
	failures   int // consecutive transient-failure drains, drives backoff

	kickCh chan struct{}
	connCh chan bool
}

// NewCoordinator creates a coordinator in the Idle state.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.Resolver.ChangedFields == nil {
		cfg.Resolver = NewResolver()
	}
	if cfg.Backoff.Base == 0 {
		cfg.Backoff = DefaultBackoff()
	}
	return &Coordinator{
		db:          cfg.DB,
		proj:        cfg.Projection,
		client:      cfg.Client,
		monitor:     cfg.Monitor,
		clientID:    cfg.ClientID,
		backoff:     cfg.Backoff,
		maxAttempts: cfg.MaxAttempts,
		resolver:    cfg.Resolver,
		state:       StateIdle,
		kickCh:      make(chan struct{}, 1),
		connCh:      make(chan bool, 4),
	}
}

// State returns the coordinator's current mode.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Status returns the query surface for the presentation layer.
func (c *Coordinator) Status() (Status, error) {
	pending, err := c.db.CountPending()
	if err != nil {
		return Status{}, err
	}
	conflicted, err := c.db.CountConflicted()
	if err != nil {
		return Status{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:             c.state,
		Online:            c.monitor.IsOnline(),
		PendingCount:      pending,
		ConflictCount:     conflicted,
		HasPendingChanges: pending > 0,
		LastSyncAt:        c.lastSyncAt,
		LastError:         c.lastError,
	}, nil
}

// Kick requests a flush soon. Non-blocking; coalesces with a pending kick.
func (c *Coordinator) Kick() {
	select {
	case c.kickCh <- struct{}{}:
	default:
	}
}

// Run drives the state machine until ctx is cancelled: drains on
// connectivity gain, on kicks, and after backoff delays. Transitions follow
// discrete events only; there are no nested callbacks to untangle.
func (c *Coordinator) Run(ctx context.Context) error {
	unsubscribe := c.monitor.Subscribe(func(online bool) {
		select {
		case c.connCh <- online:
		default:
		}
	})
	defer unsubscribe()

	var backoffCh <-chan time.Time
	var backoffTimer *time.Timer
	stopTimer := func() {
		if backoffTimer != nil {
			backoffTimer.Stop()
			backoffTimer = nil
			backoffCh = nil
		}
	}
	defer stopTimer()

	// Flush whatever accumulated while we were not running.
	c.Kick()

	for {
		select {
		case <-ctx.Done():
			c.setState(StateIdle)
			return nil

		case online := <-c.connCh:
			if !online {
				// Offline cancels any scheduled retry; the log stays intact.
				stopTimer()
				c.setState(StateIdle)
				continue
			}
			stopTimer()
			c.drainAndSchedule(ctx, &backoffTimer, &backoffCh)

		case <-c.kickCh:
			c.drainAndSchedule(ctx, &backoffTimer, &backoffCh)

		case <-backoffCh:
			backoffTimer = nil
			backoffCh = nil
			c.drainAndSchedule(ctx, &backoffTimer, &backoffCh)
		}
	}
}

// drainAndSchedule runs one drain pass and, on transient failure, arms the
// backoff timer for the next attempt.
func (c *Coordinator) drainAndSchedule(ctx context.Context, timer **time.Timer, ch *<-chan time.Time) {
	report, err := c.DrainOnce(ctx)
	if err != nil {
		slog.Warn("drain", "err", err)
		return
	}
	if !report.Transient {
		return
	}

	c.mu.Lock()
	c.failures++
	delay := c.backoff.Delay(c.failures)
	c.mu.Unlock()

	c.setState(StateBackoff)
	slog.Debug("sync backoff", "delay", delay)
	*timer = time.NewTimer(delay)
	*ch = (*timer).C
}

// DrainOnce performs one full drain pass: oldest pending entity first, one
// coalesced flush per entity, stopping early when connectivity drops or a
// transient failure suggests the link is bad. Safe to call directly for a
// manual "sync now": entries parked by an earlier transient failure are
// returned to pending first, since a requested drain overrides whatever
// backoff window they were waiting out.
func (c *Coordinator) DrainOnce(ctx context.Context) (*DrainReport, error) {
	report := &DrainReport{}

	if !c.monitor.IsOnline() {
		c.setState(StateIdle)
		return report, nil
	}
	c.setState(StateDraining)
	defer c.setState(StateIdle)

	if n, err := c.db.RequeueTransient(transientReasonPrefix); err != nil {
		return report, fmt.Errorf("requeue transient: %w", err)
	} else if n > 0 {
		slog.Debug("requeued transient entries", "count", n)
	}

	for {
		// Stop issuing new requests the moment the link goes away; whatever
		// is already durable stays pending for the next pass.
		if ctx.Err() != nil || !c.monitor.IsOnline() {
			report.Aborted = true
			return report, nil
		}

		entities, err := c.db.PendingEntities()
		if err != nil {
			return report, fmt.Errorf("list pending entities: %w", err)
		}
		if len(entities) == 0 {
			return report, nil
		}

		transient, err := c.flushEntity(entities[0][0], entities[0][1], report)
		if err != nil {
			return report, err
		}
		if transient {
			report.Transient = true
			return report, nil
		}
	}
}

// flushEntity coalesces and sends one entity's pending entries. Returns
// transient=true when the pass should stop and back off.
func (c *Coordinator) flushEntity(entityType, entityID string, report *DrainReport) (bool, error) {
	entries, err := c.db.ListPending(entityType, entityID)
	if err != nil {
		return false, fmt.Errorf("list pending %s/%s: %w", entityType, entityID, err)
	}
	if len(entries) == 0 {
		return false, nil // raced with a resolution; nothing to do
	}

	flush, err := CoalesceForFlush(entries)
	if err != nil {
		return false, fmt.Errorf("coalesce %s/%s: %w", entityType, entityID, err)
	}

	if flush.LocalOnly {
		return false, c.consumeLocalOnly(flush, report)
	}

	// Retry budget check before spending another attempt.
	for _, e := range entries {
		if e.AttemptCount >= c.maxAttempts {
			return false, c.stallFlush(flush, report)
		}
	}

	if _, err := c.db.MarkInFlight(flush.EntryIDs); err != nil {
		return false, fmt.Errorf("mark in-flight: %w", err)
	}

	res, err := c.client.Apply(flush.Operation, flush.EntityType, flush.EntityID, &syncclient.MutationRequest{
		EntryID:     flush.KeyID,
		ClientID:    c.clientID,
		BaseVersion: flush.BaseVersion,
		Patch:       flush.Patch,
	})

	switch {
	case err == nil && !res.Conflict:
		return false, c.confirmFlush(flush, res, report, db.OutcomeApplied)

	case err == nil && res.Conflict:
		return c.resolveFlush(flush, res, report)

	case errors.Is(err, syncclient.ErrTransient):
		c.failTransient(flush, err)
		return true, nil

	default:
		c.failPermanent(flush, err, report)
		return false, nil
	}
}

// confirmFlush finishes a successful flush: applied → reconcile → prune.
func (c *Coordinator) confirmFlush(flush *Flush, res *syncclient.MutationResult, report *DrainReport, outcome string) error {
	if _, err := c.db.MarkApplied(flush.EntryIDs); err != nil {
		return fmt.Errorf("mark applied: %w", err)
	}

	snap := &models.Snapshot{
		EntityType: flush.EntityType,
		EntityID:   flush.EntityID,
		Version:    res.Version,
	}
	if flush.Operation != models.OpDelete && len(res.Snapshot) > 0 {
		if err := json.Unmarshal(res.Snapshot, &snap.Fields); err != nil {
			return fmt.Errorf("unmarshal snapshot %s/%s: %w", flush.EntityType, flush.EntityID, err)
		}
	}
	if err := c.proj.Reconcile(snap, flush.EntryIDs); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	c.recordHistory(flush, outcome, "", res.Version)

	now := time.Now().UTC()
	c.mu.Lock()
	c.lastSyncAt = &now
	c.lastError = ""
	c.failures = 0 // any success resets the backoff curve
	c.mu.Unlock()

	if outcome == db.OutcomeMerged {
		report.Merged += len(flush.EntryIDs)
	} else {
		report.Applied += len(flush.EntryIDs)
	}
	slog.Debug("flush applied", "entity", flush.EntityType+"/"+flush.EntityID,
		"entries", len(flush.EntryIDs), "version", res.Version)
	return nil
}

// consumeLocalOnly finishes a create-then-delete flush that cancels out
// before reaching the server: the entries are applied and pruned with no
// request issued.
func (c *Coordinator) consumeLocalOnly(flush *Flush, report *DrainReport) error {
	if _, err := c.db.MarkInFlight(flush.EntryIDs); err != nil {
		return fmt.Errorf("mark in-flight: %w", err)
	}
	if _, err := c.db.MarkApplied(flush.EntryIDs); err != nil {
		return fmt.Errorf("mark applied: %w", err)
	}
	if err := c.db.PruneApplied(flush.EntryIDs); err != nil {
		return fmt.Errorf("prune: %w", err)
	}

	c.recordHistory(flush, db.OutcomeApplied, "cancelled before flush", 0)
	report.Applied += len(flush.EntryIDs)
	slog.Debug("flush cancelled locally", "entity", flush.EntityType+"/"+flush.EntityID,
		"entries", len(flush.EntryIDs))
	return nil
}

// resolveFlush handles a 409 via the resolver policy.
func (c *Coordinator) resolveFlush(flush *Flush, res *syncclient.MutationResult, report *DrainReport) (bool, error) {
	resolution := c.resolver.Resolve(flush, res.Snapshot, res.Version)

	if resolution.Verdict == VerdictConflict {
		if err := c.db.MarkConflicted(flush.EntryIDs, res.Snapshot, res.Version); err != nil {
			return false, fmt.Errorf("mark conflicted: %w", err)
		}
		c.recordHistory(flush, db.OutcomeConflicted,
			fmt.Sprintf("fields: %v", resolution.ConflictFields), res.Version)
		report.Conflicted += len(flush.EntryIDs)
		slog.Debug("flush conflicted", "entity", flush.EntityType+"/"+flush.EntityID,
			"fields", resolution.ConflictFields)
		return false, nil
	}

	// Apply or auto-merge: resend once against the server's current version.
	retry, err := c.client.Apply(flush.Operation, flush.EntityType, flush.EntityID, &syncclient.MutationRequest{
		EntryID:     flush.KeyID,
		ClientID:    c.clientID,
		BaseVersion: res.Version,
		Patch:       resolution.Patch,
	})
	switch {
	case err == nil && !retry.Conflict:
		outcome := db.OutcomeApplied
		if resolution.Verdict == VerdictMerge {
			outcome = db.OutcomeMerged
		}
		return false, c.confirmFlush(flush, retry, report, outcome)

	case err == nil && retry.Conflict:
		// The entity moved again between our two requests. Park it; the
		// next resolution sees the freshest server state.
		if err := c.db.MarkConflicted(flush.EntryIDs, retry.Snapshot, retry.Version); err != nil {
			return false, fmt.Errorf("mark conflicted: %w", err)
		}
		c.recordHistory(flush, db.OutcomeConflicted, "entity changed during merge", retry.Version)
		report.Conflicted += len(flush.EntryIDs)
		return false, nil

	case errors.Is(err, syncclient.ErrTransient):
		c.failTransient(flush, err)
		return true, nil

	default:
		c.failPermanent(flush, err, report)
		return false, nil
	}
}

// failTransient parks the flush as failed with a retriable reason.
func (c *Coordinator) failTransient(flush *Flush, cause error) {
	reason := transientReasonPrefix + cause.Error()
	for _, id := range flush.EntryIDs {
		if err := c.db.MarkFailed(id, reason); err != nil {
			slog.Warn("mark failed", "id", id, "err", err)
		}
	}
	c.mu.Lock()
	c.lastError = cause.Error()
	c.mu.Unlock()
	slog.Debug("flush failed (transient)", "entity", flush.EntityType+"/"+flush.EntityID, "err", cause)
}

// failPermanent parks the flush as terminally failed. The payload stays in
// the log for manual re-entry; other entities keep draining.
func (c *Coordinator) failPermanent(flush *Flush, cause error, report *DrainReport) {
	for _, id := range flush.EntryIDs {
		if err := c.db.MarkFailed(id, cause.Error()); err != nil {
			slog.Warn("mark failed", "id", id, "err", err)
		}
	}
	c.recordHistory(flush, db.OutcomeFailed, cause.Error(), 0)
	report.Failed += len(flush.EntryIDs)

	c.mu.Lock()
	c.lastError = cause.Error()
	c.mu.Unlock()
	slog.Warn("flush rejected", "entity", flush.EntityType+"/"+flush.EntityID, "err", cause)
}

// stallFlush parks entries that exhausted their retry budget.
func (c *Coordinator) stallFlush(flush *Flush, report *DrainReport) error {
	if _, err := c.db.MarkInFlight(flush.EntryIDs); err != nil {
		return fmt.Errorf("mark in-flight: %w", err)
	}
	for _, id := range flush.EntryIDs {
		if err := c.db.MarkFailed(id, ErrSyncStalled.Error()); err != nil {
			slog.Warn("mark failed", "id", id, "err", err)
		}
	}
	c.recordHistory(flush, db.OutcomeFailed, ErrSyncStalled.Error(), 0)
	report.Failed += len(flush.EntryIDs)

	c.mu.Lock()
	c.lastError = ErrSyncStalled.Error()
	c.mu.Unlock()
	slog.Warn("flush stalled", "entity", flush.EntityType+"/"+flush.EntityID, "attempts", c.maxAttempts)
	return nil
}

func (c *Coordinator) recordHistory(flush *Flush, outcome, detail string, version int64) {
	entries := make([]db.SyncHistoryEntry, 0, len(flush.EntryIDs))
	for _, id := range flush.EntryIDs {
		entries = append(entries, db.SyncHistoryEntry{
			EntryID:       id,
			EntityType:    flush.EntityType,
			EntityID:      flush.EntityID,
			Operation:     string(flush.Operation),
			Outcome:       outcome,
			Detail:        detail,
			ServerVersion: version,
		})
	}
	if err := c.db.RecordSyncHistory(entries); err != nil {
		slog.Warn("record sync history", "err", err)
	}
}
