// Package migration moves a full graph between storage engines through a
// linear state machine: validate both sides, export, validate the export,
// import, verify, and roll back the target on failure when asked to.
package migration

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/engramdb/engram/infrastructure/persistence/abstractions"
	pkgerrors "github.com/engramdb/engram/pkg/errors"
	"github.com/engramdb/engram/pkg/observability"
)

// Phase names the state machine steps, in order
type Phase string

const (
	PhaseValidatingSource      Phase = "validating_source"
	PhaseValidatingTarget      Phase = "validating_target"
	PhaseCheckingCompatibility Phase = "checking_compatibility"
	PhaseExporting             Phase = "exporting"
	PhaseValidatingExport      Phase = "validating_export"
	PhaseDryRunDone            Phase = "dry_run_done"
	PhaseImporting             Phase = "importing"
	PhaseVerifying             Phase = "verifying"
	PhaseDone                  Phase = "done"
	PhaseRollingBack           Phase = "rolling_back"
	PhaseFailed                Phase = "failed"
)

// Result reports what a migration run did
type Result struct {
	Phase                 Phase         `json:"phase"`
	MemoriesMigrated      int64         `json:"memories_migrated"`
	RelationshipsMigrated int64         `json:"relationships_migrated"`
	MemoriesSkipped       int64         `json:"memories_skipped"`
	RelationshipsSkipped  int64         `json:"relationships_skipped"`
	Warnings              []string      `json:"warnings,omitempty"`
	DryRun                bool          `json:"dry_run"`
	Duration              time.Duration `json:"duration"`
}

// Manager orchestrates migrations between two connected-or-connectable
// engines
type Manager struct {
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewManager creates a migration manager
func NewManager(logger *zap.Logger, metrics *observability.Metrics) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{logger: logger, metrics: metrics}
}

// Migrate runs the full state machine. The returned Result reflects the
// terminal phase even when an error is returned; after a successful
// rollback the phase is Failed and the original error comes back.
func (m *Manager) Migrate(ctx context.Context, source, target abstractions.GraphStore, opts Options) (*Result, error) {
	opts = opts.normalized()
	started := time.Now()
	result := &Result{DryRun: opts.DryRun}

	fail := func(err error) (*Result, error) {
		result.Duration = time.Since(started)
		return result, err
	}

	m.enterPhase(result, PhaseValidatingSource)
	if err := m.validateStore(ctx, source, "source"); err != nil {
		return fail(err)
	}

	m.enterPhase(result, PhaseValidatingTarget)
	if err := m.validateStore(ctx, target, "target"); err != nil {
		return fail(err)
	}

	m.enterPhase(result, PhaseCheckingCompatibility)
	result.Warnings = append(result.Warnings, m.compareCapabilities(source, target)...)

	m.enterPhase(result, PhaseExporting)
	archive, err := Export(ctx, source, opts.BatchSize)
	if err != nil {
		return fail(err)
	}
	m.countBatches("export", archive, opts.BatchSize)

	m.enterPhase(result, PhaseValidatingExport)
	if err := archive.Validate(); err != nil {
		return fail(err)
	}

	if opts.DryRun {
		m.enterPhase(result, PhaseDryRunDone)
		result.MemoriesMigrated = archive.Integrity.MemoryCount
		result.RelationshipsMigrated = archive.Integrity.RelationshipCount
		result.Duration = time.Since(started)
		return result, nil
	}

	// Schema setup waits until after the dry-run exit so a dry run leaves
	// the target completely untouched.
	if err := target.InitializeSchema(ctx); err != nil {
		return fail(err)
	}

	m.enterPhase(result, PhaseImporting)
	if err := m.importArchive(ctx, target, archive, opts, result); err != nil {
		return m.rollback(ctx, target, opts, result, started, err)
	}

	if opts.Verify {
		m.enterPhase(result, PhaseVerifying)
		if err := m.verify(ctx, target, archive, opts); err != nil {
			return m.rollback(ctx, target, opts, result, started, err)
		}
	}

	m.enterPhase(result, PhaseDone)
	result.Duration = time.Since(started)
	return result, nil
}

// Restore imports an archive into a store, reusing the import and
// verification machinery of a migration
func (m *Manager) Restore(ctx context.Context, target abstractions.GraphStore, archive *Archive, opts Options) (*Result, error) {
	opts = opts.normalized()
	started := time.Now()
	result := &Result{DryRun: opts.DryRun}

	m.enterPhase(result, PhaseValidatingTarget)
	if err := m.validateStore(ctx, target, "target"); err != nil {
		result.Duration = time.Since(started)
		return result, err
	}

	m.enterPhase(result, PhaseValidatingExport)
	if err := archive.Validate(); err != nil {
		result.Duration = time.Since(started)
		return result, err
	}

	if opts.DryRun {
		m.enterPhase(result, PhaseDryRunDone)
		result.MemoriesMigrated = archive.Integrity.MemoryCount
		result.RelationshipsMigrated = archive.Integrity.RelationshipCount
		result.Duration = time.Since(started)
		return result, nil
	}

	if err := target.InitializeSchema(ctx); err != nil {
		result.Duration = time.Since(started)
		return result, err
	}

	m.enterPhase(result, PhaseImporting)
	if err := m.importArchive(ctx, target, archive, opts, result); err != nil {
		return m.rollback(ctx, target, opts, result, started, err)
	}

	if opts.Verify {
		m.enterPhase(result, PhaseVerifying)
		if err := m.verify(ctx, target, archive, opts); err != nil {
			return m.rollback(ctx, target, opts, result, started, err)
		}
	}

	m.enterPhase(result, PhaseDone)
	result.Duration = time.Since(started)
	return result, nil
}

func (m *Manager) enterPhase(result *Result, phase Phase) {
	result.Phase = phase
	m.logger.Info("migration phase", zap.String("phase", string(phase)))
	if m.metrics != nil {
		m.metrics.MigrationPhases.WithLabelValues(string(phase)).Inc()
	}
}

func (m *Manager) validateStore(ctx context.Context, store abstractions.GraphStore, role string) error {
	if store == nil {
		return pkgerrors.NewValidationError(role + " store is not configured")
	}
	if err := store.Connect(ctx); err != nil {
		return pkgerrors.Wrap(err, "connect "+role)
	}
	health, err := store.HealthCheck(ctx)
	if err != nil {
		return pkgerrors.Wrap(err, "health check "+role)
	}
	if !health.Connected {
		return pkgerrors.NewConnectionError(health.Engine,
			fmt.Errorf("%s store reports unhealthy", role))
	}
	return nil
}

// compareCapabilities never fails the run; a weaker target degrades, it does
// not block
func (m *Manager) compareCapabilities(source, target abstractions.GraphStore) []string {
	var warnings []string
	if source.SupportsFullTextSearch() && !target.SupportsFullTextSearch() {
		warnings = append(warnings, "target engine has no full-text search; search will degrade")
	}
	if source.SupportsTransactions() && !target.SupportsTransactions() {
		warnings = append(warnings, "target engine has no transactions; concurrent write guarantees weaken")
	}
	for _, w := range warnings {
		m.logger.Warn("capability mismatch", zap.String("warning", w))
	}
	return warnings
}

func (m *Manager) importArchive(ctx context.Context, target abstractions.GraphStore, archive *Archive, opts Options, result *Result) error {
	// Memories first so every relationship endpoint exists when the
	// relationship arrives.
	for start := 0; start < len(archive.Payload.Memories); start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > len(archive.Payload.Memories) {
			end = len(archive.Payload.Memories)
		}
		for _, memory := range archive.Payload.Memories[start:end] {
			if opts.SkipDuplicates {
				if _, err := target.GetMemory(ctx, memory.ID); err == nil {
					result.MemoriesSkipped++
					continue
				} else if !pkgerrors.IsNotFound(err) {
					return err
				}
			}
			if err := target.SaveMemory(ctx, memory); err != nil {
				return err
			}
			result.MemoriesMigrated++
			m.countRecord("import", "memory")
		}
		m.countBatch("import")
	}

	for start := 0; start < len(archive.Payload.Relationships); start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > len(archive.Payload.Relationships) {
			end = len(archive.Payload.Relationships)
		}
		for _, rel := range archive.Payload.Relationships[start:end] {
			if opts.SkipDuplicates {
				if _, err := target.GetRelationship(ctx, rel.ID); err == nil {
					result.RelationshipsSkipped++
					continue
				} else if !pkgerrors.IsNotFound(err) {
					return err
				}
			}
			if err := target.SaveRelationship(ctx, rel); err != nil {
				return err
			}
			result.RelationshipsMigrated++
			m.countRecord("import", "relationship")
		}
		m.countBatch("import")
	}
	return nil
}

// verify requires the target to hold exactly the archive's counts, then
// compares a random sample of memories field-by-field against the archive
func (m *Manager) verify(ctx context.Context, target abstractions.GraphStore, archive *Archive, opts Options) error {
	memories, err := target.CountMemories(ctx)
	if err != nil {
		return err
	}
	if memories != archive.Integrity.MemoryCount {
		return pkgerrors.NewIntegrityError(fmt.Sprintf(
			"verification failed: target holds %d memories, expected exactly %d",
			memories, archive.Integrity.MemoryCount))
	}
	relationships, err := target.CountRelationships(ctx)
	if err != nil {
		return err
	}
	if relationships != archive.Integrity.RelationshipCount {
		return pkgerrors.NewIntegrityError(fmt.Sprintf(
			"verification failed: target holds %d relationships, expected exactly %d",
			relationships, archive.Integrity.RelationshipCount))
	}

	sample := opts.SampleSize
	if sample > len(archive.Payload.Memories) {
		sample = len(archive.Payload.Memories)
	}
	for _, index := range rand.Perm(len(archive.Payload.Memories))[:sample] {
		expected := archive.Payload.Memories[index]
		actual, err := target.GetMemory(ctx, expected.ID)
		if err != nil {
			return pkgerrors.Wrap(err, "verification sample read")
		}
		if !memoriesEqual(expected, actual) {
			return pkgerrors.NewIntegrityError(fmt.Sprintf(
				"verification failed: memory %s differs between archive and target", expected.ID))
		}
	}
	return nil
}

// rollback clears the target and reports the original failure. ClearAll is
// safe to repeat, so a rollback that itself failed can be retried.
func (m *Manager) rollback(ctx context.Context, target abstractions.GraphStore, opts Options, result *Result, started time.Time, cause error) (*Result, error) {
	if !opts.RollbackOnFailure {
		m.enterPhase(result, PhaseFailed)
		result.Duration = time.Since(started)
		return result, cause
	}

	m.enterPhase(result, PhaseRollingBack)
	if rollbackErr := target.ClearAll(ctx); rollbackErr != nil {
		m.logger.Error("rollback failed", zap.Error(rollbackErr))
		m.enterPhase(result, PhaseFailed)
		result.Duration = time.Since(started)
		return result, pkgerrors.Wrapf(cause, "rollback also failed (%v)", rollbackErr)
	}

	m.enterPhase(result, PhaseFailed)
	result.Duration = time.Since(started)
	return result, cause
}

func (m *Manager) countBatch(direction string) {
	if m.metrics != nil {
		m.metrics.MigrationBatches.WithLabelValues(direction).Inc()
	}
}

func (m *Manager) countBatches(direction string, archive *Archive, batchSize int) {
	if m.metrics == nil {
		return
	}
	batches := (len(archive.Payload.Memories) + len(archive.Payload.Relationships) + batchSize - 1) / batchSize
	m.metrics.MigrationBatches.WithLabelValues(direction).Add(float64(batches))
	m.metrics.MigrationRecords.WithLabelValues(direction, "memory").Add(float64(len(archive.Payload.Memories)))
	m.metrics.MigrationRecords.WithLabelValues(direction, "relationship").Add(float64(len(archive.Payload.Relationships)))
}

func (m *Manager) countRecord(direction, kind string) {
	if m.metrics != nil {
		m.metrics.MigrationRecords.WithLabelValues(direction, kind).Inc()
	}
}

// memoriesEqual compares the fields that must survive a migration untouched
func memoriesEqual(a, b interface{}) bool {
	return normalizeForCompare(a) == normalizeForCompare(b)
}

// normalizeForCompare round-trips through canonical JSON so timestamp
// precision quirks between engines do not produce false mismatches
func normalizeForCompare(v interface{}) string {
	canonical, err := canonicalJSON(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(canonical)
}
