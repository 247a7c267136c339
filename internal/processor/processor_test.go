// Package processor tests cover the per-event state machine: dedup,
// validation, enrichment, persist retries, and dead-lettering.
package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/eventflow-io/eventflow/internal/event"
	"github.com/eventflow-io/eventflow/internal/metrics"
	"github.com/eventflow-io/eventflow/internal/storage"
)

// fakeStore implements Store in memory with scriptable failures.
type fakeStore struct {
	processed map[uuid.UUID]*storage.ProcessedRecord
	failed    []*storage.FailedRecord

	existsErr        error
	insertFailures   int // Transient failures before InsertProcessed succeeds
	insertErr        error
	insertFailedErr  error
	insertAttempts   int
	raceOnFirstTry   bool // Simulate another worker winning the unique-index race
}

func newFakeStore() *fakeStore {
	return &fakeStore{processed: make(map[uuid.UUID]*storage.ProcessedRecord)}
}

func (f *fakeStore) ExistsProcessed(_ context.Context, fingerprint uuid.UUID) (bool, error) {
	if f.existsErr != nil {
		return false, f.existsErr
	}

	_, ok := f.processed[fingerprint]

	return ok, nil
}

func (f *fakeStore) InsertProcessed(_ context.Context, record *storage.ProcessedRecord) error {
	f.insertAttempts++

	if f.raceOnFirstTry {
		return fmt.Errorf("%w: %s", storage.ErrDuplicateProcessed, record.Fingerprint)
	}

	if f.insertFailures > 0 {
		f.insertFailures--

		return errors.New("connection reset by peer")
	}

	if f.insertErr != nil {
		return f.insertErr
	}

	if _, ok := f.processed[record.Fingerprint]; ok {
		return fmt.Errorf("%w: %s", storage.ErrDuplicateProcessed, record.Fingerprint)
	}

	f.processed[record.Fingerprint] = record

	return nil
}

func (f *fakeStore) InsertFailed(_ context.Context, record *storage.FailedRecord) error {
	if f.insertFailedErr != nil {
		return f.insertFailedErr
	}

	f.failed = append(f.failed, record)

	return nil
}

// newTestProcessor builds a processor with millisecond backoff so retry
// scenarios finish quickly.
func newTestProcessor(t *testing.T, store Store) *Processor {
	t.Helper()

	cfg := &Config{
		WorkerID:           "worker-test",
		MaxRetries:         3,
		RetryBase:          time.Millisecond,
		RetryMax:           5 * time.Millisecond,
		HighValueThreshold: 1000,
	}

	p, err := New(store, metrics.New(), cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	return p
}

func purchaseEvent(amount float64) *event.Event {
	return &event.Event{
		Fingerprint: uuid.New(),
		Kind:        event.KindPurchase,
		SubjectID:   "user-42",
		OccurredAt:  time.Now().UTC().Add(-time.Minute),
		Properties:  map[string]interface{}{"amount": amount},
	}
}

// ==============================================================================
// Unit Tests: Successful Processing
// ==============================================================================

func TestProcess_Success(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := newFakeStore()
	p := newTestProcessor(t, store)
	ev := purchaseEvent(50)

	outcome, err := p.Process(context.Background(), ev, mustEncode(t, ev))
	if err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	if outcome != OutcomeProcessed {
		t.Errorf("outcome = %q, want %q", outcome, OutcomeProcessed)
	}

	record, ok := store.processed[ev.Fingerprint]
	if !ok {
		t.Fatal("processed record not persisted")
	}

	if record.Status != statusCompleted {
		t.Errorf("status = %q, want %q", record.Status, statusCompleted)
	}

	if record.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0", record.RetryCount)
	}

	if record.Enrichment["worker_id"] != "worker-test" {
		t.Errorf("worker_id = %v, want worker-test", record.Enrichment["worker_id"])
	}

	if record.Enrichment["category"] != categoryStandard {
		t.Errorf("category = %v, want %q", record.Enrichment["category"], categoryStandard)
	}

	if tag, ok := record.Enrichment["tag"]; ok {
		t.Errorf("tag = %v, want no tag on a standard purchase", tag)
	}
}

func TestProcess_HighValuePurchase(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := newFakeStore()
	p := newTestProcessor(t, store)
	ev := purchaseEvent(2500)

	outcome, err := p.Process(context.Background(), ev, mustEncode(t, ev))
	if err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	if outcome != OutcomeProcessed {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeProcessed)
	}

	record := store.processed[ev.Fingerprint]

	if record.Enrichment["category"] != categoryHighValue {
		t.Errorf("category = %v, want %q", record.Enrichment["category"], categoryHighValue)
	}

	if record.Enrichment["tag"] != "high_value" {
		t.Errorf("tag = %v, want high_value", record.Enrichment["tag"])
	}
}

func TestProcess_PageViewSessionStart(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := newFakeStore()
	p := newTestProcessor(t, store)

	ev := &event.Event{
		Fingerprint: uuid.New(),
		Kind:        event.KindPageView,
		OccurredAt:  time.Now().UTC().Add(-time.Second),
		Properties:  map[string]interface{}{"path": "/pricing"},
	}

	outcome, err := p.Process(context.Background(), ev, mustEncode(t, ev))
	if err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	if outcome != OutcomeProcessed {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeProcessed)
	}

	want := ev.OccurredAt.UTC().Format(time.RFC3339Nano)
	if got := store.processed[ev.Fingerprint].Enrichment["session_start"]; got != want {
		t.Errorf("session_start = %v, want %v", got, want)
	}
}

// ==============================================================================
// Unit Tests: Deduplication
// ==============================================================================

func TestProcess_DuplicateFingerprint(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := newFakeStore()
	p := newTestProcessor(t, store)
	ev := purchaseEvent(50)
	payload := mustEncode(t, ev)

	if _, err := p.Process(context.Background(), ev, payload); err != nil {
		t.Fatalf("first Process() failed: %v", err)
	}

	outcome, err := p.Process(context.Background(), ev, payload)
	if err != nil {
		t.Fatalf("second Process() failed: %v", err)
	}

	if outcome != OutcomeDuplicate {
		t.Errorf("outcome = %q, want %q", outcome, OutcomeDuplicate)
	}

	if len(store.processed) != 1 {
		t.Errorf("processed records = %d, want 1", len(store.processed))
	}
}

func TestProcess_LostPersistRace(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := newFakeStore()
	store.raceOnFirstTry = true
	p := newTestProcessor(t, store)
	ev := purchaseEvent(50)

	outcome, err := p.Process(context.Background(), ev, mustEncode(t, ev))
	if err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	if outcome != OutcomeDuplicate {
		t.Errorf("outcome = %q, want %q", outcome, OutcomeDuplicate)
	}

	// The duplicate-key result is terminal: no retries burned on it.
	if store.insertAttempts != 1 {
		t.Errorf("insert attempts = %d, want 1", store.insertAttempts)
	}

	if len(store.failed) != 0 {
		t.Errorf("dead-letter records = %d, want 0", len(store.failed))
	}
}

func TestProcess_DedupLookupError(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := newFakeStore()
	store.existsErr = errors.New("connection refused")
	p := newTestProcessor(t, store)
	ev := purchaseEvent(50)

	outcome, err := p.Process(context.Background(), ev, mustEncode(t, ev))
	if err == nil {
		t.Fatal("Process() should fail when the dedup lookup fails")
	}

	if outcome != OutcomeUnknown {
		t.Errorf("outcome = %q, want %q", outcome, OutcomeUnknown)
	}
}

// ==============================================================================
// Unit Tests: Validation and Rejection
// ==============================================================================

func TestProcess_RejectsInvalidPurchase(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := newFakeStore()
	p := newTestProcessor(t, store)
	ev := purchaseEvent(-10)

	outcome, err := p.Process(context.Background(), ev, mustEncode(t, ev))
	if err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	if outcome != OutcomeRejected {
		t.Errorf("outcome = %q, want %q", outcome, OutcomeRejected)
	}

	if len(store.failed) != 1 {
		t.Fatalf("dead-letter records = %d, want 1", len(store.failed))
	}

	if store.failed[0].RetryCount != 0 {
		t.Errorf("dead-letter retry count = %d, want 0", store.failed[0].RetryCount)
	}

	// Rejection is permanent: no persist attempt happens.
	if store.insertAttempts != 0 {
		t.Errorf("insert attempts = %d, want 0", store.insertAttempts)
	}
}

func TestProcess_RejectsSignupWithoutSubject(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := newFakeStore()
	p := newTestProcessor(t, store)

	ev := &event.Event{
		Fingerprint: uuid.New(),
		Kind:        event.KindUserSignup,
		OccurredAt:  time.Now().UTC().Add(-time.Second),
		Properties:  map[string]interface{}{},
	}

	outcome, err := p.Process(context.Background(), ev, mustEncode(t, ev))
	if err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	if outcome != OutcomeRejected {
		t.Errorf("outcome = %q, want %q", outcome, OutcomeRejected)
	}
}

func TestProcess_RejectsFutureOccurredAt(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := newFakeStore()
	p := newTestProcessor(t, store)
	ev := purchaseEvent(50)
	ev.OccurredAt = time.Now().UTC().Add(time.Hour)

	outcome, err := p.Process(context.Background(), ev, mustEncode(t, ev))
	if err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	if outcome != OutcomeRejected {
		t.Errorf("outcome = %q, want %q", outcome, OutcomeRejected)
	}
}

func TestProcess_DeadLetterWriteFailurePropagates(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := newFakeStore()
	store.insertFailedErr = errors.New("disk full")
	p := newTestProcessor(t, store)
	ev := purchaseEvent(-10)

	outcome, err := p.Process(context.Background(), ev, mustEncode(t, ev))
	if err == nil {
		t.Fatal("Process() should fail when the dead-letter write fails")
	}

	if outcome != OutcomeUnknown {
		t.Errorf("outcome = %q, want %q", outcome, OutcomeUnknown)
	}
}

// ==============================================================================
// Unit Tests: Persist Retries and Dead-Lettering
// ==============================================================================

func TestProcess_RetriesTransientPersistFailure(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := newFakeStore()
	store.insertFailures = 2
	p := newTestProcessor(t, store)
	ev := purchaseEvent(50)

	outcome, err := p.Process(context.Background(), ev, mustEncode(t, ev))
	if err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	if outcome != OutcomeProcessed {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeProcessed)
	}

	if store.insertAttempts != 3 {
		t.Errorf("insert attempts = %d, want 3", store.insertAttempts)
	}

	if got := store.processed[ev.Fingerprint].RetryCount; got != 2 {
		t.Errorf("retry count = %d, want 2", got)
	}
}

func TestProcess_DeadLettersAfterRetryBudget(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := newFakeStore()
	store.insertFailures = 10 // More than the budget allows
	p := newTestProcessor(t, store)
	ev := purchaseEvent(50)

	outcome, err := p.Process(context.Background(), ev, mustEncode(t, ev))
	if err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	if outcome != OutcomeDeadLetter {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeDeadLetter)
	}

	if store.insertAttempts != 3 {
		t.Errorf("insert attempts = %d, want 3", store.insertAttempts)
	}

	if len(store.failed) != 1 {
		t.Fatalf("dead-letter records = %d, want 1", len(store.failed))
	}

	if store.failed[0].RetryCount != 3 {
		t.Errorf("dead-letter retry count = %d, want 3", store.failed[0].RetryCount)
	}
}

func TestProcess_CancelledContextLeavesEntryPending(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := newFakeStore()
	store.insertFailures = 10
	p := newTestProcessor(t, store)
	ev := purchaseEvent(50)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := p.Process(ctx, ev, mustEncode(t, ev))
	if err == nil {
		t.Fatal("Process() should fail when the context is cancelled mid-retry")
	}

	if outcome != OutcomeUnknown {
		t.Errorf("outcome = %q, want %q", outcome, OutcomeUnknown)
	}

	if len(store.failed) != 0 {
		t.Errorf("dead-letter records = %d, want 0", len(store.failed))
	}
}

// ==============================================================================
// Unit Tests: Configuration
// ==============================================================================

func TestConfigValidate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{
			name: "valid",
			cfg:  Config{MaxRetries: 3, RetryBase: time.Second, RetryMax: 10 * time.Second},
		},
		{
			name:    "zero retries",
			cfg:     Config{MaxRetries: 0, RetryBase: time.Second, RetryMax: 10 * time.Second},
			wantErr: ErrInvalidMaxRetries,
		},
		{
			name:    "inverted window",
			cfg:     Config{MaxRetries: 3, RetryBase: 10 * time.Second, RetryMax: time.Second},
			wantErr: ErrInvalidRetryWindow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// ==============================================================================
// Unit Tests: Rules Overlay
// ==============================================================================

func TestProcess_RulesOverlay(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rulesFile := filepath.Join(t.TempDir(), "rules.yaml")

	content := "high_value_threshold: 100\nkind_tags:\n  custom:\n    - experimental\n"
	if err := os.WriteFile(rulesFile, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write rules file: %v", err)
	}

	store := newFakeStore()
	cfg := &Config{
		WorkerID:           "worker-test",
		MaxRetries:         3,
		RetryBase:          time.Millisecond,
		RetryMax:           5 * time.Millisecond,
		HighValueThreshold: 1000,
		RulesFile:          rulesFile,
	}

	p, err := New(store, metrics.New(), cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	// The overlay threshold (100) beats the configured default (1000).
	ev := purchaseEvent(250)

	if _, err := p.Process(context.Background(), ev, mustEncode(t, ev)); err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	if got := store.processed[ev.Fingerprint].Enrichment["category"]; got != categoryHighValue {
		t.Errorf("category = %v, want %q", got, categoryHighValue)
	}

	custom := &event.Event{
		Fingerprint: uuid.New(),
		Kind:        event.KindCustom,
		OccurredAt:  time.Now().UTC().Add(-time.Second),
		Properties:  map[string]interface{}{},
	}

	if _, err := p.Process(context.Background(), custom, mustEncode(t, custom)); err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	tags, ok := store.processed[custom.Fingerprint].Enrichment["tags"].([]string)
	if !ok || len(tags) != 1 || tags[0] != "experimental" {
		t.Errorf("tags = %v, want [experimental]", store.processed[custom.Fingerprint].Enrichment["tags"])
	}
}

func TestLoadRules_MissingFile(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	if _, err := LoadRules(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("LoadRules() should fail for a missing file")
	}
}

func mustEncode(t *testing.T, ev *event.Event) []byte {
	t.Helper()

	payload, err := ev.Encode()
	if err != nil {
		t.Fatalf("failed to encode event: %v", err)
	}

	return payload
}
