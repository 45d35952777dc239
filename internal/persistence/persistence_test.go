package persistence

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PositionVault/internal/core"
	"PositionVault/internal/event"
	"PositionVault/internal/ledger"
	"PositionVault/migrations"
)

// --- Test helpers ---

func testKey(label string) solana.PublicKey {
	var k solana.PublicKey
	copy(k[:], label)
	return k
}

func testOutput(seq int64) core.CoreOutput {
	mint := testKey("claim-mint")
	holder := testKey("holder")
	batchID := uuid.New()
	env := &event.EventEnvelope{
		Sequence:       seq,
		IdempotencyKey: uuid.NewString(),
		EventType:      event.EventTypeDepositPosition,
		Vault:          testKey("custody"),
		Timestamp:      time.UnixMicro(1_700_000_000_000_000 + seq).UTC(),
		Payload:        []byte(`{"amount":1}`),
		Result:         []byte(`{"minted":1}`),
	}
	env.StateHash[0] = byte(seq + 1)
	env.PrevHash[0] = byte(seq)

	return core.CoreOutput{
		Envelope: env,
		Batch: &ledger.Batch{
			BatchID:  batchID,
			Sequence: 77,
			Journals: []ledger.Journal{{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				EventRef:      env.IdempotencyKey,
				Sequence:      77,
				DebitAccount:  ledger.NewHolderAccountKey(holder, mint),
				CreditAccount: ledger.NewIssuanceAccountKey(mint),
				Mint:          mint,
				Amount:        1,
				JournalType:   ledger.JournalTypeMint,
			}},
		},
	}
}

type fakeWriter struct {
	mu      sync.Mutex
	fails   int
	batches [][]EventRow
	journal int
}

func (f *fakeWriter) WriteBatch(_ context.Context, events []EventRow, journals []JournalRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("connection refused")
	}
	f.batches = append(f.batches, append([]EventRow(nil), events...))
	f.journal += len(journals)
	return nil
}

// ============================================================================
// Test: Row Mapping
// ============================================================================

func TestRecordFromOutput_UsesEventSequence(t *testing.T) {
	out := testOutput(5)
	rec := RecordFromOutput(out)

	if rec.EventRow.Sequence != 5 || rec.EventRow.EventType != "DepositPosition" {
		t.Fatalf("unexpected event row: %+v", rec.EventRow)
	}
	if len(rec.JournalRows) != 1 {
		t.Fatalf("expected 1 journal row, got %d", len(rec.JournalRows))
	}
	j := rec.JournalRows[0]
	if j.Sequence != 5 {
		t.Errorf("journal should reference event sequence 5, got %d", j.Sequence)
	}
	if j.JournalType != "mint" || !strings.HasPrefix(j.DebitAccount, "holder:") {
		t.Errorf("unexpected journal row: %+v", j)
	}
}

func TestEnvelopeFromRow_RoundTrip(t *testing.T) {
	out := testOutput(3)
	env, err := EnvelopeFromRow(RecordFromOutput(out).EventRow)
	if err != nil {
		t.Fatalf("EnvelopeFromRow: %v", err)
	}
	if env.Sequence != 3 || env.EventType != event.EventTypeDepositPosition {
		t.Errorf("unexpected envelope: %+v", env)
	}
	if env.StateHash != out.Envelope.StateHash || env.PrevHash != out.Envelope.PrevHash {
		t.Error("hashes did not survive the round trip")
	}
	if !env.Vault.Equals(out.Envelope.Vault) {
		t.Error("vault did not survive the round trip")
	}
}

func TestEnvelopeFromRow_RejectsBadRows(t *testing.T) {
	good := RecordFromOutput(testOutput(1)).EventRow

	bad := good
	bad.EventType = "Liquidation"
	if _, err := EnvelopeFromRow(bad); err == nil {
		t.Error("unknown event type accepted")
	}

	bad = good
	bad.StateHash = []byte{1}
	if _, err := EnvelopeFromRow(bad); err == nil {
		t.Error("short hash accepted")
	}
}

func TestBuildEventInsert_Placeholders(t *testing.T) {
	rows := []EventRow{RecordFromOutput(testOutput(0)).EventRow, RecordFromOutput(testOutput(1)).EventRow}
	query, args := buildEventInsert(rows)

	if len(args) != 2*eventColumns {
		t.Fatalf("expected %d args, got %d", 2*eventColumns, len(args))
	}
	if !strings.Contains(query, "($10, $11, $12, $13, $14, $15, $16, $17, $18)") {
		t.Errorf("second row placeholders wrong: %s", query)
	}
	if !strings.HasSuffix(query, "ON CONFLICT (sequence) DO NOTHING") {
		t.Errorf("missing conflict clause: %s", query)
	}
}

// ============================================================================
// Test: Migrations
// ============================================================================

func TestListMigrationFiles_Sorted(t *testing.T) {
	files := fstest.MapFS{
		"000002_b.up.sql":   {Data: []byte("SELECT 2")},
		"000001_a.up.sql":   {Data: []byte("SELECT 1")},
		"000001_a.down.sql": {Data: []byte("SELECT 0")},
		"README":            {Data: []byte("x")},
	}
	got, err := listMigrationFiles(files, ".up.sql")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "000001_a.up.sql" || got[1] != "000002_b.up.sql" {
		t.Fatalf("unexpected order: %v", got)
	}
	if v := extractVersion(got[1]); v != "000002" {
		t.Errorf("expected version 000002, got %s", v)
	}
}

func TestEmbeddedMigrations_Paired(t *testing.T) {
	ups, err := listMigrationFiles(migrations.FS, ".up.sql")
	if err != nil {
		t.Fatal(err)
	}
	downs, err := listMigrationFiles(migrations.FS, ".down.sql")
	if err != nil {
		t.Fatal(err)
	}
	if len(ups) == 0 || len(ups) != len(downs) {
		t.Fatalf("expected paired migrations, got %v / %v", ups, downs)
	}
}

// ============================================================================
// Test: Persistence Worker
// ============================================================================

func TestWorker_FlushesOnBatchSizeAndClose(t *testing.T) {
	in := make(chan core.CoreOutput, 8)
	w := &fakeWriter{}
	worker := NewPersistenceWorker(w, in, 2, time.Hour, nil, zerolog.Nop())

	for i := int64(0); i < 3; i++ {
		in <- testOutput(i)
	}
	close(in)

	if err := worker.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(w.batches) != 2 || len(w.batches[0]) != 2 || len(w.batches[1]) != 1 {
		t.Fatalf("unexpected batches: %d", len(w.batches))
	}
	if w.journal != 3 {
		t.Errorf("expected 3 journals written, got %d", w.journal)
	}
}

func TestWorker_RetriesUntilWriteSucceeds(t *testing.T) {
	in := make(chan core.CoreOutput, 1)
	w := &fakeWriter{fails: 3}
	worker := NewPersistenceWorker(w, in, 1, time.Hour, nil, zerolog.Nop()).
		WithBackoff(time.Millisecond, 2*time.Millisecond)

	in <- testOutput(0)
	close(in)

	if err := worker.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(w.batches) != 1 {
		t.Fatalf("expected the batch to land after retries, got %d batches", len(w.batches))
	}
	if w.fails != 0 {
		t.Errorf("expected all failures consumed, %d left", w.fails)
	}
}

func TestWorker_FlushesOnTimeout(t *testing.T) {
	in := make(chan core.CoreOutput, 1)
	w := &fakeWriter{}
	worker := NewPersistenceWorker(w, in, 100, 5*time.Millisecond, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	in <- testOutput(0)
	deadline := time.Now().Add(2 * time.Second)
	for {
		w.mu.Lock()
		n := len(w.batches)
		w.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timeout flush never happened")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
