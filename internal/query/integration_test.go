package query_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PositionVault/internal/core"
	"PositionVault/internal/event"
	"PositionVault/internal/persistence"
	"PositionVault/internal/platform"
	"PositionVault/internal/query"
	"PositionVault/internal/testutil"
	"PositionVault/internal/vault"
)

// logCommands runs an initialize and a deposit through a processor and
// writes the outputs to the event log.
func logCommands(t *testing.T, ctx context.Context, writer *persistence.EventLogWriter) *platform.Devnet {
	t.Helper()
	vaultProgram := platform.DevnetKey("query-it", "vault")
	ammProgram := platform.DevnetKey("query-it", "amm")
	nonce := event.Nonce{4}

	sim := platform.NewSimulator(vaultProgram, ammProgram)
	dev, err := platform.SeedDevnet(ctx, sim, "query-it", nonce)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	persist := make(chan core.CoreOutput, 8)
	proc := core.NewProcessor(core.ProcessorConfig{
		VaultProgram: vaultProgram,
		Service:      vault.NewService(sim, zerolog.Nop()),
		State:        sim,
		LRUCapacity:  8,
		PersistChan:  persist,
		Logger:       zerolog.Nop(),
	})

	ts := time.UnixMicro(1_700_000_000_000_000).UTC()
	cmds := []event.Event{
		&event.InitializeVault{
			RequestID: uuid.New(), Signer: dev.Admin, Nonce: nonce,
			AMMProgramID: ammProgram, PoolID: dev.Pool.Address, ClaimMint: dev.ClaimMint, Timestamp: ts,
		},
		&event.DepositPosition{
			RequestID: uuid.New(), Signer: dev.Depositor, Nonce: nonce,
			PositionMint: dev.PositionMint, Timestamp: ts.Add(time.Millisecond),
		},
	}
	for _, cmd := range cmds {
		if _, err := proc.Process(ctx, cmd); err != nil {
			t.Fatalf("process %s: %v", cmd.EventType(), err)
		}
		rec := persistence.RecordFromOutput(<-persist)
		if err := writer.WriteBatch(ctx, []persistence.EventRow{rec.EventRow}, rec.JournalRows); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return dev
}

// ============================================================================
// Test: Audit Queries (requires Postgres)
// ============================================================================

func TestIntegration_JournalsAndIntegrity(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	dev := logCommands(t, ctx, persistence.NewEventLogWriter(db))
	svc := query.NewService(db)

	info, err := svc.GetLogInfo(ctx)
	if err != nil {
		t.Fatalf("GetLogInfo: %v", err)
	}
	if info.LastSequence != 1 || info.EventCount != 2 {
		t.Fatalf("log info: %+v", info)
	}
	if info.JournalCount == 0 {
		t.Fatal("expected journals for the deposit")
	}
	if info.LastSnapshotSequence != -1 {
		t.Fatalf("no snapshot expected, got %d", info.LastSnapshotSequence)
	}

	claimAccount := dev.DepositorAccount(dev.ClaimMint)
	journals, err := svc.ListJournals(ctx, query.JournalFilter{Holder: claimAccount.String()})
	if err != nil {
		t.Fatalf("ListJournals: %v", err)
	}
	if len(journals) == 0 {
		t.Fatal("expected journals for the depositor claim account")
	}
	for _, j := range journals {
		if j.Sequence != 1 {
			t.Errorf("depositor journal at sequence %d, want 1", j.Sequence)
		}
	}

	minted, err := svc.ListJournals(ctx, query.JournalFilter{Mint: dev.ClaimMint.String(), Limit: 1})
	if err != nil {
		t.Fatalf("ListJournals by mint: %v", err)
	}
	if len(minted) != 1 || minted[0].JournalType != "mint" {
		t.Fatalf("expected one claim mint journal, got %+v", minted)
	}

	report, err := svc.VerifyIntegrity(ctx)
	if err != nil {
		t.Fatalf("VerifyIntegrity: %v", err)
	}
	if !report.IsHealthy {
		t.Fatalf("expected healthy log, got %+v", report)
	}

	if _, err := db.ExecContext(ctx, `UPDATE vault_log.events SET prev_hash = '\x00' WHERE sequence = 1`); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	report, err = svc.VerifyIntegrity(ctx)
	if err != nil {
		t.Fatalf("VerifyIntegrity: %v", err)
	}
	if report.IsHealthy || len(report.HashChainBreaks) != 1 || report.HashChainBreaks[0] != 1 {
		t.Fatalf("expected break at 1, got %+v", report)
	}
}
