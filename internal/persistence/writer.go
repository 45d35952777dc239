package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"PositionVault/internal/core"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// EventLogWriter writes events and journals to Postgres using multi-row
// INSERTs inside one transaction per batch.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in vault_log.events
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	Vault          string
	Payload        []byte // JSON-encoded command
	Result         []byte // JSON-encoded result
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
}

// JournalRow represents a row in vault_log.journal
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	Mint          string
	Amount        int64
	JournalType   string
	Timestamp     int64
}

// Record is one committed command in row form.
type Record struct {
	EventRow    EventRow
	JournalRows []JournalRow
}

// RecordFromOutput flattens a core output into rows. Journals carry the
// event's sequence so they join against vault_log.events.
func RecordFromOutput(out core.CoreOutput) Record {
	env := out.Envelope
	rec := Record{
		EventRow: EventRow{
			Sequence:       env.Sequence,
			EventType:      env.EventType.String(),
			IdempotencyKey: env.IdempotencyKey,
			Vault:          env.Vault.String(),
			Payload:        env.Payload,
			Result:         env.Result,
			StateHash:      append([]byte(nil), env.StateHash[:]...),
			PrevHash:       append([]byte(nil), env.PrevHash[:]...),
			Timestamp:      env.Timestamp,
		},
	}
	if out.Batch == nil {
		return rec
	}
	for _, j := range out.Batch.Journals {
		rec.JournalRows = append(rec.JournalRows, JournalRow{
			JournalID:     j.JournalID.String(),
			BatchID:       j.BatchID.String(),
			EventRef:      j.EventRef,
			Sequence:      env.Sequence,
			DebitAccount:  j.DebitAccount.AccountPath(),
			CreditAccount: j.CreditAccount.AccountPath(),
			Mint:          j.Mint.String(),
			Amount:        j.Amount,
			JournalType:   j.JournalType.String(),
			Timestamp:     j.Timestamp,
		})
	}
	return rec
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteBatch writes events and their journals in a single transaction.
func (w *EventLogWriter) WriteBatch(ctx context.Context, events []EventRow, journals []JournalRow) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := WriteEventBatch(ctx, tx, events); err != nil {
		return fmt.Errorf("write events: %w", err)
	}
	if err := WriteJournalBatch(ctx, tx, journals); err != nil {
		return fmt.Errorf("write journals: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// WriteEventBatch writes a batch of events to vault_log.events.
func WriteEventBatch(ctx context.Context, ex execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}
	query, args := buildEventInsert(events)
	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of journal entries to vault_log.journal.
func WriteJournalBatch(ctx context.Context, ex execer, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}
	query, args := buildJournalInsert(journals)
	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

const eventColumns = 9

func buildEventInsert(events []EventRow) (string, []any) {
	values := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*eventColumns)

	for i, e := range events {
		values = append(values, placeholders(i*eventColumns, eventColumns))
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.Vault,
			e.Payload, e.Result, e.StateHash, e.PrevHash, e.Timestamp,
		)
	}

	query := `INSERT INTO vault_log.events
		(sequence, event_type, idempotency_key, vault, payload, result, state_hash, prev_hash, timestamp)
		VALUES ` + strings.Join(values, ", ") +
		" ON CONFLICT (sequence) DO NOTHING" // Idempotent writes
	return query, args
}

const journalColumns = 10

func buildJournalInsert(journals []JournalRow) (string, []any) {
	values := make([]string, 0, len(journals))
	args := make([]any, 0, len(journals)*journalColumns)

	for i, j := range journals {
		values = append(values, placeholders(i*journalColumns, journalColumns))
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.Mint, j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query := `INSERT INTO vault_log.journal
		(journal_id, batch_id, event_ref, sequence, debit_account, credit_account, mint, amount, journal_type, timestamp)
		VALUES ` + strings.Join(values, ", ") +
		" ON CONFLICT (journal_id) DO NOTHING"
	return query, args
}

// placeholders renders "($base+1, ..., $base+n)".
func placeholders(base, n int) string {
	var b strings.Builder
	b.WriteByte('(')
	for k := 1; k <= n; k++ {
		if k > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", base+k)
	}
	b.WriteByte(')')
	return b.String()
}
