package query

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"PositionVault/internal/core"
)

const (
	DefaultJournalLimit = 100
	MaxJournalLimit     = 500
	maxReportedBreaks   = 10
)

// Service provides read-only access to the persisted command log. Live vault
// state is served by the vault service; this is the audit path.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// ListJournals returns journal entries newest first.
func (s *Service) ListJournals(ctx context.Context, f JournalFilter) ([]JournalEntry, error) {
	query, args := buildJournalQuery(f)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list journals: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Mint, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetLogInfo reports the log head and the latest verified snapshot.
func (s *Service) GetLogInfo(ctx context.Context) (*LogInfo, error) {
	info := &LogInfo{LastSequence: -1, LastSnapshotSequence: -1}

	if err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence), -1), COUNT(*) FROM vault_log.events
	`).Scan(&info.LastSequence, &info.EventCount); err != nil {
		return nil, fmt.Errorf("event log head: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM vault_log.journal
	`).Scan(&info.JournalCount); err != nil {
		return nil, fmt.Errorf("journal count: %w", err)
	}

	var createdAt time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT sequence, created_at FROM vault_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC LIMIT 1
	`).Scan(&info.LastSnapshotSequence, &createdAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("latest snapshot: %w", err)
	default:
		info.LastSnapshotAt = createdAt
	}
	return info, nil
}

// VerifyIntegrity walks the stored hash chain: the first command must link to
// the genesis hash, every later one to its predecessor, with no gaps.
func (s *Service) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	breaks, err := s.int64Column(ctx, `
		SELECT e1.sequence
		FROM vault_log.events e1
		JOIN vault_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		ORDER BY e1.sequence
		LIMIT $1
	`, maxReportedBreaks)
	if err != nil {
		return nil, fmt.Errorf("hash chain: %w", err)
	}
	report.HashChainBreaks = breaks

	gaps, err := s.int64Column(ctx, `
		SELECT e1.sequence + 1
		FROM vault_log.events e1
		LEFT JOIN vault_log.events e2 ON e2.sequence = e1.sequence + 1
		WHERE e2.sequence IS NULL
		  AND e1.sequence < (SELECT MAX(sequence) FROM vault_log.events)
		ORDER BY e1.sequence
		LIMIT $1
	`, maxReportedBreaks)
	if err != nil {
		return nil, fmt.Errorf("sequence gaps: %w", err)
	}
	report.SequenceGaps = gaps

	var first []byte
	err = s.db.QueryRowContext(ctx, `
		SELECT prev_hash FROM vault_log.events WHERE sequence = 0
	`).Scan(&first)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("genesis link: %w", err)
	default:
		genesis := core.GenesisHash()
		report.GenesisMismatch = !bytes.Equal(first, genesis[:])
	}

	report.IsHealthy = !report.GenesisMismatch &&
		len(report.HashChainBreaks) == 0 &&
		len(report.SequenceGaps) == 0
	return report, nil
}

// --- helpers ---

func (s *Service) int64Column(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ClampLimit applies the journal page size bounds.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultJournalLimit
	}
	if limit > MaxJournalLimit {
		return MaxJournalLimit
	}
	return limit
}

func buildJournalQuery(f JournalFilter) (string, []any) {
	var (
		b    strings.Builder
		args []any
	)
	b.WriteString(`
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, mint, amount, journal_type, timestamp
		FROM vault_log.journal
		WHERE TRUE`)

	if f.Holder != "" {
		args = append(args, "holder:"+f.Holder+":%")
		fmt.Fprintf(&b, " AND (debit_account LIKE $%d OR credit_account LIKE $%d)", len(args), len(args))
	}
	if f.Mint != "" {
		args = append(args, f.Mint)
		fmt.Fprintf(&b, " AND mint = $%d", len(args))
	}
	if f.BeforeSequence > 0 {
		args = append(args, f.BeforeSequence)
		fmt.Fprintf(&b, " AND sequence < $%d", len(args))
	}

	args = append(args, ClampLimit(f.Limit))
	fmt.Fprintf(&b, " ORDER BY sequence DESC, journal_id LIMIT $%d", len(args))
	return b.String(), args
}
