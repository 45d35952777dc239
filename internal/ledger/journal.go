package ledger

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeMint JournalType = iota
	JournalTypeBurn
	JournalTypeTransfer
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeMint:
		return "mint"
	case JournalTypeBurn:
		return "burn"
	case JournalTypeTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID        // Unique identifier
	BatchID       uuid.UUID        // Groups balanced entries
	EventRef      string           // Idempotency key of source command
	Sequence      int64            // Platform slot the batch committed in
	DebitAccount  AccountKey       // Account receiving debit (balance increases)
	CreditAccount AccountKey       // Account receiving credit (balance decreases)
	Mint          solana.PublicKey // Token being moved
	Amount        int64            // ALWAYS positive
	JournalType   JournalType
	Timestamp     int64 // Versioned input timestamp (epoch microseconds)
}

// Batch represents a balanced set of journal entries committed as one unit.
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal

	// Closing holds the post-commit balance of every account the batch
	// touched. Filled by Unit.Commit.
	Closing map[AccountKey]int64
}

// Validate ensures the batch is well-formed.
// Each journal is a balanced transfer by construction (a single positive
// amount moves from credit account to debit account), so the batch is
// balanced per entry.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		// Both legs must move the same token
		if !j.DebitAccount.Mint.Equals(j.Mint) || !j.CreditAccount.Mint.Equals(j.Mint) {
			return fmt.Errorf("journal %s mixes mints", j.JournalID)
		}
	}

	return nil
}

// IsEmpty reports whether the batch moved no tokens.
func (b *Batch) IsEmpty() bool {
	return b == nil || len(b.Journals) == 0
}
