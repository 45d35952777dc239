package query

import "time"

// JournalEntry is one vault_log.journal row for API queries.
type JournalEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Mint          string `json:"mint"`
	Amount        int64  `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// JournalFilter narrows ListJournals. Zero fields match everything.
type JournalFilter struct {
	Holder         string // base58 token account; matches holder:<account>:* on either side
	Mint           string
	BeforeSequence int64 // exclusive cursor, 0 = from the head
	Limit          int
}

// LogInfo summarizes the persisted command log.
type LogInfo struct {
	LastSequence         int64     `json:"last_sequence"`
	EventCount           int64     `json:"event_count"`
	JournalCount         int64     `json:"journal_count"`
	LastSnapshotSequence int64     `json:"last_snapshot_sequence"`
	LastSnapshotAt       time.Time `json:"last_snapshot_at,omitempty"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	GenesisMismatch bool    `json:"genesis_mismatch,omitempty"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	SequenceGaps    []int64 `json:"sequence_gaps,omitempty"`
}
