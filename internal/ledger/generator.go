package ledger

import (
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

// JournalGenerator appends balanced journals for token primitives to one
// batch.
type JournalGenerator struct {
	batch *Batch
}

func NewJournalGenerator(eventRef string, sequence, timestamp int64) *JournalGenerator {
	return &JournalGenerator{
		batch: &Batch{
			BatchID:   uuid.New(),
			EventRef:  eventRef,
			Sequence:  sequence,
			Timestamp: timestamp,
			Journals:  make([]Journal, 0, 4),
		},
	}
}

// GenerateMint issues new supply.
// Moves units: issuance:mint → holder:account
func (jg *JournalGenerator) GenerateMint(mint, account solana.PublicKey, amount int64) Journal {
	return jg.append(
		NewHolderAccountKey(account, mint),
		NewIssuanceAccountKey(mint),
		mint, amount, JournalTypeMint,
	)
}

// GenerateBurn retires supply.
// Moves units: holder:account → issuance:mint
func (jg *JournalGenerator) GenerateBurn(mint, account solana.PublicKey, amount int64) Journal {
	return jg.append(
		NewIssuanceAccountKey(mint),
		NewHolderAccountKey(account, mint),
		mint, amount, JournalTypeBurn,
	)
}

// GenerateTransfer moves units between two holders of the same mint.
func (jg *JournalGenerator) GenerateTransfer(mint, from, to solana.PublicKey, amount int64) Journal {
	return jg.append(
		NewHolderAccountKey(to, mint),
		NewHolderAccountKey(from, mint),
		mint, amount, JournalTypeTransfer,
	)
}

func (jg *JournalGenerator) append(debit, credit AccountKey, mint solana.PublicKey, amount int64, jt JournalType) Journal {
	j := Journal{
		JournalID:     uuid.New(),
		BatchID:       jg.batch.BatchID,
		EventRef:      jg.batch.EventRef,
		Sequence:      jg.batch.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		Mint:          mint,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     jg.batch.Timestamp,
	}
	jg.batch.Journals = append(jg.batch.Journals, j)
	return j
}

// Batch returns the batch being built.
func (jg *JournalGenerator) Batch() *Batch {
	return jg.batch
}
