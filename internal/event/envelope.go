package event

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// EventType discriminator for command payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeInitializeVault
	EventTypeDepositPosition
	EventTypeWithdrawLiquidity
)

// EventEnvelope wraps every committed command in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from the caller
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Custody address of the vault the command targeted
	Vault solana.PublicKey

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// JSON-encoded command, see Encode
	Payload []byte

	// Result of the command as returned to the caller
	Result []byte

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all command payloads implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// VaultNonce returns the custody nonce the command targets
	VaultNonce() Nonce

	// Caller returns the signer of the command
	Caller() solana.PublicKey

	// OccurredAt returns the versioned timestamp supplied by the caller
	OccurredAt() time.Time
}

func (et EventType) String() string {
	switch et {
	case EventTypeInitializeVault:
		return "InitializeVault"
	case EventTypeDepositPosition:
		return "DepositPosition"
	case EventTypeWithdrawLiquidity:
		return "WithdrawLiquidity"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of String.
func ParseEventType(s string) EventType {
	switch s {
	case "InitializeVault":
		return EventTypeInitializeVault
	case "DepositPosition":
		return EventTypeDepositPosition
	case "WithdrawLiquidity":
		return EventTypeWithdrawLiquidity
	default:
		return EventTypeUnknown
	}
}
