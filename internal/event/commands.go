package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"

	"PositionVault/internal/amm"
)

// Nonce is a custody nonce, base58 on the wire.
type Nonce []byte

func (n Nonce) String() string {
	return base58.Encode(n)
}

func (n Nonce) MarshalText() ([]byte, error) {
	return []byte(base58.Encode(n)), nil
}

func (n *Nonce) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*n = nil
		return nil
	}
	b, err := base58.Decode(string(text))
	if err != nil {
		return fmt.Errorf("decode nonce: %w", err)
	}
	*n = b
	return nil
}

// ParseNonce decodes a base58 nonce.
func ParseNonce(s string) (Nonce, error) {
	var n Nonce
	if err := n.UnmarshalText([]byte(s)); err != nil {
		return nil, err
	}
	return n, nil
}

type InitializeVault struct {
	RequestID           uuid.UUID        `json:"request_id"`
	Signer              solana.PublicKey `json:"signer"`
	Nonce               Nonce            `json:"nonce"`
	AMMProgramID        solana.PublicKey `json:"amm_program_id"`
	PoolID              solana.PublicKey `json:"pool_id"`
	PositionMint        solana.PublicKey `json:"position_mint"`
	ClaimMint           solana.PublicKey `json:"claim_mint"`
	CustodyClaimAccount solana.PublicKey `json:"custody_claim_account"`
	Timestamp           time.Time        `json:"timestamp"`
}

func (e *InitializeVault) IdempotencyKey() string { return e.RequestID.String() }
func (e *InitializeVault) EventType() EventType { return EventTypeInitializeVault }
func (e *InitializeVault) VaultNonce() Nonce { return e.Nonce }
func (e *InitializeVault) Caller() solana.PublicKey { return e.Signer }
func (e *InitializeVault) OccurredAt() time.Time { return e.Timestamp }

type DepositPosition struct {
	RequestID    uuid.UUID        `json:"request_id"`
	Signer       solana.PublicKey `json:"signer"`
	Nonce        Nonce            `json:"nonce"`
	PositionMint solana.PublicKey `json:"position_mint"`
	Timestamp    time.Time        `json:"timestamp"`
}

func (e *DepositPosition) IdempotencyKey() string { return e.RequestID.String() }
func (e *DepositPosition) EventType() EventType { return EventTypeDepositPosition }
func (e *DepositPosition) VaultNonce() Nonce { return e.Nonce }
func (e *DepositPosition) Caller() solana.PublicKey { return e.Signer }
func (e *DepositPosition) OccurredAt() time.Time { return e.Timestamp }

type WithdrawLiquidity struct {
	RequestID uuid.UUID        `json:"request_id"`
	Signer    solana.PublicKey `json:"signer"`
	Nonce     Nonce            `json:"nonce"`
	Amount    uint64           `json:"amount"`
	MinOut    *amm.Amounts     `json:"min_out,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

func (e *WithdrawLiquidity) IdempotencyKey() string { return e.RequestID.String() }
func (e *WithdrawLiquidity) EventType() EventType { return EventTypeWithdrawLiquidity }
func (e *WithdrawLiquidity) VaultNonce() Nonce { return e.Nonce }
func (e *WithdrawLiquidity) Caller() solana.PublicKey { return e.Signer }
func (e *WithdrawLiquidity) OccurredAt() time.Time { return e.Timestamp }

// Encode serializes a command for the event log.
func Encode(evt Event) ([]byte, error) {
	return json.Marshal(evt)
}

// Decode rebuilds a command from its logged type and payload.
func Decode(et EventType, payload []byte) (Event, error) {
	var evt Event
	switch et {
	case EventTypeInitializeVault:
		evt = &InitializeVault{}
	case EventTypeDepositPosition:
		evt = &DepositPosition{}
	case EventTypeWithdrawLiquidity:
		evt = &WithdrawLiquidity{}
	default:
		return nil, fmt.Errorf("unknown event type: %d", et)
	}
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", et, err)
	}
	return evt, nil
}

// Validate checks the fields every command needs before it reaches the core.
func Validate(evt Event) error {
	if evt.IdempotencyKey() == uuid.Nil.String() {
		return errors.New("missing request_id")
	}
	if evt.Caller().IsZero() {
		return errors.New("missing signer")
	}
	if len(evt.VaultNonce()) == 0 {
		return errors.New("missing nonce")
	}
	if evt.OccurredAt().IsZero() {
		return errors.New("missing timestamp")
	}
	return nil
}
