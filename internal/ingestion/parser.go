package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"PositionVault/internal/amm"
	"PositionVault/internal/event"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into a
// typed, validated event.Event.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	var (
		evt event.Event
		err error
	)
	switch eventType {
	case "InitializeVault":
		evt, err = parseInitializeVault(raw.Data)
	case "DepositPosition":
		evt, err = parseDepositPosition(raw.Data)
	case "WithdrawLiquidity":
		evt, err = parseWithdrawLiquidity(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
	if err != nil {
		return nil, err
	}
	if err := event.Validate(evt); err != nil {
		return nil, fmt.Errorf("parse %s: %w", eventType, err)
	}
	return evt, nil
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Keys are base58.

type commandHeaderJSON struct {
	RequestID   string `json:"request_id"`
	Signer      string `json:"signer"`
	Nonce       string `json:"nonce"`
	TimestampUs int64  `json:"timestamp_us"`
}

type header struct {
	requestID uuid.UUID
	signer    solana.PublicKey
	nonce     event.Nonce
	timestamp time.Time
}

func (h commandHeaderJSON) parse() (header, error) {
	var out header
	var err error
	if out.requestID, err = uuid.Parse(h.RequestID); err != nil {
		return out, fmt.Errorf("parse request_id: %w", err)
	}
	if out.signer, err = parseKey("signer", h.Signer, false); err != nil {
		return out, err
	}
	if out.nonce, err = event.ParseNonce(h.Nonce); err != nil {
		return out, fmt.Errorf("parse nonce: %w", err)
	}
	if h.TimestampUs <= 0 {
		return out, fmt.Errorf("parse timestamp_us: must be positive")
	}
	out.timestamp = time.UnixMicro(h.TimestampUs).UTC()
	return out, nil
}

// parseKey decodes a base58 address. Optional keys may be empty and decode
// to the zero key.
func parseKey(field, s string, optional bool) (solana.PublicKey, error) {
	if s == "" {
		if optional {
			return solana.PublicKey{}, nil
		}
		return solana.PublicKey{}, fmt.Errorf("parse %s: required", field)
	}
	key, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("parse %s: %w", field, err)
	}
	return key, nil
}

type initializeJSON struct {
	commandHeaderJSON
	AMMProgramID        string `json:"amm_program_id"`
	PoolID              string `json:"pool_id"`
	PositionMint        string `json:"position_mint"`
	ClaimMint           string `json:"claim_mint"`
	CustodyClaimAccount string `json:"custody_claim_account"`
}

func parseInitializeVault(data []byte) (*event.InitializeVault, error) {
	var j initializeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse InitializeVault: %w", err)
	}
	h, err := j.parse()
	if err != nil {
		return nil, err
	}
	evt := &event.InitializeVault{
		RequestID: h.requestID,
		Signer:    h.signer,
		Nonce:     h.nonce,
		Timestamp: h.timestamp,
	}
	if evt.AMMProgramID, err = parseKey("amm_program_id", j.AMMProgramID, false); err != nil {
		return nil, err
	}
	if evt.PoolID, err = parseKey("pool_id", j.PoolID, false); err != nil {
		return nil, err
	}
	if evt.PositionMint, err = parseKey("position_mint", j.PositionMint, true); err != nil {
		return nil, err
	}
	if evt.ClaimMint, err = parseKey("claim_mint", j.ClaimMint, true); err != nil {
		return nil, err
	}
	if evt.CustodyClaimAccount, err = parseKey("custody_claim_account", j.CustodyClaimAccount, true); err != nil {
		return nil, err
	}
	return evt, nil
}

type depositJSON struct {
	commandHeaderJSON
	PositionMint string `json:"position_mint"`
}

func parseDepositPosition(data []byte) (*event.DepositPosition, error) {
	var j depositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse DepositPosition: %w", err)
	}
	h, err := j.parse()
	if err != nil {
		return nil, err
	}
	mint, err := parseKey("position_mint", j.PositionMint, false)
	if err != nil {
		return nil, err
	}
	return &event.DepositPosition{
		RequestID:    h.requestID,
		Signer:       h.signer,
		Nonce:        h.nonce,
		PositionMint: mint,
		Timestamp:    h.timestamp,
	}, nil
}

type withdrawJSON struct {
	commandHeaderJSON
	Amount uint64       `json:"amount"`
	MinOut *amm.Amounts `json:"min_out"`
}

// parseWithdrawLiquidity keeps a missing min_out as nil; the vault rejects
// it with a precondition error rather than the parser guessing a bound.
func parseWithdrawLiquidity(data []byte) (*event.WithdrawLiquidity, error) {
	var j withdrawJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse WithdrawLiquidity: %w", err)
	}
	h, err := j.parse()
	if err != nil {
		return nil, err
	}
	return &event.WithdrawLiquidity{
		RequestID: h.requestID,
		Signer:    h.signer,
		Nonce:     h.nonce,
		Amount:    j.Amount,
		MinOut:    j.MinOut,
		Timestamp: h.timestamp,
	}, nil
}
