package event_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"PositionVault/internal/amm"
	"PositionVault/internal/event"
)

func TestNonce_Base58OnTheWire(t *testing.T) {
	cmd := &event.WithdrawLiquidity{
		RequestID: uuid.MustParse("8a3b7c1e-0000-4000-8000-000000000001"),
		Signer:    solana.TokenProgramID,
		Nonce:     event.Nonce{0, 0, 1},
		Amount:    42,
		MinOut:    &amm.Amounts{A: 1, B: 2},
		Timestamp: time.UnixMicro(1_700_000_000_000_000).UTC(),
	}

	data, err := event.Encode(cmd)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(data), `"nonce":"112"`) {
		t.Fatalf("nonce not base58 encoded: %s", data)
	}

	back, err := event.Decode(event.EventTypeWithdrawLiquidity, data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := back.(*event.WithdrawLiquidity)
	if string(got.Nonce) != string(cmd.Nonce) || got.Amount != 42 || got.MinOut.B != 2 {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestParseNonce_RejectsInvalid(t *testing.T) {
	if _, err := event.ParseNonce("0OIl"); err == nil {
		t.Fatal("expected invalid base58 to fail")
	}

	var cmd event.DepositPosition
	if err := json.Unmarshal([]byte(`{"nonce":"0"}`), &cmd); err == nil {
		t.Fatal("expected invalid nonce in payload to fail")
	}
}

func TestDecode_UnknownType(t *testing.T) {
	if _, err := event.Decode(event.EventTypeUnknown, []byte(`{}`)); err == nil {
		t.Fatal("expected unknown event type to fail")
	}
}

func TestValidate_RequiredFields(t *testing.T) {
	valid := func() *event.DepositPosition {
		return &event.DepositPosition{
			RequestID: uuid.New(),
			Signer:    solana.TokenProgramID,
			Nonce:     event.Nonce{1},
			Timestamp: time.UnixMicro(1),
		}
	}

	if err := event.Validate(valid()); err != nil {
		t.Fatalf("valid command rejected: %v", err)
	}

	cases := map[string]func(*event.DepositPosition){
		"request_id": func(c *event.DepositPosition) { c.RequestID = uuid.Nil },
		"signer":     func(c *event.DepositPosition) { c.Signer = solana.PublicKey{} },
		"nonce":      func(c *event.DepositPosition) { c.Nonce = nil },
		"timestamp":  func(c *event.DepositPosition) { c.Timestamp = time.Time{} },
	}
	for name, mutate := range cases {
		cmd := valid()
		mutate(cmd)
		if err := event.Validate(cmd); err == nil {
			t.Errorf("missing %s accepted", name)
		}
	}
}

func TestEventType_StringRoundTrip(t *testing.T) {
	for _, et := range []event.EventType{
		event.EventTypeInitializeVault,
		event.EventTypeDepositPosition,
		event.EventTypeWithdrawLiquidity,
	} {
		if got := event.ParseEventType(et.String()); got != et {
			t.Errorf("ParseEventType(%q) = %v", et.String(), got)
		}
	}
}
