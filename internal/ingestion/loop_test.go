package ingestion_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"PositionVault/internal/core"
	"PositionVault/internal/event"
	"PositionVault/internal/ingestion"
	"PositionVault/internal/platform"
	"PositionVault/internal/vault"
)

type stubProcessor struct {
	err  error
	seen []event.Event
}

func (s *stubProcessor) Process(_ context.Context, evt event.Event) (*core.Outcome, error) {
	s.seen = append(s.seen, evt)
	if s.err != nil {
		return nil, s.err
	}
	return &core.Outcome{Sequence: int64(len(s.seen) - 1)}, nil
}

type settled struct {
	acks, naks int
}

func depositRaw(t *testing.T, s *settled, data []byte) ingestion.RawEvent {
	t.Helper()
	if data == nil {
		payload := header()
		payload["position_mint"] = position
		var err error
		if data, err = json.Marshal(payload); err != nil {
			t.Fatalf("marshal: %v", err)
		}
	}
	return ingestion.RawEvent{
		Subject:   "vault.commands.deposit.2",
		EventType: "DepositPosition",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() { s.acks++ },
		NakFunc:   func() { s.naks++ },
	}
}

func runLoop(t *testing.T, proc ingestion.CommandProcessor, raws ...ingestion.RawEvent) {
	t.Helper()
	in := make(chan ingestion.RawEvent, len(raws))
	for _, r := range raws {
		in <- r
	}
	close(in)
	if err := ingestion.NewLoop(in, proc, nil, zerolog.Nop()).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
}

// ============================================================================
// Ingestion loop settlement
// ============================================================================

func TestLoop_AcksCommitted(t *testing.T) {
	var s settled
	proc := &stubProcessor{}
	runLoop(t, proc, depositRaw(t, &s, nil))

	if len(proc.seen) != 1 {
		t.Fatalf("processed: got %d, want 1", len(proc.seen))
	}
	if s.acks != 1 || s.naks != 0 {
		t.Fatalf("settlement: acks=%d naks=%d", s.acks, s.naks)
	}
}

func TestLoop_AcksMalformedWithoutProcessing(t *testing.T) {
	var s settled
	proc := &stubProcessor{}
	runLoop(t, proc, depositRaw(t, &s, []byte("{")))

	if len(proc.seen) != 0 {
		t.Fatalf("malformed command reached the processor")
	}
	if s.acks != 1 {
		t.Fatalf("acks: got %d, want 1", s.acks)
	}
}

func TestLoop_AcksTerminalRejection(t *testing.T) {
	var s settled
	proc := &stubProcessor{err: errorsmod.Wrap(vault.ErrInsufficientBalance, "burn")}
	runLoop(t, proc, depositRaw(t, &s, nil))

	if s.acks != 1 || s.naks != 0 {
		t.Fatalf("settlement: acks=%d naks=%d", s.acks, s.naks)
	}
}

func TestLoop_AcksExternalFailure(t *testing.T) {
	var s settled
	proc := &stubProcessor{err: errorsmod.Wrap(vault.ErrExternalCallFailed, "decrease liquidity")}
	runLoop(t, proc, depositRaw(t, &s, nil))

	if s.acks != 1 || s.naks != 0 {
		t.Fatalf("settlement: acks=%d naks=%d", s.acks, s.naks)
	}
}

func TestLoop_NaksInterrupted(t *testing.T) {
	var s settled
	proc := &stubProcessor{err: fmt.Errorf("deposit: %w", context.Canceled)}
	runLoop(t, proc, depositRaw(t, &s, nil))

	if s.acks != 0 || s.naks != 1 {
		t.Fatalf("settlement: acks=%d naks=%d", s.acks, s.naks)
	}
}

func TestLoop_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ingestion.NewLoop(make(chan ingestion.RawEvent), &stubProcessor{}, nil, zerolog.Nop()).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// ============================================================================
// Outbound publisher
// ============================================================================

type recordedPublish struct {
	subject string
	data    []byte
}

type fakeStream struct {
	published []recordedPublish
	fail      bool
}

func (f *fakeStream) Publish(_ context.Context, subject string, data []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.fail {
		return nil, fmt.Errorf("nats: no responders")
	}
	f.published = append(f.published, recordedPublish{subject: subject, data: data})
	return &jetstream.PubAck{Stream: ingestion.EventStream, Sequence: uint64(len(f.published))}, nil
}

func output(seq int64) core.CoreOutput {
	return core.CoreOutput{Envelope: &event.EventEnvelope{
		Sequence:       seq,
		IdempotencyKey: requestID,
		EventType:      event.EventTypeDepositPosition,
		Vault:          platform.DevnetKey("ingest", "custody"),
		Timestamp:      time.UnixMicro(1700000000000000).UTC(),
		Payload:        []byte(`{"amount":1}`),
		Result:         []byte(`{"minted":1000000}`),
		StateHash:      [32]byte{0xab},
	}}
}

func TestPublisher_SubjectAndBody(t *testing.T) {
	stream := &fakeStream{}
	in := make(chan core.CoreOutput, 1)
	in <- output(7)
	close(in)

	if err := ingestion.NewOutboundPublisher(stream, in, nil, zerolog.Nop()).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(stream.published) != 1 {
		t.Fatalf("published: got %d, want 1", len(stream.published))
	}

	vaultAddr := platform.DevnetKey("ingest", "custody").String()
	want := "vault.events.depositposition." + vaultAddr
	if stream.published[0].subject != want {
		t.Errorf("subject: got %s, want %s", stream.published[0].subject, want)
	}

	var got ingestion.PublishableEvent
	if err := json.Unmarshal(stream.published[0].data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Sequence != 7 || got.EventType != "DepositPosition" || got.Vault != vaultAddr {
		t.Errorf("unexpected body: %+v", got)
	}
	if !strings.HasPrefix(got.StateHash, "ab00") {
		t.Errorf("state hash: got %s", got.StateHash)
	}
	if string(got.Result) != `{"minted":1000000}` {
		t.Errorf("result: got %s", got.Result)
	}
}

func TestPublisher_FailureIsNotFatal(t *testing.T) {
	stream := &fakeStream{fail: true}
	in := make(chan core.CoreOutput, 2)
	in <- output(0)
	in <- output(1)
	close(in)

	if err := ingestion.NewOutboundPublisher(stream, in, nil, zerolog.Nop()).Run(context.Background()); err != nil {
		t.Fatalf("publish failure should not stop the loop: %v", err)
	}
}
