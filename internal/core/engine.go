package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"PositionVault/internal/custody"
	"PositionVault/internal/event"
	"PositionVault/internal/ledger"
	"PositionVault/internal/observability"
	"PositionVault/internal/platform"
	"PositionVault/internal/vault"
)

// Checkpointer captures and restores the runtime state behind the vault
// service.
type Checkpointer interface {
	Export() platform.State
	Restore(st platform.State) error
	StateDigest() [32]byte
}

// Processor is the single-writer command pipeline in front of the vault
// service. Commands are applied one at a time in sequence order.
type Processor struct {
	mu sync.Mutex

	sequence     int64
	hasher       *StateHasher
	vaultProgram solana.PublicKey
	service      *vault.Service
	state        Checkpointer
	idempotency  *IdempotencyChecker
	metrics      *observability.Metrics
	logger       zerolog.Logger

	persistChan chan<- CoreOutput
	publishChan chan<- CoreOutput
}

type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch
	StateDelta []byte
}

// Outcome is what a caller learns about one processed command.
type Outcome struct {
	Sequence  int64
	Duplicate bool
	StateHash [32]byte
	Result    any
}

type ProcessorConfig struct {
	VaultProgram solana.PublicKey
	Service      *vault.Service
	State        Checkpointer
	DBChecker    DBIdempotencyChecker
	LRUCapacity  int
	PersistChan  chan<- CoreOutput
	PublishChan  chan<- CoreOutput
	Metrics      *observability.Metrics
	Logger       zerolog.Logger
}

func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.LRUCapacity <= 0 {
		cfg.LRUCapacity = 1_000_000
	}
	return &Processor{
		hasher:       NewStateHasher(),
		vaultProgram: cfg.VaultProgram,
		service:      cfg.Service,
		state:        cfg.State,
		idempotency:  NewIdempotencyChecker(cfg.LRUCapacity, cfg.DBChecker, cfg.Metrics, cfg.Logger),
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		persistChan:  cfg.PersistChan,
		publishChan:  cfg.PublishChan,
	}
}

// Process applies one command. A duplicate is acknowledged without touching
// state. Rejected commands leave no trace in the log.
func (c *Processor) Process(ctx context.Context, evt event.Event) (*Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.process(ctx, evt, true)
}

func (c *Processor) process(ctx context.Context, evt event.Event, emit bool) (*Outcome, error) {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Shape validation
	if err := event.Validate(evt); err != nil {
		c.reject(eventType, "malformed")
		return nil, fmt.Errorf("%s: %w", eventType, err)
	}

	// Step 2: Idempotency check (two-tier)
	if c.idempotency.IsDuplicate(ctx, eventType, idempotencyKey) {
		c.reject(eventType, "duplicate")
		return &Outcome{Sequence: -1, Duplicate: true, StateHash: c.hasher.GetPrevHash()}, nil
	}

	// Step 3: Dispatch to the vault service
	batch, result, err := c.dispatch(ctx, evt)
	if err != nil {
		if errors.Is(err, vault.ErrInvariantViolated) {
			panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
		}
		c.reject(eventType, vault.CategoryOf(err).String())
		return nil, err
	}

	// Step 4: State digest over the batch's closing balances and the full
	// runtime state (pools, positions, vault records)
	stateDigest := computeStateDigest(batch)
	if c.state != nil {
		full := c.state.StateDigest()
		stateDigest = append(stateDigest, full[:]...)
	}

	// Step 5: Hash chain
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

	// Step 6: Envelope
	payload, err := event.Encode(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: encode committed command: %v", err))
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		panic(fmt.Sprintf("FATAL: encode command result: %v", err))
	}
	vaultAddr, _, err := custody.Derive(c.vaultProgram, evt.VaultNonce())
	if err != nil {
		panic(fmt.Sprintf("FATAL: derive custody for committed command: %v", err))
	}

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		Vault:          vaultAddr,
		Timestamp:      evt.OccurredAt(),
		Payload:        payload,
		Result:         resultJSON,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	output := CoreOutput{
		Envelope:   envelope,
		Batch:      batch,
		StateDelta: stateDigest,
	}
	outcome := &Outcome{Sequence: c.sequence, StateHash: stateHash, Result: result}
	c.sequence++

	// Step 7: Emit. Persist is a blocking send so no committed command is
	// lost; publish drops when full.
	if emit {
		if c.persistChan != nil {
			if c.metrics != nil && len(c.persistChan) == cap(c.persistChan) {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistChan <- output
		}
		if c.publishChan != nil {
			select {
			case c.publishChan <- output:
			default:
				if c.metrics != nil {
					c.metrics.PublishDrops.Inc()
				}
			}
		}
	}

	// Step 8: Mark as processed
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		for _, j := range batch.Journals {
			c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		}
		c.recordVaultMetrics(result)
	}

	c.logger.Debug().
		Int64("sequence", envelope.Sequence).
		Str("event_type", eventType).
		Str("key", idempotencyKey).
		Str("vault", vaultAddr.String()).
		Msg("command applied")

	return outcome, nil
}

func (c *Processor) dispatch(ctx context.Context, evt event.Event) (*ledger.Batch, any, error) {
	inv := vault.Invocation{
		Signer:    evt.Caller(),
		Ref:       evt.IdempotencyKey(),
		Timestamp: evt.OccurredAt().UnixMicro(),
	}

	switch e := evt.(type) {
	case *event.InitializeVault:
		res, err := c.service.Initialize(ctx, inv, vault.InitializeRequest{
			AMMProgramID:        e.AMMProgramID,
			PoolID:              e.PoolID,
			PositionMint:        e.PositionMint,
			ClaimMint:           e.ClaimMint,
			CustodyClaimAccount: e.CustodyClaimAccount,
			CustodyNonce:        e.Nonce,
		})
		if err != nil {
			return nil, nil, err
		}
		return res.Batch, res, nil
	case *event.DepositPosition:
		res, err := c.service.Deposit(ctx, inv, vault.DepositRequest{
			CustodyNonce: e.Nonce,
			PositionMint: e.PositionMint,
		})
		if err != nil {
			return nil, nil, err
		}
		return res.Batch, res, nil
	case *event.WithdrawLiquidity:
		res, err := c.service.Withdraw(ctx, inv, vault.WithdrawRequest{
			CustodyNonce: e.Nonce,
			Amount:       e.Amount,
			MinOut:       e.MinOut,
		})
		if err != nil {
			return nil, nil, err
		}
		return res.Batch, res, nil
	default:
		return nil, nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

func (c *Processor) reject(eventType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

func (c *Processor) recordVaultMetrics(result any) {
	switch r := result.(type) {
	case *vault.DepositResult:
		c.metrics.VaultDeposits.Inc()
		c.metrics.VaultClaimsMinted.Add(float64(r.Minted))
	case *vault.WithdrawResult:
		c.metrics.VaultWithdrawals.Inc()
		c.metrics.VaultClaimsBurned.Add(float64(r.Burned))
		if r.PositionReleased {
			c.metrics.VaultReleases.Inc()
		}
	}
}

// computeStateDigest creates canonical bytes for the state hash from the
// closing balance of every account the batch touched.
func computeStateDigest(batch *ledger.Batch) []byte {
	if batch == nil || len(batch.Closing) == 0 {
		return nil
	}

	// Sort by AccountPath (deterministic string ordering)
	accounts := make([]ledger.AccountKey, 0, len(batch.Closing))
	for key := range batch.Closing {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*128)
	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, path...)
		digest = appendInt64LE(digest, batch.Closing[key])
	}
	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// --- Snapshot Restore & Replay ---

// SnapshotState is the serializable processor state.
type SnapshotState struct {
	Sequence        int64          `json:"sequence"`
	StateHash       [32]byte       `json:"state_hash"`
	Platform        platform.State `json:"platform"`
	IdempotencyKeys []string       `json:"idempotency_keys"`
}

// CreateSnapshotState captures the current state between commands.
func (c *Processor) CreateSnapshotState() *SnapshotState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &SnapshotState{
		Sequence:        c.sequence - 1, // Last processed sequence
		StateHash:       c.hasher.GetPrevHash(),
		Platform:        c.state.Export(),
		IdempotencyKeys: c.idempotency.lru.Keys(),
	}
}

// RestoreFromSnapshot restores the processor and the runtime from a
// snapshot. The next command gets snap.Sequence+1.
func (c *Processor) RestoreFromSnapshot(snap *SnapshotState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.state.Restore(snap.Platform); err != nil {
		return fmt.Errorf("restore platform: %w", err)
	}
	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(snap.StateHash)
	c.idempotency.lru.WarmFromKeys(snap.IdempotencyKeys)
	return nil
}

// Replay re-applies a logged command without emitting it and checks that it
// lands on the same sequence and state hash.
func (c *Processor) Replay(ctx context.Context, env *event.EventEnvelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if env.Sequence != c.sequence {
		return fmt.Errorf("replay: expected sequence %d, log has %d", c.sequence, env.Sequence)
	}
	evt, err := event.Decode(env.EventType, env.Payload)
	if err != nil {
		return fmt.Errorf("replay seq=%d: %w", env.Sequence, err)
	}
	out, err := c.process(ctx, evt, false)
	if err != nil {
		return fmt.Errorf("replay seq=%d: %w", env.Sequence, err)
	}
	if out.Duplicate {
		return fmt.Errorf("replay seq=%d: key %s already applied", env.Sequence, env.IdempotencyKey)
	}
	if out.StateHash != env.StateHash {
		return fmt.Errorf("replay seq=%d: state hash mismatch, expected %x, got %x", env.Sequence, env.StateHash, out.StateHash)
	}
	return nil
}

// WarmLRU loads recent idempotency keys into the LRU cache.
func (c *Processor) WarmLRU(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the next sequence number to be assigned.
func (c *Processor) GetSequence() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *Processor) GetStateHash() [32]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasher.GetPrevHash()
}
