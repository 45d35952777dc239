package platform

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	errorsmod "cosmossdk.io/errors"
	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"PositionVault/internal/amm"
	"PositionVault/internal/custody"
	"PositionVault/internal/ledger"
	"PositionVault/internal/vault"
)

// LiquidityInterceptor wraps the AMM as the vault sees it. Used for fault
// injection.
type LiquidityInterceptor func(vault.LiquidityProtocol) vault.LiquidityProtocol

type Option func(*Simulator)

func WithAMMInterceptor(fn LiquidityInterceptor) Option {
	return func(s *Simulator) { s.interceptor = fn }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Simulator) { s.logger = logger }
}

type record struct {
	Owner solana.PublicKey
	Data  []byte
}

// Simulator is a single-node ledger platform. Each unit of work runs under
// an exclusive lock against staged copies of the token ledger, the AMM and
// program records, and is committed as a whole or dropped.
type Simulator struct {
	mu           sync.RWMutex
	slot         int64
	vaultProgram solana.PublicKey
	ledger       *ledger.Ledger
	amm          *amm.Program
	records      map[solana.PublicKey]record
	interceptor  LiquidityInterceptor
	logger       zerolog.Logger
}

func NewSimulator(vaultProgram, ammProgram solana.PublicKey, opts ...Option) *Simulator {
	s := &Simulator{
		vaultProgram: vaultProgram,
		ledger:       ledger.NewLedger(),
		amm:          amm.NewProgram(ammProgram),
		records:      make(map[solana.PublicKey]record),
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Simulator) VaultProgramID() solana.PublicKey {
	return s.vaultProgram
}

func (s *Simulator) AMMProgramID() solana.PublicKey {
	return s.amm.ProgramID()
}

// Slot returns the number of committed units.
func (s *Simulator) Slot() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slot
}

// Execute runs fn as one atomic unit on behalf of inv.Signer.
func (s *Simulator) Execute(ctx context.Context, inv vault.Invocation, fn func(vault.Env) error) (*ledger.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	env := s.newUnitEnv(inv, false)
	if err := fn(env); err != nil {
		return nil, err
	}
	return s.commit(env, inv.Ref)
}

// View runs fn against committed state. Every mutation fails with
// ErrReadOnly.
func (s *Simulator) View(ctx context.Context, fn func(vault.Env) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(s.newUnitEnv(vault.Invocation{}, true))
}

// Tx gives caller-side setup direct access to the staged ledger and AMM.
type Tx struct {
	Ledger *ledger.Unit
	AMM    *amm.Program
}

// Submit runs caller-side setup (mints, pools, positions, funding) as one
// atomic unit. Authorities are taken at face value.
func (s *Simulator) Submit(ctx context.Context, ref string, fn func(*Tx) error) (*ledger.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	env := s.newUnitEnv(vault.Invocation{Ref: ref}, false)
	if err := fn(&Tx{Ledger: env.unit, AMM: env.amm}); err != nil {
		return nil, err
	}
	return s.commit(env, ref)
}

func (s *Simulator) newUnitEnv(inv vault.Invocation, readOnly bool) *unitEnv {
	env := &unitEnv{
		sim:      s,
		readOnly: readOnly,
		signer:   inv.Signer,
		signers:  make(map[solana.PublicKey]struct{}),
		unit:     s.ledger.Begin(inv.Ref, s.slot+1, inv.Timestamp),
		overlay:  make(map[solana.PublicKey]record),
	}
	if readOnly {
		env.amm = s.amm
	} else {
		env.amm = s.amm.Clone()
	}
	if !inv.Signer.IsZero() {
		env.signers[inv.Signer] = struct{}{}
	}
	return env
}

// commit is called with the write lock held.
func (s *Simulator) commit(env *unitEnv, ref string) (*ledger.Batch, error) {
	batch, err := env.unit.Commit()
	if err != nil {
		return nil, fmt.Errorf("commit %s: %w", ref, err)
	}

	s.amm = env.amm
	for addr, rec := range env.overlay {
		s.records[addr] = rec
	}
	s.slot++

	s.logger.Debug().
		Int64("slot", s.slot).
		Str("ref", ref).
		Int("journals", len(batch.Journals)).
		Int("records", len(env.overlay)).
		Msg("unit committed")
	return batch, nil
}

// ============================================================================
// Snapshot state
// ============================================================================

type RecordState struct {
	Address solana.PublicKey `json:"address"`
	Owner   solana.PublicKey `json:"owner"`
	Data    []byte           `json:"data"`
}

// State is the full serializable platform state.
type State struct {
	Slot    int64         `json:"slot"`
	Ledger  ledger.State  `json:"ledger"`
	AMM     amm.State     `json:"amm"`
	Records []RecordState `json:"records"`
}

func (s *Simulator) Export() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exportLocked()
}

func (s *Simulator) exportLocked() State {
	st := State{
		Slot:    s.slot,
		Ledger:  s.ledger.Export(),
		AMM:     s.amm.Export(),
		Records: make([]RecordState, 0, len(s.records)),
	}
	for addr, rec := range s.records {
		st.Records = append(st.Records, RecordState{Address: addr, Owner: rec.Owner, Data: rec.Data})
	}
	sort.Slice(st.Records, func(i, j int) bool {
		return bytes.Compare(st.Records[i].Address[:], st.Records[j].Address[:]) < 0
	})
	return st
}

// Restore replaces all state with st.
func (s *Simulator) Restore(st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := ledger.NewLedger()
	if err := l.Restore(st.Ledger); err != nil {
		return fmt.Errorf("restore ledger: %w", err)
	}
	prog := amm.NewProgram(s.amm.ProgramID())
	if err := prog.Restore(st.AMM); err != nil {
		return fmt.Errorf("restore amm: %w", err)
	}
	records := make(map[solana.PublicKey]record, len(st.Records))
	for _, r := range st.Records {
		records[r.Address] = record{Owner: r.Owner, Data: r.Data}
	}

	s.ledger = l
	s.amm = prog
	s.records = records
	s.slot = st.Slot
	return nil
}

// StateDigest is SHA-256 over the canonical encoding of all committed state.
func (s *Simulator) StateDigest() [32]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := json.Marshal(s.exportLocked())
	if err != nil {
		panic(fmt.Sprintf("FATAL: encode platform state: %v", err))
	}
	return sha256.Sum256(data)
}

// ============================================================================
// Unit environment
// ============================================================================

type unitEnv struct {
	sim      *Simulator
	readOnly bool
	signer   solana.PublicKey
	signers  map[solana.PublicKey]struct{}
	unit     *ledger.Unit
	amm      *amm.Program
	overlay  map[solana.PublicKey]record
}

func (e *unitEnv) ProgramID() solana.PublicKey { return e.sim.vaultProgram }
func (e *unitEnv) Signer() solana.PublicKey    { return e.signer }

func (e *unitEnv) Sign(proof custody.Proof) (solana.PublicKey, error) {
	if e.readOnly {
		return solana.PublicKey{}, ErrReadOnly
	}
	if !proof.ProgramID.Equals(e.sim.vaultProgram) {
		return solana.PublicKey{}, errorsmod.Wrapf(ErrForeignProof, "program %s", proof.ProgramID)
	}
	addr, err := proof.Address()
	if err != nil {
		return solana.PublicKey{}, err
	}
	e.signers[addr] = struct{}{}
	return addr, nil
}

func (e *unitEnv) signed(authority solana.PublicKey) error {
	if e.readOnly {
		return ErrReadOnly
	}
	if _, ok := e.signers[authority]; !ok {
		return errorsmod.Wrapf(ErrMissingSignature, "%s", authority)
	}
	return nil
}

func (e *unitEnv) Ledger() vault.TokenLedger {
	return &signedLedger{env: e}
}

func (e *unitEnv) Liquidity() vault.LiquidityProtocol {
	var lp vault.LiquidityProtocol = &boundAMM{env: e}
	if e.sim.interceptor != nil {
		lp = e.sim.interceptor(lp)
	}
	return lp
}

func (e *unitEnv) State() vault.StateStore {
	return &recordStore{env: e}
}

// signedLedger gates authority-bearing calls on the unit's signers.
type signedLedger struct {
	env *unitEnv
}

func (l *signedLedger) CreateAccount(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	if l.env.readOnly {
		return solana.PublicKey{}, ErrReadOnly
	}
	return l.env.unit.CreateAccount(owner, mint)
}

func (l *signedLedger) CreateMint(address solana.PublicKey, decimals uint8, authority solana.PublicKey) error {
	if l.env.readOnly {
		return ErrReadOnly
	}
	return l.env.unit.CreateMint(address, decimals, authority)
}

func (l *signedLedger) MintTo(mint, account solana.PublicKey, amount uint64, authority solana.PublicKey) error {
	if err := l.env.signed(authority); err != nil {
		return err
	}
	return l.env.unit.MintTo(mint, account, amount, authority)
}

func (l *signedLedger) Burn(account solana.PublicKey, amount uint64, authority solana.PublicKey) error {
	if err := l.env.signed(authority); err != nil {
		return err
	}
	return l.env.unit.Burn(account, amount, authority)
}

func (l *signedLedger) Transfer(from, to solana.PublicKey, amount uint64, authority solana.PublicKey) error {
	if err := l.env.signed(authority); err != nil {
		return err
	}
	return l.env.unit.Transfer(from, to, amount, authority)
}

func (l *signedLedger) BalanceOf(account solana.PublicKey) uint64 {
	return l.env.unit.BalanceOf(account)
}

func (l *signedLedger) TotalSupply(mint solana.PublicKey) uint64 {
	return l.env.unit.TotalSupply(mint)
}

func (l *signedLedger) Account(address solana.PublicKey) (ledger.TokenAccount, bool) {
	return l.env.unit.Account(address)
}

func (l *signedLedger) Mint(address solana.PublicKey) (ledger.Mint, bool) {
	return l.env.unit.Mint(address)
}

// boundAMM binds the staged AMM to the unit's ledger. The AMM signs for its
// own pool accounts; the position authority must have signed the unit.
type boundAMM struct {
	env *unitEnv
}

func (a *boundAMM) ProgramID() solana.PublicKey {
	return a.env.amm.ProgramID()
}

func (a *boundAMM) GetPool(pool solana.PublicKey) (amm.Pool, error) {
	return a.env.amm.GetPool(pool)
}

func (a *boundAMM) GetPosition(positionMint solana.PublicKey) (amm.Position, error) {
	return a.env.amm.GetPosition(positionMint)
}

func (a *boundAMM) DecreaseLiquidity(req amm.DecreaseLiquidityRequest) (amm.Amounts, error) {
	if err := a.env.signed(req.Authority); err != nil {
		return amm.Amounts{}, err
	}
	return a.env.amm.DecreaseLiquidity(a.env.unit, req)
}

// recordStore holds JSON records owned by the vault program.
type recordStore struct {
	env *unitEnv
}

func (r *recordStore) Load(address solana.PublicKey, v any) (bool, error) {
	rec, ok := r.env.overlay[address]
	if !ok {
		rec, ok = r.env.sim.records[address]
	}
	if !ok {
		return false, nil
	}
	if !rec.Owner.Equals(r.env.sim.vaultProgram) {
		return false, errorsmod.Wrapf(ErrRecordOwner, "%s owned by %s", address, rec.Owner)
	}
	if err := json.Unmarshal(rec.Data, v); err != nil {
		return false, errorsmod.Wrapf(ErrRecordCodec, "decode %s: %v", address, err)
	}
	return true, nil
}

func (r *recordStore) Store(address solana.PublicKey, v any) error {
	if r.env.readOnly {
		return ErrReadOnly
	}
	if existing, ok := r.env.sim.records[address]; ok && !existing.Owner.Equals(r.env.sim.vaultProgram) {
		return errorsmod.Wrapf(ErrRecordOwner, "%s owned by %s", address, existing.Owner)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return errorsmod.Wrapf(ErrRecordCodec, "encode %s: %v", address, err)
	}
	r.env.overlay[address] = record{Owner: r.env.sim.vaultProgram, Data: data}
	return nil
}
