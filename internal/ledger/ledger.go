package ledger

import (
	"bytes"
	"fmt"
	"math"
	"sort"

	errorsmod "cosmossdk.io/errors"
	"github.com/gagliardetto/solana-go"
)

// Ledger is the committed token book: mint and account registries plus the
// double-entry balances. Not thread-safe; the platform runtime serializes
// access.
type Ledger struct {
	tracker   *BalanceTracker
	validator *InvariantValidator
	mints     map[solana.PublicKey]Mint
	accounts  map[solana.PublicKey]TokenAccount
}

func NewLedger() *Ledger {
	tracker := NewBalanceTracker()
	return &Ledger{
		tracker:   tracker,
		validator: NewInvariantValidator(tracker),
		mints:     make(map[solana.PublicKey]Mint),
		accounts:  make(map[solana.PublicKey]TokenAccount),
	}
}

// Begin opens a staged unit. Nothing it does is visible until Commit.
func (l *Ledger) Begin(eventRef string, sequence, timestamp int64) *Unit {
	return &Unit{
		ledger:   l,
		gen:      NewJournalGenerator(eventRef, sequence, timestamp),
		delta:    make(map[AccountKey]int64),
		mints:    make(map[solana.PublicKey]Mint),
		accounts: make(map[solana.PublicKey]TokenAccount),
	}
}

func (l *Ledger) BalanceOf(account solana.PublicKey) uint64 {
	acct, ok := l.accounts[account]
	if !ok {
		return 0
	}
	return toUint64(l.tracker.GetBalance(NewHolderAccountKey(acct.Address, acct.Mint)))
}

func (l *Ledger) TotalSupply(mint solana.PublicKey) uint64 {
	return toUint64(l.tracker.GetSupply(mint))
}

func (l *Ledger) Account(address solana.PublicKey) (TokenAccount, bool) {
	a, ok := l.accounts[address]
	return a, ok
}

func (l *Ledger) Mint(address solana.PublicKey) (Mint, bool) {
	m, ok := l.mints[address]
	return m, ok
}

// Validator exposes the invariant checks over committed balances.
func (l *Ledger) Validator() *InvariantValidator {
	return l.validator
}

// State is the serializable form of the committed ledger.
type State struct {
	Mints    []Mint           `json:"mints"`
	Accounts []TokenAccount   `json:"accounts"`
	Balances map[string]int64 `json:"balances"`
}

// Export returns the committed ledger in canonical order.
func (l *Ledger) Export() State {
	st := State{
		Mints:    make([]Mint, 0, len(l.mints)),
		Accounts: make([]TokenAccount, 0, len(l.accounts)),
		Balances: make(map[string]int64),
	}
	for _, m := range l.mints {
		st.Mints = append(st.Mints, m)
	}
	for _, a := range l.accounts {
		st.Accounts = append(st.Accounts, a)
	}
	sort.Slice(st.Mints, func(i, j int) bool {
		return bytes.Compare(st.Mints[i].Address[:], st.Mints[j].Address[:]) < 0
	})
	sort.Slice(st.Accounts, func(i, j int) bool {
		return bytes.Compare(st.Accounts[i].Address[:], st.Accounts[j].Address[:]) < 0
	})
	for key, bal := range l.tracker.Snapshot() {
		if bal != 0 {
			st.Balances[key.AccountPath()] = bal
		}
	}
	return st
}

// Restore replaces the committed ledger with st.
func (l *Ledger) Restore(st State) error {
	balances := make(map[AccountKey]int64, len(st.Balances))
	for path, bal := range st.Balances {
		key, err := ParseAccountPath(path)
		if err != nil {
			return err
		}
		balances[key] = bal
	}

	l.mints = make(map[solana.PublicKey]Mint, len(st.Mints))
	for _, m := range st.Mints {
		l.mints[m.Address] = m
	}
	l.accounts = make(map[solana.PublicKey]TokenAccount, len(st.Accounts))
	for _, a := range st.Accounts {
		l.accounts[a.Address] = a
	}
	l.tracker.Restore(balances)

	return l.validator.ValidateGlobalBalance()
}

// Unit stages token operations for one atomic unit of work.
type Unit struct {
	ledger   *Ledger
	gen      *JournalGenerator
	delta    map[AccountKey]int64
	mints    map[solana.PublicKey]Mint
	accounts map[solana.PublicKey]TokenAccount
	done     bool
}

func (u *Unit) Mint(address solana.PublicKey) (Mint, bool) {
	if m, ok := u.mints[address]; ok {
		return m, true
	}
	return u.ledger.Mint(address)
}

func (u *Unit) Account(address solana.PublicKey) (TokenAccount, bool) {
	if a, ok := u.accounts[address]; ok {
		return a, true
	}
	return u.ledger.Account(address)
}

func (u *Unit) balance(key AccountKey) int64 {
	return u.ledger.tracker.GetBalance(key) + u.delta[key]
}

// BalanceOf returns the staged balance of a token account, 0 if missing.
func (u *Unit) BalanceOf(account solana.PublicKey) uint64 {
	acct, ok := u.Account(account)
	if !ok {
		return 0
	}
	return toUint64(u.balance(NewHolderAccountKey(acct.Address, acct.Mint)))
}

// TotalSupply returns the staged supply of a mint, 0 if missing.
func (u *Unit) TotalSupply(mint solana.PublicKey) uint64 {
	return toUint64(-u.balance(NewIssuanceAccountKey(mint)))
}

func (u *Unit) CreateMint(address solana.PublicKey, decimals uint8, authority solana.PublicKey) error {
	if _, exists := u.Mint(address); exists {
		return errorsmod.Wrapf(ErrMintExists, "%s", address)
	}
	u.mints[address] = Mint{Address: address, Decimals: decimals, MintAuthority: authority}
	return nil
}

// SetMintAuthority hands the mint authority from current to next. A zero
// next revokes it permanently.
func (u *Unit) SetMintAuthority(mint, current, next solana.PublicKey) error {
	m, ok := u.Mint(mint)
	if !ok {
		return errorsmod.Wrapf(ErrUnknownMint, "%s", mint)
	}
	if m.MintAuthority.IsZero() || !m.MintAuthority.Equals(current) {
		return errorsmod.Wrapf(ErrAuthorityMismatch, "mint %s", mint)
	}
	m.MintAuthority = next
	u.mints[mint] = m
	return nil
}

// CreateAccount opens the associated token account of (owner, mint).
func (u *Unit) CreateAccount(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	if _, ok := u.Mint(mint); !ok {
		return solana.PublicKey{}, errorsmod.Wrapf(ErrUnknownMint, "%s", mint)
	}
	addr, err := AssociatedAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, err
	}
	if _, exists := u.Account(addr); exists {
		return addr, errorsmod.Wrapf(ErrAccountExists, "%s", addr)
	}
	u.accounts[addr] = TokenAccount{Address: addr, Mint: mint, Owner: owner}
	return addr, nil
}

func (u *Unit) MintTo(mint, account solana.PublicKey, amount uint64, authority solana.PublicKey) error {
	m, ok := u.Mint(mint)
	if !ok {
		return errorsmod.Wrapf(ErrUnknownMint, "%s", mint)
	}
	if m.MintAuthority.IsZero() || !m.MintAuthority.Equals(authority) {
		return errorsmod.Wrapf(ErrAuthorityMismatch, "mint %s", mint)
	}
	acct, err := u.holder(account, mint)
	if err != nil {
		return err
	}
	amt, err := toInt64(amount)
	if err != nil {
		return err
	}
	if amt == 0 {
		return nil
	}
	if supply := -u.balance(NewIssuanceAccountKey(mint)); supply > math.MaxInt64-amt {
		return errorsmod.Wrapf(ErrAmountOverflow, "supply %d + %d", supply, amt)
	}

	u.stage(u.gen.GenerateMint(mint, acct.Address, amt))
	return nil
}

func (u *Unit) Burn(account solana.PublicKey, amount uint64, authority solana.PublicKey) error {
	acct, ok := u.Account(account)
	if !ok {
		return errorsmod.Wrapf(ErrUnknownAccount, "%s", account)
	}
	if !acct.Owner.Equals(authority) {
		return errorsmod.Wrapf(ErrOwnerMismatch, "account %s", account)
	}
	amt, err := toInt64(amount)
	if err != nil {
		return err
	}
	if amt == 0 {
		return nil
	}
	if bal := u.balance(NewHolderAccountKey(acct.Address, acct.Mint)); bal < amt {
		return errorsmod.Wrapf(ErrInsufficientFunds, "account %s has %d, burn %d", account, bal, amt)
	}

	u.stage(u.gen.GenerateBurn(acct.Mint, acct.Address, amt))
	return nil
}

func (u *Unit) Transfer(from, to solana.PublicKey, amount uint64, authority solana.PublicKey) error {
	src, ok := u.Account(from)
	if !ok {
		return errorsmod.Wrapf(ErrUnknownAccount, "%s", from)
	}
	if !src.Owner.Equals(authority) {
		return errorsmod.Wrapf(ErrOwnerMismatch, "account %s", from)
	}
	dst, err := u.holder(to, src.Mint)
	if err != nil {
		return err
	}
	amt, err := toInt64(amount)
	if err != nil {
		return err
	}
	if amt == 0 || src.Address.Equals(dst.Address) {
		return nil
	}
	if bal := u.balance(NewHolderAccountKey(src.Address, src.Mint)); bal < amt {
		return errorsmod.Wrapf(ErrInsufficientFunds, "account %s has %d, transfer %d", from, bal, amt)
	}

	u.stage(u.gen.GenerateTransfer(src.Mint, src.Address, dst.Address, amt))
	return nil
}

func (u *Unit) holder(account, mint solana.PublicKey) (TokenAccount, error) {
	acct, ok := u.Account(account)
	if !ok {
		return TokenAccount{}, errorsmod.Wrapf(ErrUnknownAccount, "%s", account)
	}
	if !acct.Mint.Equals(mint) {
		return TokenAccount{}, errorsmod.Wrapf(ErrMintMismatch, "account %s holds %s, not %s", account, acct.Mint, mint)
	}
	return acct, nil
}

func (u *Unit) stage(j Journal) {
	u.delta[j.DebitAccount] += j.Amount
	u.delta[j.CreditAccount] -= j.Amount
}

// Pending returns the batch staged so far.
func (u *Unit) Pending() *Batch {
	return u.gen.Batch()
}

// Commit validates the staged batch and applies it with the staged
// registries. On error nothing is applied.
func (u *Unit) Commit() (*Batch, error) {
	if u.done {
		return nil, fmt.Errorf("unit already committed")
	}
	l := u.ledger
	batch := u.gen.Batch()

	if !batch.IsEmpty() {
		if err := l.validator.ValidateBatchBalance(batch); err != nil {
			return nil, fmt.Errorf("validate batch: %w", err)
		}
		if err := l.validator.ValidateBatchOutcome(batch); err != nil {
			return nil, fmt.Errorf("validate batch: %w", err)
		}
		if err := l.tracker.ApplyBatch(batch); err != nil {
			return nil, fmt.Errorf("apply batch: %w", err)
		}
	}

	for addr, m := range u.mints {
		l.mints[addr] = m
	}
	for addr, a := range u.accounts {
		l.accounts[addr] = a
	}

	batch.Closing = make(map[AccountKey]int64, len(u.delta))
	for key := range u.delta {
		batch.Closing[key] = l.tracker.GetBalance(key)
	}

	u.done = true
	return batch, nil
}

func toInt64(amount uint64) (int64, error) {
	if amount > math.MaxInt64 {
		return 0, errorsmod.Wrapf(ErrAmountOverflow, "%d", amount)
	}
	return int64(amount), nil
}

func toUint64(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}
