package amm

import (
	"bytes"
	"fmt"
	"math"
	"sort"

	errorsmod "cosmossdk.io/errors"
	"github.com/gagliardetto/solana-go"
	"github.com/holiman/uint256"

	"PositionVault/internal/ledger"
)

// TokenBook is the slice of the token ledger the AMM settles through.
// ledger.Unit satisfies it.
type TokenBook interface {
	Mint(address solana.PublicKey) (ledger.Mint, bool)
	Account(address solana.PublicKey) (ledger.TokenAccount, bool)
	BalanceOf(account solana.PublicKey) uint64
	CreateMint(address solana.PublicKey, decimals uint8, authority solana.PublicKey) error
	SetMintAuthority(mint, current, next solana.PublicKey) error
	CreateAccount(owner, mint solana.PublicKey) (solana.PublicKey, error)
	MintTo(mint, account solana.PublicKey, amount uint64, authority solana.PublicKey) error
	Transfer(from, to solana.PublicKey, amount uint64, authority solana.PublicKey) error
}

// Pool is a concentrated-liquidity pool for one token pair.
type Pool struct {
	Address     solana.PublicKey `json:"address"`
	TokenMintA  solana.PublicKey `json:"token_mint_a"`
	TokenMintB  solana.PublicKey `json:"token_mint_b"`
	TokenVaultA solana.PublicKey `json:"token_vault_a"`
	TokenVaultB solana.PublicKey `json:"token_vault_b"`
	TickSpacing uint16           `json:"tick_spacing"`
	TickCurrent int32            `json:"tick_current"`
	Liquidity   uint64           `json:"liquidity"` // in-range liquidity
}

// SqrtPrice returns the pool's current Q64.64 sqrt price.
func (p Pool) SqrtPrice() (*uint256.Int, error) {
	return SqrtPriceAtTick(p.TickCurrent)
}

// Position is liquidity provided over a tick range, owned by whoever holds
// its position mint.
type Position struct {
	Address      solana.PublicKey `json:"address"`
	PositionMint solana.PublicKey `json:"position_mint"`
	Pool         solana.PublicKey `json:"pool"`
	TickLower    int32            `json:"tick_lower"`
	TickUpper    int32            `json:"tick_upper"`
	Liquidity    uint64           `json:"liquidity"`
}

func (p Position) inRange(tick int32) bool {
	return p.TickLower <= tick && tick < p.TickUpper
}

type InitializePoolRequest struct {
	TokenMintA  solana.PublicKey
	TokenMintB  solana.PublicKey
	TickSpacing uint16
	InitialTick int32
}

type OpenPositionRequest struct {
	Pool         solana.PublicKey
	PositionMint solana.PublicKey
	TickLower    int32
	TickUpper    int32
	Liquidity    uint64
	TokenMaxA    uint64
	TokenMaxB    uint64
}

type IncreaseLiquidityRequest struct {
	PositionMint         solana.PublicKey
	PositionTokenAccount solana.PublicKey
	Authority            solana.PublicKey
	Liquidity            uint64
	TokenMaxA            uint64
	TokenMaxB            uint64
	SourceA              solana.PublicKey
	SourceB              solana.PublicKey
}

type DecreaseLiquidityRequest struct {
	PositionMint         solana.PublicKey
	PositionTokenAccount solana.PublicKey
	Authority            solana.PublicKey
	Liquidity            uint64
	MinTokenA            uint64
	MinTokenB            uint64
	RecipientA           solana.PublicKey
	RecipientB           solana.PublicKey
}

// Program is an in-process Whirlpool-style AMM. Token movements go through
// the TokenBook passed to each call. Not thread-safe.
type Program struct {
	programID solana.PublicKey
	pools     map[solana.PublicKey]Pool
	positions map[solana.PublicKey]Position // keyed by position mint
}

func NewProgram(programID solana.PublicKey) *Program {
	return &Program{
		programID: programID,
		pools:     make(map[solana.PublicKey]Pool),
		positions: make(map[solana.PublicKey]Position),
	}
}

func (p *Program) ProgramID() solana.PublicKey {
	return p.programID
}

// Clone returns an independent copy for staging.
func (p *Program) Clone() *Program {
	c := NewProgram(p.programID)
	for k, v := range p.pools {
		c.pools[k] = v
	}
	for k, v := range p.positions {
		c.positions[k] = v
	}
	return c
}

func (p *Program) GetPool(address solana.PublicKey) (Pool, error) {
	pool, ok := p.pools[address]
	if !ok {
		return Pool{}, errorsmod.Wrapf(ErrPoolNotFound, "%s", address)
	}
	return pool, nil
}

// GetPosition looks a position up by its position mint.
func (p *Program) GetPosition(positionMint solana.PublicKey) (Position, error) {
	pos, ok := p.positions[positionMint]
	if !ok {
		return Position{}, errorsmod.Wrapf(ErrPositionNotFound, "mint %s", positionMint)
	}
	return pos, nil
}

func (p *Program) InitializePool(book TokenBook, req InitializePoolRequest) (Pool, error) {
	if req.TokenMintA.Equals(req.TokenMintB) {
		return Pool{}, errorsmod.Wrap(ErrInvalidPool, "token mints must differ")
	}
	if req.TickSpacing == 0 {
		return Pool{}, errorsmod.Wrap(ErrInvalidPool, "tick spacing must be positive")
	}
	if req.InitialTick < MinTick || req.InitialTick > MaxTick {
		return Pool{}, errorsmod.Wrapf(ErrTickOutOfBounds, "initial tick %d", req.InitialTick)
	}
	for _, mint := range []solana.PublicKey{req.TokenMintA, req.TokenMintB} {
		if _, ok := book.Mint(mint); !ok {
			return Pool{}, errorsmod.Wrapf(ledger.ErrUnknownMint, "%s", mint)
		}
	}

	addr, err := DerivePoolAddress(p.programID, req.TokenMintA, req.TokenMintB, req.TickSpacing)
	if err != nil {
		return Pool{}, err
	}
	if _, exists := p.pools[addr]; exists {
		return Pool{}, errorsmod.Wrapf(ErrPoolExists, "%s", addr)
	}

	vaultA, err := book.CreateAccount(addr, req.TokenMintA)
	if err != nil {
		return Pool{}, err
	}
	vaultB, err := book.CreateAccount(addr, req.TokenMintB)
	if err != nil {
		return Pool{}, err
	}

	pool := Pool{
		Address:     addr,
		TokenMintA:  req.TokenMintA,
		TokenMintB:  req.TokenMintB,
		TokenVaultA: vaultA,
		TokenVaultB: vaultB,
		TickSpacing: req.TickSpacing,
		TickCurrent: req.InitialTick,
	}
	p.pools[addr] = pool
	return pool, nil
}

// OpenPosition mints a one-of-one position token to owner and, if
// req.Liquidity is non-zero, funds it from owner's associated accounts.
func (p *Program) OpenPosition(book TokenBook, owner solana.PublicKey, req OpenPositionRequest) (Position, Amounts, error) {
	pool, err := p.GetPool(req.Pool)
	if err != nil {
		return Position{}, Amounts{}, err
	}
	if err := ValidTickRange(req.TickLower, req.TickUpper, pool.TickSpacing); err != nil {
		return Position{}, Amounts{}, err
	}
	if _, exists := p.positions[req.PositionMint]; exists {
		return Position{}, Amounts{}, errorsmod.Wrapf(ErrPositionExists, "mint %s", req.PositionMint)
	}

	addr, err := DerivePositionAddress(p.programID, req.PositionMint)
	if err != nil {
		return Position{}, Amounts{}, err
	}

	// The pool briefly holds mint authority, then the supply is frozen at 1.
	if err := book.CreateMint(req.PositionMint, 0, pool.Address); err != nil {
		return Position{}, Amounts{}, err
	}
	nftAccount, err := book.CreateAccount(owner, req.PositionMint)
	if err != nil {
		return Position{}, Amounts{}, err
	}
	if err := book.MintTo(req.PositionMint, nftAccount, 1, pool.Address); err != nil {
		return Position{}, Amounts{}, err
	}
	if err := book.SetMintAuthority(req.PositionMint, pool.Address, solana.PublicKey{}); err != nil {
		return Position{}, Amounts{}, err
	}

	pos := Position{
		Address:      addr,
		PositionMint: req.PositionMint,
		Pool:         pool.Address,
		TickLower:    req.TickLower,
		TickUpper:    req.TickUpper,
	}
	p.positions[req.PositionMint] = pos

	if req.Liquidity == 0 {
		return pos, Amounts{}, nil
	}

	srcA, err := ledger.AssociatedAddress(owner, pool.TokenMintA)
	if err != nil {
		return Position{}, Amounts{}, err
	}
	srcB, err := ledger.AssociatedAddress(owner, pool.TokenMintB)
	if err != nil {
		return Position{}, Amounts{}, err
	}
	spent, err := p.IncreaseLiquidity(book, IncreaseLiquidityRequest{
		PositionMint:         req.PositionMint,
		PositionTokenAccount: nftAccount,
		Authority:            owner,
		Liquidity:            req.Liquidity,
		TokenMaxA:            req.TokenMaxA,
		TokenMaxB:            req.TokenMaxB,
		SourceA:              srcA,
		SourceB:              srcB,
	})
	if err != nil {
		return Position{}, Amounts{}, err
	}
	return p.positions[req.PositionMint], spent, nil
}

func (p *Program) IncreaseLiquidity(book TokenBook, req IncreaseLiquidityRequest) (Amounts, error) {
	pos, pool, err := p.authorize(book, req.PositionMint, req.PositionTokenAccount, req.Authority)
	if err != nil {
		return Amounts{}, err
	}
	if req.Liquidity == 0 {
		return Amounts{}, ErrZeroLiquidity
	}
	if pos.Liquidity > math.MaxUint64-req.Liquidity {
		return Amounts{}, errorsmod.Wrapf(ErrAmountOverflow, "position liquidity %d + %d", pos.Liquidity, req.Liquidity)
	}

	cost, err := QuoteIncrease(pool, pos.TickLower, pos.TickUpper, req.Liquidity)
	if err != nil {
		return Amounts{}, err
	}
	if cost.A > req.TokenMaxA || cost.B > req.TokenMaxB {
		return Amounts{}, errorsmod.Wrapf(ErrTokenMaxExceeded,
			"need (%d, %d), max (%d, %d)", cost.A, cost.B, req.TokenMaxA, req.TokenMaxB)
	}

	if err := book.Transfer(req.SourceA, pool.TokenVaultA, cost.A, req.Authority); err != nil {
		return Amounts{}, err
	}
	if err := book.Transfer(req.SourceB, pool.TokenVaultB, cost.B, req.Authority); err != nil {
		return Amounts{}, err
	}

	pos.Liquidity += req.Liquidity
	p.positions[pos.PositionMint] = pos
	if err := p.refreshPool(pool.Address); err != nil {
		return Amounts{}, err
	}
	return cost, nil
}

// DecreaseLiquidity removes liquidity from a position and pays the
// underlying out of the pool vaults. Amounts round down and must meet the
// request's minimums.
func (p *Program) DecreaseLiquidity(book TokenBook, req DecreaseLiquidityRequest) (Amounts, error) {
	pos, pool, err := p.authorize(book, req.PositionMint, req.PositionTokenAccount, req.Authority)
	if err != nil {
		return Amounts{}, err
	}
	if req.Liquidity == 0 {
		return Amounts{}, ErrZeroLiquidity
	}
	if req.Liquidity > pos.Liquidity {
		return Amounts{}, errorsmod.Wrapf(ErrLiquidityUnderflow, "decrease %d, position has %d", req.Liquidity, pos.Liquidity)
	}

	out, err := QuoteDecrease(pool, pos, req.Liquidity)
	if err != nil {
		return Amounts{}, err
	}
	if out.A < req.MinTokenA || out.B < req.MinTokenB {
		return Amounts{}, errorsmod.Wrapf(ErrSlippageExceeded,
			"out (%d, %d), min (%d, %d)", out.A, out.B, req.MinTokenA, req.MinTokenB)
	}

	if err := book.Transfer(pool.TokenVaultA, req.RecipientA, out.A, pool.Address); err != nil {
		return Amounts{}, err
	}
	if err := book.Transfer(pool.TokenVaultB, req.RecipientB, out.B, pool.Address); err != nil {
		return Amounts{}, err
	}

	pos.Liquidity -= req.Liquidity
	p.positions[pos.PositionMint] = pos
	if err := p.refreshPool(pool.Address); err != nil {
		return Amounts{}, err
	}
	return out, nil
}

// MovePrice sets a pool's current tick without trading. It stands in for
// market activity on a local network.
func (p *Program) MovePrice(pool solana.PublicKey, tick int32) error {
	if _, err := p.GetPool(pool); err != nil {
		return err
	}
	if tick < MinTick || tick > MaxTick {
		return errorsmod.Wrapf(ErrTickOutOfBounds, "tick %d", tick)
	}
	pl := p.pools[pool]
	pl.TickCurrent = tick
	p.pools[pool] = pl
	return p.refreshPool(pool)
}

// authorize checks that authority holds the position token in the given
// account.
func (p *Program) authorize(book TokenBook, positionMint, tokenAccount, authority solana.PublicKey) (Position, Pool, error) {
	pos, err := p.GetPosition(positionMint)
	if err != nil {
		return Position{}, Pool{}, err
	}
	pool, err := p.GetPool(pos.Pool)
	if err != nil {
		return Position{}, Pool{}, err
	}

	acct, ok := book.Account(tokenAccount)
	switch {
	case !ok:
		return Position{}, Pool{}, errorsmod.Wrapf(ErrPositionAuthority, "no token account %s", tokenAccount)
	case !acct.Mint.Equals(positionMint):
		return Position{}, Pool{}, errorsmod.Wrapf(ErrPositionAuthority, "account %s holds %s", tokenAccount, acct.Mint)
	case !acct.Owner.Equals(authority):
		return Position{}, Pool{}, errorsmod.Wrapf(ErrPositionAuthority, "account %s owned by %s", tokenAccount, acct.Owner)
	case book.BalanceOf(tokenAccount) != 1:
		return Position{}, Pool{}, errorsmod.Wrapf(ErrPositionAuthority, "account %s does not hold the position", tokenAccount)
	}
	return pos, pool, nil
}

// refreshPool recomputes the pool's in-range liquidity.
func (p *Program) refreshPool(address solana.PublicKey) error {
	pool := p.pools[address]
	var active uint64
	for _, pos := range p.positions {
		if !pos.Pool.Equals(address) || !pos.inRange(pool.TickCurrent) {
			continue
		}
		if active > math.MaxUint64-pos.Liquidity {
			return errorsmod.Wrapf(ErrAmountOverflow, "pool %s liquidity", address)
		}
		active += pos.Liquidity
	}
	pool.Liquidity = active
	p.pools[address] = pool
	return nil
}

// PositionsByPool returns the positions of a pool ordered by address.
func (p *Program) PositionsByPool(pool solana.PublicKey) []Position {
	var out []Position
	for _, pos := range p.positions {
		if pos.Pool.Equals(pool) {
			out = append(out, pos)
		}
	}
	sortPositions(out)
	return out
}

// State is the serializable form of the program's accounts.
type State struct {
	Pools     []Pool     `json:"pools"`
	Positions []Position `json:"positions"`
}

// Export returns all pools and positions in canonical order.
func (p *Program) Export() State {
	st := State{
		Pools:     make([]Pool, 0, len(p.pools)),
		Positions: make([]Position, 0, len(p.positions)),
	}
	for _, pool := range p.pools {
		st.Pools = append(st.Pools, pool)
	}
	for _, pos := range p.positions {
		st.Positions = append(st.Positions, pos)
	}
	sort.Slice(st.Pools, func(i, j int) bool {
		return bytes.Compare(st.Pools[i].Address[:], st.Pools[j].Address[:]) < 0
	})
	sortPositions(st.Positions)
	return st
}

// Restore replaces the program's accounts with st.
func (p *Program) Restore(st State) error {
	pools := make(map[solana.PublicKey]Pool, len(st.Pools))
	for _, pool := range st.Pools {
		pools[pool.Address] = pool
	}
	positions := make(map[solana.PublicKey]Position, len(st.Positions))
	for _, pos := range st.Positions {
		if _, ok := pools[pos.Pool]; !ok {
			return fmt.Errorf("restore: position %s references unknown pool %s", pos.Address, pos.Pool)
		}
		positions[pos.PositionMint] = pos
	}
	p.pools = pools
	p.positions = positions
	return nil
}

func sortPositions(ps []Position) {
	sort.Slice(ps, func(i, j int) bool {
		return bytes.Compare(ps[i].Address[:], ps[j].Address[:]) < 0
	})
}
