package ledger

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	// AccountScopeHolder is a token account holding units of one mint.
	AccountScopeHolder AccountScope = iota
	// AccountScopeIssuance is the contra account of a mint. Its balance is
	// always -supply.
	AccountScopeIssuance
)

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope   AccountScope
	Address solana.PublicKey // token account address, or the mint for issuance
	Mint    solana.PublicKey
}

// NewHolderAccountKey creates a key for a token account
func NewHolderAccountKey(account, mint solana.PublicKey) AccountKey {
	return AccountKey{
		Scope:   AccountScopeHolder,
		Address: account,
		Mint:    mint,
	}
}

// NewIssuanceAccountKey creates the issuance key for a mint
func NewIssuanceAccountKey(mint solana.PublicKey) AccountKey {
	return AccountKey{
		Scope:   AccountScopeIssuance,
		Address: mint,
		Mint:    mint,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeHolder:
		return fmt.Sprintf("holder:%s:%s", k.Address, k.Mint)
	case AccountScopeIssuance:
		return fmt.Sprintf("issuance:%s", k.Mint)
	}
	return "unknown"
}

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	switch {
	case len(parts) == 3 && parts[0] == "holder":
		addr, err := solana.PublicKeyFromBase58(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("parse holder address %q: %w", parts[1], err)
		}
		mint, err := solana.PublicKeyFromBase58(parts[2])
		if err != nil {
			return AccountKey{}, fmt.Errorf("parse holder mint %q: %w", parts[2], err)
		}
		return NewHolderAccountKey(addr, mint), nil
	case len(parts) == 2 && parts[0] == "issuance":
		mint, err := solana.PublicKeyFromBase58(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("parse issuance mint %q: %w", parts[1], err)
		}
		return NewIssuanceAccountKey(mint), nil
	}
	return AccountKey{}, fmt.Errorf("malformed account path %q", path)
}

// Mint describes a token definition. A zero MintAuthority means supply is
// fixed.
type Mint struct {
	Address       solana.PublicKey `json:"address"`
	Decimals      uint8            `json:"decimals"`
	MintAuthority solana.PublicKey `json:"mint_authority"`
}

// TokenAccount is a holder account for exactly one mint.
type TokenAccount struct {
	Address solana.PublicKey `json:"address"`
	Mint    solana.PublicKey `json:"mint"`
	Owner   solana.PublicKey `json:"owner"`
}

// AssociatedAddress returns the deterministic token account address for
// (owner, mint).
func AssociatedAddress(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("associated address for %s/%s: %w", owner, mint, err)
	}
	return addr, nil
}
