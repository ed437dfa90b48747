package keeper

import (
	"context"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	sdkerrors "github.com/cosmos/cosmos-sdk/types/errors"
	authtypes "github.com/cosmos/cosmos-sdk/x/auth/types"

	"github.com/gpunet/gpunet/x/compute/types"
)

var _ types.BankKeeper = (*MockBankKeeper)(nil)

// MockBankKeeper is an in-memory token ledger. Locked coins count toward the
// balance but cannot be spent, like vesting accounts.
type MockBankKeeper struct {
	balances map[string]sdk.Coins
	locked   map[string]sdk.Coins

	// Transfers counts successful sends.
	Transfers int
}

// NewMockBankKeeper returns an empty ledger.
func NewMockBankKeeper() *MockBankKeeper {
	return &MockBankKeeper{
		balances: make(map[string]sdk.Coins),
		locked:   make(map[string]sdk.Coins),
	}
}

// Fund credits coins to addr.
func (m *MockBankKeeper) Fund(addr sdk.AccAddress, coins sdk.Coins) {
	m.balances[addr.String()] = m.balances[addr.String()].Add(coins...)
}

// Lock makes coins of addr unspendable.
func (m *MockBankKeeper) Lock(addr sdk.AccAddress, coins sdk.Coins) {
	m.locked[addr.String()] = m.locked[addr.String()].Add(coins...)
}

// Balance returns the amount of denom held by addr.
func (m *MockBankKeeper) Balance(addr sdk.AccAddress, denom string) math.Int {
	return m.balances[addr.String()].AmountOf(denom)
}

// ModuleBalance returns the amount of denom held by a module account.
func (m *MockBankKeeper) ModuleBalance(module, denom string) math.Int {
	return m.Balance(authtypes.NewModuleAddress(module), denom)
}

func (m *MockBankKeeper) GetBalance(_ context.Context, addr sdk.AccAddress, denom string) sdk.Coin {
	return sdk.NewCoin(denom, m.Balance(addr, denom))
}

func (m *MockBankKeeper) SpendableCoins(_ context.Context, addr sdk.AccAddress) sdk.Coins {
	spendable, hasNeg := m.balances[addr.String()].SafeSub(m.locked[addr.String()]...)
	if hasNeg {
		return sdk.NewCoins()
	}
	return spendable
}

func (m *MockBankKeeper) SendCoinsFromAccountToModule(ctx context.Context, sender sdk.AccAddress, module string, amt sdk.Coins) error {
	return m.send(ctx, sender, authtypes.NewModuleAddress(module), amt)
}

func (m *MockBankKeeper) SendCoinsFromModuleToAccount(ctx context.Context, module string, recipient sdk.AccAddress, amt sdk.Coins) error {
	return m.send(ctx, authtypes.NewModuleAddress(module), recipient, amt)
}

func (m *MockBankKeeper) send(ctx context.Context, from, to sdk.AccAddress, amt sdk.Coins) error {
	if !m.SpendableCoins(ctx, from).IsAllGTE(amt) {
		return errorsmod.Wrapf(sdkerrors.ErrInsufficientFunds, "%s has %s, needs %s", from, m.SpendableCoins(ctx, from), amt)
	}
	m.balances[from.String()] = m.balances[from.String()].Sub(amt...)
	m.balances[to.String()] = m.balances[to.String()].Add(amt...)
	m.Transfers++
	return nil
}
