package types

import (
	"context"

	sdk "github.com/cosmos/cosmos-sdk/types"
)

// BankKeeper defines the token ledger used for stake and fee escrow.
type BankKeeper interface {
	GetBalance(ctx context.Context, addr sdk.AccAddress, denom string) sdk.Coin
	SpendableCoins(ctx context.Context, addr sdk.AccAddress) sdk.Coins
	SendCoinsFromAccountToModule(ctx context.Context, senderAddr sdk.AccAddress, recipientModule string, amt sdk.Coins) error
	SendCoinsFromModuleToAccount(ctx context.Context, senderModule string, recipientAddr sdk.AccAddress, amt sdk.Coins) error
}

// RandomnessSource supplies an unbiased seed for a domain tag together with a
// proof that VerifySeed accepts.
type RandomnessSource interface {
	Seed(ctx context.Context, domain []byte) (seed []byte, proof []byte, err error)
	VerifySeed(ctx context.Context, domain, seed, proof []byte) bool
}
