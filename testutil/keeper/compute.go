package keeper

import (
	"bytes"
	"context"
	"testing"
	"time"

	"cosmossdk.io/log"
	"cosmossdk.io/store"
	"cosmossdk.io/store/metrics"
	storetypes "cosmossdk.io/store/types"
	cmtproto "github.com/cometbft/cometbft/proto/tendermint/types"
	dbm "github.com/cosmos/cosmos-db"
	sdk "github.com/cosmos/cosmos-sdk/types"
	authtypes "github.com/cosmos/cosmos-sdk/x/auth/types"
	govtypes "github.com/cosmos/cosmos-sdk/x/gov/types"
	"github.com/stretchr/testify/require"

	"github.com/gpunet/gpunet/x/compute/keeper"
	"github.com/gpunet/gpunet/x/compute/types"
)

// GenesisTime is the block time of contexts built by ComputeKeeper.
var GenesisTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Authority is the params authority of keepers built by ComputeKeeper.
func Authority() string {
	return authtypes.NewModuleAddress(govtypes.ModuleName).String()
}

// ComputeKeeper creates a test keeper for the Compute module backed by an
// in-memory store and a mock ledger.
func ComputeKeeper(t testing.TB, opts ...keeper.Option) (*keeper.Keeper, sdk.Context, *MockBankKeeper) {
	k, ctx, bank, err := NewInMemory("gpunet-test-1", log.NewNopLogger(), opts...)
	require.NoError(t, err)
	return k, ctx, bank
}

// NewInMemory builds a keeper over a fresh in-memory store and mock ledger.
// The returned context sits at height 1, GenesisTime.
func NewInMemory(chainID string, logger log.Logger, opts ...keeper.Option) (*keeper.Keeper, sdk.Context, *MockBankKeeper, error) {
	storeKey := storetypes.NewKVStoreKey(types.StoreKey)

	db := dbm.NewMemDB()
	stateStore := store.NewCommitMultiStore(db, logger, metrics.NewNoOpMetrics())
	stateStore.MountStoreWithDB(storeKey, storetypes.StoreTypeIAVL, db)
	if err := stateStore.LoadLatestVersion(); err != nil {
		return nil, sdk.Context{}, nil, err
	}

	bank := NewMockBankKeeper()
	k := keeper.NewKeeper(storeKey, bank, Authority(), opts...)

	ctx := sdk.NewContext(stateStore, cmtproto.Header{
		ChainID: chainID,
		Height:  1,
		Time:    GenesisTime,
	}, false, logger).
		WithHeaderHash(bytes.Repeat([]byte{0xab}, 32))

	return k, ctx, bank, nil
}

// FixedRandomness is a seed source whose seeds derive from a constant.
type FixedRandomness struct {
	Base []byte
	// RejectProofs makes VerifySeed fail.
	RejectProofs bool
}

var _ types.RandomnessSource = FixedRandomness{}

func (f FixedRandomness) Seed(_ context.Context, domain []byte) ([]byte, []byte, error) {
	return types.Keccak256(f.Base, domain), f.Base, nil
}

func (f FixedRandomness) VerifySeed(_ context.Context, domain, seed, proof []byte) bool {
	if f.RejectProofs {
		return false
	}
	return bytes.Equal(proof, f.Base) && bytes.Equal(seed, types.Keccak256(proof, domain))
}
