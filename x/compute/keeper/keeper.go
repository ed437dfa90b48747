package keeper

import (
	"context"
	"encoding/json"
	"fmt"

	"cosmossdk.io/log"
	storetypes "cosmossdk.io/store/types"
	sdk "github.com/cosmos/cosmos-sdk/types"
	authtypes "github.com/cosmos/cosmos-sdk/x/auth/types"

	"github.com/gpunet/gpunet/x/compute/types"
	"github.com/gpunet/gpunet/x/shared/abci"
	"github.com/gpunet/gpunet/x/shared/nonce"
)

// Keeper of the compute store
type Keeper struct {
	storeKey   storetypes.StoreKey
	bankKeeper types.BankKeeper
	randomness types.RandomnessSource
	nonces     *nonce.Manager
	hooks      types.ComputeHooks
	authority  string

	metrics    *ComputeMetrics
	suppressed abci.ErrorReporter
}

type kvStoreProvider interface {
	KVStore(key storetypes.StoreKey) storetypes.KVStore
}

// Option customises a Keeper.
type Option func(*Keeper)

// WithRandomnessSource replaces the block entropy seed source.
func WithRandomnessSource(src types.RandomnessSource) Option {
	return func(k *Keeper) {
		k.randomness = src
	}
}

// NewKeeper creates a new compute Keeper instance
func NewKeeper(
	key storetypes.StoreKey,
	bankKeeper types.BankKeeper,
	authority string,
	opts ...Option,
) *Keeper {
	k := &Keeper{
		storeKey:   key,
		bankKeeper: bankKeeper,
		randomness: BlockEntropySource{},
		authority:  authority,
		metrics:    NewComputeMetrics(),
		suppressed: abci.NewErrorReporter(types.ModuleName),
	}
	k.nonces = nonce.NewManager(key, k, types.ModuleName)
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// SetHooks sets the compute hooks. It may be called once.
func (k *Keeper) SetHooks(hooks types.ComputeHooks) *Keeper {
	if k.hooks != nil {
		panic("cannot set compute hooks twice")
	}
	k.hooks = hooks
	return k
}

// GetAuthority returns the address allowed to update params.
func (k Keeper) GetAuthority() string {
	return k.authority
}

// ModuleAddress is the escrow account holding stakes and fees.
func (k Keeper) ModuleAddress() sdk.AccAddress {
	return authtypes.NewModuleAddress(types.ModuleName)
}

// Logger returns a module-specific logger.
func (k Keeper) Logger(ctx context.Context) log.Logger {
	return sdk.UnwrapSDKContext(ctx).Logger().With("module", "x/"+types.ModuleName)
}

// getStore returns the KVStore for the compute module
func (k Keeper) getStore(ctx context.Context) storetypes.KVStore {
	if provider, ok := ctx.(kvStoreProvider); ok {
		return provider.KVStore(k.storeKey)
	}

	unwrapped := sdk.UnwrapSDKContext(ctx)
	return unwrapped.KVStore(k.storeKey)
}

// NonceAlreadyUsedError implements nonce.ErrorProvider.
func (k Keeper) NonceAlreadyUsedError(msg string) error {
	return types.ErrNonceAlreadyUsed.Wrap(msg)
}

// InvalidNonceError implements nonce.ErrorProvider.
func (k Keeper) InvalidNonceError(msg string) error {
	return types.ErrInvalidNonce.Wrap(msg)
}

func setJSON(store storetypes.KVStore, key []byte, v interface{}) error {
	bz, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %T: %w", v, err)
	}
	store.Set(key, bz)
	return nil
}

func getJSON(store storetypes.KVStore, key []byte, v interface{}) (bool, error) {
	bz := store.Get(key)
	if bz == nil {
		return false, nil
	}
	if err := jsonUnmarshal(bz, v); err != nil {
		return false, err
	}
	return true, nil
}

func jsonUnmarshal(bz []byte, v interface{}) error {
	if err := json.Unmarshal(bz, v); err != nil {
		return types.ErrCorruptedState.Wrapf("unmarshal %T: %s", v, err)
	}
	return nil
}

func emit(ctx context.Context, eventType string, attrs ...sdk.Attribute) {
	sdk.UnwrapSDKContext(ctx).EventManager().EmitEvent(sdk.NewEvent(eventType, attrs...))
}
