package keeper

import (
	"context"
	"fmt"

	"github.com/gpunet/gpunet/x/compute/types"
)

// GetParams retrieves the module parameters from the store
func (k Keeper) GetParams(ctx context.Context) (types.Params, error) {
	var params types.Params
	found, err := getJSON(k.getStore(ctx), ParamsKey, &params)
	if err != nil {
		return types.Params{}, fmt.Errorf("GetParams: %w", err)
	}
	if !found {
		return types.DefaultParams(), nil
	}
	return params, nil
}

// SetParams validates and stores the module parameters.
func (k Keeper) SetParams(ctx context.Context, params types.Params) error {
	if err := params.Validate(); err != nil {
		return err
	}
	if err := setJSON(k.getStore(ctx), ParamsKey, params); err != nil {
		return fmt.Errorf("SetParams: %w", err)
	}
	return nil
}

// UpdateParams replaces params on behalf of the module authority.
func (k Keeper) UpdateParams(ctx context.Context, authority string, params types.Params) error {
	if authority != k.authority {
		return types.ErrUnauthorized.Wrapf("expected %s, got %s", k.authority, authority)
	}
	if params.QueueSizeLimit < k.QueueSize(ctx) {
		return types.ErrInvalidParams.Wrapf("queue size limit %d below current queue size %d", params.QueueSizeLimit, k.QueueSize(ctx))
	}
	return k.SetParams(ctx, params)
}
