package keeper

import (
	"context"

	"github.com/gpunet/gpunet/x/shared/abci"
)

// EndBlocker is called at the end of every block.
// Tasks past their deadline are not expired here; they stay resolvable until
// someone calls CancelTask. The block end only refreshes the network gauges.
func (k Keeper) EndBlocker(ctx context.Context) error {
	stats, err := k.GetNetworkStats(ctx)
	if k.suppressed.Report(ctx, "network_stats", abci.SeverityMedium, err) {
		return nil
	}
	k.metrics.RecordNetworkStats(stats)
	return nil
}
