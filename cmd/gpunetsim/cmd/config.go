package cmd

import (
	"fmt"
	"strings"
	"time"

	"cosmossdk.io/math"
	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/gpunet/gpunet/x/compute/simulation"
	"github.com/gpunet/gpunet/x/compute/types"
)

const (
	flagChainID         = "chain-id"
	flagSeed            = "seed"
	flagBlocks          = "blocks"
	flagBlockTime       = "block-time"
	flagTasksPerBlock   = "tasks-per-block"
	flagLLMShare        = "llm-share"
	flagFeeMin          = "fee-min"
	flagFeeMax          = "fee-max"
	flagHonest          = "honest"
	flagCheaters        = "cheaters"
	flagFlaky           = "flaky"
	flagIdle            = "idle"
	flagFlakyErrorRate  = "flaky-error-rate"
	flagGPUs            = "gpus"
	flagInvariantPeriod = "invariant-period"

	flagDenom            = "denom"
	flagMinStake         = "min-stake"
	flagTaskTimeout      = "task-timeout"
	flagQueueSizeLimit   = "queue-size-limit"
	flagAllowGPUFallback = "allow-gpu-fallback"
	flagPayoutWeights    = "payout-weights"
	flagKickoutThreshold = "kickout-threshold"
)

func addParamsFlags(fs *pflag.FlagSet) {
	def := simulation.DefaultConfig().Params
	fs.String(flagDenom, def.Denom, "stake and fee denom")
	fs.String(flagMinStake, def.MinStake.String(), "stake escrowed by a joining worker")
	fs.Duration(flagTaskTimeout, def.TaskTimeout(), "time a task has to resolve")
	fs.Uint64(flagQueueSizeLimit, def.QueueSizeLimit, "maximum pending tasks")
	fs.Bool(flagAllowGPUFallback, def.AllowGPUFallback, "let identical-hardware tasks fall back to any GPU with enough VRAM")
	fs.StringSlice(flagPayoutWeights, formatUints(def.PayoutWeights), "fee weight of each winner by disclosure order")
	fs.Uint32(flagKickoutThreshold, def.KickoutThreshold, "consecutive failures before a worker is evicted")
}

func addSimulationFlags(fs *pflag.FlagSet) {
	def := simulation.DefaultConfig()
	fs.String(flagChainID, def.ChainID, "chain id of the simulated network")
	fs.Int64(flagSeed, def.Seed, "random seed")
	fs.Int(flagBlocks, def.Blocks, "blocks to simulate")
	fs.Duration(flagBlockTime, def.BlockTime, "time between blocks")
	fs.Int(flagTasksPerBlock, def.TasksPerBlock, "tasks submitted per block")
	fs.Float64(flagLLMShare, def.LLMShare, "fraction of tasks needing identical GPUs")
	fs.Int64(flagFeeMin, def.FeeMin, "minimum task fee")
	fs.Int64(flagFeeMax, def.FeeMax, "maximum task fee")
	fs.Int(flagHonest, def.Honest, "honest workers")
	fs.Int(flagCheaters, def.Cheaters, "workers disclosing wrong results")
	fs.Int(flagFlaky, def.Flaky, "workers reporting errors")
	fs.Int(flagIdle, def.Idle, "workers that never answer")
	fs.Float64(flagFlakyErrorRate, def.FlakyErrorRate, "chance a flaky worker reports an error")
	fs.StringSlice(flagGPUs, formatGPUs(def.GPUs), "GPU profiles as name:vram")
	fs.Int(flagInvariantPeriod, def.InvariantPeriod, "check invariants every n blocks, 0 to disable")
}

func paramsFromViper(v *viper.Viper) (types.Params, error) {
	params := simulation.DefaultConfig().Params

	params.Denom = v.GetString(flagDenom)
	minStake, ok := math.NewIntFromString(v.GetString(flagMinStake))
	if !ok {
		return types.Params{}, fmt.Errorf("invalid %s %q", flagMinStake, v.GetString(flagMinStake))
	}
	params.MinStake = minStake

	timeout, err := cast.ToDurationE(v.Get(flagTaskTimeout))
	if err != nil {
		return types.Params{}, fmt.Errorf("invalid %s: %w", flagTaskTimeout, err)
	}
	params.TaskTimeoutSeconds = uint64(timeout / time.Second)
	params.QueueSizeLimit = v.GetUint64(flagQueueSizeLimit)
	params.AllowGPUFallback = v.GetBool(flagAllowGPUFallback)
	params.KickoutThreshold = v.GetUint32(flagKickoutThreshold)

	weights, err := parseUints(v.Get(flagPayoutWeights))
	if err != nil {
		return types.Params{}, fmt.Errorf("invalid %s: %w", flagPayoutWeights, err)
	}
	params.PayoutWeights = weights

	return params, params.Validate()
}

func simulationFromViper(v *viper.Viper) (simulation.Config, error) {
	params, err := paramsFromViper(v)
	if err != nil {
		return simulation.Config{}, err
	}
	gpus, err := parseGPUs(v.Get(flagGPUs))
	if err != nil {
		return simulation.Config{}, err
	}

	cfg := simulation.Config{
		ChainID:         v.GetString(flagChainID),
		Seed:            v.GetInt64(flagSeed),
		Blocks:          v.GetInt(flagBlocks),
		BlockTime:       v.GetDuration(flagBlockTime),
		TasksPerBlock:   v.GetInt(flagTasksPerBlock),
		LLMShare:        v.GetFloat64(flagLLMShare),
		FeeMin:          v.GetInt64(flagFeeMin),
		FeeMax:          v.GetInt64(flagFeeMax),
		Honest:          v.GetInt(flagHonest),
		Cheaters:        v.GetInt(flagCheaters),
		Flaky:           v.GetInt(flagFlaky),
		Idle:            v.GetInt(flagIdle),
		FlakyErrorRate:  v.GetFloat64(flagFlakyErrorRate),
		GPUs:            gpus,
		InvariantPeriod: v.GetInt(flagInvariantPeriod),
		Params:          params,
	}
	return cfg, cfg.Validate()
}

// parseGPUs reads "name:vram" entries. The last colon separates the VRAM so
// model names may contain colons.
func parseGPUs(raw interface{}) ([]simulation.GPUProfile, error) {
	entries, err := toList(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", flagGPUs, err)
	}
	gpus := make([]simulation.GPUProfile, 0, len(entries))
	for _, entry := range entries {
		i := strings.LastIndex(entry, ":")
		if i <= 0 {
			return nil, fmt.Errorf("gpu %q must be name:vram", entry)
		}
		vram, err := cast.ToUint64E(strings.TrimSpace(entry[i+1:]))
		if err != nil {
			return nil, fmt.Errorf("gpu %q: invalid vram: %w", entry, err)
		}
		gpus = append(gpus, simulation.GPUProfile{Name: entry[:i], Vram: vram})
	}
	return gpus, nil
}

func parseUints(raw interface{}) ([]uint64, error) {
	entries, err := toList(raw)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, 0, len(entries))
	for _, entry := range entries {
		n, err := cast.ToUint64E(strings.TrimSpace(entry))
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// toList reads a list value. Environment variables arrive as one
// comma-separated string.
func toList(raw interface{}) ([]string, error) {
	if s, ok := raw.(string); ok {
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		return strings.Split(s, ","), nil
	}
	return cast.ToStringSliceE(raw)
}

func formatGPUs(gpus []simulation.GPUProfile) []string {
	out := make([]string, len(gpus))
	for i, gpu := range gpus {
		out[i] = fmt.Sprintf("%s:%d", gpu.Name, gpu.Vram)
	}
	return out
}

func formatUints(values []uint64) []string {
	out := make([]string, len(values))
	for i, n := range values {
		out[i] = cast.ToString(n)
	}
	return out
}
