package simulation

import (
	"fmt"
	"time"

	"github.com/gpunet/gpunet/x/compute/types"
)

// Behavior is how a simulated worker handles the rounds it is given.
type Behavior string

const (
	// BehaviorHonest commits and discloses the expected result.
	BehaviorHonest Behavior = "honest"
	// BehaviorCheater discloses a result nobody else computes.
	BehaviorCheater Behavior = "cheater"
	// BehaviorFlaky reports an error on a share of its rounds.
	BehaviorFlaky Behavior = "flaky"
	// BehaviorIdle never answers.
	BehaviorIdle Behavior = "idle"
)

// GPUProfile is a hardware configuration workers are drawn from.
type GPUProfile struct {
	Name string `json:"name" mapstructure:"name"`
	Vram uint64 `json:"vram" mapstructure:"vram"`
}

// DefaultGPUs is the hardware mix of a default run.
var DefaultGPUs = []GPUProfile{
	{Name: "NVIDIA GeForce RTX 4090", Vram: 24},
	{Name: "NVIDIA GeForce RTX 3080", Vram: 10},
	{Name: "NVIDIA A100-SXM4-80GB", Vram: 80},
}

// Config describes one simulation run.
type Config struct {
	ChainID   string
	Seed      int64
	Blocks    int
	BlockTime time.Duration

	// TasksPerBlock tasks are submitted at the start of every block.
	TasksPerBlock int
	// LLMShare is the fraction of tasks needing identical hardware.
	LLMShare float64
	FeeMin   int64
	FeeMax   int64

	Honest   int
	Cheaters int
	Flaky    int
	Idle     int
	// FlakyErrorRate is the chance a flaky worker reports an error.
	FlakyErrorRate float64

	GPUs []GPUProfile
	// InvariantPeriod runs the module invariants every n blocks; 0 disables.
	InvariantPeriod int

	Params types.Params
}

// DefaultConfig returns a small mixed network.
func DefaultConfig() Config {
	params := types.DefaultParams()
	params.TaskTimeoutSeconds = 5 * 60
	return Config{
		ChainID:         "gpunet-sim-1",
		Seed:            1,
		Blocks:          200,
		BlockTime:       time.Minute,
		TasksPerBlock:   2,
		LLMShare:        0.25,
		FeeMin:          1_000_000,
		FeeMax:          5_000_000,
		Honest:          12,
		Cheaters:        2,
		Flaky:           3,
		Idle:            1,
		FlakyErrorRate:  0.3,
		GPUs:            append([]GPUProfile(nil), DefaultGPUs...),
		InvariantPeriod: 10,
		Params:          params,
	}
}

// Workers is the total number of simulated workers.
func (c Config) Workers() int {
	return c.Honest + c.Cheaters + c.Flaky + c.Idle
}

// Validate checks the run is well formed.
func (c Config) Validate() error {
	if c.ChainID == "" {
		return fmt.Errorf("chain id cannot be empty")
	}
	if c.Blocks <= 0 {
		return fmt.Errorf("blocks must be positive")
	}
	if c.BlockTime <= 0 {
		return fmt.Errorf("block time must be positive")
	}
	if c.TasksPerBlock < 0 {
		return fmt.Errorf("tasks per block cannot be negative")
	}
	if c.Honest < 0 || c.Cheaters < 0 || c.Flaky < 0 || c.Idle < 0 {
		return fmt.Errorf("worker counts cannot be negative")
	}
	if c.Workers() == 0 {
		return fmt.Errorf("at least one worker is required")
	}
	if c.LLMShare < 0 || c.LLMShare > 1 {
		return fmt.Errorf("llm share must be within [0, 1]")
	}
	if c.FlakyErrorRate < 0 || c.FlakyErrorRate > 1 {
		return fmt.Errorf("flaky error rate must be within [0, 1]")
	}
	if c.FeeMin <= 0 || c.FeeMax < c.FeeMin {
		return fmt.Errorf("fee range [%d, %d] is invalid", c.FeeMin, c.FeeMax)
	}
	if len(c.GPUs) == 0 {
		return fmt.Errorf("at least one gpu profile is required")
	}
	for _, gpu := range c.GPUs {
		if err := types.ValidateGPU(gpu.Name, gpu.Vram); err != nil {
			return fmt.Errorf("gpu profile %q: %w", gpu.Name, err)
		}
	}
	if c.InvariantPeriod < 0 {
		return fmt.Errorf("invariant period cannot be negative")
	}
	return c.Params.Validate()
}
