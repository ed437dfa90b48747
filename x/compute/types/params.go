package types

import (
	"fmt"
	"time"

	"cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
)

const (
	// DefaultDenom is the token used for stake and fees.
	DefaultDenom = "ugpu"

	// DefaultTaskTimeoutSeconds is the time a started task has to resolve.
	DefaultTaskTimeoutSeconds = 15 * 60
)

// Params are the governance-controlled settings of the compute module.
type Params struct {
	Denom              string   `json:"denom"`
	MinStake           math.Int `json:"min_stake"`
	TaskTimeoutSeconds uint64   `json:"task_timeout_seconds"`
	QueueSizeLimit     uint64   `json:"queue_size_limit"`

	// AllowGPUFallback lets identical-hardware tasks fall back to the VRAM tier
	// when no GPU model group is large enough.
	AllowGPUFallback bool `json:"allow_gpu_fallback"`
	// PayoutWeights weight each winner's fee share by its disclosure order.
	PayoutWeights []uint64 `json:"payout_weights"`

	QosInitialScore   uint64 `json:"qos_initial_score"`
	QosMaxScore       uint64 `json:"qos_max_score"`
	QosSuccessDelta   uint64 `json:"qos_success_delta"`
	QosUploadDelta    uint64 `json:"qos_upload_delta"`
	QosErrorPenalty   uint64 `json:"qos_error_penalty"`
	QosTimeoutPenalty uint64 `json:"qos_timeout_penalty"`
	KickoutThreshold  uint32 `json:"kickout_threshold"`

	MaxResultSize uint64 `json:"max_result_size"`
}

// DefaultParams returns default compute parameters
func DefaultParams() Params {
	return Params{
		Denom:              DefaultDenom,
		MinStake:           math.NewInt(400_000_000),
		TaskTimeoutSeconds: DefaultTaskTimeoutSeconds,
		QueueSizeLimit:     50,
		AllowGPUFallback:   true,
		PayoutWeights:      []uint64{1, 1, 1},
		QosInitialScore:    50,
		QosMaxScore:        100,
		QosSuccessDelta:    20,
		QosUploadDelta:     5,
		QosErrorPenalty:    5,
		QosTimeoutPenalty:  10,
		KickoutThreshold:   2,
		MaxResultSize:      4096,
	}
}

// TaskTimeout is TaskTimeoutSeconds as a duration.
func (p Params) TaskTimeout() time.Duration {
	return SecondsToDuration(p.TaskTimeoutSeconds)
}

// StakeCoins is the minimum stake as coins.
func (p Params) StakeCoins() sdk.Coins {
	return sdk.NewCoins(sdk.NewCoin(p.Denom, p.MinStake))
}

// Validate checks every parameter.
func (p Params) Validate() error {
	if err := sdk.ValidateDenom(p.Denom); err != nil {
		return ErrInvalidParams.Wrapf("denom: %s", err)
	}
	if p.MinStake.IsNil() || !p.MinStake.IsPositive() {
		return ErrInvalidParams.Wrap("min stake must be positive")
	}
	if p.TaskTimeoutSeconds == 0 {
		return ErrInvalidParams.Wrap("task timeout must be positive")
	}
	if p.QueueSizeLimit == 0 {
		return ErrInvalidParams.Wrap("queue size limit must be positive")
	}
	if err := validatePayoutWeights(p.PayoutWeights); err != nil {
		return err
	}
	if p.QosMaxScore == 0 {
		return ErrInvalidParams.Wrap("qos max score must be positive")
	}
	if p.QosInitialScore > p.QosMaxScore {
		return ErrInvalidParams.Wrapf("qos initial score %d exceeds max %d", p.QosInitialScore, p.QosMaxScore)
	}
	if p.KickoutThreshold == 0 {
		return ErrInvalidParams.Wrap("kickout threshold must be positive")
	}
	if p.MaxResultSize == 0 {
		return ErrInvalidParams.Wrap("max result size must be positive")
	}
	return nil
}

func validatePayoutWeights(weights []uint64) error {
	if len(weights) != NumRounds {
		return ErrInvalidParams.Wrapf("payout weights: want %d entries, got %d", NumRounds, len(weights))
	}
	var sum uint64
	for i, w := range weights {
		if w == 0 {
			return ErrInvalidParams.Wrapf("payout weight %d must be positive", i)
		}
		sum += w
		if sum < w {
			return ErrInvalidParams.Wrap("payout weights overflow")
		}
	}
	return nil
}

// String implements fmt.Stringer.
func (p Params) String() string {
	return fmt.Sprintf(
		"denom=%s min_stake=%s task_timeout=%ds queue_size_limit=%d gpu_fallback=%t payout_weights=%v kickout_threshold=%d",
		p.Denom, p.MinStake, p.TaskTimeoutSeconds, p.QueueSizeLimit, p.AllowGPUFallback, p.PayoutWeights, p.KickoutThreshold,
	)
}
