// Package abci reports errors that must not abort the surrounding state
// transition, such as block-end bookkeeping and observer callbacks.
package abci

import (
	"context"
	"strconv"

	sdk "github.com/cosmos/cosmos-sdk/types"
)

// EventTypeSuppressedError is emitted for every reported error.
const EventTypeSuppressedError = "suppressed_error"

// ErrorSeverity classifies how much a suppressed error degrades the module.
type ErrorSeverity int

const (
	// SeverityLow covers observers and gauges.
	SeverityLow ErrorSeverity = iota
	// SeverityMedium covers bookkeeping that will be retried next block.
	SeverityMedium
	// SeverityHigh covers state the module could not keep consistent.
	SeverityHigh
)

// String returns the string representation of the severity level.
func (s ErrorSeverity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ErrorReporter logs suppressed errors and emits a monitoring event for each.
type ErrorReporter struct {
	moduleName string
}

// NewErrorReporter creates a reporter for the given module.
func NewErrorReporter(moduleName string) ErrorReporter {
	return ErrorReporter{moduleName: moduleName}
}

// Report records err and returns whether there was one. Callers continue
// either way.
func (r ErrorReporter) Report(ctx context.Context, operation string, severity ErrorSeverity, err error, keyvals ...any) bool {
	if err == nil {
		return false
	}
	sdkCtx := sdk.UnwrapSDKContext(ctx)

	fields := append([]any{
		"module", r.moduleName,
		"operation", operation,
		"severity", severity.String(),
		"error", err.Error(),
	}, keyvals...)
	switch severity {
	case SeverityHigh:
		sdkCtx.Logger().Error("suppressed error", fields...)
	case SeverityMedium:
		sdkCtx.Logger().Warn("suppressed error", fields...)
	default:
		sdkCtx.Logger().Debug("suppressed error", fields...)
	}

	sdkCtx.EventManager().EmitEvent(
		sdk.NewEvent(EventTypeSuppressedError,
			sdk.NewAttribute("module", r.moduleName),
			sdk.NewAttribute("operation", operation),
			sdk.NewAttribute("severity", severity.String()),
			sdk.NewAttribute("error", err.Error()),
			sdk.NewAttribute("height", strconv.FormatInt(sdkCtx.BlockHeight(), 10)),
		),
	)
	return true
}
