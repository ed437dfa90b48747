package types

import (
	"fmt"
	"strings"
)

const (
	// Maximum lengths for declared fields
	MaxGPUNameLength  = 128
	MaxTaskHashLength = 256
)

// ValidateGPU checks a declared GPU descriptor.
func ValidateGPU(name string, vram uint64) error {
	if err := ValidateGPUName(name); err != nil {
		return ErrInvalidGPU.Wrap(err.Error())
	}
	if vram == 0 {
		return ErrInvalidGPU.Wrap("gpu vram must be positive")
	}
	return nil
}

// ValidateGPUName validates a GPU model name. Names are hashed verbatim into
// the GPU index, so surrounding whitespace is rejected rather than trimmed.
func ValidateGPUName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("gpu name cannot be empty")
	}

	if len(name) > MaxGPUNameLength {
		return fmt.Errorf("gpu name exceeds maximum length of %d characters", MaxGPUNameLength)
	}

	if SanitizeString(name) != name {
		return fmt.Errorf("gpu name contains control characters or surrounding whitespace")
	}

	return nil
}

// ValidateHash validates an opaque content hash supplied with a task.
func ValidateHash(field string, hash []byte, required bool) error {
	if len(hash) == 0 {
		if required {
			return fmt.Errorf("%s cannot be empty", field)
		}
		return nil
	}

	if len(hash) > MaxTaskHashLength {
		return fmt.Errorf("%s exceeds maximum length of %d bytes", field, MaxTaskHashLength)
	}

	return nil
}

// SanitizeString removes control characters and trims whitespace
func SanitizeString(s string) string {
	// Remove control characters
	var sanitized strings.Builder
	for _, r := range s {
		if r >= 32 && r != 127 {
			sanitized.WriteRune(r)
		}
	}

	// Trim whitespace
	return strings.TrimSpace(sanitized.String())
}
