// SPDX-FileCopyrightText: Copyright 2025 ADHD Budget contributors
// SPDX-License-Identifier: Apache-2.0

package enablebanking

import "errors"

// ConfigError marks missing or invalid upstream signing configuration.
// It is raised at construction time and again by protected tool calls so the
// operator gets a precise remediation message instead of an opaque 500.
type ConfigError struct {
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "enable banking configuration error: " + e.Reason
}

// IsConfigError checks whether err is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
