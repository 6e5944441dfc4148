// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline holds the adapters the dialogue engine drives: domain
// classification, per-domain extraction, intake formatting, legal text
// retrieval and per-domain reasoning.
//
// Adapters degrade instead of failing. A classifier that cannot answer
// yields ["general"], an extractor omits the domains it could not process,
// and a formatter that gets malformed output returns an empty record. The
// only error that reaches the dialogue engine is *ConfigurationError.
package pipeline

import (
	"errors"
	"fmt"
)

// ConfigurationError reports that reasoning cannot run because the
// deployment or session is misconfigured: no jurisdiction is set, or no
// legal text index exists for it.
//
// The dialogue engine stays in the reason phase when it sees this error so
// that the next user turn retries once the problem is fixed.
type ConfigurationError struct {
	Jurisdiction string
	Reason       string
}

// Error implements the error interface for ConfigurationError.
func (e *ConfigurationError) Error() string {
	if e.Jurisdiction == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error for jurisdiction %q: %s", e.Jurisdiction, e.Reason)
}

// IsConfigurationError checks if err is, or wraps, a *ConfigurationError.
//
// # Inputs
//
//   - err: The error to check.
//
// # Outputs
//
//   - bool: True if a *ConfigurationError is in err's chain.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
