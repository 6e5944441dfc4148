// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"errors"
)

// ErrMessageBlocked is returned by callers when a filter rejects a message
// outright.
var ErrMessageBlocked = errors.New("message blocked by filter")

// FilterResult is the outcome of filtering one message.
type FilterResult struct {
	// Original is the input before filtering.
	Original string

	// Filtered is the text to use downstream. Equals Original when
	// WasModified is false.
	Filtered string

	WasModified bool

	// WasBlocked rejects the message entirely; Filtered must not be used.
	WasBlocked  bool
	BlockReason string

	// Detections lists what the filter found.
	Detections []Detection
}

// Detection describes a single item found by a filter.
type Detection struct {
	// Type is the pattern identifier, e.g. "EMAIL_ADDRESS".
	Type string

	// Action is what was done: "redacted" or "flagged".
	Action string

	// Replacement is the placeholder written in place of the match.
	Replacement string
}

// MessageFilter rewrites user messages before they are sent to any model.
//
// Implementations must be safe for concurrent use.
type MessageFilter interface {
	FilterInput(ctx context.Context, message string) (*FilterResult, error)
}

// NopMessageFilter passes every message through unchanged.
type NopMessageFilter struct{}

// FilterInput returns message unchanged.
func (f *NopMessageFilter) FilterInput(ctx context.Context, message string) (*FilterResult, error) {
	return &FilterResult{Original: message, Filtered: message}, nil
}

var _ MessageFilter = (*NopMessageFilter)(nil)
