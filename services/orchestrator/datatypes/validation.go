// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the data structures shared by the counsel
// dialogue engine, its adapters and its HTTP surface.
//
// This file contains the shared validator and the supported jurisdictions.
package datatypes

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxMessageContentBytes bounds a single user message.
	MaxMessageContentBytes = 32 * 1024

	// DefaultJurisdiction is used when a session is created without one.
	DefaultJurisdiction = "usa"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("maxbytes", validateMaxBytes)
	_ = validate.RegisterValidation("jurisdiction", validateJurisdiction)
}

// Validator exposes the shared validator so other packages validate with
// the same custom tags.
func Validator() *validator.Validate {
	return validate
}

func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

func validateJurisdiction(fl validator.FieldLevel) bool {
	return IsSupportedJurisdiction(fl.Field().String())
}

// =============================================================================
// Jurisdictions
// =============================================================================

// Jurisdiction describes one legal system the service can advise on.
type Jurisdiction struct {
	Code       string `json:"code"`
	Label      string `json:"label"`
	IndexClass string `json:"index_class"`
}

var jurisdictions = []Jurisdiction{
	{Code: "usa", Label: "USA"},
	{Code: "uk", Label: "United Kingdom"},
	{Code: "canada", Label: "Canada"},
	{Code: "australia", Label: "Australia"},
	{Code: "india", Label: "India"},
	{Code: "eu", Label: "European Union"},
}

func init() {
	for i := range jurisdictions {
		jurisdictions[i].IndexClass = LawClassName(jurisdictions[i].Code)
	}
}

// SupportedJurisdictions returns the jurisdictions in display order.
func SupportedJurisdictions() []Jurisdiction {
	out := make([]Jurisdiction, len(jurisdictions))
	copy(out, jurisdictions)
	return out
}

// IsSupportedJurisdiction reports whether code names a supported
// jurisdiction. Matching is exact; callers normalize first.
func IsSupportedJurisdiction(code string) bool {
	for _, j := range jurisdictions {
		if j.Code == code {
			return true
		}
	}
	return false
}

// NormalizeJurisdiction lowercases and trims code and checks it is
// supported.
func NormalizeJurisdiction(code string) (string, error) {
	norm := strings.ToLower(strings.TrimSpace(code))
	if !IsSupportedJurisdiction(norm) {
		return "", fmt.Errorf("unsupported jurisdiction %q", code)
	}
	return norm, nil
}

// JurisdictionLabel returns the display label for code, or code itself.
func JurisdictionLabel(code string) string {
	for _, j := range jurisdictions {
		if j.Code == code {
			return j.Label
		}
	}
	return code
}

// LawClassName returns the vector index class holding legal text for a
// jurisdiction, e.g. "usa" -> "LegalText_USA".
func LawClassName(code string) string {
	return "LegalText_" + strings.ToUpper(strings.TrimSpace(code))
}
