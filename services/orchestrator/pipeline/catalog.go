// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/datatypes"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed catalog/domains.yaml
var embeddedCatalog []byte

// DomainSpec describes one legal domain the pipeline knows about.
type DomainSpec struct {
	Name  string `yaml:"name" validate:"required"`
	Title string `yaml:"title"`
	Focus string `yaml:"focus"`
}

// Catalog holds the domain list and the prompt templates.
type Catalog struct {
	ClassifierPrompt     string       `yaml:"classifier_prompt" validate:"required"`
	ExtractionPrompt     string       `yaml:"extraction_prompt" validate:"required"`
	FormatterPrompt      string       `yaml:"formatter_prompt" validate:"required"`
	ReasonerSystemPrompt string       `yaml:"reasoner_system_prompt" validate:"required"`
	ReasonerPrompt       string       `yaml:"reasoner_prompt" validate:"required"`
	Domains              []DomainSpec `yaml:"domains" validate:"min=1,dive"`

	byName map[string]DomainSpec
}

// DefaultCatalog loads the catalog compiled into the binary.
func DefaultCatalog() (*Catalog, error) {
	return LoadCatalog(embeddedCatalog)
}

// LoadCatalog parses and validates a catalog document.
//
// # Description
//
// Fills in a display title for every domain that has none
// ("employment_law" becomes "Employment Law") and guarantees the general
// domain exists.
func LoadCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal domain catalog: %w", err)
	}
	if err := datatypes.Validator().Struct(&c); err != nil {
		return nil, fmt.Errorf("invalid domain catalog: %w", err)
	}

	c.byName = make(map[string]DomainSpec, len(c.Domains)+1)
	for i := range c.Domains {
		if c.Domains[i].Title == "" {
			c.Domains[i].Title = DomainTitle(c.Domains[i].Name)
		}
		c.byName[c.Domains[i].Name] = c.Domains[i]
	}
	if _, ok := c.byName[datatypes.GeneralDomain]; !ok {
		general := DomainSpec{Name: datatypes.GeneralDomain, Title: DomainTitle(datatypes.GeneralDomain)}
		c.Domains = append(c.Domains, general)
		c.byName[general.Name] = general
	}
	return &c, nil
}

// Lookup returns the spec for name. Unknown names get a synthesized spec
// so callers can always build a prompt.
func (c *Catalog) Lookup(name string) (DomainSpec, bool) {
	spec, ok := c.byName[name]
	if !ok {
		return DomainSpec{Name: name, Title: DomainTitle(name)}, false
	}
	return spec, true
}

// Known reports whether name is a catalog domain.
func (c *Catalog) Known(name string) bool {
	_, ok := c.byName[name]
	return ok
}

// Names returns the classifiable domain names, without general, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.Domains))
	for _, d := range c.Domains {
		if d.Name != datatypes.GeneralDomain {
			names = append(names, d.Name)
		}
	}
	sort.Strings(names)
	return names
}

var titleCaser = cases.Title(language.English)

// DomainTitle turns a domain identifier into a heading.
func DomainTitle(name string) string {
	return titleCaser.String(strings.ReplaceAll(name, "_", " "))
}

// render substitutes {{key}} placeholders in tmpl.
func render(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
