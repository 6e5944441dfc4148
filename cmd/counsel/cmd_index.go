// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"text/tabwriter"

	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/pipeline"
	"github.com/spf13/cobra"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
)

var (
	jurisdictionsCmd = &cobra.Command{
		Use:   "jurisdictions",
		Short: "List the jurisdictions a session can use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printJurisdictions(cmd.OutOrStdout())
		},
	}

	indexCmd = &cobra.Command{
		Use:   "index",
		Short: "Manage the per-jurisdiction legal text classes in Weaviate",
	}
	indexInitCmd = &cobra.Command{
		Use:   "init [jurisdiction...]",
		Short: "Create empty legal text classes (all jurisdictions by default)",
		RunE:  runIndexInit,
	}
	indexStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "Report which jurisdictions have a legal text class",
		Args:  cobra.NoArgs,
		RunE:  runIndexStatus,
	}
)

func init() {
	indexCmd.AddCommand(indexInitCmd, indexStatusCmd)
}

func printJurisdictions(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tNAME\tINDEX CLASS")
	for _, j := range datatypes.SupportedJurisdictions() {
		marker := ""
		if j.Code == datatypes.DefaultJurisdiction {
			marker = " (default)"
		}
		fmt.Fprintf(tw, "%s%s\t%s\t%s\n", j.Code, marker, j.Label, j.IndexClass)
	}
	return tw.Flush()
}

// indexer is implemented by pipeline.WeaviateRetriever.
type indexer interface {
	EnsureIndex(ctx context.Context, country string) error
	CreateIndex(ctx context.Context, country string) (bool, error)
}

func newIndexer() (indexer, error) {
	raw := strings.Trim(config.WeaviateURL, "\"' ")
	if raw == "" {
		return nil, fmt.Errorf("WEAVIATE_SERVICE_URL is not configured")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid Weaviate URL: %s", raw)
	}
	client, err := weaviate.NewClient(weaviate.Config{Host: u.Host, Scheme: u.Scheme})
	if err != nil {
		return nil, fmt.Errorf("failed to create Weaviate client: %w", err)
	}
	// Schema operations never embed, so no embedder is needed.
	return pipeline.NewWeaviateRetriever(client, nil), nil
}

func runIndexInit(cmd *cobra.Command, args []string) error {
	idx, err := newIndexer()
	if err != nil {
		return err
	}
	return initIndexes(commandContext(cmd), idx, cmd.OutOrStdout(), args)
}

// initIndexes creates the class for each requested jurisdiction, or for
// every supported one when codes is empty.
func initIndexes(ctx context.Context, idx indexer, w io.Writer, codes []string) error {
	if len(codes) == 0 {
		for _, j := range datatypes.SupportedJurisdictions() {
			codes = append(codes, j.Code)
		}
	}
	for _, raw := range codes {
		code, err := datatypes.NormalizeJurisdiction(raw)
		if err != nil {
			return err
		}
		created, err := idx.CreateIndex(ctx, code)
		if err != nil {
			return fmt.Errorf("failed to create index for %s: %w", code, err)
		}
		state := "exists"
		if created {
			state = "created"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", code, datatypes.LawClassName(code), state)
	}
	return nil
}

func runIndexStatus(cmd *cobra.Command, _ []string) error {
	idx, err := newIndexer()
	if err != nil {
		return err
	}
	return indexStatus(commandContext(cmd), idx, cmd.OutOrStdout())
}

func indexStatus(ctx context.Context, idx indexer, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tINDEX CLASS\tSTATUS")
	for _, j := range datatypes.SupportedJurisdictions() {
		status := "ready"
		if err := idx.EnsureIndex(ctx, j.Code); err != nil {
			if !pipeline.IsConfigurationError(err) {
				return err
			}
			status = "missing"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", j.Code, j.IndexClass, status)
	}
	return tw.Flush()
}
