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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianCounsel/pkg/ux"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/dialogue"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Chat
// =============================================================================

type fakeEngine struct {
	sessions map[string]*dialogue.Session
	messages []string
	failOn   string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{sessions: make(map[string]*dialogue.Session)}
}

func (f *fakeEngine) Start(_ context.Context, jurisdiction string) (*datatypes.TurnResponse, error) {
	if jurisdiction == "" {
		jurisdiction = "usa"
	}
	s := dialogue.NewSession("s-1", jurisdiction, time.Now())
	f.sessions[s.ID] = s
	return &datatypes.TurnResponse{SessionID: s.ID, Phase: "greeting", Reply: dialogue.Greeting}, nil
}

func (f *fakeEngine) Get(_ context.Context, id string) (*dialogue.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, dialogue.ErrSessionNotFound
	}
	return s, nil
}

func (f *fakeEngine) SetJurisdiction(_ context.Context, id, jurisdiction string) (*dialogue.Session, error) {
	code, err := datatypes.NormalizeJurisdiction(jurisdiction)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", dialogue.ErrInvalidJurisdiction, jurisdiction)
	}
	s := f.sessions[id]
	s.Jurisdiction = code
	return s, nil
}

func (f *fakeEngine) HandleMessage(_ context.Context, id, message string) (*datatypes.TurnResponse, error) {
	if message == f.failOn {
		return nil, errors.New("store unavailable")
	}
	f.messages = append(f.messages, message)
	return &datatypes.TurnResponse{
		SessionID: id,
		Phase:     "followups",
		Reply:     "Noted: " + message,
		Warnings:  []string{"Removed 1 sensitive identifier(s) before processing."},
	}, nil
}

func chatWith(input string) (chatIO, *bytes.Buffer) {
	var out bytes.Buffer
	return chatIO{
		ui:     ux.NewChatUI(&out, true),
		in:     ux.NewLineReader(strings.NewReader(input)),
		prompt: io.Discard,
	}, &out
}

func TestRunChat_Conversation(t *testing.T) {
	engine := newFakeEngine()
	engine.failOn = "break it"
	tio, out := chatWith("I was fired\n\n/jurisdiction uk\n/jurisdiction mars\nbreak it\nstill here\nexit\nnever read\n")

	require.NoError(t, runChat(context.Background(), engine, tio, "canada", ""))

	assert.Equal(t, []string{"I was fired", "still here"}, engine.messages)
	assert.Equal(t, "uk", engine.sessions["s-1"].Jurisdiction)

	text := out.String()
	assert.Contains(t, text, "SESSION: id=s-1 jurisdiction=canada")
	assert.Contains(t, text, "REPLY: phase=greeting\n"+dialogue.Greeting)
	assert.Contains(t, text, "REPLY: phase=followups\nNoted: I was fired")
	assert.Contains(t, text, "WARNING: Removed 1 sensitive identifier(s)")
	assert.Contains(t, text, "NOTICE: Jurisdiction set to United Kingdom.")
	assert.Contains(t, text, "ERROR: unsupported jurisdiction")
	assert.Contains(t, text, "ERROR: store unavailable")
	assert.True(t, strings.HasSuffix(text, "SESSION_END: s-1\n"))
}

func TestRunChat_EndOfInputEndsSession(t *testing.T) {
	engine := newFakeEngine()
	tio, out := chatWith("hello")

	require.NoError(t, runChat(context.Background(), engine, tio, "", ""))
	assert.Equal(t, []string{"hello"}, engine.messages)
	assert.Contains(t, out.String(), "SESSION_END: s-1")
}

func TestRunChat_Resume(t *testing.T) {
	engine := newFakeEngine()
	s := dialogue.NewSession("old", "india", time.Now())
	s.Transcript = []datatypes.TranscriptEntry{
		{Role: dialogue.RoleAssistant, Content: dialogue.Greeting},
		{Role: dialogue.RoleUser, Content: "My landlord kept my deposit."},
		{Role: dialogue.RoleAssistant, Content: "When did you move out?"},
	}
	engine.sessions["old"] = s

	tio, out := chatWith("quit\n")
	require.NoError(t, runChat(context.Background(), engine, tio, "", "old"))
	assert.Contains(t, out.String(), "SESSION: id=old jurisdiction=india")
	assert.Contains(t, out.String(), "When did you move out?")

	tio, _ = chatWith("")
	err := runChat(context.Background(), engine, tio, "", "missing")
	assert.ErrorIs(t, err, dialogue.ErrSessionNotFound)
}

// =============================================================================
// Jurisdictions and Index
// =============================================================================

func TestPrintJurisdictions(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printJurisdictions(&buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 7)
	assert.Contains(t, lines[0], "INDEX CLASS")
	assert.Contains(t, lines[1], "usa (default)")
	assert.Contains(t, lines[1], "LegalText_USA")
	assert.Contains(t, lines[6], "European Union")
}

type fakeIndexer struct {
	existing map[string]bool
	created  []string
	ensure   error
}

func (f *fakeIndexer) EnsureIndex(_ context.Context, country string) error {
	if f.ensure != nil {
		return f.ensure
	}
	if !f.existing[country] {
		return &pipeline.ConfigurationError{Jurisdiction: country, Reason: "no legal text index"}
	}
	return nil
}

func (f *fakeIndexer) CreateIndex(_ context.Context, country string) (bool, error) {
	if f.existing[country] {
		return false, nil
	}
	f.existing[country] = true
	f.created = append(f.created, country)
	return true, nil
}

func TestInitIndexes(t *testing.T) {
	idx := &fakeIndexer{existing: map[string]bool{"usa": true}}
	var buf bytes.Buffer

	require.NoError(t, initIndexes(context.Background(), idx, &buf, []string{"USA", "uk"}))
	assert.Equal(t, []string{"uk"}, idx.created)
	assert.Equal(t, "usa\tLegalText_USA\texists\nuk\tLegalText_UK\tcreated\n", buf.String())

	require.NoError(t, initIndexes(context.Background(), idx, io.Discard, nil))
	assert.Len(t, idx.created, 5, "every remaining jurisdiction is created")

	err := initIndexes(context.Background(), idx, io.Discard, []string{"mars"})
	assert.ErrorContains(t, err, "unsupported jurisdiction")
}

func TestIndexStatus(t *testing.T) {
	idx := &fakeIndexer{existing: map[string]bool{"uk": true}}
	var buf bytes.Buffer
	require.NoError(t, indexStatus(context.Background(), idx, &buf))

	out := buf.String()
	assert.Regexp(t, `uk\s+LegalText_UK\s+ready`, out)
	assert.Regexp(t, `usa\s+LegalText_USA\s+missing`, out)

	idx.ensure = errors.New("connection refused")
	assert.ErrorContains(t, indexStatus(context.Background(), idx, io.Discard), "connection refused")
}

func TestNewIndexer_RequiresURL(t *testing.T) {
	config.WeaviateURL = ""
	_, err := newIndexer()
	assert.ErrorContains(t, err, "WEAVIATE_SERVICE_URL")

	config.WeaviateURL = "weaviate:8080"
	_, err = newIndexer()
	assert.ErrorContains(t, err, "invalid Weaviate URL")
	config.WeaviateURL = ""
}
