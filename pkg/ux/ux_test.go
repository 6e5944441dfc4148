// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatUI_MachineMode(t *testing.T) {
	var buf bytes.Buffer
	ui := NewChatUI(&buf, true)

	ui.Header("s-1", "uk")
	ui.Reply("followups", "When were you dismissed?")
	ui.Warnings([]string{"Removed 1 sensitive identifier(s) before processing.", " "})
	ui.Notice("Jurisdiction set to India.")
	ui.Error(errors.New("session not found"))
	ui.SessionEnd("s-1")

	assert.Equal(t, "> ", ui.Prompt())
	assert.Equal(t, strings.Join([]string{
		"SESSION: id=s-1 jurisdiction=uk",
		"REPLY: phase=followups",
		"When were you dismissed?",
		"WARNING: Removed 1 sensitive identifier(s) before processing.",
		"NOTICE: Jurisdiction set to India.",
		"ERROR: session not found",
		"SESSION_END: s-1",
		"",
	}, "\n"), buf.String())
}

func TestChatUI_StyledModeToPlainWriter(t *testing.T) {
	var buf bytes.Buffer
	ui := NewChatUI(&buf, false)

	ui.Header("s-2", "canada")
	ui.Reply("done", "## Employment Law")
	ui.Error(errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, "Aleutian Counsel")
	assert.Contains(t, out, "s-2")
	assert.Contains(t, out, "## Employment Law")
	assert.Contains(t, out, "[done]")
	assert.Contains(t, out, "Error: boom")
	assert.NotContains(t, out, "\x1b[", "a non-terminal writer gets no color codes")
}

func TestLineReader(t *testing.T) {
	r := NewLineReader(strings.NewReader("  first line \nsecond\n\nlast"))

	for _, want := range []string{"first line", "second", "", "last"} {
		got, err := r.ReadLine()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := r.ReadLine()
	assert.ErrorIs(t, err, io.EOF)
}
