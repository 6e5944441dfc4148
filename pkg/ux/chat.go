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
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ChatUI renders a counsel dialogue in a terminal.
type ChatUI interface {
	// Header displays the session banner.
	Header(sessionID, jurisdiction string)

	// Prompt returns the input prompt string.
	Prompt() string

	// Reply displays one assistant reply with the phase it left the
	// session in.
	Reply(phase, text string)

	// Warnings displays non-fatal notes attached to a turn.
	Warnings(warnings []string)

	// Notice displays a local status message, such as a jurisdiction
	// change.
	Notice(msg string)

	// Error displays a failed turn.
	Error(err error)

	// SessionEnd displays how to continue the session later.
	SessionEnd(sessionID string)
}

// terminalChatUI implements ChatUI. In machine mode every line is a plain
// KEY: value record for scripts.
type terminalChatUI struct {
	writer  io.Writer
	theme   Theme
	machine bool
}

// NewChatUI creates a ChatUI writing to w. machine selects unstyled,
// line-oriented output.
func NewChatUI(w io.Writer, machine bool) ChatUI {
	return &terminalChatUI{writer: w, theme: NewTheme(w), machine: machine}
}

// write ignores errors; there is no recovery for terminal output.
func (u *terminalChatUI) write(format string, args ...any) {
	_, _ = fmt.Fprintf(u.writer, format, args...)
}

func (u *terminalChatUI) writeln(args ...any) {
	_, _ = fmt.Fprintln(u.writer, args...)
}

func (u *terminalChatUI) Header(sessionID, jurisdiction string) {
	if u.machine {
		u.write("SESSION: id=%s jurisdiction=%s\n", sessionID, jurisdiction)
		return
	}
	body := u.theme.Title.Render("Aleutian Counsel") + "\n" +
		u.theme.Muted.Render("Session ") + sessionID + "\n" +
		u.theme.Muted.Render("Jurisdiction ") + jurisdiction
	u.writeln(u.theme.Box.Render(body))
	u.writeln(u.theme.Muted.Render("Type '/jurisdiction <code>' to switch, 'exit' to end."))
	u.writeln()
}

func (u *terminalChatUI) Prompt() string {
	if u.machine {
		return "> "
	}
	return u.theme.Highlight.Render("> ")
}

func (u *terminalChatUI) Reply(phase, text string) {
	if u.machine {
		u.write("REPLY: phase=%s\n%s\n", phase, text)
		return
	}
	u.writeln()
	u.writeln(text)
	u.writeln(u.theme.Muted.Render("[" + phase + "]"))
	u.writeln()
}

func (u *terminalChatUI) Warnings(warnings []string) {
	for _, w := range warnings {
		if strings.TrimSpace(w) == "" {
			continue
		}
		if u.machine {
			u.write("WARNING: %s\n", w)
			continue
		}
		u.write("%s %s\n", IconWarning.Render(u.theme), u.theme.Warning.Render(w))
	}
}

func (u *terminalChatUI) Notice(msg string) {
	if u.machine {
		u.write("NOTICE: %s\n", msg)
		return
	}
	u.write("%s %s\n", IconSuccess.Render(u.theme), u.theme.Success.Render(msg))
}

func (u *terminalChatUI) Error(err error) {
	if u.machine {
		u.write("ERROR: %v\n", err)
		return
	}
	u.write("%s %s\n", IconError.Render(u.theme), u.theme.Error.Render(fmt.Sprintf("Error: %v", err)))
}

func (u *terminalChatUI) SessionEnd(sessionID string) {
	if u.machine {
		u.write("SESSION_END: %s\n", sessionID)
		return
	}
	u.writeln()
	u.writeln(u.theme.Subtitle.Render("Session saved: ") + sessionID)
	u.writeln(u.theme.Muted.Render("Resume with: counsel chat --resume " + sessionID))
}

// =============================================================================
// Input
// =============================================================================

// InputReader reads one line of user input.
type InputReader interface {
	ReadLine() (string, error)
}

// LineReader wraps bufio.Reader to read trimmed lines.
type LineReader struct {
	reader *bufio.Reader
}

// NewLineReader creates a LineReader over r, usually os.Stdin.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{reader: bufio.NewReader(r)}
}

// ReadLine returns the next line without surrounding whitespace. A final
// line without a newline is returned before io.EOF.
func (r *LineReader) ReadLine() (string, error) {
	line, err := r.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}
