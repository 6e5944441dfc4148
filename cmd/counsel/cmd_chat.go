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
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/AleutianAI/AleutianCounsel/pkg/ux"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/dialogue"
	"github.com/spf13/cobra"
)

var (
	chatJurisdiction string
	chatResume       string
	chatMachine      bool

	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Hold an intake dialogue in the terminal",
		Long: `Runs the dialogue engine in-process and talks to it from the terminal.
Sessions live in the configured store, so a Redis-backed session can be
resumed later with --resume.`,
		RunE: runChatCommand,
	}
)

func init() {
	chatCmd.Flags().StringVarP(&chatJurisdiction, "jurisdiction", "j", "", "Jurisdiction code for a new session")
	chatCmd.Flags().StringVar(&chatResume, "resume", "", "Resume an existing session by ID")
	chatCmd.Flags().BoolVar(&chatMachine, "machine", false, "Plain line-oriented output for scripts")
}

// chatEngine is the part of dialogue.Engine the terminal chat drives.
type chatEngine interface {
	Start(ctx context.Context, jurisdiction string) (*datatypes.TurnResponse, error)
	Get(ctx context.Context, id string) (*dialogue.Session, error)
	SetJurisdiction(ctx context.Context, id, jurisdiction string) (*dialogue.Session, error)
	HandleMessage(ctx context.Context, id, message string) (*datatypes.TurnResponse, error)
}

func runChatCommand(cmd *cobra.Command, _ []string) error {
	svc, err := orchestrator.New(config, nil)
	if err != nil {
		return err
	}
	defer svc.Close()

	machine := chatMachine || !ux.IsTerminal(os.Stdout)
	ui := ux.NewChatUI(cmd.OutOrStdout(), machine)
	return runChat(commandContext(cmd), svc.Engine(), chatIO{
		ui:     ui,
		in:     ux.NewLineReader(cmd.InOrStdin()),
		prompt: cmd.ErrOrStderr(),
	}, chatJurisdiction, chatResume)
}

// chatIO bundles the terminal endpoints. The prompt goes to its own
// writer so machine output stays parseable.
type chatIO struct {
	ui     ux.ChatUI
	in     ux.InputReader
	prompt io.Writer
}

// runChat runs the read-reply loop until exit or end of input.
//
// # Description
//
// A new session is started unless resumeID is set. Lines starting with
// "/jurisdiction" change the session jurisdiction; "exit" or "quit" end the
// loop. Every other non-empty line is one dialogue turn. A failed turn is
// shown and the loop continues.
func runChat(ctx context.Context, engine chatEngine, tio chatIO, jurisdiction, resumeID string) error {
	ui := tio.ui
	sessionID, jur, opening, err := openChat(ctx, engine, jurisdiction, resumeID)
	if err != nil {
		return err
	}
	ui.Header(sessionID, jur)
	if opening != "" {
		ui.Reply(string(dialogue.PhaseGreeting), opening)
	}

	for {
		_, _ = fmt.Fprint(tio.prompt, ui.Prompt())
		line, err := tio.in.ReadLine()
		if errors.Is(err, io.EOF) {
			ui.SessionEnd(sessionID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		switch {
		case line == "":
			continue
		case line == "exit" || line == "quit":
			ui.SessionEnd(sessionID)
			return nil
		case strings.HasPrefix(line, "/jurisdiction"):
			code := strings.TrimSpace(strings.TrimPrefix(line, "/jurisdiction"))
			s, err := engine.SetJurisdiction(ctx, sessionID, code)
			if err != nil {
				ui.Error(err)
				continue
			}
			ui.Notice("Jurisdiction set to " + datatypes.JurisdictionLabel(s.Jurisdiction) + ".")
			continue
		}

		resp, err := engine.HandleMessage(ctx, sessionID, line)
		if err != nil {
			ui.Error(err)
			if errors.Is(err, dialogue.ErrSessionNotFound) {
				return err
			}
			continue
		}
		ui.Warnings(resp.Warnings)
		ui.Reply(resp.Phase, resp.Reply)
	}
}

// openChat starts or resumes a session and returns its ID, jurisdiction
// and the assistant text to show first.
func openChat(ctx context.Context, engine chatEngine, jurisdiction, resumeID string) (string, string, string, error) {
	if resumeID == "" {
		resp, err := engine.Start(ctx, jurisdiction)
		if err != nil {
			return "", "", "", err
		}
		s, err := engine.Get(ctx, resp.SessionID)
		if err != nil {
			return "", "", "", err
		}
		return resp.SessionID, s.Jurisdiction, resp.Reply, nil
	}

	s, err := engine.Get(ctx, resumeID)
	if err != nil {
		return "", "", "", fmt.Errorf("cannot resume session %s: %w", resumeID, err)
	}
	last := ""
	for i := len(s.Transcript) - 1; i >= 0; i-- {
		if s.Transcript[i].Role == dialogue.RoleAssistant {
			last = s.Transcript[i].Content
			break
		}
	}
	return s.ID, s.Jurisdiction, last, nil
}
