// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dialogue

import (
	"strings"

	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/pipeline"
)

const (
	// Greeting opens every session.
	Greeting = "Hello. Tell me what happened in your own words: who was involved, " +
		"when and where it happened, and what you would like to know. I will ask " +
		"follow-up questions if I need more detail."

	followupIntro   = "To advise properly, I need a few details:"
	followupOutro   = "Reply in one message. You can answer in short phrases."
	adviceOutro     = "If you'd like, share more details or ask follow-up questions."
	doneReply       = "I have already shared my assessment for this matter. Start a new session to discuss something else."
	noAdviceReply   = "I could not identify anything specific to advise on. Start a new session and describe your situation in more detail."
	blockedTemplate = "I could not process that message: "
)

// FollowupReply renders the follow-up prompt for a list of questions.
func FollowupReply(questions []string) string {
	var sb strings.Builder
	sb.WriteString(followupIntro)
	for _, q := range questions {
		sb.WriteString("\n- ")
		sb.WriteString(q)
	}
	sb.WriteString("\n\n")
	sb.WriteString(followupOutro)
	return sb.String()
}

// AdviceReply renders per-domain advice under title-cased domain headings.
//
// Structured advisories are laid out section by section. Anything else,
// including inline domain errors, is shown as returned.
func AdviceReply(advice []datatypes.DomainAdvice) string {
	if len(advice) == 0 {
		return noAdviceReply
	}
	var sb strings.Builder
	for i, a := range advice {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("## ")
		sb.WriteString(pipeline.DomainTitle(a.Domain))
		sb.WriteString("\n")
		if a.Advisory != nil && a.Error == "" {
			writeAdvisory(&sb, a.Advisory)
		} else {
			sb.WriteString(a.Text)
		}
		if len(a.Sources) > 0 {
			sb.WriteString("\n\nSources considered:")
			for _, src := range a.Sources {
				sb.WriteString("\n- ")
				sb.WriteString(src)
			}
		}
	}
	sb.WriteString("\n\n")
	sb.WriteString(adviceOutro)
	return sb.String()
}

func writeAdvisory(sb *strings.Builder, adv *datatypes.Advisory) {
	sections := []struct {
		heading string
		items   datatypes.FlexList
	}{
		{"Answers to your questions", adv.AnswersToQuestions},
		{"Next steps", adv.NextSteps},
		{"Documents you will need", adv.DocumentsNeeded},
		{"Risks", adv.Risks},
		{"Deadlines and limitation periods", adv.LimitationPeriods},
	}
	written := 0
	for _, sec := range sections {
		if len(sec.items) == 0 {
			continue
		}
		if written > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(sec.heading)
		sb.WriteString(":")
		for _, item := range sec.items {
			sb.WriteString("\n- ")
			sb.WriteString(item)
		}
		written++
	}
	if adv.Disclaimer != "" {
		if written > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("_")
		sb.WriteString(adv.Disclaimer)
		sb.WriteString("_")
	}
}


// configurationReply explains why advice could not be produced yet.
func configurationReply(err error) string {
	return "I have what I need, but I cannot look up the law yet (" + err.Error() +
		"). Choose a supported jurisdiction or ask the operator to load it, then send any message to try again."
}
