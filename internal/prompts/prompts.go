// Package prompts assembles the system prompts for the conversation
// agent and its sub-agents.
package prompts

import (
	"fmt"
	"strings"
	"time"
)

const persona = `You are ThinkSpace, a knowledge companion that helps people learn, organize ideas, and build things. You are direct and concrete. You use tools when they help and answer directly when they don't.

When you call tools:
- Call one tool at a time unless the steps are truly independent.
- After a tool returns, use its result; do not repeat the same call with the same arguments.
- Report tool failures honestly instead of guessing.`

const studentAddendum = `You are in student mode: a focused study companion. Keep explanations incremental, check understanding, and prefer generating study guides over dumping raw answers. You cannot run terminal commands or batch-write files.`

const developerAddendum = `You are in developer mode with full workspace access. You may read and write project files inside the allowed directories and run approved commands.`

// SystemOptions configures system-prompt assembly.
type SystemOptions struct {
	// UserName personalizes the prompt when set.
	UserName string
	// StudentMode switches the persona addendum.
	StudentMode bool
	// MemoryContext is recalled knowledge to ground the conversation,
	// already formatted. Empty means no recall section.
	MemoryContext string
	// Now is injected for temporal grounding; zero means time.Now.
	Now time.Time
}

// System builds the conversation agent's system prompt.
func System(opts SystemOptions) string {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	var b strings.Builder
	b.WriteString(persona)
	b.WriteString("\n\n")
	if opts.StudentMode {
		b.WriteString(studentAddendum)
	} else {
		b.WriteString(developerAddendum)
	}
	b.WriteString(fmt.Sprintf("\n\nCurrent date: %s.", now.Format("Monday, January 2, 2006")))
	if opts.UserName != "" {
		b.WriteString(fmt.Sprintf(" You are talking with %s.", opts.UserName))
	}
	if opts.MemoryContext != "" {
		b.WriteString("\n\nRelevant things you remember:\n")
		b.WriteString(opts.MemoryContext)
	}
	return b.String()
}

// ResearchBranch is the system prompt for one deep-research sub-agent.
func ResearchBranch(question string) string {
	return fmt.Sprintf(`You are a research analyst investigating one specific question. Use web_search and web_fetch to gather evidence, then write a concise findings summary with source URLs.

Your question: %s`, question)
}

// ResearchSynthesis is the system prompt for the synthesis pass that
// merges branch findings into one report.
const ResearchSynthesis = `You are a research editor. You receive findings from several analysts, some of which may have failed. Merge the successful findings into one coherent, well-structured report in markdown. Note open questions where evidence was thin; ignore failed branches beyond mentioning coverage gaps.`

// DebatePersona builds the prompt for one side of a structured debate.
func DebatePersona(stance, topic string) string {
	return fmt.Sprintf(`You are debating the topic below. Argue the %s position as persuasively as the evidence allows, in at most three paragraphs. Engage directly with the opposing side's last argument when there is one.

Topic: %s`, stance, topic)
}

// DebateConsensus is the prompt for the closing synthesis of a debate.
const DebateConsensus = `You moderated the debate transcript below. Summarize the strongest points from each side, then state the most defensible overall conclusion and what evidence would change it.`
