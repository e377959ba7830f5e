package research

import (
	"context"
	"fmt"
	"strings"

	"github.com/oogalieboogalie/ThinkSpace/internal/agent"
	"github.com/oogalieboogalie/ThinkSpace/internal/prompts"
	"github.com/oogalieboogalie/ThinkSpace/internal/tools"
)

const (
	// DefaultDebateRounds is one exchange each way per round.
	DefaultDebateRounds = 2
	maxDebateRounds     = 4
)

// Debate runs a structured two-sided debate on a topic and returns the
// transcript plus a consensus summary.
func (o *Orchestrator) Debate(ctx context.Context, topic string, rounds int) (string, error) {
	if strings.TrimSpace(topic) == "" {
		return "", fmt.Errorf("debate topic is required")
	}
	if rounds <= 0 {
		rounds = DefaultDebateRounds
	}
	if rounds > maxDebateRounds {
		rounds = maxDebateRounds
	}

	pro := agent.New(o.client, tools.NewRegistry(o.logger),
		agent.WithSystemPrompt(prompts.DebatePersona("affirmative", topic)),
		agent.WithMaxIterations(1),
		agent.WithLogger(o.logger),
	)
	con := agent.New(o.client, tools.NewRegistry(o.logger),
		agent.WithSystemPrompt(prompts.DebatePersona("opposing", topic)),
		agent.WithMaxIterations(1),
		agent.WithLogger(o.logger),
	)

	var transcript strings.Builder
	fmt.Fprintf(&transcript, "# Debate: %s\n", topic)

	lastArgument := fmt.Sprintf("Open the debate on: %s", topic)
	for round := 1; round <= rounds; round++ {
		proResult, err := pro.Chat(ctx, lastArgument)
		if err != nil {
			return "", fmt.Errorf("affirmative round %d: %w", round, err)
		}
		fmt.Fprintf(&transcript, "\n## Round %d — Affirmative\n\n%s\n", round, proResult.Content)

		conResult, err := con.Chat(ctx, proResult.Content)
		if err != nil {
			return "", fmt.Errorf("opposing round %d: %w", round, err)
		}
		fmt.Fprintf(&transcript, "\n## Round %d — Opposing\n\n%s\n", round, conResult.Content)

		lastArgument = conResult.Content
	}

	moderator := agent.New(o.client, tools.NewRegistry(o.logger),
		agent.WithSystemPrompt(prompts.DebateConsensus),
		agent.WithMaxIterations(1),
		agent.WithLogger(o.logger),
	)
	consensus, err := moderator.Chat(ctx, transcript.String())
	if err != nil {
		return "", fmt.Errorf("consensus: %w", err)
	}

	fmt.Fprintf(&transcript, "\n## Consensus\n\n%s\n", consensus.Content)
	return transcript.String(), nil
}
