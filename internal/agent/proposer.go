package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signal-pipeline/internal/model"
	"github.com/sells-group/signal-pipeline/pkg/anthropic"
)

const (
	proposalMaxTokens   = 4096
	proposalTemperature = 0.7

	contextDescChars     = 300
	contextMaxTech       = 10
	contextMaxSignals    = 5
	contextMaxEvents     = 3
	contextSnippetChars  = 100
	evidenceMaxEvents    = 10
)

const outlineSystemPrompt = `You are a B2B sales proposal writer. Create a clear, compelling proposal outline based on the company context.

The outline should include:
1. Executive Summary
2. Understanding Your Challenges
3. Our Solution
4. Why Now
5. Implementation Approach
6. Expected Outcomes
7. Next Steps

Keep it concise and focused on the company's specific needs.`

const contentSystemPrompt = `You are a B2B sales proposal writer. Write a compelling, data-driven proposal that addresses the company's specific needs.

Write in a professional but conversational tone. Use specific details from the context. Be concise but comprehensive.

Include specific evidence and references to the company's situation. Show that you understand their challenges and timing.`

// Proposer generates a tailored sales proposal from the company context,
// detected signals, and scores. It requires an LLM client.
type Proposer struct {
	llm      anthropic.Client
	llmModel string
}

// NewProposer creates a Proposer backed by the given LLM client.
func NewProposer(llm anthropic.Client, llmModel string) *Proposer {
	return &Proposer{llm: llm, llmModel: llmModel}
}

func (p *Proposer) Name() string { return "proposer" }

// Run builds the context summary, generates the outline and full content, and
// attaches the proposal with its evidence citations to the state.
func (p *Proposer) Run(ctx context.Context, state *model.PipelineState) error {
	if p.llm == nil {
		return eris.New("no llm configured for proposal generation")
	}
	if len(state.CompanyData) == 0 {
		return eris.New("no company data for proposal")
	}

	summary := buildContext(state)

	outline, err := p.generate(ctx, outlineSystemPrompt,
		fmt.Sprintf("Company Context:\n%s\n\nGenerate a proposal outline:", summary), "outline")
	if err != nil {
		return eris.Wrap(err, "proposer: generate outline")
	}

	content, err := p.generate(ctx, contentSystemPrompt,
		fmt.Sprintf("Company Context:\n%s\n\nOutline:\n%s\n\nWrite the full proposal content in Markdown format:", summary, outline), "content")
	if err != nil {
		return eris.Wrap(err, "proposer: generate content")
	}

	name := "Your Company"
	if v, ok := state.CompanyData["name"].(string); ok && v != "" {
		name = v
	}

	state.Proposal = &model.Proposal{
		Title:          "Proposal for " + name,
		Outline:        outline,
		Content:        content,
		Evidence:       collectEvidence(state),
		ContextSummary: summary,
	}

	zap.L().Info("proposer: generated proposal",
		zap.Int64("company_id", state.CompanyID),
		zap.Int("proposal_length", len(content)),
	)
	return nil
}

func (p *Proposer) generate(ctx context.Context, system, user, phase string) (string, error) {
	temp := proposalTemperature
	resp, err := p.llm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       p.llmModel,
		MaxTokens:   proposalMaxTokens,
		Temperature: &temp,
		System:      system,
		Messages:    []anthropic.Message{{Role: "user", Content: user}},
	})
	if err != nil {
		return "", err
	}
	resp.Usage.LogCost(p.llmModel, "proposal_"+phase)
	return resp.Text, nil
}

// buildContext renders the company, its signals, recent activity, and scores
// into the prompt context block.
func buildContext(state *model.PipelineState) string {
	var parts []string

	name := "N/A"
	if v, ok := state.CompanyData["name"].(string); ok && v != "" {
		name = v
	}
	industry := state.Industry()
	if industry == "" {
		industry = "N/A"
	}
	parts = append(parts,
		"Company: "+name,
		"Industry: "+industry,
		fmt.Sprintf("Size: %d employees", state.EmployeeCount()),
	)

	if desc, ok := state.CompanyData["description"].(string); ok && desc != "" {
		parts = append(parts, "Description: "+truncate(desc, contextDescChars))
	}

	if tech := state.TechStack(); len(tech) > 0 {
		if len(tech) > contextMaxTech {
			tech = tech[:contextMaxTech]
		}
		parts = append(parts, "Technologies: "+strings.Join(tech, ", "))
	}

	if len(state.Signals) > 0 {
		parts = append(parts, "\nKey Signals:")
		for _, sig := range state.Signals[:min(len(state.Signals), contextMaxSignals)] {
			explanation := sig.Explanation
			if explanation == "" {
				explanation = "N/A"
			}
			parts = append(parts, fmt.Sprintf("- %s: %s", sig.Kind, truncate(explanation, contextSnippetChars)))
		}
	}

	if len(state.Events) > 0 {
		parts = append(parts, "\nRecent Activity:")
		for _, event := range state.Events[:min(len(state.Events), contextMaxEvents)] {
			title := event.Title
			if title == "" {
				title = "N/A"
			}
			parts = append(parts, fmt.Sprintf("- %s: %s", event.EventType, title))
		}
	}

	var overall, fit, intent, timing float64
	if state.Scores != nil {
		overall, fit, intent, timing = state.Scores.Overall, state.Scores.Fit, state.Scores.Intent, state.Scores.Timing
	}
	parts = append(parts,
		fmt.Sprintf("\nLead Score: %g/100", overall),
		fmt.Sprintf("- Fit: %g", fit),
		fmt.Sprintf("- Intent: %g", intent),
		fmt.Sprintf("- Timing: %g", timing),
	)

	return strings.Join(parts, "\n")
}

// collectEvidence gathers signal evidence plus citations for the first ten
// events.
func collectEvidence(state *model.PipelineState) []model.Evidence {
	var evidence []model.Evidence
	for _, sig := range state.Signals {
		evidence = append(evidence, sig.Evidence...)
	}
	for _, event := range state.Events[:min(len(state.Events), evidenceMaxEvents)] {
		evidence = append(evidence, model.Evidence{
			URL:       event.URL,
			Snippet:   event.Title,
			Timestamp: event.Timestamp,
		})
	}
	return evidence
}
