package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signal-pipeline/internal/model"
	"github.com/sells-group/signal-pipeline/pkg/anthropic"
)

// techKeywords are the technology names recognized in event text, grouped
// roughly by category.
var techKeywords = []string{
	// Cloud and infrastructure
	"aws", "azure", "gcp", "google cloud", "kubernetes", "docker",
	// Databases
	"postgresql", "mysql", "mongodb", "redis", "elasticsearch", "dynamodb",
	// Languages
	"python", "java", "javascript", "typescript", "go", "rust", "node.js",
	// Frameworks
	"react", "angular", "vue", "django", "flask", "spring", "express",
	// Data and ML
	"spark", "hadoop", "tensorflow", "pytorch", "airflow", "kafka",
	// Analytics
	"snowflake", "databricks", "tableau", "looker", "power bi",
	// CRM and sales
	"salesforce", "hubspot", "pipedrive",
	// Tooling
	"github", "gitlab", "jenkins", "terraform", "ansible",
}

// painIndicators are phrases that mark a potential pain point mention.
var painIndicators = []string{
	"looking for", "need help", "challenge", "problem",
	"struggling", "difficulty", "improve", "better solution",
}

const (
	painContextBefore = 50
	painContextAfter  = 100
	maxPainPoints     = 5

	enrichMaxEvents    = 10
	enrichEventChars   = 500
	enrichMaxTokens    = 1024
	segmentSmallMax    = 50
	segmentMidMax      = 500
)

// Enricher fills in firmographics, technographics, and segment for a company
// from its events. The LLM client is optional; without one the stage falls
// back to keyword heuristics only.
type Enricher struct {
	llm      anthropic.Client
	llmModel string
}

// NewEnricher creates an Enricher. A nil client disables deep enrichment.
func NewEnricher(llm anthropic.Client, llmModel string) *Enricher {
	if llm == nil {
		zap.L().Warn("enricher: no llm configured, enrichment will be limited")
	}
	return &Enricher{llm: llm, llmModel: llmModel}
}

func (e *Enricher) Name() string { return "enricher" }

// Run enriches the state's company data in place: LLM-derived firmographics
// when available, then the keyword tech stack and segment category.
func (e *Enricher) Run(ctx context.Context, state *model.PipelineState) error {
	if len(state.CompanyData) == 0 {
		return eris.New("no company data to enrich")
	}

	if e.llm != nil && len(state.Events) > 0 {
		enriched, err := e.enrichFromEvents(ctx, state)
		if err != nil {
			state.RecordWarning("enricher: llm enrichment failed: " + err.Error())
			zap.L().Warn("enricher: llm enrichment failed", zap.Error(err))
		}
		for k, v := range enriched {
			state.CompanyData[k] = v
		}
	}

	techStack := ExtractTechStack(state.Events)
	state.CompanyData["tech_stack"] = techStack
	state.CompanyData["category"] = Categorize(state.EmployeeCount())

	zap.L().Info("enricher: enriched company",
		zap.Int64("company_id", state.CompanyID),
		zap.Int("tech_count", len(techStack)),
	)
	return nil
}

// ExtractTechStack scans event text and titles for known technology names.
// The result is sorted for stable output.
func ExtractTechStack(events []model.Event) []string {
	found := make(map[string]bool)
	for _, event := range events {
		text := strings.ToLower(event.Text + " " + event.Title)
		for _, tech := range techKeywords {
			if strings.Contains(text, tech) {
				found[displayName(tech)] = true
			}
		}
	}

	stack := make([]string, 0, len(found))
	for tech := range found {
		stack = append(stack, tech)
	}
	sort.Strings(stack)
	return stack
}

// Categorize buckets a company into a segment by headcount.
func Categorize(employeeCount int) string {
	switch {
	case employeeCount < segmentSmallMax:
		return "small_business"
	case employeeCount < segmentMidMax:
		return "mid_market"
	default:
		return "enterprise"
	}
}

// IdentifyPainPoints returns up to five text windows around pain indicator
// phrases found in the events.
func IdentifyPainPoints(events []model.Event) []string {
	var points []string
	for _, event := range events {
		text := strings.ToLower(event.Text + " " + event.Title)
		for _, indicator := range painIndicators {
			idx := strings.Index(text, indicator)
			if idx < 0 {
				continue
			}
			lo := max(0, idx-painContextBefore)
			hi := min(len(text), idx+painContextAfter)
			points = append(points, strings.TrimSpace(text[lo:hi]))
			if len(points) >= maxPainPoints {
				return points
			}
		}
	}
	return points
}

// enrichFromEvents asks the LLM to infer firmographics from recent events and
// returns the parsed attribute map.
func (e *Enricher) enrichFromEvents(ctx context.Context, state *model.PipelineState) (map[string]any, error) {
	events := state.Events
	if len(events) > enrichMaxEvents {
		events = events[:enrichMaxEvents]
	}

	var sb strings.Builder
	for i, event := range events {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		title := event.Title
		if title == "" {
			title = "N/A"
		}
		fmt.Fprintf(&sb, "Event: %s\n%s", title, truncate(event.Text, enrichEventChars))
	}

	name := "Unknown"
	if v, ok := state.CompanyData["name"].(string); ok && v != "" {
		name = v
	}
	domain := state.Domain()
	if domain == "" {
		domain = "Unknown"
	}

	temp := 0.0
	resp, err := e.llm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       e.llmModel,
		MaxTokens:   enrichMaxTokens,
		Temperature: &temp,
		System: `You are a company intelligence analyst. Extract and infer company information from the provided events.

Extract:
- Industry and sector
- Company size indicators
- Key products or services
- Target market
- Company stage (startup, growth, enterprise)
- Any funding or growth signals

Return as JSON with keys: industry, sector, size_estimate, products, target_market, stage, growth_signals`,
		Messages: []anthropic.Message{{
			Role: "user",
			Content: fmt.Sprintf("Company: %s\nDomain: %s\n\nRecent Events:\n%s\n\nExtract company information as JSON:",
				name, domain, sb.String()),
		}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "enricher: create message")
	}
	resp.Usage.LogCost(e.llmModel, "enrich")

	enriched, err := parseJSONObject(resp.Text)
	if err != nil {
		return nil, eris.Wrap(err, "enricher: parse response")
	}
	return enriched, nil
}

// parseJSONObject decodes a JSON object, tolerating surrounding prose by
// retrying on the outermost brace pair.
func parseJSONObject(text string) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &out); err == nil {
		return out, nil
	}

	lo := strings.Index(text, "{")
	hi := strings.LastIndex(text, "}")
	if lo < 0 || hi <= lo {
		return nil, eris.New("no json object in response")
	}
	if err := json.Unmarshal([]byte(text[lo:hi+1]), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// displayName renders a lowercase tech keyword the way a vendor writes it.
func displayName(tech string) string {
	words := strings.Fields(tech)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
