// Package classify drives the external classification collaborator over
// prefilter-surviving rows with checkpointed, resumable, retryable
// execution.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/sells-group/opportunity-cli/internal/config"
	"github.com/sells-group/opportunity-cli/internal/model"
	"github.com/sells-group/opportunity-cli/internal/resilience"
	"github.com/sells-group/opportunity-cli/pkg/anthropic"
)

// Classifier is the external classification collaborator. Errors carry
// retryability: a resilience.TransientError is retried per policy, a
// resilience.PermanentError is immediately terminal for the row.
type Classifier interface {
	Classify(ctx context.Context, row model.OpportunityRow) (model.Verdict, error)
}

const systemPrompt = `You are a strict funding-opportunity classifier.
Goal: minimize false positives. It is OK to answer "unclear".

Classify whether the opportunity is REAL PROSPECTIVE FUNDING that provides money:
- YES: grants, fellowships, stipends, travel awards, salary support, funded programs with awards, paid research funding.
- NO: recognition-only awards, honorary titles, certificates, informational program pages with no application/funding, advocacy/awareness pages, listings of past recipients only, "call for nominations" with no money, conferences with no funding, membership benefits only.
- UNCLEAR: ambiguous, missing money info, or could be funding but not explicit.

Rules:
- If there is no explicit or strongly implied money/funding, prefer UNCLEAR over YES.
- If the text indicates honor/recognition without funding, answer NO.
- Do not invent details. Use only the provided row text.
Respond with a valid JSON object: {"label": "yes"|"no"|"unclear", "reason": "<one sentence specific to the row>"}`

const userPromptTemplate = `Classify this row.

Row fields:
%s`

// AnthropicClassifier implements Classifier against the Claude API.
type AnthropicClassifier struct {
	client anthropic.Client
	cfg    config.AnthropicConfig
}

// NewAnthropicClassifier creates a Claude-backed classifier.
func NewAnthropicClassifier(client anthropic.Client, cfg config.AnthropicConfig) *AnthropicClassifier {
	return &AnthropicClassifier{client: client, cfg: cfg}
}

func (c *AnthropicClassifier) Classify(ctx context.Context, row model.OpportunityRow) (model.Verdict, error) {
	maxTokens := c.cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 256
	}

	temp := 0.0
	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       c.cfg.Model,
		MaxTokens:   maxTokens,
		System:      anthropic.BuildCachedSystemBlocks(systemPrompt),
		Temperature: &temp,
		Messages: []anthropic.Message{
			{Role: "user", Content: fmt.Sprintf(userPromptTemplate, rowText(row))},
		},
	})
	if err != nil {
		return model.Verdict{}, classifyError(err)
	}

	return parseVerdict(resp.Text()), nil
}

// rowText renders the row's populated fields as "name: value" lines for the
// prompt. Empty fields are omitted.
func rowText(row model.OpportunityRow) string {
	fields := []struct {
		name  string
		value string
	}{
		{"title", row.Title},
		{"foundation_name", row.FoundationName},
		{"description", row.Description},
		{"award_amount_text", row.AwardAmountText},
		{"eligibility_text", row.EligibilityText},
		{"deadline_text", row.DeadlineText},
		{"evidence_snippets", row.EvidenceSnippets},
		{"opportunity_url", row.OpportunityURL},
		{"source_url", row.SourceURL},
	}

	var parts []string
	for _, f := range fields {
		if v := strings.TrimSpace(f.value); v != "" {
			parts = append(parts, f.name+": "+v)
		}
	}
	if len(parts) == 0 {
		return "(no text fields present)"
	}
	return strings.Join(parts, "\n")
}

// parseVerdict extracts {label, reason} from the collaborator's response.
// Parse failures and out-of-vocabulary labels surface as an empty Label;
// the orchestrator escalates those to unclear.
func parseVerdict(text string) model.Verdict {
	text = cleanJSON(text)

	var result struct {
		Label  string `json:"label"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return model.Verdict{}
	}

	v := model.Verdict{Reason: strings.TrimSpace(result.Reason)}
	if label, ok := model.ParseLabel(result.Label); ok {
		v.Label = label
	}
	return v
}

// cleanJSON strips markdown fences and surrounding prose from a model
// response, leaving the outermost JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

// classifyError maps SDK failures onto the transient/permanent taxonomy.
// API errors with retryable status codes (429, 5xx) and deadline overruns
// are transient; other API errors are permanent. Plain network errors pass
// through for the retry loop's own transient heuristics.
func classifyError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		if resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
			return resilience.NewTransientError(err, apiErr.StatusCode)
		}
		return resilience.NewPermanentError(err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return resilience.NewTransientError(err, 0)
	}

	return err
}
