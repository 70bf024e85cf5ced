package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/saksflyt/saksflyt/internal/apperr"
)

// maxAuditContext bounds how many recent audit events go into the prompt.
const maxAuditContext = 6

const systemPrompt = "You are an immigration case assistant. Return strict JSON with keys: " +
	"summary, recommended_action, key_risks, missing_evidence, next_steps. " +
	"The recommended_action must be one of approve, reject, request_more_info. " +
	"Keep output concise, factual, and grounded in provided evidence."

// ChatClient is a Generator backed by an OpenAI-style chat completions
// endpoint.
type ChatClient struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	httpc       *http.Client
}

// NewChatClient builds a ChatClient. The timeout bounds the whole call.
func NewChatClient(baseURL, apiKey, model string, temperature float64, timeout time.Duration) *ChatClient {
	return &ChatClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		model:       model,
		temperature: temperature,
		httpc:       &http.Client{Timeout: timeout},
	}
}

// Name implements Generator.
func (c *ChatClient) Name() string {
	return "llm:" + c.model
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Explain implements Generator by posting the case context to
// /chat/completions and parsing the JSON memo out of the first choice.
func (c *ChatClient) Explain(ctx context.Context, in Input) (Output, error) {
	userContent, err := json.Marshal(promptContext(in))
	if err != nil {
		return Output{}, apperr.Wrap(apperr.KindAdvisoryUnavailable, "marshal prompt context", err)
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: string(userContent)},
		},
	})
	if err != nil {
		return Output{}, apperr.Wrap(apperr.KindAdvisoryUnavailable, "marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Output{}, apperr.Wrap(apperr.KindAdvisoryUnavailable, "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return Output{}, apperr.Wrap(apperr.KindAdvisoryUnavailable, "call generator", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Output{}, apperr.Newf(apperr.KindAdvisoryUnavailable, "generator returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Output{}, apperr.Wrap(apperr.KindAdvisoryUnavailable, "read response", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Output{}, apperr.Wrap(apperr.KindAdvisoryUnavailable, "decode response", err)
	}
	if len(parsed.Choices) == 0 {
		return Output{}, apperr.New(apperr.KindAdvisoryUnavailable, "response has no choices")
	}

	content, err := contentText(parsed.Choices[0].Message.Content)
	if err != nil {
		return Output{}, err
	}

	var out Output
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return Output{}, apperr.Wrap(apperr.KindAdvisoryUnavailable, "decode memo", err)
	}
	return out, nil
}

// contentText flattens a message content field that may be a plain string or
// a list of text parts.
func contentText(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var parts []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", apperr.Wrap(apperr.KindAdvisoryUnavailable, "decode message content", err)
	}
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.Text)
	}
	return b.String(), nil
}

// promptContext shapes the case context for the user message. Raw document
// text is deliberately excluded.
func promptContext(in Input) map[string]any {
	rules := make([]map[string]any, 0, len(in.Rules))
	for _, r := range in.Rules {
		rules = append(rules, map[string]any{
			"rule_code": r.RuleCode,
			"rule_name": r.RuleName,
			"passed":    r.Passed,
			"score":     r.Score,
			"weight":    r.Weight,
			"rationale": r.Rationale,
		})
	}

	docs := make([]map[string]any, 0, len(in.Documents))
	for _, d := range in.Documents {
		entry := map[string]any{
			"document_type": d.DocumentType,
			"status":        d.Status,
			"content_type":  d.ContentType,
		}
		if d.FailureReason != nil {
			entry["failure_reason"] = *d.FailureReason
		}
		docs = append(docs, entry)
	}

	audit := in.Audit
	if len(audit) > maxAuditContext {
		audit = audit[len(audit)-maxAuditContext:]
	}
	events := make([]map[string]any, 0, len(audit))
	for _, e := range audit {
		entry := map[string]any{
			"action":     e.Action,
			"created_at": e.CreatedAt.Format(time.RFC3339),
		}
		if e.Reason != nil {
			entry["reason"] = *e.Reason
		}
		events = append(events, entry)
	}

	app := map[string]any{
		"id":                    in.Case.ID.String(),
		"status":                in.Case.Status,
		"applicant_full_name":   in.Case.ApplicantFullName,
		"applicant_nationality": in.Case.ApplicantNationality,
		"confidence_score":      in.Case.ConfidenceScore,
		"risk_level":            in.RiskLevel,
	}
	if in.Case.RecommendationSummary != nil {
		app["recommendation_summary"] = *in.Case.RecommendationSummary
	}
	if in.Case.Notes != nil {
		app["notes"] = *in.Case.Notes
	}

	return map[string]any{
		"application":  app,
		"rules":        rules,
		"documents":    docs,
		"audit_events": events,
	}
}

var _ Generator = (*ChatClient)(nil)

// FromConfig returns a ChatClient when both the base URL and API key are set,
// nil otherwise.
func FromConfig(baseURL, apiKey, model string, temperature float64, timeout time.Duration) Generator {
	if baseURL == "" || apiKey == "" {
		return nil
	}
	return NewChatClient(baseURL, apiKey, model, temperature, timeout)
}
