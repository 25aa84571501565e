package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Finding holds a single issue extracted from raw detector output.
type Finding struct {
	Title              string `json:"title"`
	Description        string `json:"description"`
	SourceURL          string `json:"source_url"`
	ManualInstructions string `json:"manual_instructions"`
}

// Client wraps the Anthropic API for finding extraction.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// buildPrompt constructs the system and user prompts for finding extraction.
func buildPrompt(raw string) (system string, user string) {
	system = `You extract actionable site/content issues from raw scan output. Return ONLY a JSON array of objects with these fields:
- "title": concise one-line summary of the problem
- "description": what is wrong and where, in plain prose (can be empty string if the title is self-explanatory)
- "source_url": the page or file the problem was observed on (empty string if not identifiable)
- "manual_instructions": any concrete fix guidance present in the scan output (empty string if none)

Rules:
- One distinct problem per entry; merge duplicate observations of the same problem
- Do not invent problems the scan output does not describe
- Strip log prefixes, timestamps, and tool chatter from descriptions
- Skip entries you cannot give a meaningful title
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	sb.WriteString("Extract issues from this scan output:\n\n")
	sb.WriteString(raw)
	user = sb.String()
	return
}

// ExtractFindings sends raw scan output to the LLM and returns structured findings.
func (c *Client) ExtractFindings(ctx context.Context, raw string) ([]Finding, error) {
	systemPrompt, userPrompt := buildPrompt(raw)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 4096,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}

	if text == "" {
		return nil, fmt.Errorf("no text content in API response")
	}

	text = stripFencing(text)

	var findings []Finding
	if err := json.Unmarshal([]byte(text), &findings); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}

	return findings, nil
}

// stripFencing removes markdown code fencing if present.
func stripFencing(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}
