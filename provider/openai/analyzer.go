package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	lore "github.com/halvard/lore"
)

const defaultAnalyzerPrompt = "Describe this image in two or three sentences for a search index. " +
	"Name the key objects, any visible text, and what the image conveys."

// Analyzer implements lore.MediaAnalyzer using a vision-capable chat
// model. Only URL-addressable image references are supported; audio and
// video references fall back to their alt text upstream.
type Analyzer struct {
	provider *Provider
	model    string
	prompt   string
}

var _ lore.MediaAnalyzer = (*Analyzer)(nil)

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithAnalyzerPrompt replaces the default description prompt.
func WithAnalyzerPrompt(prompt string) AnalyzerOption {
	return func(a *Analyzer) { a.prompt = prompt }
}

// NewAnalyzer creates a media analyzer sharing the provider's client and
// credentials. model must be vision-capable (e.g. "gpt-4o-mini").
func (p *Provider) NewAnalyzer(model string, opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{provider: p, model: model, prompt: defaultAnalyzerPrompt}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Describe returns a textual description of the referenced image.
// altText, when present, is given to the model as a hint.
func (a *Analyzer) Describe(ctx context.Context, ref, altText string) (string, error) {
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") && !strings.HasPrefix(ref, "data:") {
		return "", fmt.Errorf("openai: analyzer needs a URL or data reference, got %q", ref)
	}
	prompt := a.prompt
	if altText != "" {
		prompt += "\nThe author captioned it: " + altText
	}

	start := time.Now()
	a.provider.logger.Debug("openai: describe media", "model", a.model, "ref", ref)

	resp, err := a.provider.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: ref}},
			},
		}},
	})
	if err != nil {
		a.provider.logger.Error("openai: describe media failed", "ref", ref, "error", err, "duration", time.Since(start))
		return "", wrapAPIError("describe media", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: describe media: empty response")
	}
	desc := strings.TrimSpace(resp.Choices[0].Message.Content)
	a.provider.logger.Debug("openai: describe media ok", "ref", ref, "duration", time.Since(start))
	return desc, nil
}
