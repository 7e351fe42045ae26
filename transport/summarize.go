package transport

import (
	"context"
	"fmt"
	"strings"

	"modelmux/provider"
)

// defaultSummarizePrompt instructs the model when the caller does not
// bring its own prompt.
const defaultSummarizePrompt = "Summarize the following text concisely. Reply with the summary only, no preamble."

// SummarizeOptions tunes one Summarize call.
type SummarizeOptions struct {
	// OnChunk, when set, receives each text delta as it streams and
	// Summarize returns "" on completion. When nil the deltas are
	// collected and returned as one string.
	OnChunk func(chunk string)

	// SystemPrompt overrides the default summarization instruction.
	SystemPrompt string
}

// Summarize runs a single-turn summarization request through the same
// selector and handle cache as SendMessages, stripped of everything else:
// no progress events, no tools, no attachments. A first-call model
// download happens silently.
func (t *Transport) Summarize(ctx context.Context, prompt string, opts SummarizeOptions) (string, error) {
	kind, err := t.resolve(ctx)
	if err != nil {
		return "", err
	}
	backend, ok := t.backends[kind]
	if !ok {
		return "", fmt.Errorf("%s: no backend configured", kind)
	}

	handle, err := t.cache.getOrInit(ctx, backend, nil)
	if err != nil {
		return "", fmt.Errorf("%s: %w", kind, err)
	}

	system := opts.SystemPrompt
	if system == "" {
		system = defaultSummarizePrompt
	}
	turns := []provider.Turn{
		provider.SystemTurn(system),
		provider.UserTurn(prompt),
	}

	var text strings.Builder
	onDelta := func(delta string) error {
		if opts.OnChunk != nil {
			opts.OnChunk(delta)
			return nil
		}
		text.WriteString(delta)
		return nil
	}

	_, err = backend.Generate(ctx, handle, provider.Request{
		Turns:       turns,
		Temperature: t.cfg.Temperature,
		MaxTokens:   t.cfg.MaxTokens,
	}, onDelta)
	if err != nil {
		return "", fmt.Errorf("%s: %w", kind, err)
	}
	return text.String(), nil
}
