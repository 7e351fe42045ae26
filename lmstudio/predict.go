package lmstudio

import (
	"context"
	"encoding/json"
	"fmt"
)

const defaultMaxTokens = 4096

// PredictOptions tune one prediction. Zero values fall back to server
// defaults (temperature) or defaultMaxTokens.
type PredictOptions struct {
	Temperature float64
	MaxTokens   int
}

type predictEventKind int

const (
	predictIgnore predictEventKind = iota
	predictToken
	predictDone
	predictError
)

type predictEvent struct {
	kind  predictEventKind
	token string
	err   error
}

// parsePredictMessage decodes a single channel envelope from a predict
// channel. The server signals completion several ways depending on
// version; all of them map to predictDone.
func parsePredictMessage(env envelope) predictEvent {
	switch env.Type {
	case "channelSend":
		var msg struct {
			Type     string `json:"type"`
			Fragment struct {
				Content string `json:"content,omitempty"`
			} `json:"fragment,omitempty"`
		}
		if err := json.Unmarshal(env.Message, &msg); err != nil {
			return predictEvent{kind: predictIgnore}
		}
		switch msg.Type {
		case "fragment":
			if msg.Fragment.Content == "" {
				return predictEvent{kind: predictIgnore}
			}
			return predictEvent{kind: predictToken, token: msg.Fragment.Content}
		case "success", "completed", "chatEnd":
			return predictEvent{kind: predictDone}
		default:
			return predictEvent{kind: predictIgnore}
		}
	case "channelError":
		var werr wireError
		if err := json.Unmarshal(env.Error, &werr); err != nil {
			return predictEvent{kind: predictError, err: fmt.Errorf("prediction failed")}
		}
		return predictEvent{kind: predictError, err: fmt.Errorf("prediction failed: %s", werr.text())}
	case "channelClose":
		return predictEvent{kind: predictDone}
	default:
		return predictEvent{kind: predictIgnore}
	}
}

// predictHistory converts chat messages to the wire history format.
func predictHistory(messages []ChatMessage) map[string]any {
	wire := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		wire = append(wire, map[string]any{
			"role": m.Role,
			"content": []map[string]any{
				{"type": "text", "text": m.Content},
			},
		})
	}
	return map[string]any{"messages": wire}
}

// Predict streams a completion from a loaded instance. onToken receives
// each text fragment as it arrives; returning an error from onToken
// cancels the prediction and surfaces that error.
func (c *Client) Predict(ctx context.Context, instanceReference string, messages []ChatMessage, opts PredictOptions, onToken func(token string) error) error {
	nc, err := c.conn(ctx, llmNamespace)
	if err != nil {
		return fmt.Errorf("connect to llm namespace: %w", err)
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	config := map[string]any{
		"maxTokens": maxTokens,
		"stream":    true,
		"fields":    []any{},
	}
	if opts.Temperature > 0 {
		config["temperature"] = opts.Temperature
	}

	creation := map[string]any{
		"modelSpecifier": map[string]any{
			"type":              "instanceReference",
			"instanceReference": instanceReference,
		},
		"history": predictHistory(messages),
		"predictionConfigStack": map[string]any{
			"layers": []any{
				map[string]any{
					"layerName": "instance",
					"config":    config,
				},
			},
		},
	}
	ch, err := nc.openChannel(predictEndpoint, creation)
	if err != nil {
		return err
	}
	defer ch.close()

	for {
		select {
		case env, ok := <-ch.msgs:
			if !ok {
				return fmt.Errorf("connection lost during prediction")
			}
			ev := parsePredictMessage(env)
			switch ev.kind {
			case predictToken:
				if err := onToken(ev.token); err != nil {
					return err
				}
			case predictDone:
				return nil
			case predictError:
				return ev.err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
