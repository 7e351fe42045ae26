package lmstudio

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type loadEventKind int

const (
	loadIgnore loadEventKind = iota
	loadProgress
	loadSuccess
	loadError
	loadClosed
)

// loadEvent is the decoded meaning of one message on a loadModel channel.
type loadEvent struct {
	kind        loadEventKind
	progress    float64
	identifier  string
	instanceRef string
	err         error
}

// parseLoadMessage decodes a single channel envelope from a loadModel
// channel. Unknown message types are ignored.
func parseLoadMessage(env envelope) loadEvent {
	switch env.Type {
	case "channelSend":
		var msg struct {
			Type     string  `json:"type"`
			Progress float64 `json:"progress,omitempty"`
			Info     struct {
				Identifier        string `json:"identifier,omitempty"`
				InstanceReference string `json:"instanceReference,omitempty"`
			} `json:"info,omitempty"`
		}
		if err := json.Unmarshal(env.Message, &msg); err != nil {
			return loadEvent{kind: loadIgnore}
		}
		switch msg.Type {
		case "progress":
			return loadEvent{kind: loadProgress, progress: msg.Progress}
		case "resolved":
			return loadEvent{kind: loadIgnore}
		case "success":
			return loadEvent{
				kind:        loadSuccess,
				identifier:  msg.Info.Identifier,
				instanceRef: msg.Info.InstanceReference,
			}
		default:
			return loadEvent{kind: loadIgnore}
		}
	case "channelError":
		var werr wireError
		if err := json.Unmarshal(env.Error, &werr); err != nil {
			return loadEvent{kind: loadError, err: fmt.Errorf("model load failed")}
		}
		return loadEvent{kind: loadError, err: fmt.Errorf("model load failed: %s", werr.text())}
	case "channelClose":
		return loadEvent{kind: loadClosed}
	default:
		return loadEvent{kind: loadIgnore}
	}
}

// LoadModel loads a downloaded model into memory and returns a reference
// to the loaded instance suitable for Predict. onProgress, when non-nil,
// receives load fractions in [0,1]; repeated or regressing values are
// dropped so callers see a strictly increasing sequence.
func (c *Client) LoadModel(ctx context.Context, modelKey string, onProgress func(fraction float64)) (string, error) {
	nc, err := c.conn(ctx, llmNamespace)
	if err != nil {
		return "", fmt.Errorf("connect to llm namespace: %w", err)
	}

	creation := map[string]any{
		"modelKey":   modelKey,
		"identifier": modelKey,
		"loadConfigStack": map[string]any{
			"layers": []any{},
		},
	}
	ch, err := nc.openChannel(loadModelEndpoint, creation)
	if err != nil {
		return "", err
	}
	defer ch.close()

	timer := time.NewTimer(loadTimeout)
	defer timer.Stop()

	lastProgress := -1.0
	for {
		select {
		case env, ok := <-ch.msgs:
			if !ok {
				return "", fmt.Errorf("connection lost while loading %s", modelKey)
			}
			ev := parseLoadMessage(env)
			switch ev.kind {
			case loadProgress:
				if ev.progress <= lastProgress {
					continue
				}
				lastProgress = ev.progress
				c.debugf("lmstudio: loading %s: %.0f%%", modelKey, ev.progress*100)
				if onProgress != nil {
					onProgress(ev.progress)
				}
			case loadSuccess:
				ref := ev.instanceRef
				if ref == "" {
					ref = ev.identifier
				}
				if ref == "" {
					ref = modelKey
				}
				c.debugf("lmstudio: loaded %s as %s", modelKey, ref)
				return ref, nil
			case loadError:
				return "", ev.err
			case loadClosed:
				return "", fmt.Errorf("server closed load channel for %s before completion", modelKey)
			}
		case <-timer.C:
			return "", fmt.Errorf("loading %s timed out after %s", modelKey, loadTimeout)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}
