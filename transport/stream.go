package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"modelmux/config"
	"modelmux/provider"
)

const streamBuffer = 32

// Stream is the ordered event stream for one SendMessages request.
//
// Recv blocks for the next event. At the natural end of the response it
// returns io.EOF. After a failure it returns the terminal error, always
// after the error Notification event has been delivered. Close aborts the
// request: generation stops, no further events are produced, and Recv
// drains whatever was already emitted before returning io.EOF. An aborted
// request is not an error.
type Stream struct {
	events chan provider.Event
	cancel context.CancelFunc

	// err is assigned by the pipeline goroutine before events closes; the
	// close publishes it to Recv.
	err error
}

// Recv returns the next event on the stream.
func (s *Stream) Recv() (provider.Event, error) {
	ev, ok := <-s.events
	if !ok {
		if s.err != nil {
			return provider.Event{}, s.err
		}
		return provider.Event{}, io.EOF
	}
	return ev, nil
}

// Close aborts the request. Safe to call more than once and concurrently
// with Recv.
func (s *Stream) Close() {
	s.cancel()
}

// SendMessages starts one generation request and returns its event stream.
// All failures surface on the stream, never here: resolution, preparation
// and generation errors arrive as a Notification event followed by a
// terminal Recv error.
//
// The event order per request is fixed: progress events (if the backend
// needs a download or load) strictly precede text deltas, each text round
// precedes its tool call and tool result events, and percent never
// decreases within a progress episode.
func (t *Transport) SendMessages(ctx context.Context, turns []provider.Turn, opts SendOptions) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		events: make(chan provider.Event, streamBuffer),
		cancel: cancel,
	}
	go t.run(ctx, s, turns, opts)
	return s
}

// run is the pipeline goroutine feeding one Stream.
func (t *Transport) run(ctx context.Context, s *Stream, turns []provider.Turn, opts SendOptions) {
	defer close(s.events)

	emit := func(ev provider.Event) bool {
		select {
		case s.events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	// fail emits exactly one error Notification and arms the terminal
	// error. Aborted requests produce neither.
	fail := func(err error) {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return
		}
		emit(provider.Event{
			Kind:    provider.EventNotification,
			Level:   provider.LevelError,
			Message: err.Error(),
		})
		s.err = err
	}

	kind, err := t.resolve(ctx)
	if err != nil {
		fail(err)
		return
	}
	backend, ok := t.backends[kind]
	if !ok {
		fail(fmt.Errorf("%s: no backend configured", kind))
		return
	}

	tracker := newProgressTracker(kind, func(ev provider.Event) bool {
		if ev.Kind == provider.EventProgress {
			t.progress.publish(ev.Progress)
		}
		return emit(ev)
	})

	handle, err := t.cache.getOrInit(ctx, backend, tracker.observe)
	if err != nil {
		fail(fmt.Errorf("%s: %w", kind, err))
		return
	}

	caps := backend.Capabilities()
	systemPrompt := opts.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = t.cfg.DefaultSystemPrompt
	}
	history := buildTurns(turns, systemPrompt, opts.Attachment, caps)
	toolDefs := buildTools(t.registry, opts.Tools, caps)

	temperature := opts.Temperature
	if temperature == 0 {
		temperature = t.cfg.Temperature
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = t.cfg.MaxTokens
	}

	for round := 0; ; round++ {
		reqTools := toolDefs
		if round >= maxToolRounds {
			if config.Debug && config.DebugLog != nil && reqTools != nil {
				config.DebugLog.Printf("[Transport] Max tool rounds (%d) reached, disabling tools", maxToolRounds)
			}
			reqTools = nil
		}

		var text strings.Builder
		onDelta := func(delta string) error {
			tracker.forceClose()
			text.WriteString(delta)
			if !emit(provider.Event{Kind: provider.EventTextDelta, Text: delta}) {
				return ctx.Err()
			}
			return nil
		}

		calls, err := backend.Generate(ctx, handle, provider.Request{
			Turns:       history,
			Tools:       reqTools,
			Temperature: temperature,
			MaxTokens:   maxTokens,
		}, onDelta)
		if err != nil {
			fail(fmt.Errorf("%s: %w", kind, err))
			return
		}
		if len(calls) == 0 || len(reqTools) == 0 {
			return
		}

		// carry the round's visible text into the history the next round
		// sees, minus any tool-call syntax the model leaked into it
		if cleaned := strings.TrimSpace(provider.CleanLeakedToolCalls(text.String())); cleaned != "" {
			history = append(history, provider.AssistantTurn(cleaned))
		}

		for _, call := range calls {
			if !emit(provider.Event{
				Kind:     provider.EventToolCall,
				ToolName: call.Name,
				ToolArgs: call.Arguments,
			}) {
				return
			}

			output, terr := t.registry.Execute(ctx, call.Name, call.Arguments)
			if terr != nil {
				if ctx.Err() != nil {
					return
				}
				if config.Debug && config.DebugLog != nil {
					config.DebugLog.Printf("[Transport] Error executing tool %s: %v", call.Name, terr)
				}
				output = fmt.Sprintf("Error executing %s: %v", call.Name, terr)
			}

			if !emit(provider.Event{
				Kind:       provider.EventToolResult,
				ToolName:   call.Name,
				ToolOutput: output,
			}) {
				return
			}
			history = append(history, provider.Turn{
				Role:  provider.RoleTool,
				Parts: []provider.Part{provider.TextPart(output)},
			})
		}
	}
}
