package transport

import (
	"context"
	"errors"

	"modelmux/provider"
)

// ErrNoBackend is returned by Auto resolution when every backend probes
// Unavailable and the last-resort policy is off.
var ErrNoBackend = errors.New("no inference backend is available")

// probeFunc reports a backend's availability. Probe failures map to
// Unavailable; the selector never sees an error.
type probeFunc func(ctx context.Context, kind provider.BackendKind) provider.Availability

// resolveBackend picks the backend kind that serves a request.
//
// Explicit(ollama) probes the daemon: anything but Unavailable honors the
// preference, Unavailable degrades to lmstudio. Explicit lmstudio and
// openai-compat are honored without a probe; those backends report their
// own failures with better messages than a probe result.
//
// Auto walks ollama then lmstudio and stops at the first kind that does
// not probe Unavailable. openai-compat is the last resort: with
// alwaysLastResort set it is selected without a probe even when its server
// is down, otherwise it is probed like the others and ErrNoBackend comes
// back when every probe fails.
func resolveBackend(ctx context.Context, pref provider.PreferenceMode, probe probeFunc, alwaysLastResort bool) (provider.BackendKind, error) {
	if !pref.Auto {
		switch pref.Kind {
		case provider.KindOllama:
			if probe(ctx, provider.KindOllama) != provider.Unavailable {
				return provider.KindOllama, nil
			}
			return provider.KindLMStudio, nil
		default:
			return pref.Kind, nil
		}
	}

	if probe(ctx, provider.KindOllama) != provider.Unavailable {
		return provider.KindOllama, nil
	}
	if probe(ctx, provider.KindLMStudio) != provider.Unavailable {
		return provider.KindLMStudio, nil
	}
	if alwaysLastResort {
		return provider.KindOpenAICompat, nil
	}
	if probe(ctx, provider.KindOpenAICompat) != provider.Unavailable {
		return provider.KindOpenAICompat, nil
	}
	return "", ErrNoBackend
}
