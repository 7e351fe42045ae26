package provider

import (
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"
)

const maxSuggestions = 3

// SuggestModels fuzzy-matches a misspelled model name against the names
// a backend actually serves. Results are best-match-first, capped at
// maxSuggestions.
func SuggestModels(wanted string, available []ModelInfo) []string {
	targets := make([]string, len(available))
	for i, m := range available {
		targets[i] = m.Name
	}

	matches := fuzzy.Find(wanted, targets)
	suggestions := make([]string, 0, maxSuggestions)
	for _, match := range matches {
		suggestions = append(suggestions, match.Str)
		if len(suggestions) == maxSuggestions {
			break
		}
	}
	return suggestions
}

// modelNotFoundErr builds an ErrModelNotFound wrapper, adding spelling
// suggestions when any near matches exist.
func modelNotFoundErr(kind BackendKind, model string, available []ModelInfo) error {
	suggestions := SuggestModels(model, available)
	if len(suggestions) == 0 {
		return fmt.Errorf("%q on %s: %w", model, kind, ErrModelNotFound)
	}
	return fmt.Errorf("%q on %s (did you mean %s?): %w",
		model, kind, strings.Join(suggestions, ", "), ErrModelNotFound)
}
