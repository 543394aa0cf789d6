// Package workflow classifies source workflow state names.
package workflow

import (
	"strings"

	"github.com/ternarybob/taskferry/internal/models"
)

// TerminalVocabulary lists the state names treated as done, closed or cancelled
var TerminalVocabulary = []string{
	"done",
	"closed",
	"complete",
	"completed",
	"cancelled",
	"canceled",
	"finished",
	"resolved",
	"archived",
}

const (
	fuzzyMaxLengthDiff = 2
	fuzzyPrefixLength  = 4
)

// IsTerminalName matches a state name against TerminalVocabulary by
// case-insensitive exact match, prefix match, or a fuzzy match (length
// within two characters and the same first four letters). The heuristic is
// approximate and may misclassify custom state names.
func IsTerminalName(name string) bool {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return false
	}

	for _, word := range TerminalVocabulary {
		if normalized == word || strings.HasPrefix(normalized, word) {
			return true
		}
		if fuzzyMatch(normalized, word) {
			return true
		}
	}
	return false
}

func fuzzyMatch(name, word string) bool {
	if len(name) < fuzzyPrefixLength || len(word) < fuzzyPrefixLength {
		return false
	}
	diff := len(name) - len(word)
	if diff < 0 {
		diff = -diff
	}
	return diff <= fuzzyMaxLengthDiff && name[:fuzzyPrefixLength] == word[:fuzzyPrefixLength]
}

// IsTerminalTask reports whether a task's mapped state is terminal. A
// workflow status in the closed category is always terminal.
func IsTerminalTask(task *models.Task) bool {
	if task.WorkflowStatus != nil && task.WorkflowStatus.CategoryID == models.WorkflowCategoryClosed {
		return true
	}
	return IsTerminalName(task.StatusName())
}
